// Package config loads server configuration and mailbox fixtures from
// YAML files.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/picomail/imapmock/server"
	"github.com/picomail/imapmock/store"
)

// Config is the full server configuration. Zero values fall back to the
// defaults applied by Load.
type Config struct {
	// Listen is the IMAP listen address.
	Listen string `koanf:"listen"`
	// MetricsListen, when set, exposes /metrics over HTTP.
	MetricsListen string `koanf:"metrics_listen"`

	Greeting string `koanf:"greeting"`
	LogLevel string `koanf:"log_level"`

	// Capabilities names the capability plugins to install.
	Capabilities []string `koanf:"capabilities"`
	// ID overrides the fields advertised by the ID capability.
	ID map[string]string `koanf:"id"`

	// SystemFlags overrides the accepted backslash-prefixed flags.
	SystemFlags []string `koanf:"system_flags"`

	Users []User `koanf:"users"`

	// Namespaces seeds the mailbox tree. When empty a bare personal
	// namespace with INBOX is created.
	Namespaces []Namespace `koanf:"namespaces"`
}

// User is one account fixture. Password and PasswordHash are mutually
// exclusive; the hash wins when both are set.
type User struct {
	Username     string `koanf:"username"`
	Password     string `koanf:"password"`
	PasswordHash string `koanf:"password_hash"`
	AccessToken  string `koanf:"access_token"`
}

// Namespace seeds one namespace with its folder tree.
type Namespace struct {
	Prefix    string            `koanf:"prefix"`
	Separator string            `koanf:"separator"`
	Type      string            `koanf:"type"`
	Folders   map[string]Folder `koanf:"folders"`
}

// Folder seeds one folder. UID fields of zero are assigned at index time.
type Folder struct {
	Flags               []string          `koanf:"flags"`
	SpecialUse          []string          `koanf:"special_use"`
	Subscribed          bool              `koanf:"subscribed"`
	UIDValidity         uint32            `koanf:"uidvalidity"`
	UIDNext             uint32            `koanf:"uidnext"`
	PermanentFlags      []string          `koanf:"permanent_flags"`
	AllowPermanentFlags bool              `koanf:"allow_permanent_flags"`
	Folders             map[string]Folder `koanf:"folders"`
	Messages            []Message         `koanf:"messages"`
}

// Message seeds one message. Raw is stored with CRLF line endings however
// the YAML file wrote them.
type Message struct {
	UID          uint32   `koanf:"uid"`
	Flags        []string `koanf:"flags"`
	InternalDate string   `koanf:"internal_date"`
	Raw          string   `koanf:"raw"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:   ":1143",
		LogLevel: "info",
	}
}

// Load reads a YAML file and merges it over the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Listen == "" {
		cfg.Listen = Default().Listen
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = Default().LogLevel
	}
	return cfg, nil
}

// SlogLevel maps the configured log level onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// BuildStore materializes the seeded mailbox state.
func (c *Config) BuildStore() *store.Store {
	st := store.New()
	if len(c.SystemFlags) > 0 {
		st.SystemFlags = append([]string(nil), c.SystemFlags...)
	}
	for _, ns := range c.Namespaces {
		sep := ns.Separator
		if sep == "" {
			sep = "/"
		}
		typ := ns.Type
		if typ == "" {
			typ = "personal"
		}
		st.Namespaces[ns.Prefix] = &store.Namespace{
			Prefix:    ns.Prefix,
			Separator: sep,
			Type:      typ,
			Folders:   buildFolders(ns.Folders),
		}
	}
	st.Index()
	return st
}

// ServerUsers converts the account fixtures for server.Options.
func (c *Config) ServerUsers() []server.User {
	users := make([]server.User, 0, len(c.Users))
	for _, u := range c.Users {
		users = append(users, server.User{
			Username:     u.Username,
			Password:     u.Password,
			PasswordHash: u.PasswordHash,
			AccessToken:  u.AccessToken,
		})
	}
	return users
}

func buildFolders(folders map[string]Folder) map[string]*store.Mailbox {
	out := make(map[string]*store.Mailbox, len(folders))
	for name, f := range folders {
		mbox := &store.Mailbox{
			Flags:               append([]string(nil), f.Flags...),
			SpecialUse:          append([]string(nil), f.SpecialUse...),
			Subscribed:          f.Subscribed,
			UIDValidity:         f.UIDValidity,
			UIDNext:             f.UIDNext,
			PermanentFlags:      append([]string(nil), f.PermanentFlags...),
			AllowPermanentFlags: f.AllowPermanentFlags,
			Folders:             buildFolders(f.Folders),
		}
		for _, m := range f.Messages {
			mbox.Messages = append(mbox.Messages, &store.Message{
				UID:          m.UID,
				Flags:        append([]string(nil), m.Flags...),
				InternalDate: m.InternalDate,
				Raw:          []byte(crlf(m.Raw)),
			})
		}
		out[name] = mbox
	}
	return out
}

// crlf normalizes fixture line endings to the wire form.
func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
