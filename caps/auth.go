package caps

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/emersion/go-sasl"

	"github.com/picomail/imapmock/server"
)

// AuthPlain adds the PLAIN SASL mechanism backed by the server's user
// list.
func AuthPlain(s *server.Server) {
	s.RegisterCapability("AUTH=PLAIN", preAuth)
	s.EnableAuth("PLAIN", func(c *server.Conn) sasl.Server {
		return sasl.NewPlainServer(func(identity, username, password string) error {
			if identity != "" && identity != username {
				return errors.New("Invalid authorization identity")
			}
			if !c.Server().Login(username, password) {
				return errors.New("Invalid credentials")
			}
			c.User = username
			return nil
		})
	})
}

// XOAuth2 adds the XOAUTH2 bearer token mechanism. A failed attempt
// returns a base64 JSON error challenge; the client acknowledges it with
// an empty continuation line before the tagged NO.
func XOAuth2(s *server.Server) {
	s.RegisterCapability("AUTH=XOAUTH2", preAuth)
	s.EnableAuth("XOAUTH2", func(c *server.Conn) sasl.Server {
		return &xoauth2Server{conn: c}
	})
}

type xoauth2Server struct {
	conn   *server.Conn
	failed bool
}

func (x *xoauth2Server) Next(response []byte) ([]byte, bool, error) {
	if response == nil {
		return nil, false, nil
	}
	if x.failed {
		return nil, true, errors.New("Invalid credentials")
	}

	username, token, ok := parseXOAuth2(string(response))
	if ok && x.conn.Server().TokenLogin(username, token) {
		x.conn.User = username
		return nil, true, nil
	}

	x.failed = true
	challenge, _ := json.Marshal(map[string]string{
		"status":  "400",
		"schemes": "bearer",
		"scope":   "https://mail.google.com/",
	})
	return challenge, false, nil
}

func parseXOAuth2(response string) (username, token string, ok bool) {
	// user=<name>\x01auth=Bearer <token>\x01\x01
	parts := strings.Split(response, "\x01")
	if len(parts) < 2 {
		return "", "", false
	}
	for _, part := range parts {
		switch {
		case strings.HasPrefix(part, "user="):
			username = strings.TrimPrefix(part, "user=")
		case strings.HasPrefix(part, "auth="):
			auth := strings.TrimPrefix(part, "auth=")
			if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				return "", "", false
			}
			token = auth[len("bearer "):]
		}
	}
	if username == "" || token == "" {
		return "", "", false
	}
	return username, token, true
}
