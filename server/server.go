// Package server implements the stateful protocol server: connection
// handling, command dispatch, cross-session notifications and the
// extension surface capability plugins build on.
package server

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/emersion/go-sasl"
	"golang.org/x/crypto/bcrypt"

	"github.com/picomail/imapmock/fetch"
	"github.com/picomail/imapmock/metrics"
	"github.com/picomail/imapmock/search"
	"github.com/picomail/imapmock/store"
	"github.com/picomail/imapmock/wire"
)

// HandlerFunc executes one command. The handler owns the full response,
// including the tagged completion; a returned error is turned into a
// tagged NO (or BAD for a *StatusErr with that status).
type HandlerFunc func(c *Conn, cmd *wire.Command) error

// StatusErr is an error carrying an explicit response status.
type StatusErr struct {
	Status string
	Text   string
}

func (e *StatusErr) Error() string { return e.Text }

// NoErr builds a NO completion error.
func NoErr(format string, args ...interface{}) error {
	return &StatusErr{Status: "NO", Text: fmt.Sprintf(format, args...)}
}

// BadErr builds a BAD completion error.
func BadErr(format string, args ...interface{}) error {
	return &StatusErr{Status: "BAD", Text: fmt.Sprintf(format, args...)}
}

// SASLFactory builds a SASL server for one authentication attempt.
type SASLFactory func(c *Conn) sasl.Server

// Capability is one advertised capability token with its visibility rule.
type Capability struct {
	Name    string
	Visible func(c *Conn) bool
}

// FetchFilter can exclude a message from a FETCH projection.
type FetchFilter func(c *Conn, cmd *wire.Command, msg *store.Message, seq uint32) bool

// StoreFilter can exclude a message from a STORE mutation.
type StoreFilter func(c *Conn, cmd *wire.Command, msg *store.Message, seq uint32) bool

// OutputHook observes and may extend responses at named emission points,
// e.g. "LIST ITEM" or "SELECT".
type OutputHook func(c *Conn, event string, resp *wire.Resp, data ...interface{})

// ConnHook runs for every new connection before the greeting.
type ConnHook func(c *Conn)

// User is one account the server accepts.
type User struct {
	Username string
	// Password is the cleartext password; PasswordHash, when set, is a
	// bcrypt hash checked instead.
	Password     string
	PasswordHash string
	// AccessToken is the bearer token accepted by token-based mechanisms.
	AccessToken string
}

// Options configures a Server.
type Options struct {
	Store   *store.Store
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Users   []User
	// Greeting is the text of the untagged OK sent on connect.
	Greeting string
}

// Server is one emulated server instance. A single mutex serializes
// command execution across all sessions, so handlers observe and mutate
// shared state without further locking; handlers that suspend (waiting
// for continuation data) release it while parked.
type Server struct {
	mu sync.Mutex

	store    *store.Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	greeting string

	users map[string]User

	listener net.Listener

	connsMu sync.Mutex
	conns   map[string]*Conn

	commands     map[string]HandlerFunc
	capabilities []Capability
	saslMechs    map[string]SASLFactory
	enablable    []string

	fetchReg  *fetch.Registry
	searchReg *search.Registry

	fetchFilters []FetchFilter
	storeFilters []StoreFilter
	outputHooks  []OutputHook
	connHooks    []ConnHook
}

// New builds a server with the base command set and capability list.
func New(opts Options) *Server {
	if opts.Store == nil {
		opts.Store = store.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Greeting == "" {
		opts.Greeting = "Test server ready"
	}
	opts.Store.Index()

	s := &Server{
		store:     opts.Store,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		greeting:  opts.Greeting,
		users:     make(map[string]User),
		conns:     make(map[string]*Conn),
		commands:  make(map[string]HandlerFunc),
		saslMechs: make(map[string]SASLFactory),
		fetchReg:  fetch.NewRegistry(),
		searchReg: search.NewRegistry(),
	}
	for _, u := range opts.Users {
		s.users[u.Username] = u
	}

	s.RegisterCapability("IMAP4rev1", nil)
	registerBaseCommands(s)
	return s
}

// Store returns the mailbox state shared by all sessions.
func (s *Server) Store() *store.Store { return s.store }

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger { return s.logger }

// AddUser registers an account after construction.
func (s *Server) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Username] = u
}

// Login checks a username and password pair.
func (s *Server) Login(username, password string) bool {
	u, ok := s.users[username]
	if !ok {
		return false
	}
	if u.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) == 1
}

// TokenLogin checks a username and bearer token pair.
func (s *Server) TokenLogin(username, token string) bool {
	u, ok := s.users[username]
	if !ok || u.AccessToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(u.AccessToken), []byte(token)) == 1
}

// RegisterCapability advertises a capability token. visible limits when it
// is listed; nil means always.
func (s *Server) RegisterCapability(name string, visible func(c *Conn) bool) {
	s.capabilities = append(s.capabilities, Capability{Name: name, Visible: visible})
}

// CapabilityList returns the tokens visible to the connection in
// registration order.
func (s *Server) CapabilityList(c *Conn) []string {
	var out []string
	for _, cap := range s.capabilities {
		if cap.Visible == nil || cap.Visible(c) {
			out = append(out, cap.Name)
		}
	}
	return out
}

// SetCommandHandler installs or replaces a command handler. Extensions
// wrap existing handlers by fetching the previous one first.
func (s *Server) SetCommandHandler(name string, fn HandlerFunc) {
	s.commands[strings.ToUpper(name)] = fn
}

// CommandHandler returns the installed handler for a verb, or nil.
func (s *Server) CommandHandler(name string) HandlerFunc {
	return s.commands[strings.ToUpper(name)]
}

// EnableAuth registers a SASL mechanism.
func (s *Server) EnableAuth(name string, factory SASLFactory) {
	s.saslMechs[strings.ToUpper(name)] = factory
}

// SASLMechanism returns the factory for a mechanism, or nil.
func (s *Server) SASLMechanism(name string) SASLFactory {
	return s.saslMechs[strings.ToUpper(name)]
}

// AllowEnable marks a capability as accepted by the ENABLE command.
func (s *Server) AllowEnable(name string) {
	s.enablable = append(s.enablable, strings.ToUpper(name))
}

// Enablable reports whether the capability can be ENABLEd.
func (s *Server) Enablable(name string) bool {
	name = strings.ToUpper(name)
	for _, e := range s.enablable {
		if e == name {
			return true
		}
	}
	return false
}

// FetchRegistry returns the fetch item registry for extension items.
func (s *Server) FetchRegistry() *fetch.Registry { return s.fetchReg }

// SearchRegistry returns the search key registry for extension keys.
func (s *Server) SearchRegistry() *search.Registry { return s.searchReg }

// AddFetchFilter installs a FETCH message filter.
func (s *Server) AddFetchFilter(fn FetchFilter) { s.fetchFilters = append(s.fetchFilters, fn) }

// AddStoreFilter installs a STORE message filter.
func (s *Server) AddStoreFilter(fn StoreFilter) { s.storeFilters = append(s.storeFilters, fn) }

// AddOutputHook installs a response emission hook.
func (s *Server) AddOutputHook(fn OutputHook) { s.outputHooks = append(s.outputHooks, fn) }

// AddConnHook installs a connection setup hook.
func (s *Server) AddConnHook(fn ConnHook) { s.connHooks = append(s.connHooks, fn) }

// Notice is one queued untagged update for a session.
type Notice struct {
	Resp *wire.Resp
	// Snapshot is the folder's message list attached to the EXISTS that
	// follows an expunge run; commands executing against the folder in
	// another session keep using it until the queue is flushed.
	Snapshot []*store.Message
	// Expunge marks removal notices; their presence blocks STORE.
	Expunge bool
}

// Notify queues untagged updates for every session that has the folder
// selected, except ignore. Callers hold the execution lock.
func (s *Server) Notify(mbox *store.Mailbox, ignore *Conn, notices ...*Notice) {
	s.connsMu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()

	for _, c := range conns {
		if c == ignore || c.Selected != mbox {
			continue
		}
		for _, n := range notices {
			c.queueNotice(n)
			if s.metrics != nil {
				s.metrics.Notifications.Inc()
			}
		}
	}
}

// Serve accepts connections on l until the listener is closed.
func (s *Server) Serve(l net.Listener) error {
	s.listener = l
	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		s.NewConn(conn)
	}
}

// ListenAndServe listens on addr and serves.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("listening", "addr", l.Addr().String())
	return s.Serve(l)
}

// Close shuts the listener and all open connections.
func (s *Server) Close() error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.connsMu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	return err
}

func (s *Server) addConn(c *Conn) {
	s.connsMu.Lock()
	s.conns[c.ID] = c
	s.connsMu.Unlock()
	if s.metrics != nil {
		s.metrics.ConnectionsActive.Inc()
		s.metrics.ConnectionsTotal.Inc()
	}
}

func (s *Server) removeConn(c *Conn) {
	s.connsMu.Lock()
	_, ok := s.conns[c.ID]
	delete(s.conns, c.ID)
	s.connsMu.Unlock()
	if ok && s.metrics != nil {
		s.metrics.ConnectionsActive.Dec()
	}
}
