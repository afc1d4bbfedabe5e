// Package session maps session ids to running extension commands and routes
// bus traffic to them.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/machinefabric/extbridge-go/bifaci"
	"github.com/machinefabric/extbridge-go/logger"
	"github.com/machinefabric/extbridge-go/render"
)

// DefaultUnloadTimeout bounds how long Unload waits for the runtime to
// acknowledge.
const DefaultUnloadTimeout = 2 * time.Second

// ErrSessionTaken is returned by Register when the id belongs to another
// controller.
var ErrSessionTaken = errors.New("session id is already registered")

// Registry owns the session id to Controller mapping for one bus. It is the
// bus's Handler: inbound events and requests are routed by session id, and
// anything addressed to an unknown session is dropped.
type Registry struct {
	bus           *bifaci.Bus
	services      Services
	parser        render.Parser
	unloadTimeout time.Duration
	log           *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Controller
	closed   bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithUnloadTimeout sets how long Unload waits for an acknowledgement.
func WithUnloadTimeout(d time.Duration) Option {
	return func(r *Registry) { r.unloadTimeout = d }
}

// WithParser replaces the render tree parser used by new controllers.
func WithParser(p render.Parser) Option {
	return func(r *Registry) { r.parser = p }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// NewRegistry creates a Registry. Pass it to bus.Run.
func NewRegistry(bus *bifaci.Bus, services Services, opts ...Option) *Registry {
	r := &Registry{
		bus:           bus,
		services:      services,
		parser:        render.TreeParser{},
		unloadTimeout: DefaultUnloadTimeout,
		log:           logger.Default(),
		sessions:      make(map[string]*Controller),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds id to c. An id is never silently rebound.
func (r *Registry) Register(id string, c *Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return bifaci.ErrTransportClosed
	}
	if existing, ok := r.sessions[id]; ok && existing != c {
		return fmt.Errorf("session %s: %w", id, ErrSessionTaken)
	}
	r.sessions[id] = c
	return nil
}

// Unregister removes id. It reports whether an entry was removed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Lookup returns the controller registered under id.
func (r *Registry) Lookup(id string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[id]
	return c, ok
}

// Sessions returns the registered controllers ordered by session id.
func (r *Registry) Sessions() []*Controller {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Controller, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.sessions[id])
	}
	r.mu.Unlock()
	return out
}

// RouteEvent delivers an extension-scoped event to its session. It reports
// whether the session was found.
func (r *Registry) RouteEvent(env *bifaci.Envelope) bool {
	c, ok := r.Lookup(env.SessionID)
	if !ok {
		r.log.Debugf("dropping %s: no such session", env)
		return false
	}
	c.handleEvent(env)
	return true
}

// RouteRequest delivers an extension-scoped request to its session, which
// answers it. A request for an unknown session is answered with
// session.not_found.
func (r *Registry) RouteRequest(env *bifaci.Envelope) bool {
	c, ok := r.Lookup(env.SessionID)
	if !ok {
		r.log.Debugf("rejecting %s: no such session", env)
		r.reply(env, nil, &requestError{code: bifaci.CodeSessionNotFound, message: "no session " + env.SessionID})
		return false
	}
	c.handleRequest(env)
	return true
}

// HandleEvent implements bifaci.Handler.
func (r *Registry) HandleEvent(env *bifaci.Envelope) {
	if env.Scope == bifaci.ScopeExtension {
		r.RouteEvent(env)
		return
	}
	switch body := env.Payload.(type) {
	case *bifaci.CommandCrashedEvent:
		c, ok := r.Lookup(body.SessionID)
		if !ok {
			r.log.Debugf("crash report for unknown session %s", body.SessionID)
			return
		}
		c.markCrashed(body.Text)
	case *bifaci.LogEvent:
		r.logExtension(body)
	default:
		r.log.Warnf("unhandled manager event %s", env.Action)
	}
}

// HandleRequest implements bifaci.Handler.
func (r *Registry) HandleRequest(env *bifaci.Envelope) {
	if env.Scope == bifaci.ScopeExtension {
		r.RouteRequest(env)
		return
	}
	r.log.Warnf("rejecting manager request %s", env)
	r.reply(env, nil, &requestError{code: bifaci.CodeActionInvalid, message: env.Action + " is not served by the host"})
}

// HandleClosed implements bifaci.Handler. Every session is torn down to a
// crash view and dropped from the registry; a transport failure is reported
// to the Notifier.
func (r *Registry) HandleClosed(err error) {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Controller)
	r.closed = true
	r.mu.Unlock()

	for _, c := range sessions {
		c.detach(err)
	}
	if err == nil {
		return
	}
	r.log.Errorf("extension runtime lost: %v", err)
	if r.services.Notifier != nil {
		r.services.Notifier.RuntimeCrashed(err)
	}
}

func (r *Registry) logExtension(ev *bifaci.LogEvent) {
	l := r.log.With("ext")
	if ev.SessionID != "" {
		l = r.log.With("session " + ev.SessionID)
	}
	level, err := logger.ParseLevel(ev.Level)
	if err != nil {
		level = logger.LevelInfo
	}
	switch level {
	case logger.LevelTrace:
		l.Tracef("%s", ev.Message)
	case logger.LevelDebug:
		l.Debugf("%s", ev.Message)
	case logger.LevelWarn:
		l.Warnf("%s", ev.Message)
	case logger.LevelError:
		l.Errorf("%s", ev.Message)
	default:
		l.Infof("%s", ev.Message)
	}
}

func (r *Registry) reply(req *bifaci.Envelope, result any, err error) {
	var werr error
	if err != nil {
		code, msg := errorCode(err)
		werr = r.bus.RespondError(req, code, msg)
	} else {
		werr = r.bus.Respond(req, result)
	}
	if werr != nil {
		r.log.Warnf("reply to %s failed: %v", req, werr)
	}
}
