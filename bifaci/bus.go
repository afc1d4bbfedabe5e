package bifaci

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/machinefabric/extbridge-go/logger"
)

// DefaultRequestTimeout bounds how long a request waits for its response.
const DefaultRequestTimeout = 30 * time.Second

// Handler receives inbound traffic that is not a response to our own
// requests. All callbacks run on the Bus read loop, in arrival order; a
// handler must not block on Bus.Request from inside a callback.
type Handler interface {
	// HandleEvent receives an inbound event.
	HandleEvent(env *Envelope)
	// HandleRequest receives an inbound request. The handler owes exactly one
	// Respond or RespondError for it.
	HandleRequest(env *Envelope)
	// HandleClosed is called once when the read loop ends. err is nil when
	// the bus was closed deliberately.
	HandleClosed(err error)
}

// Future is the pending result of one outbound request. It completes
// exactly once: with the response, a timeout, or a transport failure.
type Future struct {
	id     string
	action string
	done   chan struct{}
	once   sync.Once
	timer  *time.Timer
	bus    *Bus
	then   func(*Envelope, error)
	result *Envelope
	err    error
}

func newFuture(b *Bus, id, action string) *Future {
	return &Future{id: id, action: action, done: make(chan struct{}), bus: b}
}

// ID returns the request id the future is correlated by.
func (f *Future) ID() string { return f.id }

// Done is closed when the future completes.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the response or failure. It must only be called after Done
// is closed. A response carrying an error yields a *RemoteError along with
// the envelope.
func (f *Future) Result() (*Envelope, error) {
	<-f.done
	return f.result, f.err
}

// Wait blocks until the future completes or ctx ends. On cancellation the
// pending entry is abandoned and a late response is dropped.
func (f *Future) Wait(ctx context.Context) (*Envelope, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		if p := f.bus.take(f.id); p != nil {
			p.complete(nil, ctx.Err())
		}
		<-f.done
		return f.result, f.err
	}
}

func (f *Future) complete(env *Envelope, err error) {
	f.once.Do(func() {
		if f.timer != nil {
			f.timer.Stop()
		}
		if err == nil && env != nil && env.Error != nil {
			err = &RemoteError{Action: f.action, Code: env.Error.Code, Message: env.Error.Message}
		}
		f.result = env
		f.err = err
		if f.then != nil {
			f.then(env, err)
		}
		close(f.done)
	})
}

// Bus correlates requests with responses over one framed, bidirectional
// stream and hands everything else to a Handler.
type Bus struct {
	reader *FrameReader
	writer *FrameWriter
	closer io.Closer

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]*Future
	closed   bool
	closeErr error

	closing atomic.Bool
	done    chan struct{}

	timeout time.Duration
	newID   func() string
	log     *logger.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithRequestTimeout sets the per-request timeout. Zero disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(b *Bus) { b.timeout = d }
}

// WithLimits sets framing limits for both directions.
func WithLimits(l Limits) Option {
	return func(b *Bus) {
		b.reader.SetLimits(l)
		b.writer.SetLimits(l)
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(b *Bus) { b.log = l.With("bus") }
}

// WithIDGenerator replaces the uuid request id generator.
func WithIDGenerator(fn func() string) Option {
	return func(b *Bus) { b.newID = fn }
}

// NewBus creates a Bus over rw. If rw is also an io.Closer, Close closes it.
func NewBus(rw io.ReadWriter, opts ...Option) *Bus {
	b := &Bus{
		reader:  NewFrameReader(rw),
		writer:  NewFrameWriter(rw),
		pending: make(map[string]*Future),
		done:    make(chan struct{}),
		timeout: DefaultRequestTimeout,
		newID:   uuid.NewString,
		log:     logger.Default().With("bus"),
	}
	if c, ok := rw.(io.Closer); ok {
		b.closer = c
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Call sends a request and returns its Future without waiting.
func (b *Bus) Call(scope Scope, sessionID string, payload Payload) (*Future, error) {
	return b.CallThen(scope, sessionID, payload, nil)
}

// CallThen is Call with a completion hook. fn runs exactly once, on the
// goroutine that completes the future (the read loop for a response) and
// before any later frame is dispatched. It also runs when the send fails.
// fn must not block on the Bus.
func (b *Bus) CallThen(scope Scope, sessionID string, payload Payload, fn func(*Envelope, error)) (*Future, error) {
	id := b.newID()
	f := newFuture(b, id, payload.Action())
	f.then = fn

	b.mu.Lock()
	if b.closed {
		err := b.closeErr
		b.mu.Unlock()
		f.complete(nil, err)
		return nil, err
	}
	if _, dup := b.pending[id]; dup {
		b.mu.Unlock()
		err := fmt.Errorf("duplicate request id %q", id)
		f.complete(nil, err)
		return nil, err
	}
	b.pending[id] = f
	if b.timeout > 0 {
		f.timer = time.AfterFunc(b.timeout, func() { b.expire(id) })
	}
	b.mu.Unlock()

	if err := b.send(NewRequest(scope, sessionID, id, payload)); err != nil {
		if p := b.take(id); p != nil {
			p.complete(nil, err)
		}
		<-f.done
		return nil, err
	}
	return f, nil
}

// Request sends a request and waits for its response.
func (b *Bus) Request(ctx context.Context, scope Scope, sessionID string, payload Payload) (*Envelope, error) {
	f, err := b.Call(scope, sessionID, payload)
	if err != nil {
		return nil, err
	}
	return f.Wait(ctx)
}

// Emit sends a one-way event.
func (b *Bus) Emit(scope Scope, sessionID string, payload Payload) error {
	return b.send(NewEvent(scope, sessionID, payload))
}

// Respond answers req successfully. A nil payload sends an empty Ack.
func (b *Bus) Respond(req *Envelope, payload any) error {
	if payload == nil {
		payload = &Ack{}
	}
	return b.send(NewResponse(req, payload))
}

// RespondError answers req with a structured error.
func (b *Bus) RespondError(req *Envelope, code, message string) error {
	return b.send(NewErrorResponse(req, code, message))
}

// Pending returns the number of requests awaiting a response.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Done is closed once the bus has shut down.
func (b *Bus) Done() <-chan struct{} { return b.done }

// Close shuts the bus down, failing every pending request with a transport
// closed error. It is safe to call more than once.
func (b *Bus) Close() error {
	b.closing.Store(true)
	var err error
	if b.closer != nil {
		err = b.closer.Close()
	}
	b.shutdown(&BusError{Type: BusErrorTypeClosed, Message: "bus closed"})
	return err
}

// Run reads and dispatches frames until the stream ends or fails. It
// returns nil after a deliberate Close, otherwise the error that ended the
// stream (io.EOF when the peer hung up).
func (b *Bus) Run(h Handler) error {
	err := b.readLoop(h)
	b.shutdown(&BusError{Type: BusErrorTypeClosed, Message: err.Error()})

	if b.closing.Load() {
		err = nil
	}
	h.HandleClosed(err)
	return err
}

func (b *Bus) readLoop(h Handler) error {
	for {
		body, err := b.reader.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrFrameTooLarge) && b.closer != nil {
				// The stream cannot be resynchronised after a bad prefix.
				_ = b.closer.Close()
			}
			return err
		}

		env, err := DecodeEnvelope(body)
		if err != nil {
			b.rejectUndecodable(env, err)
			continue
		}
		b.dispatch(h, env)
	}
}

func (b *Bus) rejectUndecodable(env *Envelope, err error) {
	if env == nil || !IsUnknownAction(err) {
		b.log.Warnf("dropping undecodable frame: %v", err)
		return
	}
	if env.Kind == KindRequest {
		b.log.Warnf("rejecting %s: %v", env, err)
		if werr := b.RespondError(env, CodeActionInvalid, err.Error()); werr != nil {
			b.log.Warnf("reply to %s failed: %v", env, werr)
		}
		return
	}
	b.log.Warnf("dropping %s: %v", env, err)
}

func (b *Bus) dispatch(h Handler, env *Envelope) {
	switch env.Kind {
	case KindResponse:
		f := b.take(env.RequestID)
		if f == nil {
			b.log.Warnf("dropping unmatched response %s", env.RequestID)
			return
		}
		f.complete(env, nil)
	case KindEvent:
		h.HandleEvent(env)
	case KindRequest:
		h.HandleRequest(env)
	}
}

// take removes and returns the pending future for id, or nil.
func (b *Bus) take(id string) *Future {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.pending[id]
	if !ok {
		return nil
	}
	delete(b.pending, id)
	return f
}

func (b *Bus) expire(id string) {
	f := b.take(id)
	if f == nil {
		return
	}
	b.log.Debugf("request %s (%s) timed out after %s", id, f.action, b.timeout)
	f.complete(nil, &BusError{Type: BusErrorTypeTimeout, Message: fmt.Sprintf("%s after %s", f.action, b.timeout)})
}

// shutdown fails all pending futures with err. Only the first call has effect.
func (b *Bus) shutdown(err *BusError) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.closeErr = err
	pending := b.pending
	b.pending = make(map[string]*Future)
	b.mu.Unlock()

	for _, f := range pending {
		f.complete(nil, err)
	}
	close(b.done)
}

func (b *Bus) send(env *Envelope) error {
	b.mu.Lock()
	closed, closeErr := b.closed, b.closeErr
	b.mu.Unlock()
	if closed {
		return closeErr
	}

	body, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.writer.WriteFrame(body); err != nil {
		if errors.Is(err, ErrFrameTooLarge) {
			return err
		}
		return &BusError{Type: BusErrorTypeIo, Message: err.Error()}
	}
	return nil
}

// ResultAs extracts a typed response body.
func ResultAs[T any](env *Envelope) (*T, error) {
	if env == nil {
		return nil, errors.New("no response")
	}
	body, ok := env.Payload.(*T)
	if !ok {
		var zero T
		return nil, fmt.Errorf("%s response: expected %T, got %T", env.Action, &zero, env.Payload)
	}
	return body, nil
}
