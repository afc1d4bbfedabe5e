package bifaci

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/extbridge-go/logger"
)

const testWait = 2 * time.Second

// testPeer plays the extension runtime on the far end of a net.Pipe.
type testPeer struct {
	t    *testing.T
	conn net.Conn
	w    *FrameWriter
	in   chan *Envelope
}

func newTestPeer(t *testing.T, conn net.Conn) *testPeer {
	p := &testPeer{t: t, conn: conn, w: NewFrameWriter(conn), in: make(chan *Envelope, 64)}
	go func() {
		defer close(p.in)
		r := NewFrameReader(conn)
		for {
			body, err := r.ReadFrame()
			if err != nil {
				return
			}
			env, err := DecodeEnvelope(body)
			if err != nil && !IsUnknownAction(err) {
				continue
			}
			p.in <- env
		}
	}()
	return p
}

func (p *testPeer) next() *Envelope {
	p.t.Helper()
	select {
	case env, ok := <-p.in:
		require.True(p.t, ok, "peer stream closed")
		return env
	case <-time.After(testWait):
		p.t.Fatal("timed out waiting for frame")
		return nil
	}
}

func (p *testPeer) send(env *Envelope) {
	p.t.Helper()
	require.NoError(p.t, p.w.WriteEnvelope(env))
}

type recordingHandler struct {
	mu       sync.Mutex
	events   []*Envelope
	requests chan *Envelope
	closed   chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{requests: make(chan *Envelope, 16), closed: make(chan error, 1)}
}

func (h *recordingHandler) HandleEvent(env *Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, env)
}

func (h *recordingHandler) HandleRequest(env *Envelope) { h.requests <- env }
func (h *recordingHandler) HandleClosed(err error)      { h.closed <- err }

func (h *recordingHandler) eventCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func startBus(t *testing.T, opts ...Option) (*Bus, *testPeer, *recordingHandler, chan error) {
	t.Helper()
	hostConn, peerConn := net.Pipe()
	t.Cleanup(func() { _ = peerConn.Close() })

	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	bus := NewBus(hostConn, opts...)
	h := newRecordingHandler()
	runErr := make(chan error, 1)
	go func() { runErr <- bus.Run(h) }()
	t.Cleanup(func() { _ = bus.Close() })
	return bus, newTestPeer(t, peerConn), h, runErr
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	t.Cleanup(cancel)
	return ctx
}

// TEST140: Request completes with the matching response
func Test140_bus_request_response(t *testing.T) {
	bus, peer, _, _ := startBus(t)

	f, err := bus.Call(ScopeManager, "", &LoadCommandRequest{ExtensionID: "gh", Command: "repos"})
	require.NoError(t, err)

	req := peer.next()
	assert.Equal(t, KindRequest, req.Kind)
	assert.Equal(t, f.ID(), req.RequestID)
	peer.send(NewResponse(req, &LoadCommandResponse{SessionID: "s1"}))

	env, err := f.Wait(waitCtx(t))
	require.NoError(t, err)
	body, err := ResultAs[LoadCommandResponse](env)
	require.NoError(t, err)
	assert.Equal(t, "s1", body.SessionID)
	assert.Equal(t, 0, bus.Pending())
}

// TEST141: Error response completes the future with a RemoteError
func Test141_bus_remote_error(t *testing.T) {
	bus, peer, _, _ := startBus(t)

	f, err := bus.Call(ScopeExtension, "s1", &AppOpenRequest{Target: "/nope"})
	require.NoError(t, err)
	peer.send(NewErrorResponse(peer.next(), CodeAppFailed, "no such file"))

	_, err = f.Wait(waitCtx(t))
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, CodeAppFailed, remote.Code)
	assert.Equal(t, ActionAppOpen, remote.Action)
}

// TEST142: Concurrent calls answered out of order each get their own response
func Test142_bus_concurrent_calls_out_of_order(t *testing.T) {
	bus, peer, _, _ := startBus(t)

	const n = 10
	futures := make([]*Future, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := bus.Call(ScopeManager, "", &LoadCommandRequest{Command: fmt.Sprintf("cmd-%d", i)})
			assert.NoError(t, err)
			futures[i] = f
		}()
	}

	reqs := make([]*Envelope, 0, n)
	for range n {
		reqs = append(reqs, peer.next())
	}
	wg.Wait()

	// Answer in reverse arrival order, echoing the command as session id.
	for i := len(reqs) - 1; i >= 0; i-- {
		body := reqs[i].Payload.(*LoadCommandRequest)
		peer.send(NewResponse(reqs[i], &LoadCommandResponse{SessionID: body.Command}))
	}

	for i, f := range futures {
		env, err := f.Wait(waitCtx(t))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("cmd-%d", i), env.Payload.(*LoadCommandResponse).SessionID)
	}
}

// TEST143: Timed out request fails and its late response is dropped
func Test143_bus_timeout_then_late_response_dropped(t *testing.T) {
	bus, peer, h, _ := startBus(t, WithRequestTimeout(50*time.Millisecond))

	f, err := bus.Call(ScopeExtension, "s1", &StorageListRequest{})
	require.NoError(t, err)
	req := peer.next()

	_, err = f.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.Equal(t, 0, bus.Pending())

	// The late response matches nothing and must not complete anything twice.
	peer.send(NewResponse(req, &StorageListResponse{}))

	// The loop keeps going: an event sent after the stray response arrives.
	peer.send(NewEvent(ScopeManager, "", &LogEvent{Level: "info", Message: "still here"}))
	assert.Eventually(t, func() bool { return h.eventCount() == 1 }, testWait, 5*time.Millisecond)
	_, err = f.Result()
	assert.ErrorIs(t, err, ErrRequestTimeout)
}

// TEST144: Response with an unknown request id is dropped
func Test144_bus_unmatched_response_dropped(t *testing.T) {
	bus, peer, h, _ := startBus(t)

	stray := NewRequest(ScopeManager, "", "never-sent", &UnloadCommandRequest{SessionID: "s1"})
	peer.send(NewResponse(stray, nil))
	peer.send(NewRequest(ScopeExtension, "s1", "p1", &PushViewRequest{}))

	select {
	case req := <-h.requests:
		assert.Equal(t, "p1", req.RequestID)
	case <-time.After(testWait):
		t.Fatal("request after stray response was not delivered")
	}
	assert.Equal(t, 0, bus.Pending())
}

// TEST145: Stream close fails every pending request with ErrTransportClosed
func Test145_bus_transport_close_fails_pending(t *testing.T) {
	bus, peer, h, runErr := startBus(t)

	f1, err := bus.Call(ScopeManager, "", &ListExtensionsRequest{})
	require.NoError(t, err)
	f2, err := bus.Call(ScopeExtension, "s1", &StorageGetRequest{Key: "k"})
	require.NoError(t, err)
	peer.next()
	peer.next()

	require.NoError(t, peer.conn.Close())

	for _, f := range []*Future{f1, f2} {
		_, err := f.Wait(waitCtx(t))
		assert.ErrorIs(t, err, ErrTransportClosed)
	}
	assert.ErrorIs(t, <-runErr, io.EOF)
	assert.ErrorIs(t, <-h.closed, io.EOF)

	_, err = bus.Call(ScopeManager, "", &ListExtensionsRequest{})
	assert.ErrorIs(t, err, ErrTransportClosed)
	select {
	case <-bus.Done():
	default:
		t.Fatal("bus should be done")
	}
}

// TEST146: Close makes Run return nil and fails pending requests
func Test146_bus_deliberate_close(t *testing.T) {
	bus, peer, h, runErr := startBus(t)

	f, err := bus.Call(ScopeManager, "", &ListExtensionsRequest{})
	require.NoError(t, err)
	peer.next()

	require.NoError(t, bus.Close())
	_, err = f.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.NoError(t, <-runErr)
	assert.NoError(t, <-h.closed)

	assert.ErrorIs(t, bus.Emit(ScopeManager, "", &LogEvent{Message: "x"}), ErrTransportClosed)
	assert.NoError(t, bus.Close(), "second close is harmless")
}

// TEST147: Request with an unknown action is answered with action.invalid
func Test147_bus_unknown_action_request_gets_error(t *testing.T) {
	_, peer, h, _ := startBus(t)

	peer.send(&Envelope{
		Version:   ProtocolVersion,
		Kind:      KindRequest,
		Scope:     ScopeExtension,
		SessionID: "s1",
		RequestID: "u1",
		Action:    "ui.teleport",
	})

	resp := peer.next()
	assert.Equal(t, KindResponse, resp.Kind)
	assert.Equal(t, "u1", resp.RequestID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeActionInvalid, resp.Error.Code)
	assert.Empty(t, h.requests)
}

// TEST148: Event with an unknown action is dropped without a reply
func Test148_bus_unknown_event_dropped(t *testing.T) {
	_, peer, h, _ := startBus(t)

	peer.send(&Envelope{Version: ProtocolVersion, Kind: KindEvent, Scope: ScopeManager, Action: "telemetry"})
	peer.send(NewEvent(ScopeExtension, "s1", &LogEvent{Message: "after"}))

	assert.Eventually(t, func() bool { return h.eventCount() == 1 }, testWait, 5*time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, ActionLog, h.events[0].Action)
}

// TEST149: Oversized inbound frame ends Run with ErrFrameTooLarge
func Test149_bus_oversized_frame_is_fatal(t *testing.T) {
	bus, peer, h, runErr := startBus(t, WithLimits(Limits{MaxFrame: 64}))

	f, err := bus.Call(ScopeManager, "", &ListExtensionsRequest{})
	require.NoError(t, err)
	peer.next()

	big := NewFrameWriter(peer.conn)
	_ = big.WriteFrame(make([]byte, 100))

	assert.ErrorIs(t, <-runErr, ErrFrameTooLarge)
	assert.ErrorIs(t, <-h.closed, ErrFrameTooLarge)
	_, err = f.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.Equal(t, 0, bus.Pending())
}

// TEST150: Cancelled Wait abandons the pending entry
func Test150_future_wait_cancel_abandons(t *testing.T) {
	bus, peer, _, _ := startBus(t)

	f, err := bus.Call(ScopeManager, "", &ListExtensionsRequest{})
	require.NoError(t, err)
	req := peer.next()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Wait(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, bus.Pending())

	// A late reply is dropped without effect.
	peer.send(NewResponse(req, &ListExtensionsResponse{}))
	_, err = f.Result()
	assert.ErrorIs(t, err, context.Canceled)
}

// TEST151: WithIDGenerator supplies the request ids
func Test151_bus_custom_id_generator(t *testing.T) {
	n := 0
	bus, peer, _, _ := startBus(t, WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("req-%d", n)
	}))

	f, err := bus.Call(ScopeManager, "", &ListExtensionsRequest{})
	require.NoError(t, err)
	assert.Equal(t, "req-1", f.ID())
	assert.Equal(t, "req-1", peer.next().RequestID)
}

// TEST152: CallThen hook runs before the next inbound frame is dispatched
func Test152_bus_call_then_runs_before_next_frame(t *testing.T) {
	bus, peer, h, _ := startBus(t)

	var mu sync.Mutex
	var bound string
	f, err := bus.CallThen(ScopeManager, "", &LoadCommandRequest{Command: "c"}, func(env *Envelope, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			bound = env.Payload.(*LoadCommandResponse).SessionID
		}
	})
	require.NoError(t, err)

	req := peer.next()
	peer.send(NewResponse(req, &LoadCommandResponse{SessionID: "s1"}))
	peer.send(NewRequest(ScopeExtension, "s1", "p1", &PushViewRequest{}))

	select {
	case <-h.requests:
		mu.Lock()
		assert.Equal(t, "s1", bound, "hook ran before the following request was dispatched")
		mu.Unlock()
	case <-time.After(testWait):
		t.Fatal("request not delivered")
	}
	_, err = f.Wait(waitCtx(t))
	assert.NoError(t, err)
}

// TEST153: CallThen on a closed bus runs the hook with the close error
func Test153_bus_call_then_on_closed_bus(t *testing.T) {
	bus, _, _, _ := startBus(t)
	require.NoError(t, bus.Close())

	var hookErr error
	_, err := bus.CallThen(ScopeManager, "", &ListExtensionsRequest{}, func(_ *Envelope, err error) { hookErr = err })
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.ErrorIs(t, hookErr, ErrTransportClosed)
}
