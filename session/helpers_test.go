package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/machinefabric/extbridge-go/bifaci"
	"github.com/machinefabric/extbridge-go/logger"
	"github.com/machinefabric/extbridge-go/render"
)

const testWait = 2 * time.Second

// runtimePeer plays the extension runtime on the far end of a net.Pipe.
type runtimePeer struct {
	t    *testing.T
	conn net.Conn
	w    *bifaci.FrameWriter
	in   chan *bifaci.Envelope
	seq  int
}

func newRuntimePeer(t *testing.T, conn net.Conn) *runtimePeer {
	p := &runtimePeer{t: t, conn: conn, w: bifaci.NewFrameWriter(conn), in: make(chan *bifaci.Envelope, 64)}
	go func() {
		defer close(p.in)
		r := bifaci.NewFrameReader(conn)
		for {
			env, err := r.ReadEnvelope()
			if err != nil {
				if env != nil && bifaci.IsUnknownAction(err) {
					continue
				}
				return
			}
			p.in <- env
		}
	}()
	return p
}

func (p *runtimePeer) next() *bifaci.Envelope {
	p.t.Helper()
	select {
	case env, ok := <-p.in:
		require.True(p.t, ok, "host stream closed")
		return env
	case <-time.After(testWait):
		p.t.Fatal("timed out waiting for a frame from the host")
		return nil
	}
}

func (p *runtimePeer) expectAction(action string) *bifaci.Envelope {
	p.t.Helper()
	env := p.next()
	require.Equal(p.t, action, env.Action, "unexpected frame %s", env)
	return env
}

func (p *runtimePeer) expectNothing(d time.Duration) {
	p.t.Helper()
	select {
	case env, ok := <-p.in:
		if ok {
			p.t.Fatalf("unexpected frame %s", env)
		}
	case <-time.After(d):
	}
}

func (p *runtimePeer) send(env *bifaci.Envelope) {
	p.t.Helper()
	require.NoError(p.t, p.w.WriteEnvelope(env))
}

func (p *runtimePeer) emit(sessionID string, payload bifaci.Payload) {
	p.t.Helper()
	p.send(bifaci.NewEvent(bifaci.ScopeExtension, sessionID, payload))
}

// request sends an extension request and returns the host's response.
func (p *runtimePeer) request(sessionID string, payload bifaci.Payload) *bifaci.Envelope {
	p.t.Helper()
	p.seq++
	id := fmt.Sprintf("req-%d", p.seq)
	p.send(bifaci.NewRequest(bifaci.ScopeExtension, sessionID, id, payload))
	resp := p.next()
	require.Equal(p.t, bifaci.KindResponse, resp.Kind, "expected a response, got %s", resp)
	require.Equal(p.t, id, resp.RequestID)
	return resp
}

type rendered struct {
	model  render.Model
	policy render.SelectionPolicy
}

type fakeView struct {
	mu      sync.Mutex
	renders []rendered
}

func (v *fakeView) Render(m render.Model, policy render.SelectionPolicy) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.renders = append(v.renders, rendered{model: m, policy: policy})
}

func (v *fakeView) last() (rendered, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.renders) == 0 {
		return rendered{}, false
	}
	return v.renders[len(v.renders)-1], true
}

func (v *fakeView) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.renders)
}

// fakeSink records the view stack the controller maintains.
type fakeSink struct {
	mu     sync.Mutex
	stack  []*fakeView
	pushes int
	pops   int
}

func (s *fakeSink) PushView() render.ViewHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := &fakeView{}
	s.stack = append(s.stack, v)
	s.pushes++
	return v
}

func (s *fakeSink) PopView() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stack = s.stack[:len(s.stack)-1]
	s.pops++
}

func (s *fakeSink) depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack)
}

func (s *fakeSink) counts() (pushes, pops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushes, s.pops
}

func (s *fakeSink) view(i int) *fakeView {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.stack) {
		return nil
	}
	return s.stack[i]
}

// lastModel returns the model most recently rendered into view i.
func (s *fakeSink) lastModel(i int) render.Model {
	v := s.view(i)
	if v == nil {
		return nil
	}
	r, ok := v.last()
	if !ok {
		return nil
	}
	return r.model
}

type fakeNotifier struct {
	mu      sync.Mutex
	toasts  []bifaci.Toast
	hidden  []string
	huds    []string
	closes  int
	crashes []error
}

func (n *fakeNotifier) ShowToast(t bifaci.Toast) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, t)
}

func (n *fakeNotifier) UpdateToast(t bifaci.Toast) { n.ShowToast(t) }

func (n *fakeNotifier) HideToast(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hidden = append(n.hidden, id)
}

func (n *fakeNotifier) ShowHUD(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.huds = append(n.huds, text)
}

func (n *fakeNotifier) CloseMainWindow(bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closes++
}

func (n *fakeNotifier) RuntimeCrashed(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.crashes = append(n.crashes, err)
}

func (n *fakeNotifier) crashCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.crashes)
}

// memStorage is an in-memory Storage.
type memStorage struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{data: make(map[string]map[string][]byte)}
}

func (s *memStorage) Get(_ context.Context, ns, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[ns][key]
	return v, ok, nil
}

func (s *memStorage) Set(_ context.Context, ns, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[ns] == nil {
		s.data[ns] = make(map[string][]byte)
	}
	s.data[ns][key] = append([]byte(nil), value...)
	return nil
}

func (s *memStorage) Remove(_ context.Context, ns, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[ns], key)
	return nil
}

func (s *memStorage) List(_ context.Context, ns string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.data[ns]))
	for k, v := range s.data[ns] {
		out[k] = v
	}
	return out, nil
}

func (s *memStorage) Clear(_ context.Context, ns string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, ns)
	return nil
}

type harness struct {
	reg    *Registry
	bus    *bifaci.Bus
	peer   *runtimePeer
	runErr chan error
}

func startRegistry(t *testing.T, services Services, opts ...Option) *harness {
	t.Helper()
	hostConn, peerConn := net.Pipe()
	t.Cleanup(func() { _ = peerConn.Close() })

	bus := bifaci.NewBus(hostConn, bifaci.WithLogger(logger.Discard()), bifaci.WithRequestTimeout(testWait))
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	reg := NewRegistry(bus, services, opts...)
	h := &harness{reg: reg, bus: bus, peer: newRuntimePeer(t, peerConn), runErr: make(chan error, 1)}
	go func() { h.runErr <- bus.Run(reg) }()
	t.Cleanup(func() { _ = bus.Close() })
	return h
}

var testSpec = LaunchSpec{ExtensionID: "github", Command: "my-repos", Entrypoint: "dist/my-repos.js", Mode: "view"}

// load runs Controller.Load against the scripted peer, which hands out sid.
func (h *harness) load(t *testing.T, sink render.Sink, sid string) *Controller {
	t.Helper()
	c := NewController(h.reg, testSpec, sink)
	done := make(chan error, 1)
	go func() { done <- c.Load(context.Background()) }()

	req := h.peer.expectAction(bifaci.ActionLoadCommand)
	h.peer.send(bifaci.NewResponse(req, &bifaci.LoadCommandResponse{SessionID: sid}))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(testWait):
		t.Fatal("load did not return")
	}
	return c
}

// flush round-trips a harmless request so every frame the peer sent before
// it has been dispatched, then waits for the resulting renders of c.
func (h *harness) flush(c *Controller) {
	h.peer.request(c.ID(), &bifaci.StorageListRequest{})
	c.reconciler.Wait()
}

func node(typ string, props map[string]any, children ...bifaci.RenderNode) bifaci.RenderNode {
	return bifaci.RenderNode{Type: typ, Props: props, Children: children}
}

func listOf(title string, items ...string) bifaci.RenderNode {
	var children []bifaci.RenderNode
	for _, it := range items {
		children = append(children, node(render.NodeListItem, map[string]any{"id": it, "title": it}))
	}
	return node(render.NodeList, map[string]any{"navigationTitle": title}, children...)
}

func tree(views ...bifaci.RenderNode) bifaci.RenderNode {
	return node(render.NodeRoot, nil, views...)
}
