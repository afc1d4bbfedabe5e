package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/machinefabric/extbridge-go/bifaci"
	"github.com/machinefabric/extbridge-go/logger"
	"github.com/machinefabric/extbridge-go/render"
)

// State is the lifecycle state of a Controller.
type State int

const (
	StateUnloaded State = iota
	StateLoadRequested
	StateLoaded
	StateActive
	StateUnloadRequested
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoadRequested:
		return "load-requested"
	case StateLoaded:
		return "loaded"
	case StateActive:
		return "active"
	case StateUnloadRequested:
		return "unload-requested"
	case StateCrashed:
		return "crashed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNoView is returned by host operations on a session without views.
var ErrNoView = errors.New("session has no view")

// LaunchSpec describes the command to load.
type LaunchSpec struct {
	ExtensionID string
	Command     string
	Entrypoint  string
	Mode        string
	Arguments   map[string]string
	Preferences map[string]string
}

type view struct {
	handle render.ViewHandle
	parsed render.Model // last model from the reconciler, unfiltered
	shown  render.Model // last model handed to the handle
	search string

	// current is set once the view shows the reconciler's model for its
	// position. Dirty flags are computed against that model, so they do not
	// hold for a view pushed after it.
	current bool
}

// Controller runs one extension command: it drives the load/unload
// lifecycle, owns the session's view stack, and answers the session's
// requests.
//
// Calls into the Sink are made with the controller's lock held; a Sink must
// not call back into the controller synchronously.
type Controller struct {
	spec       LaunchSpec
	registry   *Registry
	sink       render.Sink
	reconciler *render.Reconciler

	mu          sync.Mutex
	log         *logger.Logger
	state       State
	id          string
	loadErr     error
	loadGen     uint64 // bumped by every Load and by an abandoned one
	crashText   string
	views       []*view
	selectFirst int // view whose next model is applied with SelectFirst, -1 for none
}

// NewController creates an unloaded controller. sink may be nil for
// commands without a view.
func NewController(reg *Registry, spec LaunchSpec, sink render.Sink) *Controller {
	c := &Controller{
		spec:        spec,
		registry:    reg,
		sink:        sink,
		log:         reg.log.With(spec.ExtensionID + "/" + spec.Command),
		selectFirst: -1,
	}
	c.reconciler = render.NewReconciler(reg.parser, c.applyModels, c.log)
	return c
}

// ID returns the bound session id, empty before load completes.
func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Spec returns the launch description.
func (c *Controller) Spec() LaunchSpec { return c.spec }

// CrashText returns the crash description of a crashed session.
func (c *Controller) CrashText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.crashText
}

// ViewCount returns the depth of the session's view stack.
func (c *Controller) ViewCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.views)
}

// Load asks the runtime supervisor to start the command. On success the
// session id is bound, the session registered and a placeholder view pushed
// before any later message from the runtime is routed.
//
// If ctx ends first, Load returns and the controller is unloaded again. A
// session the runtime starts for the abandoned load is unloaded when its id
// arrives.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUnloaded {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("load %s: session is %s", c.spec.Command, st)
	}
	c.state = StateLoadRequested
	c.loadErr = nil
	c.loadGen++
	gen := c.loadGen
	c.mu.Unlock()

	req := &bifaci.LoadCommandRequest{
		ExtensionID: c.spec.ExtensionID,
		Command:     c.spec.Command,
		Entrypoint:  c.spec.Entrypoint,
		Mode:        c.spec.Mode,
		Arguments:   c.spec.Arguments,
		Preferences: c.spec.Preferences,
	}
	f, err := c.registry.bus.CallThen(bifaci.ScopeManager, "", req, func(env *bifaci.Envelope, err error) {
		c.bind(gen, env, err)
	})
	if err != nil {
		return fmt.Errorf("load %s: %w", c.spec.Command, err)
	}

	select {
	case <-f.Done():
	case <-ctx.Done():
		c.mu.Lock()
		if c.loadGen == gen && c.state == StateLoadRequested {
			c.loadGen++
			c.state = StateUnloaded
			c.mu.Unlock()
			return fmt.Errorf("load %s: %w", c.spec.Command, ctx.Err())
		}
		c.mu.Unlock()
		// The response won the race; bind has run.
		<-f.Done()
	}
	if _, err := f.Result(); err != nil {
		return fmt.Errorf("load %s: %w", c.spec.Command, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadErr != nil {
		return fmt.Errorf("load %s: %w", c.spec.Command, c.loadErr)
	}
	return nil
}

// bind completes a load on the goroutine that received the response.
func (c *Controller) bind(gen uint64, env *bifaci.Envelope, err error) {
	var sid string
	if err == nil {
		var resp *bifaci.LoadCommandResponse
		if resp, err = bifaci.ResultAs[bifaci.LoadCommandResponse](env); err == nil {
			if sid = resp.SessionID; sid == "" {
				err = errors.New("runtime returned an empty session id")
			}
		}
	}

	c.mu.Lock()
	if gen != c.loadGen {
		c.mu.Unlock()
		c.release(sid, "load was abandoned")
		return
	}
	if err == nil {
		err = c.registry.Register(sid, c)
	}
	if err == nil {
		c.id = sid
		c.state = StateLoaded
		c.log = c.registry.log.With("session " + c.id)
		if c.sink != nil {
			c.pushViewLocked(render.Placeholder())
		}
		c.log.Debugf("loaded %s/%s", c.spec.ExtensionID, c.spec.Command)
		c.mu.Unlock()
		return
	}
	c.state = StateUnloaded
	c.loadErr = err
	c.mu.Unlock()

	// An id owned by another controller is that controller's to unload.
	if !errors.Is(err, ErrSessionTaken) {
		c.release(sid, err.Error())
	}
}

// release asks the runtime to unload a session this controller never bound.
// The acknowledgement is not awaited.
func (c *Controller) release(sid, reason string) {
	if sid == "" {
		return
	}
	c.registry.log.Warnf("releasing unbound session %s: %s", sid, reason)
	if _, err := c.registry.bus.Call(bifaci.ScopeManager, "", &bifaci.UnloadCommandRequest{SessionID: sid}); err != nil {
		c.registry.log.Debugf("release %s: %v", sid, err)
	}
}

// Unload ends the session. The registry entry and the views are removed
// whether or not the runtime acknowledges within the unload timeout.
// Unloading an unloaded session is a no-op.
func (c *Controller) Unload(ctx context.Context) {
	c.mu.Lock()
	switch c.state {
	case StateUnloaded, StateUnloadRequested, StateLoadRequested:
		c.mu.Unlock()
		return
	}
	id, log := c.id, c.log
	c.state = StateUnloadRequested
	c.mu.Unlock()

	c.reconciler.Reset()
	c.registry.Unregister(id)

	ctx, cancel := context.WithTimeout(ctx, c.registry.unloadTimeout)
	defer cancel()
	if _, err := c.registry.bus.Request(ctx, bifaci.ScopeManager, "", &bifaci.UnloadCommandRequest{SessionID: id}); err != nil {
		log.Warnf("unload not acknowledged: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.views) > 0 {
		c.popViewLocked()
	}
	c.state = StateUnloaded
	c.id = ""
	c.log.Debugf("unloaded")
}

// Reload unloads the session and loads the same command again.
func (c *Controller) Reload(ctx context.Context) error {
	c.Unload(ctx)
	return c.Load(ctx)
}

// markCrashed handles a crash report from the runtime. The session stays
// registered until the user closes it.
func (c *Controller) markCrashed(text string) {
	c.reconciler.Reset()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLoaded && c.state != StateActive {
		return
	}
	c.log.Warnf("extension crashed: %s", text)
	c.state = StateCrashed
	c.crashText = text
	c.showCrashLocked(text)
}

// detach handles loss of the transport.
func (c *Controller) detach(err error) {
	c.reconciler.Reset()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLoaded && c.state != StateActive {
		return
	}
	text := "extension runtime stopped"
	if err != nil {
		text += ": " + err.Error()
	}
	c.state = StateCrashed
	c.crashText = text
	c.showCrashLocked(text)
}

// showCrashLocked reduces the stack to one view showing text.
func (c *Controller) showCrashLocked(text string) {
	if c.sink == nil {
		return
	}
	for len(c.views) > 1 {
		c.popViewLocked()
	}
	if len(c.views) == 0 {
		c.pushViewLocked(nil)
	}
	m := render.CrashModel(text)
	v := c.views[0]
	v.parsed, v.shown, v.search = m, m, ""
	v.handle.Render(m, render.SelectFirst)
}

// activateLocked moves a loaded session to active on its first inbound
// message and reports whether the session accepts traffic.
func (c *Controller) activateLocked() bool {
	if c.state == StateLoaded {
		c.state = StateActive
	}
	return c.state == StateActive
}

func (c *Controller) handleEvent(env *bifaci.Envelope) {
	c.mu.Lock()
	ok := c.activateLocked()
	log := c.log
	c.mu.Unlock()
	if !ok {
		log.Debugf("dropping %s: session not active", env)
		return
	}

	switch body := env.Payload.(type) {
	case *bifaci.RenderRequest:
		c.reconciler.Submit(body.Root)
	case *bifaci.LogEvent:
		if body.SessionID == "" {
			body.SessionID = env.SessionID
		}
		c.registry.logExtension(body)
	default:
		log.Debugf("dropping unhandled event %s", env.Action)
	}
}

func (c *Controller) handleRequest(env *bifaci.Envelope) {
	c.mu.Lock()
	ok := c.activateLocked()
	st := c.state
	c.mu.Unlock()
	if !ok {
		c.registry.reply(env, nil, &requestError{code: bifaci.CodeSessionNotFound, message: "session is " + st.String()})
		return
	}
	result, err := c.dispatch(context.Background(), env)
	c.registry.reply(env, result, err)
}

// applyModels distributes one reconciliation result positionally over the
// view stack. Extra models push new views; extra views are left untouched.
func (c *Controller) applyModels(models []render.Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || c.sink == nil {
		return
	}

	for i, m := range models {
		if i >= len(c.views) {
			c.pushViewLocked(nil)
		}
		policy := render.PreserveSelection
		if i == c.selectFirst {
			policy = render.SelectFirst
			c.selectFirst = -1
		}
		v := c.views[i]
		if !v.current {
			m = render.Touch(m)
		}
		v.parsed, v.current = m, true

		searchChanged := false
		if st := m.Base().SearchText; st != nil && *st != v.search {
			v.search, searchChanged = *st, true
		}
		v.shown = render.Filter(m, v.search)
		if searchChanged {
			v.shown = render.Touch(v.shown)
		}
		v.handle.Render(v.shown, policy)
	}
}

func (c *Controller) pushViewLocked(initial render.Model) *view {
	v := &view{handle: c.sink.PushView()}
	c.views = append(c.views, v)
	if initial != nil {
		v.parsed, v.shown = initial, initial
		v.handle.Render(initial, render.SelectFirst)
	}
	return v
}

func (c *Controller) popViewLocked() {
	c.sink.PopView()
	c.views = c.views[:len(c.views)-1]
	if c.selectFirst >= len(c.views) {
		c.selectFirst = -1
	}
}

func (c *Controller) topLocked() (*view, error) {
	if c.state != StateActive && c.state != StateLoaded {
		return nil, fmt.Errorf("session is %s", c.state)
	}
	if len(c.views) == 0 {
		return nil, ErrNoView
	}
	return c.views[len(c.views)-1], nil
}

func (c *Controller) emit(sessionID string, payload bifaci.Payload) error {
	return c.registry.bus.Emit(bifaci.ScopeExtension, sessionID, payload)
}

// SetSearchText records the user's search input for the top view. When the
// host filters, the view is re-rendered at once with SelectFirst; when the
// extension filters, its next render is applied with SelectFirst. The
// extension's onSearchTextChange handler, if any, receives the text.
func (c *Controller) SetSearchText(text string) error {
	c.mu.Lock()
	v, err := c.topLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	v.search = text
	var handler string
	if m := v.parsed; m != nil {
		handler = m.Base().OnSearchTextChange
		if m.Base().Filtering {
			shown := render.Touch(render.Filter(m, text))
			shown.Base().SearchText = &text
			v.shown = shown
			v.handle.Render(shown, render.SelectFirst)
		} else {
			c.selectFirst = len(c.views) - 1
		}
	}
	id := c.id
	c.mu.Unlock()

	if handler == "" {
		return nil
	}
	return c.emit(id, &bifaci.HandlerEvent{HandlerID: handler, Args: []any{text}})
}

// SelectItem reports a selection change to the extension's
// onSelectionChange handler, if it registered one.
func (c *Controller) SelectItem(itemID string) error {
	c.mu.Lock()
	v, err := c.topLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	var handler string
	if v.parsed != nil {
		handler = v.parsed.Base().OnSelectionChange
	}
	id := c.id
	c.mu.Unlock()

	if handler == "" {
		return nil
	}
	return c.emit(id, &bifaci.HandlerEvent{HandlerID: handler, Args: []any{itemID}})
}

// ActivateAction runs an action of the top view. A form submit action is
// invoked with the form's current values.
func (c *Controller) ActivateAction(handlerID string) error {
	c.mu.Lock()
	v, err := c.topLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	a, ok := findAction(v.parsed, handlerID)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("no action %q in the current view", handlerID)
	}
	var args []any
	if form, isForm := v.parsed.(*render.FormModel); isForm && a.Submit {
		args = []any{form.Values()}
	}
	id := c.id
	c.mu.Unlock()

	return c.emit(id, &bifaci.HandlerEvent{HandlerID: a.HandlerID, Args: args})
}

// SubmitForm invokes the top form's submit action with values.
func (c *Controller) SubmitForm(values map[string]any) error {
	c.mu.Lock()
	v, err := c.topLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	form, ok := v.parsed.(*render.FormModel)
	if !ok {
		c.mu.Unlock()
		return errors.New("top view is not a form")
	}
	var handler string
	if form.Actions != nil {
		for _, s := range form.Actions.Sections {
			for _, a := range s.Actions {
				if a.Submit && handler == "" {
					handler = a.HandlerID
				}
			}
		}
	}
	id := c.id
	c.mu.Unlock()

	if handler == "" {
		return errors.New("form has no submit action")
	}
	return c.emit(id, &bifaci.HandlerEvent{HandlerID: handler, Args: []any{values}})
}

// ChangeFormField reports a field edit to the field's onChange handler.
func (c *Controller) ChangeFormField(fieldID string, value any) error {
	c.mu.Lock()
	v, err := c.topLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	var handler string
	if form, ok := v.parsed.(*render.FormModel); ok {
		for _, f := range form.Fields {
			if f.ID == fieldID {
				handler = f.OnChange
			}
		}
	}
	id := c.id
	c.mu.Unlock()

	if handler == "" {
		return nil
	}
	return c.emit(id, &bifaci.HandlerEvent{HandlerID: handler, Args: []any{value}})
}

// PopView handles the user navigating back. Popping the root view, or
// closing a crashed session, unloads the session.
func (c *Controller) PopView(ctx context.Context) error {
	c.mu.Lock()
	if len(c.views) <= 1 || c.state == StateCrashed {
		c.mu.Unlock()
		c.Unload(ctx)
		return nil
	}
	if c.state != StateActive && c.state != StateLoaded {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("session is %s", st)
	}
	c.popViewLocked()
	id := c.id
	c.mu.Unlock()

	return c.emit(id, &bifaci.PopViewRequest{})
}

func findAction(m render.Model, handlerID string) (render.Action, bool) {
	if m == nil {
		return render.Action{}, false
	}
	if a, ok := m.Base().Actions.Find(handlerID); ok {
		return a, true
	}
	var items []render.Item
	switch v := m.(type) {
	case *render.ListModel:
		items = v.Items()
	case *render.GridModel:
		items = v.Items()
	}
	for _, it := range items {
		if a, ok := it.Actions.Find(handlerID); ok {
			return a, true
		}
	}
	return render.Action{}, false
}
