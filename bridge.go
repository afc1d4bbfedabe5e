package extbridge

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/machinefabric/extbridge-go/bifaci"
	"github.com/machinefabric/extbridge-go/config"
	"github.com/machinefabric/extbridge-go/logger"
	"github.com/machinefabric/extbridge-go/manifest"
	"github.com/machinefabric/extbridge-go/render"
	"github.com/machinefabric/extbridge-go/session"
	"github.com/machinefabric/extbridge-go/storage"
)

// Bridge connects the host to one extension runtime over an already
// connected byte stream. Spawning and supervising the runtime process is
// left to the caller.
type Bridge struct {
	cfg      config.Config
	log      *logger.Logger
	bus      *bifaci.Bus
	registry *session.Registry
	store    *storage.Store // opened by New, nil when the caller supplied Storage

	mu         sync.Mutex
	developing map[string]bool
}

// BridgeOption configures a Bridge.
type BridgeOption func(*bridgeOptions)

type bridgeOptions struct {
	log    *logger.Logger
	parser render.Parser
}

// WithLogger replaces the logger built from cfg.Log.
func WithLogger(l *logger.Logger) BridgeOption {
	return func(o *bridgeOptions) { o.log = l }
}

// WithParser replaces the render tree parser.
func WithParser(p render.Parser) BridgeOption {
	return func(o *bridgeOptions) { o.parser = p }
}

// New creates a Bridge over rw. When services.Storage is nil, extension
// storage is opened at cfg.Storage.Path.
func New(cfg config.Config, rw io.ReadWriter, services session.Services, opts ...BridgeOption) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o bridgeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		level, err := logger.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("log.level: %w", err)
		}
		o.log = logger.New(os.Stderr, level)
	}

	b := &Bridge{cfg: cfg, log: o.log, developing: make(map[string]bool)}
	if services.Storage == nil && cfg.Storage.Path != "" {
		store, err := storage.Open(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		b.store = store
		services.Storage = store
	}

	b.bus = bifaci.NewBus(rw,
		bifaci.WithRequestTimeout(cfg.Bus.RequestTimeout),
		bifaci.WithLimits(bifaci.ClampLimits(cfg.Transport.Limits)),
		bifaci.WithLogger(o.log),
	)
	regOpts := []session.Option{
		session.WithUnloadTimeout(cfg.Session.UnloadTimeout),
		session.WithLogger(o.log),
	}
	if o.parser != nil {
		regOpts = append(regOpts, session.WithParser(o.parser))
	}
	b.registry = session.NewRegistry(b.bus, services, regOpts...)
	return b, nil
}

// Run serves the runtime until the stream ends. It returns nil after Close
// and the transport error otherwise; every live session is left showing a
// crash view either way.
func (b *Bridge) Run() error {
	return b.bus.Run(b.registry)
}

// Close stops the bridge and releases the storage it opened.
func (b *Bridge) Close() error {
	err := b.bus.Close()
	if b.store != nil {
		if serr := b.store.Close(); err == nil {
			err = serr
		}
	}
	return err
}

// Registry returns the session registry.
func (b *Bridge) Registry() *session.Registry { return b.registry }

// Launch loads a command. sink may be nil for no-view commands.
func (b *Bridge) Launch(ctx context.Context, spec session.LaunchSpec, sink render.Sink) (*session.Controller, error) {
	c := session.NewController(b.registry, spec, sink)
	if err := c.Load(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Extension is an installed extension as reported by the runtime.
type Extension struct {
	ID       string
	Path     string
	Manifest *manifest.Manifest
}

// ListExtensions asks the runtime for installed extensions. Extensions with
// an invalid manifest are logged and left out.
func (b *Bridge) ListExtensions(ctx context.Context) ([]Extension, error) {
	env, err := b.bus.Request(ctx, bifaci.ScopeManager, "", &bifaci.ListExtensionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list extensions: %w", err)
	}
	resp, err := bifaci.ResultAs[bifaci.ListExtensionsResponse](env)
	if err != nil {
		return nil, fmt.Errorf("list extensions: %w", err)
	}

	out := make([]Extension, 0, len(resp.Extensions))
	for _, info := range resp.Extensions {
		m, err := manifest.Parse(info.Manifest)
		if err != nil {
			b.log.Warnf("skipping extension %s: %v", info.ID, err)
			continue
		}
		out = append(out, Extension{ID: info.ID, Path: info.Path, Manifest: m})
	}
	return out, nil
}

// LaunchCommand loads command of ext with the manifest's entrypoint and
// preference defaults; prefs override the defaults. No-view commands get no
// sink.
func (b *Bridge) LaunchCommand(ctx context.Context, ext Extension, command string, args, prefs map[string]string, sink render.Sink) (*session.Controller, error) {
	if ext.Manifest == nil {
		return nil, fmt.Errorf("extension %s has no manifest", ext.ID)
	}
	cmd, ok := ext.Manifest.Command(command)
	if !ok {
		return nil, fmt.Errorf("extension %s has no command %q", ext.ID, command)
	}
	for _, a := range cmd.Arguments {
		if a.Required && args[a.Name] == "" {
			return nil, fmt.Errorf("command %s: argument %q is required", command, a.Name)
		}
	}
	merged := ext.Manifest.Defaults(command)
	for k, v := range prefs {
		merged[k] = v
	}
	if cmd.Mode == manifest.ModeNoView {
		sink = nil
	}
	return b.Launch(ctx, session.LaunchSpec{
		ExtensionID: ext.ID,
		Command:     cmd.Name,
		Entrypoint:  path.Join(ext.Path, cmd.EntrypointFor()),
		Mode:        cmd.Mode,
		Arguments:   args,
		Preferences: merged,
	}, sink)
}

// DevelopStart asks the runtime to watch extID's sources.
func (b *Bridge) DevelopStart(ctx context.Context, extID string) error {
	if _, err := b.bus.Request(ctx, bifaci.ScopeManager, "", &bifaci.DevelopStartRequest{ExtensionID: extID}); err != nil {
		return fmt.Errorf("develop start %s: %w", extID, err)
	}
	b.mu.Lock()
	b.developing[extID] = true
	b.mu.Unlock()
	return nil
}

// DevelopRefresh tells the runtime extID was rebuilt and reloads every live
// session of it.
func (b *Bridge) DevelopRefresh(ctx context.Context, extID string) error {
	if _, err := b.bus.Request(ctx, bifaci.ScopeManager, "", &bifaci.DevelopRefreshRequest{ExtensionID: extID}); err != nil {
		return fmt.Errorf("develop refresh %s: %w", extID, err)
	}
	for _, c := range b.registry.Sessions() {
		if c.Spec().ExtensionID != extID {
			continue
		}
		switch c.State() {
		case session.StateLoaded, session.StateActive, session.StateCrashed:
		default:
			continue
		}
		if err := c.Reload(ctx); err != nil {
			return fmt.Errorf("reload %s/%s: %w", extID, c.Spec().Command, err)
		}
	}
	return nil
}

// DevelopStop ends develop mode for extID.
func (b *Bridge) DevelopStop(ctx context.Context, extID string) error {
	b.mu.Lock()
	delete(b.developing, extID)
	b.mu.Unlock()
	if _, err := b.bus.Request(ctx, bifaci.ScopeManager, "", &bifaci.DevelopStopRequest{ExtensionID: extID}); err != nil {
		return fmt.Errorf("develop stop %s: %w", extID, err)
	}
	return nil
}

// Developing reports whether develop mode is on for extID.
func (b *Bridge) Developing(extID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.developing[extID]
}
