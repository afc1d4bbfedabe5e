package bifaci

import "github.com/fxamacker/cbor/v2"

// Payload is a request or event body. Every catalogue body type names the
// action it travels under.
type Payload interface {
	Action() string
}

// Manager-scoped actions.
const (
	ActionListExtensions = "list-extensions"
	ActionLoadCommand    = "load-command"
	ActionUnloadCommand  = "unload-command"
	ActionDevelopStart   = "develop.start"
	ActionDevelopRefresh = "develop.refresh"
	ActionDevelopStop    = "develop.stop"
	ActionCommandCrashed = "command-crashed"
	ActionLog            = "log"
)

// Extension-scoped actions.
const (
	ActionRender          = "ui.render"
	ActionPushView        = "ui.push-view"
	ActionPopView         = "ui.pop-view"
	ActionSetSearchText   = "ui.set-search-text"
	ActionCloseMainWindow = "ui.close-main-window"
	ActionShowHUD         = "ui.show-hud"

	ActionStorageGet    = "storage.get"
	ActionStorageSet    = "storage.set"
	ActionStorageRemove = "storage.remove"
	ActionStorageList   = "storage.list"
	ActionStorageClear  = "storage.clear"

	ActionClipboardCopy = "clipboard.copy"

	ActionAppList = "app.list"
	ActionAppOpen = "app.open"

	ActionToastShow   = "toast.show"
	ActionToastHide   = "toast.hide"
	ActionToastUpdate = "toast.update"

	// ActionEvent invokes an extension-side handler (host -> extension).
	ActionEvent = "event"
)

// =============================================================================
// Manager bodies
// =============================================================================

type ListExtensionsRequest struct{}

func (*ListExtensionsRequest) Action() string { return ActionListExtensions }

// ExtensionInfo describes one installed extension. Manifest is the raw JSON
// manifest; see package manifest.
type ExtensionInfo struct {
	ID       string `cbor:"id"`
	Path     string `cbor:"path,omitempty"`
	Manifest []byte `cbor:"manifest,omitempty"`
}

type ListExtensionsResponse struct {
	Extensions []ExtensionInfo `cbor:"extensions,omitempty"`
}

// LoadCommandRequest asks the supervisor to start one command.
type LoadCommandRequest struct {
	ExtensionID string            `cbor:"extensionId"`
	Command     string            `cbor:"command"`
	Entrypoint  string            `cbor:"entrypoint"`
	Mode        string            `cbor:"mode,omitempty"` // "view" or "no-view"
	Arguments   map[string]string `cbor:"arguments,omitempty"`
	Preferences map[string]string `cbor:"preferences,omitempty"`
}

func (*LoadCommandRequest) Action() string { return ActionLoadCommand }

type LoadCommandResponse struct {
	SessionID string `cbor:"sessionId"`
}

type UnloadCommandRequest struct {
	SessionID string `cbor:"sessionId"`
}

func (*UnloadCommandRequest) Action() string { return ActionUnloadCommand }

type DevelopStartRequest struct {
	ExtensionID string `cbor:"extensionId"`
}

func (*DevelopStartRequest) Action() string { return ActionDevelopStart }

type DevelopRefreshRequest struct {
	ExtensionID string `cbor:"extensionId"`
}

func (*DevelopRefreshRequest) Action() string { return ActionDevelopRefresh }

type DevelopStopRequest struct {
	ExtensionID string `cbor:"extensionId"`
}

func (*DevelopStopRequest) Action() string { return ActionDevelopStop }

// CommandCrashedEvent reports an unhandled failure inside extension code.
type CommandCrashedEvent struct {
	SessionID string `cbor:"sessionId"`
	Text      string `cbor:"text"`
}

func (*CommandCrashedEvent) Action() string { return ActionCommandCrashed }

// LogEvent forwards extension console output.
type LogEvent struct {
	SessionID string `cbor:"sessionId,omitempty"`
	Level     string `cbor:"level"`
	Message   string `cbor:"message"`
}

func (*LogEvent) Action() string { return ActionLog }

// =============================================================================
// Extension UI bodies
// =============================================================================

// RenderNode is one node of the declarative UI tree pushed by an extension.
// The root node's children map positionally to the session's view stack.
type RenderNode struct {
	Type     string         `cbor:"type"`
	Props    map[string]any `cbor:"props,omitempty"`
	Children []RenderNode   `cbor:"children,omitempty"`
}

type RenderRequest struct {
	Root RenderNode `cbor:"root"`
}

func (*RenderRequest) Action() string { return ActionRender }

type PushViewRequest struct{}

func (*PushViewRequest) Action() string { return ActionPushView }

type PopViewRequest struct{}

func (*PopViewRequest) Action() string { return ActionPopView }

type SetSearchTextRequest struct {
	Text string `cbor:"text"`
}

func (*SetSearchTextRequest) Action() string { return ActionSetSearchText }

type CloseMainWindowRequest struct {
	PopToRoot bool `cbor:"popToRoot,omitempty"`
}

func (*CloseMainWindowRequest) Action() string { return ActionCloseMainWindow }

type ShowHUDRequest struct {
	Text string `cbor:"text"`
}

func (*ShowHUDRequest) Action() string { return ActionShowHUD }

// =============================================================================
// Storage bodies. Values are opaque CBOR items owned by the extension.
// =============================================================================

type StorageGetRequest struct {
	Key string `cbor:"key"`
}

func (*StorageGetRequest) Action() string { return ActionStorageGet }

// StorageGetResponse reports a missing key with Found=false; that is not an error.
type StorageGetResponse struct {
	Value cbor.RawMessage `cbor:"value,omitempty"`
	Found bool            `cbor:"found"`
}

type StorageSetRequest struct {
	Key   string          `cbor:"key"`
	Value cbor.RawMessage `cbor:"value"`
}

func (*StorageSetRequest) Action() string { return ActionStorageSet }

type StorageRemoveRequest struct {
	Key string `cbor:"key"`
}

func (*StorageRemoveRequest) Action() string { return ActionStorageRemove }

type StorageListRequest struct{}

func (*StorageListRequest) Action() string { return ActionStorageList }

type StorageListResponse struct {
	Values map[string]cbor.RawMessage `cbor:"values,omitempty"`
}

type StorageClearRequest struct{}

func (*StorageClearRequest) Action() string { return ActionStorageClear }

// =============================================================================
// Clipboard, app and toast bodies
// =============================================================================

type ClipboardCopyRequest struct {
	Text      string `cbor:"text,omitempty"`
	HTML      string `cbor:"html,omitempty"`
	Concealed bool   `cbor:"concealed,omitempty"`
}

func (*ClipboardCopyRequest) Action() string { return ActionClipboardCopy }

type AppInfo struct {
	ID   string `cbor:"id"`
	Name string `cbor:"name"`
	Icon string `cbor:"icon,omitempty"`
	Path string `cbor:"path,omitempty"`
}

type AppListRequest struct{}

func (*AppListRequest) Action() string { return ActionAppList }

type AppListResponse struct {
	Apps []AppInfo `cbor:"apps,omitempty"`
}

type AppOpenRequest struct {
	Target string `cbor:"target"`
	AppID  string `cbor:"appId,omitempty"`
}

func (*AppOpenRequest) Action() string { return ActionAppOpen }

// Toast styles.
const (
	ToastStyleSuccess  = "success"
	ToastStyleFailure  = "failure"
	ToastStyleAnimated = "animated"
)

type Toast struct {
	ID      string `cbor:"id"`
	Title   string `cbor:"title"`
	Message string `cbor:"message,omitempty"`
	Style   string `cbor:"style,omitempty"`
}

type ToastShowRequest struct {
	Toast Toast `cbor:"toast"`
}

func (*ToastShowRequest) Action() string { return ActionToastShow }

type ToastHideRequest struct {
	ID string `cbor:"id"`
}

func (*ToastHideRequest) Action() string { return ActionToastHide }

type ToastUpdateRequest struct {
	Toast Toast `cbor:"toast"`
}

func (*ToastUpdateRequest) Action() string { return ActionToastUpdate }

// HandlerEvent invokes the extension-side callback registered under HandlerID
// (e.g. an onAction or onSearchTextChange prop) with free-form arguments.
type HandlerEvent struct {
	HandlerID string `cbor:"handlerId"`
	Args      []any  `cbor:"args,omitempty"`
}

func (*HandlerEvent) Action() string { return ActionEvent }

// Ack is the empty success body for requests that return nothing.
type Ack struct{}

// =============================================================================
// Catalogue
// =============================================================================

// payloadClass separates request/event bodies from response bodies, which
// share action names.
type payloadClass uint8

const (
	classBody payloadClass = iota
	classResult
)

type payloadKey struct {
	class  payloadClass
	action string
}

func newAck() any { return &Ack{} }

var catalogue = map[payloadKey]func() any{
	{classBody, ActionListExtensions}: func() any { return &ListExtensionsRequest{} },
	{classBody, ActionLoadCommand}:    func() any { return &LoadCommandRequest{} },
	{classBody, ActionUnloadCommand}:  func() any { return &UnloadCommandRequest{} },
	{classBody, ActionDevelopStart}:   func() any { return &DevelopStartRequest{} },
	{classBody, ActionDevelopRefresh}: func() any { return &DevelopRefreshRequest{} },
	{classBody, ActionDevelopStop}:    func() any { return &DevelopStopRequest{} },
	{classBody, ActionCommandCrashed}: func() any { return &CommandCrashedEvent{} },
	{classBody, ActionLog}:            func() any { return &LogEvent{} },

	{classBody, ActionRender}:          func() any { return &RenderRequest{} },
	{classBody, ActionPushView}:        func() any { return &PushViewRequest{} },
	{classBody, ActionPopView}:         func() any { return &PopViewRequest{} },
	{classBody, ActionSetSearchText}:   func() any { return &SetSearchTextRequest{} },
	{classBody, ActionCloseMainWindow}: func() any { return &CloseMainWindowRequest{} },
	{classBody, ActionShowHUD}:         func() any { return &ShowHUDRequest{} },
	{classBody, ActionStorageGet}:      func() any { return &StorageGetRequest{} },
	{classBody, ActionStorageSet}:      func() any { return &StorageSetRequest{} },
	{classBody, ActionStorageRemove}:   func() any { return &StorageRemoveRequest{} },
	{classBody, ActionStorageList}:     func() any { return &StorageListRequest{} },
	{classBody, ActionStorageClear}:    func() any { return &StorageClearRequest{} },
	{classBody, ActionClipboardCopy}:   func() any { return &ClipboardCopyRequest{} },
	{classBody, ActionAppList}:         func() any { return &AppListRequest{} },
	{classBody, ActionAppOpen}:         func() any { return &AppOpenRequest{} },
	{classBody, ActionToastShow}:       func() any { return &ToastShowRequest{} },
	{classBody, ActionToastHide}:       func() any { return &ToastHideRequest{} },
	{classBody, ActionToastUpdate}:     func() any { return &ToastUpdateRequest{} },
	{classBody, ActionEvent}:           func() any { return &HandlerEvent{} },

	{classResult, ActionListExtensions}: func() any { return &ListExtensionsResponse{} },
	{classResult, ActionLoadCommand}:    func() any { return &LoadCommandResponse{} },
	{classResult, ActionUnloadCommand}:  newAck,
	{classResult, ActionDevelopStart}:   newAck,
	{classResult, ActionDevelopRefresh}: newAck,
	{classResult, ActionDevelopStop}:    newAck,

	{classResult, ActionRender}:          newAck,
	{classResult, ActionPushView}:        newAck,
	{classResult, ActionPopView}:         newAck,
	{classResult, ActionSetSearchText}:   newAck,
	{classResult, ActionCloseMainWindow}: newAck,
	{classResult, ActionShowHUD}:         newAck,
	{classResult, ActionStorageGet}:      func() any { return &StorageGetResponse{} },
	{classResult, ActionStorageSet}:      newAck,
	{classResult, ActionStorageRemove}:   newAck,
	{classResult, ActionStorageList}:     func() any { return &StorageListResponse{} },
	{classResult, ActionStorageClear}:    newAck,
	{classResult, ActionClipboardCopy}:   newAck,
	{classResult, ActionAppList}:         func() any { return &AppListResponse{} },
	{classResult, ActionAppOpen}:         newAck,
	{classResult, ActionToastShow}:       newAck,
	{classResult, ActionToastHide}:       newAck,
	{classResult, ActionToastUpdate}:     newAck,
}

// newPayload returns a fresh body for (kind, action), or nil if the action is
// not in the catalogue.
func newPayload(kind Kind, action string) any {
	class := classBody
	if kind == KindResponse {
		class = classResult
	}
	factory, ok := catalogue[payloadKey{class: class, action: action}]
	if !ok {
		return nil
	}
	return factory()
}

// KnownAction reports whether action has a body type for kind.
func KnownAction(kind Kind, action string) bool {
	return newPayload(kind, action) != nil
}
