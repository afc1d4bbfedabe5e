package session

import (
	"context"

	"github.com/machinefabric/extbridge-go/bifaci"
)

// Storage is the per-extension key/value store behind storage.* requests.
// Values are opaque CBOR items. A missing key is reported with found=false,
// not an error.
type Storage interface {
	Get(ctx context.Context, namespace, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Remove(ctx context.Context, namespace, key string) error
	List(ctx context.Context, namespace string) (map[string][]byte, error)
	Clear(ctx context.Context, namespace string) error
}

// Clipboard serves clipboard.copy.
type Clipboard interface {
	Copy(ctx context.Context, text, html string, concealed bool) error
}

// Apps serves app.list and app.open.
type Apps interface {
	List(ctx context.Context) ([]bifaci.AppInfo, error)
	Open(ctx context.Context, target, appID string) error
}

// Notifier receives the plain-data UI side effects extensions ask for, and
// the one-time notice that the extension runtime was lost.
type Notifier interface {
	ShowToast(t bifaci.Toast)
	UpdateToast(t bifaci.Toast)
	HideToast(id string)
	ShowHUD(text string)
	CloseMainWindow(popToRoot bool)
	RuntimeCrashed(err error)
}

// Services bundles the host providers. A nil provider answers its requests
// with an action.unsupported error.
type Services struct {
	Storage   Storage
	Clipboard Clipboard
	Apps      Apps
	Notifier  Notifier
}
