package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/machinefabric/extbridge-go/bifaci"
	"github.com/machinefabric/extbridge-go/render"
)

// requestError is an application-level failure sent back as an error
// response.
type requestError struct {
	code    string
	message string
}

func (e *requestError) Error() string { return e.message }

func failf(code, format string, args ...any) error {
	return &requestError{code: code, message: fmt.Sprintf(format, args...)}
}

// errorCode maps err to a wire error code and message.
func errorCode(err error) (string, string) {
	var re *requestError
	if errors.As(err, &re) {
		return re.code, re.message
	}
	return bifaci.CodeInternal, err.Error()
}

// dispatch serves one extension request and returns the response body.
func (c *Controller) dispatch(ctx context.Context, env *bifaci.Envelope) (any, error) {
	switch body := env.Payload.(type) {
	// ui.*
	case *bifaci.RenderRequest:
		c.reconciler.Submit(body.Root)
		return nil, nil
	case *bifaci.PushViewRequest:
		return nil, c.pushView()
	case *bifaci.PopViewRequest:
		return nil, c.popView()
	case *bifaci.SetSearchTextRequest:
		return nil, c.setSearchText(body.Text)
	case *bifaci.CloseMainWindowRequest:
		n, err := c.notifier()
		if err != nil {
			return nil, err
		}
		n.CloseMainWindow(body.PopToRoot)
		return nil, nil
	case *bifaci.ShowHUDRequest:
		n, err := c.notifier()
		if err != nil {
			return nil, err
		}
		n.ShowHUD(body.Text)
		return nil, nil

	// storage.*
	case *bifaci.StorageGetRequest, *bifaci.StorageSetRequest, *bifaci.StorageRemoveRequest,
		*bifaci.StorageListRequest, *bifaci.StorageClearRequest:
		return c.serveStorage(ctx, body)

	// clipboard.*
	case *bifaci.ClipboardCopyRequest:
		cb := c.registry.services.Clipboard
		if cb == nil {
			return nil, failf(bifaci.CodeActionUnsupported, "no clipboard provider")
		}
		if err := cb.Copy(ctx, body.Text, body.HTML, body.Concealed); err != nil {
			return nil, failf(bifaci.CodeClipboardFailed, "copy: %v", err)
		}
		return nil, nil

	// app.*
	case *bifaci.AppListRequest:
		apps := c.registry.services.Apps
		if apps == nil {
			return nil, failf(bifaci.CodeActionUnsupported, "no app provider")
		}
		list, err := apps.List(ctx)
		if err != nil {
			return nil, failf(bifaci.CodeAppFailed, "list apps: %v", err)
		}
		return &bifaci.AppListResponse{Apps: list}, nil
	case *bifaci.AppOpenRequest:
		apps := c.registry.services.Apps
		if apps == nil {
			return nil, failf(bifaci.CodeActionUnsupported, "no app provider")
		}
		if err := apps.Open(ctx, body.Target, body.AppID); err != nil {
			return nil, failf(bifaci.CodeAppFailed, "open %s: %v", body.Target, err)
		}
		return nil, nil

	// toast.*
	case *bifaci.ToastShowRequest:
		n, err := c.notifier()
		if err != nil {
			return nil, err
		}
		n.ShowToast(body.Toast)
		return nil, nil
	case *bifaci.ToastUpdateRequest:
		n, err := c.notifier()
		if err != nil {
			return nil, err
		}
		n.UpdateToast(body.Toast)
		return nil, nil
	case *bifaci.ToastHideRequest:
		n, err := c.notifier()
		if err != nil {
			return nil, err
		}
		n.HideToast(body.ID)
		return nil, nil

	default:
		c.log.Warnf("unhandled request %s", env.Action)
		return nil, failf(bifaci.CodeActionInvalid, "%s is not an extension request", env.Action)
	}
}

func (c *Controller) notifier() (Notifier, error) {
	if n := c.registry.services.Notifier; n != nil {
		return n, nil
	}
	return nil, failf(bifaci.CodeActionUnsupported, "no notification provider")
}

// serveStorage runs a storage.* request in the extension's namespace.
func (c *Controller) serveStorage(ctx context.Context, req any) (any, error) {
	store := c.registry.services.Storage
	if store == nil {
		return nil, failf(bifaci.CodeActionUnsupported, "no storage provider")
	}
	ns := c.spec.ExtensionID

	switch body := req.(type) {
	case *bifaci.StorageGetRequest:
		value, found, err := store.Get(ctx, ns, body.Key)
		if err != nil {
			return nil, failf(bifaci.CodeStorageFailed, "get %s: %v", body.Key, err)
		}
		if !found {
			return &bifaci.StorageGetResponse{}, nil
		}
		return &bifaci.StorageGetResponse{Value: cbor.RawMessage(value), Found: true}, nil
	case *bifaci.StorageSetRequest:
		if body.Key == "" || len(body.Value) == 0 {
			return nil, failf(bifaci.CodeActionInvalid, "storage.set needs a key and a value")
		}
		if err := store.Set(ctx, ns, body.Key, body.Value); err != nil {
			return nil, failf(bifaci.CodeStorageFailed, "set %s: %v", body.Key, err)
		}
	case *bifaci.StorageRemoveRequest:
		if err := store.Remove(ctx, ns, body.Key); err != nil {
			return nil, failf(bifaci.CodeStorageFailed, "remove %s: %v", body.Key, err)
		}
	case *bifaci.StorageListRequest:
		values, err := store.List(ctx, ns)
		if err != nil {
			return nil, failf(bifaci.CodeStorageFailed, "list: %v", err)
		}
		out := make(map[string]cbor.RawMessage, len(values))
		for k, v := range values {
			out[k] = cbor.RawMessage(v)
		}
		return &bifaci.StorageListResponse{Values: out}, nil
	case *bifaci.StorageClearRequest:
		if err := store.Clear(ctx, ns); err != nil {
			return nil, failf(bifaci.CodeStorageFailed, "clear: %v", err)
		}
	}
	return nil, nil
}

// pushView serves ui.push-view: a placeholder view goes on top until the
// next render fills it.
func (c *Controller) pushView() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sink == nil {
		return failf(bifaci.CodeViewInvalid, "command has no view")
	}
	c.pushViewLocked(render.Placeholder())
	return nil
}

// popView serves ui.pop-view. The root view is never popped this way.
func (c *Controller) popView() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.views) <= 1 {
		return failf(bifaci.CodeViewInvalid, "cannot pop the root view")
	}
	c.popViewLocked()
	return nil
}

// setSearchText serves ui.set-search-text on the top view.
func (c *Controller) setSearchText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.topLocked()
	if err != nil {
		return failf(bifaci.CodeViewInvalid, "%v", err)
	}
	v.search = text
	if v.parsed == nil {
		return nil
	}
	shown := render.Touch(render.Filter(v.parsed, text))
	shown.Base().SearchText = &text
	v.shown = shown
	v.handle.Render(shown, render.PreserveSelection)
	return nil
}
