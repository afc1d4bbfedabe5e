package bifaci

import "fmt"

// Stable error codes carried in ErrorPayload.Code.
const (
	CodeActionInvalid     = "action.invalid"     // Unknown or misplaced action
	CodeActionUnsupported = "action.unsupported" // Known action with no provider on this host
	CodeSessionNotFound   = "session.not_found"  // Session id is not registered
	CodeViewInvalid       = "ui.invalid_view"    // View operation not possible on the current stack
	CodeStorageFailed     = "storage.failed"     // Storage backend error
	CodeClipboardFailed   = "clipboard.failed"   // Clipboard provider error
	CodeAppFailed         = "app.failed"         // App listing or launch error
	CodeToastFailed       = "toast.failed"       // Toast provider error
	CodeInternal          = "internal"           // Anything else
)

// BusError represents transport and correlation errors.
type BusError struct {
	Type    BusErrorType
	Message string
}

// BusErrorType represents the type of bus error
type BusErrorType int

const (
	BusErrorTypeClosed BusErrorType = iota
	BusErrorTypeTimeout
	BusErrorTypeFrameTooLarge
	BusErrorTypeCodec
	BusErrorTypeIo
	BusErrorTypeUnknownAction
)

func (e *BusError) Error() string {
	switch e.Type {
	case BusErrorTypeClosed:
		if e.Message != "" {
			return fmt.Sprintf("transport closed: %s", e.Message)
		}
		return "transport closed"
	case BusErrorTypeTimeout:
		if e.Message != "" {
			return fmt.Sprintf("request timed out: %s", e.Message)
		}
		return "request timed out"
	case BusErrorTypeFrameTooLarge:
		return fmt.Sprintf("frame too large: %s", e.Message)
	case BusErrorTypeCodec:
		return fmt.Sprintf("codec error: %s", e.Message)
	case BusErrorTypeIo:
		return fmt.Sprintf("I/O error: %s", e.Message)
	case BusErrorTypeUnknownAction:
		return fmt.Sprintf("unknown action: %s", e.Message)
	default:
		return fmt.Sprintf("Unknown error: %s", e.Message)
	}
}

// Is matches on Type only, so errors.Is(err, ErrTransportClosed) holds for
// every closed error regardless of its message.
func (e *BusError) Is(target error) bool {
	t, ok := target.(*BusError)
	return ok && t.Type == e.Type
}

var (
	ErrTransportClosed = &BusError{Type: BusErrorTypeClosed}
	ErrRequestTimeout  = &BusError{Type: BusErrorTypeTimeout}
	ErrFrameTooLarge   = &BusError{Type: BusErrorTypeFrameTooLarge}
	ErrUnknownAction   = &BusError{Type: BusErrorTypeUnknownAction}
)

// RemoteError is an application-level failure returned by the peer through
// the normal response channel.
type RemoteError struct {
	Action  string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: [%s] %s", e.Action, e.Code, e.Message)
}
