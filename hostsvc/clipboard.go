// Package hostsvc holds ready-made host providers for session.Services.
package hostsvc

import (
	"context"
	"errors"

	"github.com/atotto/clipboard"
)

// ErrClipboardUnsupported is returned when no system clipboard tool is
// available.
var ErrClipboardUnsupported = errors.New("no system clipboard available")

// SystemClipboard copies to the OS clipboard. Only plain text is supported:
// HTML is used as a fallback when no text is given, and the concealed hint
// is ignored.
type SystemClipboard struct {
	write func(string) error
}

// NewSystemClipboard returns a clipboard provider backed by the OS.
func NewSystemClipboard() *SystemClipboard {
	return &SystemClipboard{write: clipboard.WriteAll}
}

// Copy implements session.Clipboard.
func (c *SystemClipboard) Copy(ctx context.Context, text, html string, _ bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if clipboard.Unsupported {
		return ErrClipboardUnsupported
	}
	if text == "" {
		text = html
	}
	if text == "" {
		return errors.New("nothing to copy")
	}
	return c.write(text)
}
