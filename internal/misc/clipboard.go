package misc

import (
	"errors"

	"github.com/atotto/clipboard"
)

// ErrClipboardUnavailable is returned on systems without a clipboard utility.
var ErrClipboardUnavailable = errors.New("clipboard unavailable")

// CopyToClipboard places text on the system clipboard.
func CopyToClipboard(text string) error {
	if clipboard.Unsupported {
		return ErrClipboardUnavailable
	}
	return clipboard.WriteAll(text)
}
