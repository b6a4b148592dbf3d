package ident

import (
	"github.com/atotto/clipboard"
	"github.com/rs/zerolog/log"
)

// writeClipboard is swapped out in tests to simulate missing platforms.
var writeClipboard = clipboard.WriteAll

// CopyToClipboard copies text to the system clipboard. It returns false when
// the platform has no clipboard or the operation is denied; it never panics
// and never returns an error to the caller.
func CopyToClipboard(text string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Str("module", "ident").Any("panic", r).Msg("clipboard write panicked")
			ok = false
		}
	}()
	if err := writeClipboard(text); err != nil {
		log.Debug().Err(err).Str("module", "ident").Msg("clipboard unavailable")
		return false
	}
	return true
}
