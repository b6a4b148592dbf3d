// Package ident holds the small identifier and URL helpers shared by hosts
// embedding the session adapter.
package ident

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateSessionID returns a short random token for ephemeral room naming.
// Collision-resistant enough for casual use, not guaranteed globally unique
// and not suitable for anything security sensitive.
func GenerateSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
