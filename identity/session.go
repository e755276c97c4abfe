package identity

import (
	"strings"

	"github.com/google/uuid"
)

// NewSessionID returns an opaque token for sticky proxy sessions. Providers
// only accept alphanumerics in the session field.
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
