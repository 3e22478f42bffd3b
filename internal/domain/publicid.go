package domain

import (
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

var publicIDEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewPublicID returns a short, URL safe identifier for sessions, messages
// and attachments
func NewPublicID() string {
	id := uuid.New()
	return strings.ToLower(publicIDEncoding.EncodeToString(id[:10]))
}
