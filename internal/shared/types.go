package shared

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns prefix followed by a random UUID with the dashes removed.
func NewID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// StatusCode is the numeric result carried in device and app acknowledgements.
type StatusCode int

const (
	StatusOK    StatusCode = 200
	StatusError StatusCode = 500
)

func (s StatusCode) OK() bool {
	return s == StatusOK
}
