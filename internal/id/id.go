package id

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns a random identifier for jobs and sessions.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Token returns a path-safe uniqueness token: unix millis plus a random suffix.
func Token(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + New()[:8]
}
