// Package session hands out DRM device descriptors and tracks whether this
// process currently owns the seat.
package session

import (
	"fmt"
	"strings"

	"github.com/bnema/scanout/internal/logger"
)

// Session opens devices on behalf of the process. IsActive turns false while
// another session (a VT switch, a second user) owns the seat.
type Session interface {
	Open(path string) (int, error)
	Release(fd int) error
	IsActive() bool
	// OnActiveChanged registers fn. It may be called from another goroutine.
	OnActiveChanged(fn func(active bool))
	Close() error
}

// New returns the session backend named by kind: "direct", "logind" or
// "auto", which prefers logind and falls back to direct access.
func New(kind string) (Session, error) {
	switch strings.ToLower(kind) {
	case "direct":
		return NewDirect(), nil
	case "logind":
		return NewLogind()
	case "", "auto":
		s, err := NewLogind()
		if err == nil {
			return s, nil
		}
		logger.Warn("logind unavailable, opening devices directly", "err", err)
		return NewDirect(), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", kind)
	}
}
