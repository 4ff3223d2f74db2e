package cascade

import (
	"fmt"
	"strings"
)

type Reason string

const (
	ReasonDepth Reason = "depth_exceeded"
	ReasonCycle Reason = "cycle_detected"
)

// CascadeError reports a truncated expansion. It is recoverable: it comes back
// together with the partial Result, which is still valid to apply.
type CascadeError struct {
	Reason Reason
	Root   string
	// Event is the child that was refused.
	Event string
	Depth int
	Path  []string
}

func (e *CascadeError) Error() string {
	switch e.Reason {
	case ReasonDepth:
		return fmt.Sprintf("cascade %s: %s would exceed max depth %d", e.Root, e.Event, e.Depth)
	case ReasonCycle:
		return fmt.Sprintf("cascade %s: cycle %s", e.Root, strings.Join(e.Path, " -> "))
	}
	return fmt.Sprintf("cascade %s: %s", e.Root, e.Reason)
}
