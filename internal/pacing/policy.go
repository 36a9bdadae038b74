package pacing

import (
	"os"
	"time"
)

// Policy is a minimum inter-probe interval preset.
type Policy struct {
	Name  string
	Floor time.Duration
}

var (
	// Restricted keeps unprivileged users from flooding a destination.
	Restricted = Policy{Name: "restricted", Floor: 200 * time.Millisecond}
	// Unrestricted allows any interval, including zero.
	Unrestricted = Policy{Name: "unrestricted", Floor: 0}
)

// DefaultPolicy returns the build's preset, upgraded to Unrestricted when
// the process runs with effective uid 0.
func DefaultPolicy() Policy {
	if buildUnrestricted || os.Geteuid() == 0 {
		return Unrestricted
	}
	return Restricted
}
