package peer

import "github.com/dkeye/LiveStudio/internal/domain"

// Action is what to do after a link failed or timed out.
type Action int

const (
	// Drop removes the link and reconciles membership.
	Drop Action = iota
	// Reannounce asks the broadcaster for a fresh offer.
	Reannounce
	// Recreate builds a new link and offers again.
	Recreate
)

func (a Action) String() string {
	switch a {
	case Reannounce:
		return "reannounce"
	case Recreate:
		return "recreate"
	}
	return "drop"
}

type Failure struct {
	Remote   domain.UserID
	Topology Topology
	// Primary is set for the local viewer's own link to the broadcaster.
	Primary bool
	// Relevant reports whether the remote still belongs to the session
	// (seated, for mesh links).
	Relevant bool
	// Offerer reports whether the local side is the designated offerer.
	Offerer  bool
	Attempts int
}

type Policy interface {
	OnFailure(f Failure) Action
}

// RetryPolicy drops broadcaster-side viewer links, and retries the primary
// path and mesh links a bounded number of times.
type RetryPolicy struct {
	MaxAttempts int
}

func (p RetryPolicy) OnFailure(f Failure) Action {
	if f.Attempts >= p.MaxAttempts {
		return Drop
	}
	switch {
	case f.Topology == Star && f.Primary:
		return Reannounce
	case f.Topology == Mesh && f.Relevant && f.Offerer:
		return Recreate
	}
	return Drop
}
