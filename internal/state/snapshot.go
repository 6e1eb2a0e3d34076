package state

import (
	"errors"
	"time"
)

// ErrUnavailable is returned by a Source that cannot currently answer a query.
var ErrUnavailable = errors.New("state: host value unavailable")

// Snapshot is one sampling of host state. It is never mutated after it is
// published by a Cache.
type Snapshot struct {
	LoggedIn   bool
	InCombat   bool
	CurrentCap uint // raw host value; 0 when unknown
	RefreshHz  uint // 0 when unknown
}

// Observation is one status report parsed from the host's log.
type Observation struct {
	At         time.Time
	LoggedIn   bool
	InCombat   bool
	CurrentCap uint
	RefreshHz  uint
}

// Source is the read side of the host game-state provider plus its per-tick
// notification. Subscribe returns a function that removes the subscription.
type Source interface {
	LoggedIn() (bool, error)
	InCombat() (bool, error)
	Cap() (uint, error)
	RefreshRateHz() (uint, error)
	Subscribe(fn func()) (unsubscribe func())
}
