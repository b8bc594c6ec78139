package tracking

import (
	"time"

	"backend-locshare/internal/shared/geo"
)

const (
	DefaultMinInterval  = time.Second
	DefaultMinDistanceM = 5.0
)

// PathFilter decides whether a fix is significant enough to extend a path.
// The first point is always admitted; later points need both the minimum
// interval since the last admitted point and the minimum distance from it.
type PathFilter struct {
	MinInterval  time.Duration
	MinDistanceM float64
}

func (f PathFilter) Admit(path []geo.Point, lastAt time.Time, p geo.Point, at time.Time) bool {
	if len(path) == 0 {
		return true
	}
	if at.Sub(lastAt) < f.MinInterval {
		return false
	}
	return geo.DistanceM(path[len(path)-1], p) >= f.MinDistanceM
}
