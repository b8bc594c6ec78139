package tracking

import (
	"testing"
	"time"

	"backend-locshare/internal/shared/geo"
)

var origin = geo.Point{Lat: 4.6282, Lng: -74.0645}

func defaultFilter() PathFilter {
	return PathFilter{MinInterval: DefaultMinInterval, MinDistanceM: DefaultMinDistanceM}
}

// replay runs fixes through the filter the way the tracker does and returns
// the indexes of admitted fixes.
func replay(f PathFilter, points []geo.Point, offsets []time.Duration) []int {
	base := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	var (
		path     []geo.Point
		lastAt   time.Time
		accepted []int
	)
	for i, p := range points {
		at := base.Add(offsets[i])
		if f.Admit(path, lastAt, p, at) {
			path = append(path, p)
			lastAt = at
			accepted = append(accepted, i)
		}
	}
	return accepted
}

func TestAdmitFirstPointAlways(t *testing.T) {
	if !defaultFilter().Admit(nil, time.Time{}, origin, time.Now()) {
		t.Fatalf("expected first point admitted")
	}
}

func TestAdmitExample(t *testing.T) {
	p0 := origin
	p1 := geo.Offset(p0, 10, 0)
	p2 := geo.Offset(p0, 3, 0)
	p3 := geo.Offset(p0, 8, 0)

	got := replay(defaultFilter(),
		[]geo.Point{p0, p1, p2, p3},
		[]time.Duration{0, 500 * time.Millisecond, 1200 * time.Millisecond, 2000 * time.Millisecond})

	if len(got) != 2 || got[0] != 0 || got[1] != 3 {
		t.Fatalf("expected [P0 P3], got indexes %v", got)
	}
}

func TestAdmitRejectsJitterWithinRadius(t *testing.T) {
	points := []geo.Point{origin}
	offsets := []time.Duration{0}
	for i := 1; i <= 20; i++ {
		points = append(points, geo.Offset(origin, float64(i%5), float64(i%3)))
		offsets = append(offsets, time.Duration(i)*3*time.Second)
	}

	got := replay(defaultFilter(), points, offsets)
	if len(got) != 1 {
		t.Fatalf("expected only the first point, got %v", got)
	}
}

func TestAdmitBoundaries(t *testing.T) {
	f := defaultFilter()
	base := time.Now()
	path := []geo.Point{origin}

	if f.Admit(path, base, geo.Offset(origin, 50, 0), base.Add(999*time.Millisecond)) {
		t.Fatalf("expected rejection below interval")
	}
	if !f.Admit(path, base, geo.Offset(origin, 50, 0), base.Add(time.Second)) {
		t.Fatalf("expected admission at exactly the interval")
	}
	if f.Admit(path, base, geo.Offset(origin, 4.9, 0), base.Add(time.Minute)) {
		t.Fatalf("expected rejection below distance")
	}
	if !f.Admit(path, base, geo.Offset(origin, 5.01, 0), base.Add(time.Minute)) {
		t.Fatalf("expected admission past distance")
	}
}

func TestAcceptedPointsRespectThresholds(t *testing.T) {
	f := defaultFilter()
	var points []geo.Point
	var offsets []time.Duration
	p := origin
	for i := 0; i < 200; i++ {
		p = geo.Offset(p, float64(i%7), float64(i%4))
		points = append(points, p)
		offsets = append(offsets, time.Duration(i)*400*time.Millisecond)
	}

	got := replay(f, points, offsets)
	for k := 1; k < len(got); k++ {
		prev, cur := got[k-1], got[k]
		if offsets[cur]-offsets[prev] < f.MinInterval {
			t.Fatalf("points %d and %d closer than interval", prev, cur)
		}
		if geo.DistanceM(points[prev], points[cur]) < f.MinDistanceM {
			t.Fatalf("points %d and %d closer than distance", prev, cur)
		}
	}
}
