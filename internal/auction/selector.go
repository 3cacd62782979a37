// Package auction implements the candidate selector and the batched,
// time-bounded auction scheduler that together drive a ride from
// creation to an accepted or exhausted outcome.
package auction

import (
	"sort"

	"github.com/example/ride-dispatch/internal/drivers"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// Candidate is one shortlisted driver connection and its distance to
// pickup. Distance is geo.Sentinel in the fallback pass and 0 in the
// quick-test pass. ETASeconds is populated only when a Selector.ETA client is
// configured; it never drives the primary ordering, only a tie-break
// between candidates already equidistant by great-circle distance.
type Candidate struct {
	ConnID     string
	Distance   float64
	ETASeconds float64
}

// Selector is a pure query over a drivers.Registry; it performs no
// mutation and holds no ride state.
type Selector struct {
	Drivers       drivers.Registry
	StaleAfterMs  int64
	QuickTestMode bool

	// ETA, if set, breaks distance ties between candidates using a time
	// estimate instead of arbitrary connection-id ordering. Optional —
	// nil means distance-only ordering, exactly as without it.
	ETA eta.Client
}

// Shortlist runs a primary pass of eligible+fresh drivers ordered by
// distance, falling back to merely-available drivers with a sentinel
// distance when the primary pass is empty, or to every known driver
// when QuickTestMode is set.
func (s *Selector) Shortlist(pickup models.Coordinate, offeredConns map[string]struct{}, nowMs int64) []Candidate {
	all := s.Drivers.All()

	if s.QuickTestMode {
		out := make([]Candidate, 0, len(all))
		for _, p := range all {
			if _, already := offeredConns[p.ConnID]; already {
				continue
			}
			out = append(out, Candidate{ConnID: p.ConnID, Distance: 0})
		}
		sortByConnID(out)
		return out
	}

	primary := make([]Candidate, 0, len(all))
	for _, p := range all {
		if _, already := offeredConns[p.ConnID]; already {
			continue
		}
		if !p.Eligible(nowMs, s.StaleAfterMs) {
			continue
		}
		var loc *models.Coordinate
		if p.Last != nil {
			c := p.Last.Coordinate
			loc = &c
		}
		dist := geo.Distance(&pickup, loc)
		cand := Candidate{ConnID: p.ConnID, Distance: dist}
		if s.ETA != nil && loc != nil {
			if secs, err := s.ETA.EstimateSeconds(pickup, *loc); err == nil {
				cand.ETASeconds = secs
			}
		}
		primary = append(primary, cand)
	}
	if len(primary) > 0 {
		sort.SliceStable(primary, func(i, j int) bool {
			if primary[i].Distance != primary[j].Distance {
				return primary[i].Distance < primary[j].Distance
			}
			if primary[i].ETASeconds != primary[j].ETASeconds {
				return primary[i].ETASeconds < primary[j].ETASeconds
			}
			return primary[i].ConnID < primary[j].ConnID
		})
		return primary
	}

	fallback := make([]Candidate, 0, len(all))
	for _, p := range all {
		if _, already := offeredConns[p.ConnID]; already {
			continue
		}
		if !p.Available {
			continue
		}
		fallback = append(fallback, Candidate{ConnID: p.ConnID, Distance: geo.Sentinel})
	}
	sortByConnID(fallback)
	return fallback
}

// sortByConnID gives ties a deterministic order within a round: broken
// arbitrarily but deterministically, never by iteration order.
func sortByConnID(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool { return c[i].ConnID < c[j].ConnID })
}
