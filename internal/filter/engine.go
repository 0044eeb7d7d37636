// Package filter implements the registry selection engine: the watchlist join,
// the recency cutoff, ledger exclusion and result ordering.
package filter

import (
	"sort"
	"time"

	"bankrupt_bot/internal/model"
)

// Criteria describes which registry records are eligible for one subscriber.
type Criteria struct {
	Watch  map[string]struct{}
	Cutoff time.Time
	Seen   map[model.LedgerKey]struct{}
}

// Stats counts records dropped by each stage of Select.
type Stats struct {
	Unwatched   int
	BadDate     int
	BeforeCut   int
	AlreadySeen int
	Duplicate   int
}

// WatchSet builds a membership set from identifiers.
func WatchSet(identifiers []string) map[string]struct{} {
	set := make(map[string]struct{}, len(identifiers))
	for _, id := range identifiers {
		set[id] = struct{}{}
	}
	return set
}

// Select returns the records that are watched, dated strictly after the
// cutoff and not yet seen, ordered by event date ascending. Records with
// unparsable dates are dropped. Repeated (identifier, date) pairs yield a
// single result carrying the first display name.
//
// A nil Watch set means every identifier is watched.
func Select(records []model.RegistryRecord, c Criteria) ([]model.MatchResult, Stats) {
	var st Stats
	var out []model.MatchResult
	picked := make(map[model.LedgerKey]struct{})

	for _, r := range records {
		if c.Watch != nil {
			if _, ok := c.Watch[r.Identifier]; !ok {
				st.Unwatched++
				continue
			}
		}
		d, err := model.ParseEventDate(r.EventDate)
		if err != nil {
			st.BadDate++
			continue
		}
		if !d.After(c.Cutoff) {
			st.BeforeCut++
			continue
		}
		key := model.LedgerKey{Identifier: r.Identifier, EventDate: d}
		if _, ok := c.Seen[key]; ok {
			st.AlreadySeen++
			continue
		}
		if _, ok := picked[key]; ok {
			st.Duplicate++
			continue
		}
		picked[key] = struct{}{}
		out = append(out, model.MatchResult{
			Identifier:  r.Identifier,
			DisplayName: r.DisplayName,
			EventDate:   d,
		})
	}

	SortMatches(out)
	return out, st
}

// SortMatches orders matches by event date ascending, then identifier, then name.
func SortMatches(ms []model.MatchResult) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].EventDate.Equal(ms[j].EventDate) {
			return ms[i].EventDate.Before(ms[j].EventDate)
		}
		if ms[i].Identifier != ms[j].Identifier {
			return ms[i].Identifier < ms[j].Identifier
		}
		return ms[i].DisplayName < ms[j].DisplayName
	})
}
