package availsearch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/clinicvoice/scheduler/internal/availcache"
	"github.com/clinicvoice/scheduler/internal/fanout"
	"github.com/clinicvoice/scheduler/internal/pms"
	"github.com/clinicvoice/scheduler/internal/session"
)

func keyFor(clinicID string, t Triple, date time.Time) availcache.Key {
	return availcache.Key{
		ClinicID:       clinicID,
		PractitionerID: t.PractitionerID,
		LocationID:     t.LocationID,
		Date:           truncateToDay(date),
	}
}

func isCacheMiss(err error) bool {
	return err == availcache.ErrMiss
}

// candidateResult is one fan-out task's output: every slot found for one
// triple across one date chunk.
type candidateResult struct {
	triple Triple
	slots  []pms.Slot
}

// FindNextAvailable resolves criteria's cross product, prunes candidate
// dates with C10, fans the remaining work out through C6, and returns the
// earliest two bookable slots after C9/suppression filtering.
func (s *Searcher) FindNextAvailable(ctx context.Context, client *pms.Client, criteria Criteria, horizonDays int, sessionID string) (Result, error) {
	triples, err := s.validateTriples(ctx, criteria)
	if err != nil {
		return Result{}, err
	}

	fp := Fingerprint(criteria)
	sessionState := session.State{}
	if s.session != nil {
		if _, err := s.session.ResetIfFingerprintChanged(ctx, sessionID, fp); err != nil {
			return Result{}, err
		}
		sessionState, err = s.session.Get(ctx, sessionID)
		if err != nil {
			return Result{}, err
		}
	}

	candidateDates := dateRange(s.now(), horizonDays)

	var tasks []fanout.Task
	for _, t := range triples {
		pruned, err := s.oracle.ScheduledDays(ctx, t.PractitionerID, t.LocationID, candidateDates)
		if err != nil {
			return Result{}, err
		}
		for _, c := range chunk(pruned, chunkDays) {
			t, c := t, c
			tasks = append(tasks, fanout.Task{
				Timeout: chunkTimeout(c, s.now()),
				Run: func(ctx context.Context) (any, error) {
					slots, err := s.checkChunk(ctx, client, criteria.ClinicID, t, c)
					if err != nil {
						return nil, err
					}
					return candidateResult{triple: t, slots: slots}, nil
				},
			})
		}
	}

	if len(tasks) == 0 {
		return Result{Message: noAvailabilityMessage(horizonDays)}, nil
	}

	results := s.engine.Run(ctx, tasks, batchDeadline(len(tasks)))

	type offered struct {
		OfferedSlot
		key string
	}
	var all []offered
	for _, r := range results {
		if r.Status != fanout.StatusOK {
			continue
		}
		cr, ok := r.Data.(candidateResult)
		if !ok {
			continue
		}
		for _, slot := range cr.slots {
			if sessionState.IsRejected(slot.Start) {
				continue
			}
			all = append(all, offered{
				OfferedSlot: OfferedSlot{
					PractitionerID:    cr.triple.PractitionerID,
					LocationID:        cr.triple.LocationID,
					ServiceID:         cr.triple.ServiceID,
					StartUTC:          slot.Start,
					IsPrimaryLocation: cr.triple.IsPrimaryLocation,
				},
				key: slot.Start.UTC().Format(time.RFC3339) + "|" + cr.triple.PractitionerID + "|" + cr.triple.LocationID,
			})
		}
	}

	seen := make(map[string]bool, len(all))
	deduped := make([]offered, 0, len(all))
	for _, o := range all {
		if seen[o.key] {
			continue
		}
		seen[o.key] = true
		deduped = append(deduped, o)
	}

	sort.Slice(deduped, func(i, j int) bool {
		if !deduped[i].StartUTC.Equal(deduped[j].StartUTC) {
			return deduped[i].StartUTC.Before(deduped[j].StartUTC)
		}
		return lessTiebreak(deduped[i].OfferedSlot, deduped[j].OfferedSlot, criteria.PreferredLocationID)
	})

	if len(deduped) == 0 {
		return Result{Message: noAvailabilityMessage(horizonDays)}, nil
	}

	n := 2
	if len(deduped) < n {
		n = len(deduped)
	}
	slots := make([]OfferedSlot, 0, n)
	for i := 0; i < n; i++ {
		slots = append(slots, deduped[i].OfferedSlot)
	}

	// Offering a slot counts as declining it the next time this session asks
	// for this same criteria: a caller who calls find_next_available again
	// with an unchanged fingerprint is, by construction, rejecting whatever
	// was offered last turn. Recording it here (rather than waiting for an
	// explicit decline from the voice layer) is what makes IsRejected above
	// actually suppress these two instants on the following call.
	if s.session != nil {
		instants := make([]time.Time, len(slots))
		for i, slot := range slots {
			instants[i] = slot.StartUTC
		}
		if err := s.session.AppendRejectedSlots(ctx, sessionID, instants); err != nil {
			return Result{}, err
		}
	}

	return Result{Slots: slots, Message: foundMessage(slots)}, nil
}

// lessTiebreak breaks a tie between two slots offered at the same instant:
// preferred location first, then the clinic's primary location, then the
// lexicographically lowest practitioner ID for determinism.
func lessTiebreak(a, b OfferedSlot, preferredLocationID string) bool {
	if preferredLocationID != "" && (a.LocationID == preferredLocationID) != (b.LocationID == preferredLocationID) {
		return a.LocationID == preferredLocationID
	}
	if a.IsPrimaryLocation != b.IsPrimaryLocation {
		return a.IsPrimaryLocation
	}
	return a.PractitionerID < b.PractitionerID
}

// checkChunk checks every date in c for one triple, batching the PMS call
// across cache misses into a single ranged request.
func (s *Searcher) checkChunk(ctx context.Context, client *pms.Client, clinicID string, t Triple, c []time.Time) ([]pms.Slot, error) {
	var hits []pms.Slot
	var misses []time.Time
	for _, date := range c {
		key := keyFor(clinicID, t, date)
		cached, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			hits = append(hits, cached...)
		case isCacheMiss(err):
			misses = append(misses, date)
		default:
			return nil, err
		}
	}

	if len(misses) > 0 {
		from, to := misses[0], misses[0]
		for _, d := range misses[1:] {
			if d.Before(from) {
				from = d
			}
			if d.After(to) {
				to = d
			}
		}
		fetched, err := client.GetAvailableTimes(ctx, t.LocationID, t.PractitionerID, t.ServiceID, from, to)
		if err != nil {
			return nil, err
		}
		byDay := make(map[time.Time][]pms.Slot, len(misses))
		for _, slot := range fetched {
			d := truncateToDay(slot.Start)
			byDay[d] = append(byDay[d], slot)
		}
		for _, d := range misses {
			if err := s.cache.Put(ctx, keyFor(clinicID, t, d), byDay[d], 0); err != nil {
				return nil, err
			}
			hits = append(hits, byDay[d]...)
		}
	}

	suppressed, err := s.suppressedTimes(ctx, t, c)
	if err != nil {
		return nil, err
	}
	filtered := hits[:0]
	for _, slot := range hits {
		if suppressed[truncateToDay(slot.Start)][timeOfDay(slot.Start)] {
			continue
		}
		filtered = append(filtered, slot)
	}
	return filtered, nil
}

func chunkTimeout(c []time.Time, now time.Time) time.Duration {
	if len(c) == 0 {
		return fanout.MidTimeout
	}
	daysAhead := int(c[0].Sub(truncateToDay(now)).Hours() / 24)
	return fanout.ProgressiveTimeout(daysAhead) * time.Duration(len(c))
}

// batchDeadline scales with the number of tasks so a long horizon doesn't
// starve the batch-wide timeout the engine enforces.
func batchDeadline(numTasks int) time.Duration {
	d := time.Duration(numTasks) * 5 * time.Second
	if d < 30*time.Second {
		return 30 * time.Second
	}
	if d > 2*time.Minute {
		return 2 * time.Minute
	}
	return d
}

func noAvailabilityMessage(horizonDays int) string {
	return fmt.Sprintf("I couldn't find any availability in the next %d days.", horizonDays)
}

func foundMessage(slots []OfferedSlot) string {
	if len(slots) == 1 {
		return "I found one available time."
	}
	return "I found a couple of available times."
}
