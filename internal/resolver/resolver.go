// Package resolver implements C5: fuzzy matching of free-text caller
// speech onto location, practitioner, and service IDs, with a confidence
// tier that tells the voice agent whether to act, confirm, or enumerate.
package resolver

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Tier classifies a match score into the action the voice agent should
// take.
type Tier string

const (
	TierHigh   Tier = "high"   // act immediately
	TierMedium Tier = "medium" // confirm once with the top candidate
	TierLow    Tier = "low"    // enumerate options
)

const (
	highThreshold   = 0.8
	mediumThreshold = 0.5
)

// TierFor classifies score per the high/medium/low thresholds.
func TierFor(score float64) Tier {
	switch {
	case score >= highThreshold:
		return TierHigh
	case score >= mediumThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

// db is the narrow pgx interface this package needs; *pgxpool.Pool and a
// pgxmock pool both satisfy it.
type db interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Resolver is the shared trigram-matching façade for location, practitioner,
// and service resolution. All three share one db handle since they query
// the same clinic-scoped tables.
type Resolver struct {
	db db
}

// New creates a Resolver backed by a live connection pool.
func New(pool *pgxpool.Pool) *Resolver {
	return &Resolver{db: pool}
}

// NewWithDB allows tests to inject a pgxmock pool.
func NewWithDB(d db) *Resolver {
	return &Resolver{db: d}
}
