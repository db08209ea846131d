// Package guard classifies storage usage and blocks writes at the hard limit.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrStorageHardLimit is returned when usage is at or above the hard limit.
var ErrStorageHardLimit = errors.New("STORAGE_HARD_LIMIT_REACHED")

const (
	SoftLimitBytes int64 = 800 << 20
	HardLimitBytes int64 = 1 << 30
)

// Status is the usage classification.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusBlocked Status = "blocked"
)

// UsageEstimator reports origin-level byte usage and quota (0 = unknown).
type UsageEstimator interface {
	UsageEstimate(ctx context.Context) (used, quota int64, err error)
}

// LocalCounter reports bytes held outside the main store.
type LocalCounter interface {
	Bytes(ctx context.Context) (int64, error)
}

// Snapshot is a point-in-time usage reading. It is recomputed on every call.
type Snapshot struct {
	OriginUsed     int64  `json:"originUsed"`
	OriginQuota    int64  `json:"originQuota"`
	LocalUsed      int64  `json:"localUsed"`
	SoftLimitBytes int64  `json:"softLimitBytes"`
	HardLimitBytes int64  `json:"hardLimitBytes"`
	Status         Status `json:"status"`
}

// Guard computes snapshots from its usage sources.
type Guard struct {
	origin UsageEstimator
	local  LocalCounter
	soft   int64
	hard   int64
	quota  int64
	logger *slog.Logger
}

// Option customizes a Guard.
type Option func(*Guard)

// WithLimits replaces the default thresholds. soft must be below hard.
func WithLimits(soft, hard int64) Option {
	return func(g *Guard) {
		g.soft, g.hard = soft, hard
	}
}

// WithQuota sets the quota reported when the estimator does not know it.
func WithQuota(quota int64) Option {
	return func(g *Guard) { g.quota = quota }
}

// New creates a guard. local may be nil.
func New(origin UsageEstimator, local LocalCounter, logger *slog.Logger, opts ...Option) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{
		origin: origin,
		local:  local,
		soft:   SoftLimitBytes,
		hard:   HardLimitBytes,
		logger: logger,
	}
	for _, o := range opts {
		o(g)
	}
	if g.soft >= g.hard {
		g.soft = g.hard - 1
	}
	return g
}

// Classify maps origin usage to a status.
func Classify(used, soft, hard int64) Status {
	switch {
	case used >= hard:
		return StatusBlocked
	case used >= soft:
		return StatusWarning
	}
	return StatusOK
}

// Snapshot reads both usage sources and classifies the origin usage.
func (g *Guard) Snapshot(ctx context.Context) (Snapshot, error) {
	used, quota, err := g.origin.UsageEstimate(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("estimate storage usage: %w", err)
	}
	if quota == 0 {
		quota = g.quota
	}
	var local int64
	if g.local != nil {
		if local, err = g.local.Bytes(ctx); err != nil {
			return Snapshot{}, fmt.Errorf("count local usage: %w", err)
		}
	}
	return Snapshot{
		OriginUsed:     used,
		OriginQuota:    quota,
		LocalUsed:      local,
		SoftLimitBytes: g.soft,
		HardLimitBytes: g.hard,
		Status:         Classify(used, g.soft, g.hard),
	}, nil
}

// EnforceWriteGuard returns the current status. At the hard limit it also
// returns ErrStorageHardLimit; in the warning band the write proceeds with a
// logged warning.
func (g *Guard) EnforceWriteGuard(ctx context.Context) (Status, error) {
	snap, err := g.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	switch snap.Status {
	case StatusBlocked:
		g.logger.Error("storage hard limit reached",
			"origin_used", snap.OriginUsed,
			"hard_limit", snap.HardLimitBytes,
		)
		return snap.Status, ErrStorageHardLimit
	case StatusWarning:
		g.logger.Warn("storage usage above soft limit",
			"origin_used", snap.OriginUsed,
			"soft_limit", snap.SoftLimitBytes,
			"hard_limit", snap.HardLimitBytes,
		)
	}
	return snap.Status, nil
}
