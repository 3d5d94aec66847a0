// Package monitor watches grace-period positions and harvests their reward
// before a rebalance can close them. The reward is forfeited if the position
// closes unclaimed, so the monitor is a race against the rebalance path, not
// a replacement for it.
package monitor

import (
	"context"
	"log"
	"time"

	"clmm-agent/internal/activity"
	"clmm-agent/internal/chain"
	"clmm-agent/internal/domain"
	"clmm-agent/internal/observability"
	"clmm-agent/internal/position"
)

const (
	// DefaultInterval between position list polls.
	DefaultInterval = 30 * time.Second
	// DefaultThreshold is how close to grace expiry the harvest fires.
	DefaultThreshold = 60 * time.Second
)

// PositionLister fetches the remote service's view of tracked positions.
type PositionLister interface {
	Positions(ctx context.Context) ([]domain.PositionStatus, error)
}

// Harvester submits a harvest-only collect through the execution machinery.
type Harvester interface {
	HarvestFees(ctx context.Context, tokenID uint64) (*chain.Receipt, error)
}

// Options configures a Monitor.
type Options struct {
	Service   PositionLister
	Harvester Harvester
	Tracker   *position.Tracker
	Activity  *activity.Stream
	Interval  time.Duration
	Threshold time.Duration
	Logger    *log.Logger
}

// Monitor polls the position list and triggers at most one harvest per
// position per process lifetime.
type Monitor struct {
	svc       PositionLister
	harvester Harvester
	tracker   *position.Tracker
	activity  *activity.Stream
	interval  time.Duration
	threshold time.Duration
	logger    *log.Logger
	now       func() time.Time

	// harvested flags are pruned once a position leaves grace status, so a
	// position re-entering grace later is eligible again.
	harvested map[uint64]struct{}
}

// New creates a Monitor.
func New(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Activity == nil {
		opts.Activity = activity.NewStream(opts.Logger, nil)
	}
	if opts.Tracker == nil {
		opts.Tracker = position.NewTracker()
	}
	return &Monitor{
		svc:       opts.Service,
		harvester: opts.Harvester,
		tracker:   opts.Tracker,
		activity:  opts.Activity,
		interval:  opts.Interval,
		threshold: opts.Threshold,
		logger:    opts.Logger,
		now:       time.Now,
		harvested: make(map[uint64]struct{}),
	}
}

// Run polls until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// poll runs one pass: prune flags for positions that left grace status, then
// harvest any position close enough to expiry.
func (m *Monitor) poll(ctx context.Context) {
	positions, err := m.svc.Positions(ctx)
	if err != nil {
		observability.RecordServiceError("positions")
		m.logger.Printf("[monitor] position poll failed: %v", err)
		return
	}

	inGrace := make(map[uint64]struct{})
	for _, p := range positions {
		if graceStatus(p.Status) {
			inGrace[p.TokenID] = struct{}{}
		}
	}
	for id := range m.harvested {
		if _, still := inGrace[id]; !still {
			delete(m.harvested, id)
		}
	}

	for _, p := range positions {
		if !graceStatus(p.Status) || p.GraceExpiresAt == 0 {
			continue
		}
		if _, done := m.harvested[p.TokenID]; done {
			continue
		}
		remaining := time.Duration(p.GraceExpiresAt-m.now().Unix()) * time.Second
		if remaining > m.threshold {
			continue
		}
		// A position mid-rebalance belongs to the execution path; do not
		// race it with a second transaction for the same token.
		if m.tracker.IsActive(p.TokenID) || m.tracker.IsClosed(p.TokenID) {
			continue
		}

		rec, err := m.harvester.HarvestFees(ctx, p.TokenID)
		if err != nil {
			// Not flagged; the next poll retries while grace lasts.
			m.logger.Printf("[monitor] harvest of %d failed: %v", p.TokenID, err)
			continue
		}
		m.harvested[p.TokenID] = struct{}{}
		observability.RecordGraceHarvest()
		m.activity.Info(domain.EventRewardHarvested, "", p.TokenID, "harvested rewards for position %d before grace expiry: %s", p.TokenID, rec.TxHash)
	}
}

func graceStatus(status string) bool {
	return status == domain.PositionStatusGrace || status == domain.PositionStatusRebalancePending
}
