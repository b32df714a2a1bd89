// Package director implements the Director: the top-level lifecycle that
// contests leadership and runs the NodeManager only while holding it.
package director

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/fleetd/internal/ctlerr"
	"github.com/cuemby/fleetd/internal/fleet"
	"github.com/cuemby/fleetd/internal/obslog"
	"github.com/cuemby/fleetd/internal/obsmetrics"
	"github.com/cuemby/fleetd/internal/registry"
	"github.com/rs/zerolog"
)

// CoordinationClient is the subset of coordination.Client the Director
// depends on. Satisfied by *coordination.Client; narrowed to an interface
// so tests can supply a fake without dialing etcd.
type CoordinationClient interface {
	OnLeadershipLost(fn func())
	TryAcquireLeadership(ctx context.Context) error
	Resign(ctx context.Context) error
}

// NodeManager is the subset of nodemanager.NodeManager the Director
// depends on.
type NodeManager interface {
	Start()
	Stop()
	RegisterNode(host fleet.Host) error
}

// Config controls the Director's lifecycle.
type Config struct {
	SelfAddress   string
	DataDir       string // registry persistence directory; "" disables it
	CampaignRetry time.Duration
}

// Director owns one CoordinationClient contest and the NodeManager it
// guards. Construct with New, wire RegisterNode calls as needed, then call
// Run (blocking).
type Director struct {
	cfg    Config
	coord  CoordinationClient
	nm     NodeManager
	reg    *registry.Registry
	logger zerolog.Logger

	mu      sync.Mutex
	leading bool
	lostCh  chan struct{}
}

// New constructs a Director. coord must not have TryAcquireLeadership
// called on it yet; Director owns that call's lifecycle.
func New(cfg Config, coord CoordinationClient, nm NodeManager, reg *registry.Registry) *Director {
	if cfg.CampaignRetry == 0 {
		cfg.CampaignRetry = 2 * time.Second
	}
	d := &Director{
		cfg:    cfg,
		coord:  coord,
		nm:     nm,
		reg:    reg,
		logger: obslog.WithComponent("director"),
	}
	coord.OnLeadershipLost(d.handleLeadershipLost)
	return d
}

// initialize prepares the Director to begin its election loop: it restores
// the replicated registry from disk if a data directory is configured. It
// is the programmatic entry point named by the external interface
// contract; Run calls it automatically.
func (d *Director) initialize() error {
	if d.cfg.DataDir == "" {
		return nil
	}
	if err := d.reg.Restore(d.cfg.DataDir); err != nil {
		return fmt.Errorf("director: restore registry: %w", err)
	}
	return nil
}

// Run is the blocking entry point: initialize, then contest leadership in
// a loop until ctx is cancelled. Each iteration campaigns for leadership; a
// process that has never held leadership retries the campaign after a
// failed acquire attempt. But leadership is monotonic within a process
// lifetime: once this process has won and then lost leadership, Run exits
// instead of re-campaigning, per the "never resumes leadership within the
// same lifetime" invariant — a restart, not a retry, is required.
func (d *Director) Run(ctx context.Context) error {
	if err := d.initialize(); err != nil {
		return err
	}
	defer d.persist()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := d.nodeController(ctx); err != nil {
			if ctlerr.Is(err, ctlerr.KindLeadershipLost) {
				d.logger.Warn().Err(err).Msg("leadership lost after being held, exiting permanently")
				return err
			}
			d.logger.Warn().Err(err).Msg("failed to acquire leadership, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.cfg.CampaignRetry):
			}
		}
	}
}

// nodeController is the programmatic entry point named by the external
// interface contract: it campaigns for leadership, and on winning runs the
// NodeManager loop until leadership ends (session loss, or ctx
// cancellation, after which it resigns). It returns
// when this process stops being leader, not when the process should exit.
func (d *Director) nodeController(ctx context.Context) error {
	d.mu.Lock()
	d.lostCh = make(chan struct{})
	lostCh := d.lostCh
	d.mu.Unlock()

	if err := d.coord.TryAcquireLeadership(ctx); err != nil {
		return fmt.Errorf("director: acquire leadership: %w", err)
	}

	d.logger.Info().Str("self_address", d.cfg.SelfAddress).Msg("acquired leadership, starting node manager")
	d.mu.Lock()
	d.leading = true
	d.mu.Unlock()
	obsmetrics.CoordinationIsLeader.Set(1)

	d.nm.Start()

	select {
	case <-ctx.Done():
		d.stopLeading()
		_ = d.coord.Resign(context.Background())
		return nil
	case <-lostCh:
		d.stopLeading()
		return ctlerr.LeadershipLost("director.nodeController", fmt.Errorf("leadership lost"))
	}
}

func (d *Director) stopLeading() {
	d.mu.Lock()
	wasLeading := d.leading
	d.leading = false
	d.mu.Unlock()

	if wasLeading {
		obsmetrics.CoordinationIsLeader.Set(0)
		d.persist()
		d.nm.Stop()
		d.logger.Info().Msg("stopped node manager")
	}
}

// handleLeadershipLost is the CoordinationClient callback fired when this
// process's coordination session ends while it holds leadership.
func (d *Director) handleLeadershipLost() {
	d.mu.Lock()
	lostCh := d.lostCh
	d.mu.Unlock()
	if lostCh != nil {
		close(lostCh)
	}
}

// persist snapshots the registry to disk if a data directory is configured.
// Best-effort: a failure is logged, not propagated, since it must never
// block shutdown.
func (d *Director) persist() {
	if d.cfg.DataDir == "" {
		return
	}
	if err := d.reg.Snapshot(d.cfg.DataDir); err != nil {
		d.logger.Error().Err(err).Msg("failed to snapshot registry on shutdown")
	}
}

// IsLeading reports whether this Director currently holds leadership.
func (d *Director) IsLeading() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.leading
}

// RegisterNode exposes NodeManager.RegisterNode for CLI/bootstrap callers
// that seed hosts before the election loop starts producing its own.
func (d *Director) RegisterNode(host fleet.Host) error {
	return d.nm.RegisterNode(host)
}
