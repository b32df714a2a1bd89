// Package nodemanager implements the NodeManager: the control plane's main
// monitor-and-dispatch loop, run only while its Director holds leadership.
package nodemanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/fleetd/internal/ctlerr"
	"github.com/cuemby/fleetd/internal/fleet"
	"github.com/cuemby/fleetd/internal/intentqueue"
	"github.com/cuemby/fleetd/internal/obslog"
	"github.com/cuemby/fleetd/internal/obsmetrics"
	"github.com/cuemby/fleetd/internal/policy"
	"github.com/cuemby/fleetd/internal/provider"
	"github.com/cuemby/fleetd/internal/registry"
	"github.com/cuemby/fleetd/internal/telemetry"
	"github.com/rs/zerolog"
)

// DefaultMonitorInterval is the default monitoring period ("monitor.interval").
const DefaultMonitorInterval = 10 * time.Second

// MaxProviderRetries bounds how many times a transiently-failed dispatch is
// re-pushed to the front of its queue before being dropped.
const MaxProviderRetries = 3

// WorkloadShutdowner is the out-of-scope collaborator asked to gracefully
// stop the workload running on a host before it is replaced. Best-effort:
// its failure does not abort the scale-up.
type WorkloadShutdowner interface {
	Shutdown(ctx context.Context, address, workloadName string) error
}

// NoopShutdowner is used when no graceful-shutdown collaborator is wired.
type NoopShutdowner struct{}

func (NoopShutdowner) Shutdown(context.Context, string, string) error { return nil }

// Config configures a NodeManager.
type Config struct {
	MonitorInterval time.Duration
	ProviderTimeout time.Duration
	InstanceSpec    func(fleet.Provider) provider.Spec
}

// NodeManager runs the monitor loop described in the controller's
// component contract: fetch telemetry, classify with ScalingPolicy,
// enqueue intents, then dispatch.
type NodeManager struct {
	cfg Config

	registry   *registry.Registry
	telemetry  telemetry.Client
	policy     *policy.Policy
	providers  provider.Registry
	shutdowner WorkloadShutdowner

	queueUp   *intentqueue.Queue
	queueDown *intentqueue.Queue

	logger zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a NodeManager. shutdowner may be nil, in which case
// graceful shutdown is a no-op.
func New(
	cfg Config,
	reg *registry.Registry,
	telemetryClient telemetry.Client,
	pol *policy.Policy,
	providers provider.Registry,
	shutdowner WorkloadShutdowner,
) *NodeManager {
	if cfg.MonitorInterval == 0 {
		cfg.MonitorInterval = DefaultMonitorInterval
	}
	if cfg.ProviderTimeout == 0 {
		cfg.ProviderTimeout = provider.DefaultTimeout
	}
	if shutdowner == nil {
		shutdowner = NoopShutdowner{}
	}
	return &NodeManager{
		cfg:        cfg,
		registry:   reg,
		telemetry:  telemetryClient,
		policy:     pol,
		providers:  providers,
		shutdowner: shutdowner,
		queueUp:    intentqueue.New(),
		queueDown:  intentqueue.New(),
		logger:     obslog.WithComponent("nodemanager"),
	}
}

// Start begins the monitor loop in a background goroutine. It must only be
// called while the caller holds leadership.
func (nm *NodeManager) Start() {
	nm.mu.Lock()
	nm.stopCh = make(chan struct{})
	nm.doneCh = make(chan struct{})
	stopCh := nm.stopCh
	doneCh := nm.doneCh
	nm.mu.Unlock()

	go nm.run(stopCh, doneCh)
}

// Stop cancels the monitor loop and waits for in-flight work to unwind.
// An in-flight dispatch runs to completion, including its registry update;
// the drain loop stops before dispatching the next intent.
func (nm *NodeManager) Stop() {
	nm.mu.Lock()
	stopCh := nm.stopCh
	doneCh := nm.doneCh
	nm.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	nm.queueUp.Close()
	nm.queueDown.Close()
	<-doneCh
}

func (nm *NodeManager) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(nm.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := nm.monitorPass(stopCh); err != nil {
				if ctlerr.Is(err, ctlerr.KindLeadershipLost) {
					nm.logger.Warn().Msg("leadership lost mid-pass, unwinding monitor loop")
					return
				}
				nm.logger.Error().Err(err).Msg("monitor pass failed")
			}
		case <-stopCh:
			return
		}
	}
}

// monitorPass runs one full iteration: classify every registered host, then
// drain queueUp fully followed by queueDown fully. Classification reads a
// single point-in-time snapshot of the registry (via ForEach), so a host
// added mid-pass is either entirely classified in this pass or not at all.
func (nm *NodeManager) monitorPass(stopCh chan struct{}) error {
	timer := obsmetrics.NewTimer()
	defer func() {
		timer.ObserveDuration(obsmetrics.MonitorPassDuration)
		obsmetrics.MonitorPassesTotal.Inc()
	}()

	now := uint64(time.Now().Unix())
	ctx := context.Background()

	var classifyErr error
	var wg sync.WaitGroup

	nm.registry.ForEach(func(address string, entry registry.Entry) {
		wg.Add(1)
		go func() {
			defer wg.Done()

			snap := telemetry.FetchSnapshot(ctx, nm.telemetry, address)
			decision, reason := nm.policy.Evaluate(snap)

			host := fleet.Host{
				Address:            address,
				WorkloadName:       entry.WorkloadName,
				Provider:           entry.Provider,
				ProviderInstanceID: entry.ProviderInstanceID,
			}

			switch decision {
			case policy.Up:
				obsmetrics.ScalingIntentsTotal.WithLabelValues("up").Inc()
				nm.queueUp.PushBack(fleet.ScalingIntent{
					Kind: fleet.IntentUp, Host: host, Generation: now, Reason: reason,
				})
			case policy.Down:
				obsmetrics.ScalingIntentsTotal.WithLabelValues("down").Inc()
				nm.queueDown.PushBack(fleet.ScalingIntent{
					Kind: fleet.IntentDown, Host: host, Generation: now, Reason: reason,
				})
			case policy.None:
				// no decision
			}
		}()
	})
	wg.Wait()

	if err := nm.drain(nm.queueUp, stopCh); err != nil {
		classifyErr = err
	}
	if classifyErr == nil {
		if err := nm.drain(nm.queueDown, stopCh); err != nil {
			classifyErr = err
		}
	}
	return classifyErr
}

// drain fully empties q via TryPop, dispatching each intent in turn, until
// the queue reports empty or stopCh fires (leadership lost).
func (nm *NodeManager) drain(q *intentqueue.Queue, stopCh chan struct{}) error {
	for {
		select {
		case <-stopCh:
			return ctlerr.LeadershipLost("nodemanager.drain", fmt.Errorf("leadership lost mid-drain"))
		default:
		}

		intent, ok := q.TryPop()
		if !ok {
			return nil
		}

		if err := nm.dispatch(intent); err != nil {
			if ctlerr.Is(err, ctlerr.KindFatal) {
				return err
			}
			// Transient: bounded retry by re-pushing to the front.
			if intent.Attempts < MaxProviderRetries {
				intent.Attempts++
				q.PushFront(intent)
				continue
			}
			obsmetrics.ScalingIntentsFailedTotal.WithLabelValues(intent.Kind.String(), "retries_exhausted").Inc()
			nm.logger.Error().
				Str("host_address", intent.Host.Address).
				Str("kind", intent.Kind.String()).
				Msg("dropping intent after exhausting retry budget")
		}
	}
}

func (nm *NodeManager) dispatch(intent fleet.ScalingIntent) error {
	switch intent.Kind {
	case fleet.IntentUp:
		return nm.dispatchUp(intent)
	case fleet.IntentDown:
		return nm.dispatchDown(intent)
	default:
		return ctlerr.Fatal("nodemanager.dispatch", fmt.Errorf("unknown intent kind"))
	}
}

func (nm *NodeManager) dispatchUp(intent fleet.ScalingIntent) error {
	ctx, cancel := context.WithTimeout(context.Background(), nm.cfg.ProviderTimeout)
	defer cancel()

	if err := nm.shutdowner.Shutdown(ctx, intent.Host.Address, intent.Host.WorkloadName); err != nil {
		nm.logger.Warn().Err(err).Str("host_address", intent.Host.Address).
			Msg("graceful shutdown signal failed, continuing scale-up")
	}

	adapter, ok := nm.providers.Get(intent.Host.Provider)
	if !ok {
		return ctlerr.Fatal("nodemanager.dispatchUp", fmt.Errorf("no adapter registered for provider %q", intent.Host.Provider))
	}

	newName := intent.NextWorkloadName()
	spec := provider.Spec{WorkloadName: newName}
	if nm.cfg.InstanceSpec != nil {
		spec = nm.cfg.InstanceSpec(intent.Host.Provider)
		spec.WorkloadName = newName
	}

	timer := obsmetrics.NewTimer()
	result, err := adapter.CreateInstance(ctx, spec)
	timer.ObserveDurationVec(obsmetrics.ProviderOperationDuration, string(intent.Host.Provider), "create")
	if err != nil {
		return err
	}

	if err := nm.registry.Put(result.Address, registry.Entry{
		WorkloadName:       newName,
		Provider:           intent.Host.Provider,
		ProviderInstanceID: result.InstanceID,
	}); err != nil {
		nm.logger.Warn().Str("instance_id", result.InstanceID).Str("new_address", result.Address).
			Msg("created instance could not be registered and is now untracked")
		return ctlerr.Fatal("nodemanager.dispatchUp.registerNode", err)
	}
	if err := nm.registry.Remove(intent.Host.Address); err != nil {
		return ctlerr.Fatal("nodemanager.dispatchUp.unregisterNode", err)
	}

	nm.logger.Info().
		Str("old_address", intent.Host.Address).
		Str("new_address", result.Address).
		Str("workload", newName).
		Str("reason", intent.Reason).
		Msg("scaled up")
	return nil
}

func (nm *NodeManager) dispatchDown(intent fleet.ScalingIntent) error {
	ctx, cancel := context.WithTimeout(context.Background(), nm.cfg.ProviderTimeout)
	defer cancel()

	adapter, ok := nm.providers.Get(intent.Host.Provider)
	if !ok {
		return ctlerr.Fatal("nodemanager.dispatchDown", fmt.Errorf("no adapter registered for provider %q", intent.Host.Provider))
	}

	timer := obsmetrics.NewTimer()
	err := adapter.DeleteInstance(ctx, intent.Host.ProviderInstanceID)
	timer.ObserveDurationVec(obsmetrics.ProviderOperationDuration, string(intent.Host.Provider), "delete")
	if err != nil {
		return err
	}

	if err := nm.registry.Remove(intent.Host.Address); err != nil {
		return ctlerr.Fatal("nodemanager.dispatchDown.unregisterNode", err)
	}

	nm.logger.Info().
		Str("host_address", intent.Host.Address).
		Str("reason", intent.Reason).
		Msg("scaled down")
	return nil
}

// RegisterNode adds or updates a host's registry entry. Exposed so the
// Director can seed initial hosts and the CLI can support manual registry
// edits.
func (nm *NodeManager) RegisterNode(host fleet.Host) error {
	return nm.registry.Put(host.Address, registry.Entry{
		WorkloadName:       host.WorkloadName,
		Provider:           host.Provider,
		ProviderInstanceID: host.ProviderInstanceID,
	})
}

// UnregisterNode removes a host from the registry.
func (nm *NodeManager) UnregisterNode(address string) error {
	return nm.registry.Remove(address)
}
