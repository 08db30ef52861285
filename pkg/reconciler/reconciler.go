package reconciler

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ryftlabs/dwn/pkg/log"
	"github.com/ryftlabs/dwn/pkg/metrics"
	"github.com/ryftlabs/dwn/pkg/storage"
	"github.com/ryftlabs/dwn/pkg/tenant"
)

// Reconciler periodically re-drives resumable tasks left pending by a
// crash between a ledger write and the cross-store operation it protects.
type Reconciler struct {
	tasks   storage.TaskLedger
	tenants *tenant.Manager
	logger  zerolog.Logger
	mu      sync.Mutex
	stopCh  chan struct{}
}

// NewReconciler builds a Reconciler that re-drives tasks in ledger by
// resubmitting them through tenants' ordering logs.
func NewReconciler(ledger storage.TaskLedger, tenants *tenant.Manager) *Reconciler {
	return &Reconciler{
		tasks:   ledger,
		tenants: tenants,
		logger:  log.WithComponent("reconciler"),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			if err := r.reconcile(); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// reconcile sweeps the task ledger once, re-driving every pending task.
func (r *Reconciler) reconcile() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	pending, err := r.tasks.Pending()
	if err != nil {
		return fmt.Errorf("list pending tasks: %w", err)
	}
	metrics.ResumableTasksPending.Set(float64(len(pending)))

	for _, task := range pending {
		if err := r.redrive(task); err != nil {
			r.logger.Error().
				Err(err).
				Str("task_id", task.ID).
				Str("kind", task.Kind).
				Str("tenant", task.Tenant).
				Msg("failed to redrive resumable task")
			continue
		}
		if err := r.tasks.Complete(task.ID); err != nil {
			r.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to complete redriven task")
			continue
		}
		metrics.ResumableTasksRedriven.WithLabelValues(task.Kind).Inc()
	}

	return nil
}

// redrive resubmits one task's already-resolved payload through its
// tenant's ordering log, exactly as the original caller would have. The
// underlying storage controller operations are idempotent against a
// partially-completed prior attempt: deleting an already-deleted key is
// a no-op.
func (r *Reconciler) redrive(task storage.ResumableTask) error {
	switch tenant.Op(task.Kind) {
	case tenant.OpDeleteOlder:
		var payload tenant.DeleteOlderPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal deleteOlder payload: %w", err)
		}
		return r.tenants.Submit(task.Tenant, tenant.OpDeleteOlder, payload)

	case tenant.OpPurgeDescendants:
		var payload tenant.PurgeDescendantsPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal purgeDescendants payload: %w", err)
		}
		return r.tenants.Submit(task.Tenant, tenant.OpPurgeDescendants, payload)

	default:
		return fmt.Errorf("unknown resumable task kind: %s", task.Kind)
	}
}
