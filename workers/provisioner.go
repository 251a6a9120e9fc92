package workers

import (
	"context"
	"time"

	"botpay/services"
	"botpay/stores"
	"botpay/utils"
)

// Provisioner is the background loop that drains due provision tasks and
// sweeps expired pending payments. One instance per process; claims in the
// task store keep multiple processes from double-running a task.
type Provisioner struct {
	provisioning *services.ProvisioningService
	intents      *stores.PaymentIntentStore
	interval     time.Duration
	batchSize    int
	logger       *utils.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewProvisioner(
	provisioning *services.ProvisioningService,
	intents *stores.PaymentIntentStore,
	interval time.Duration,
	batchSize int,
) *Provisioner {
	return &Provisioner{
		provisioning: provisioning,
		intents:      intents,
		interval:     interval,
		batchSize:    batchSize,
		logger:       utils.NewLogger("provisioner_worker"),
	}
}

func (w *Provisioner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(ctx)
	w.logger.Info(ctx, "provisioner worker started", map[string]interface{}{
		"interval":   w.interval.String(),
		"batch_size": w.batchSize,
	})
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (w *Provisioner) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

func (w *Provisioner) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Provisioner) tick(ctx context.Context) {
	expired, err := w.intents.ExpireStale(ctx)
	if err != nil {
		w.logger.Error(ctx, "expiry sweep failed", map[string]interface{}{
			"error": err.Error(),
		})
	} else if expired > 0 {
		w.logger.Info(ctx, "expired stale payments", map[string]interface{}{
			"count": expired,
		})
	}

	processed, err := w.provisioning.ProcessDueTasks(ctx, w.batchSize)
	if err != nil {
		w.logger.Error(ctx, "provision task sweep failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if processed > 0 {
		w.logger.Info(ctx, "processed provision tasks", map[string]interface{}{
			"count": processed,
		})
	}
}
