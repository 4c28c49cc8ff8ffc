package confirm

import (
	"context"
	"log/slog"
	"time"

	"charlog/internal/registrysync/models"
)

// Poller runs confirmation sweeps on a fixed interval until the context is
// cancelled.
type Poller struct {
	service  *Service
	interval time.Duration
	opts     Options
	logger   *slog.Logger
}

// NewPoller constructs a poller over the confirmation service.
func NewPoller(service *Service, interval time.Duration, opts Options, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{service: service, interval: interval, opts: opts, logger: logger}
}

// Run blocks, sweeping once per interval. Sweep failures are logged and the
// loop keeps going; only context cancellation stops it.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := p.service.ConfirmPending(ctx, models.EntityCreditBatch, p.opts)
			if err != nil {
				p.logger.Error("confirmation sweep failed", "error", err)
				continue
			}
			if stats.Total > 0 {
				p.logger.Info("confirmation sweep complete",
					"total", stats.Total, "succeeded", stats.Succeeded,
					"failed", stats.Failed, "skipped", stats.Skipped)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
