// internal/service/payment/application/saga/janitor.go
package saga

import (
	"context"
	"time"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/service/payment/domain"
)

// Janitor 定期把长时间停留在 RUNNING 的编排实例收敛掉。
// 只处理超过 minAge 的实例，避免碰到正在执行中的编排。
type Janitor struct {
	orch     *Orchestrator
	repo     domain.SagaRepository
	minAge   time.Duration
	interval time.Duration
}

func NewJanitor(orch *Orchestrator, repo domain.SagaRepository, minAge, interval time.Duration) *Janitor {
	return &Janitor{orch: orch, repo: repo, minAge: minAge, interval: interval}
}

func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	logger.L().Info().Dur("interval", j.interval).Msg("Saga janitor started")
	for {
		select {
		case <-ctx.Done():
			logger.L().Info().Msg("Saga janitor stopped")
			return
		case <-ticker.C:
			if n, err := j.sweep(ctx, time.Now()); err != nil {
				logger.L().Error().Err(err).Msg("Saga janitor sweep failed")
			} else if n > 0 {
				logger.L().Info().Int("recovered", n).Msg("Interrupted sagas recovered")
			}
		}
	}
}

func (j *Janitor) sweep(ctx context.Context, now time.Time) (int, error) {
	instances, err := j.repo.FindByStatus(ctx, domain.StatusRunning, 100)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, instance := range instances {
		if now.Sub(instance.CreatedAt) < j.minAge {
			continue
		}
		if _, err := j.orch.Recover(ctx, instance.SagaID); err != nil {
			logger.L().Error().Err(err).Str("saga_id", instance.SagaID).Msg("Failed to recover interrupted saga")
			continue
		}
		recovered++
	}
	return recovered, nil
}
