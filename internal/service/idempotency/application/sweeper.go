// internal/service/idempotency/application/sweeper.go
package application

import (
	"context"
	"time"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/pkg/metrics"
	"bazaar/internal/service/idempotency/domain"
)

// Sweeper 承担幂等记录的两类后台清理：
// 清扫 A：周期性把卡死在 PROCESSING 的僵尸记录强制置为 FAILED；
// 清扫 B：每天物理删除超过保留期的终态记录。
type Sweeper struct {
	repo        domain.Repository
	zombieAge   time.Duration // 僵尸阈值，默认 1h
	zombieSweep time.Duration // 清扫 A 的间隔，默认 10m
	retention   time.Duration // 终态保留期，默认 24h
	purgeSweep  time.Duration // 清扫 B 的间隔，默认 24h
}

func NewSweeper(repo domain.Repository, zombieAge, zombieSweep, retention, purgeSweep time.Duration) *Sweeper {
	return &Sweeper{
		repo:        repo,
		zombieAge:   zombieAge,
		zombieSweep: zombieSweep,
		retention:   retention,
		purgeSweep:  purgeSweep,
	}
}

// Run 同时运行两个清扫循环，直到 ctx 被取消。
func (s *Sweeper) Run(ctx context.Context) error {
	zombieTicker := time.NewTicker(s.zombieSweep)
	purgeTicker := time.NewTicker(s.purgeSweep)
	defer zombieTicker.Stop()
	defer purgeTicker.Stop()

	logger.L().Info().
		Dur("zombie_interval", s.zombieSweep).
		Dur("purge_interval", s.purgeSweep).
		Msg("Idempotency sweeper started")

	for {
		select {
		case <-ctx.Done():
			logger.L().Info().Msg("Idempotency sweeper stopped")
			return ctx.Err()
		case <-zombieTicker.C:
			s.sweepZombies(ctx)
		case <-purgeTicker.C:
			s.purgeTerminal(ctx)
		}
	}
}

func (s *Sweeper) sweepZombies(ctx context.Context) {
	cutoff := time.Now().Add(-s.zombieAge)
	n, err := s.repo.FailZombies(ctx, cutoff, zombieTimeoutReason)
	if err != nil {
		logger.L().Error().Err(err).Msg("Zombie sweep failed")
		return
	}
	if n > 0 {
		metrics.IdempotencyReaped.WithLabelValues("zombie").Add(float64(n))
		logger.L().Warn().Int64("count", n).Msg("Zombie PROCESSING records forced to FAILED")
	}
}

func (s *Sweeper) purgeTerminal(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention)
	n, err := s.repo.PurgeTerminal(ctx, cutoff)
	if err != nil {
		logger.L().Error().Err(err).Msg("Terminal record purge failed")
		return
	}
	if n > 0 {
		metrics.IdempotencyReaped.WithLabelValues("purge").Add(float64(n))
		logger.L().Info().Int64("count", n).Msg("Terminal idempotency records purged")
	}
}
