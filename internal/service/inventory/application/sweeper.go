// internal/service/inventory/application/sweeper.go
package application

import (
	"context"
	"time"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/pkg/metrics"
	"bazaar/internal/service/inventory/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const sweepBatchSize = 500

// LeaderLock 是清扫任务用来做 leader 选举的锁抽象（由 ZooKeeper 实现）。
type LeaderLock interface {
	TryLock() error
	Unlock() error
}

// ReservationSweeper 周期性回收超过保留时限仍未确认的预占。
// 单条记录释放失败只记日志，不影响同批其他记录。
type ReservationSweeper struct {
	svc      *InventoryService
	resRepo  domain.ReservationRepository
	interval time.Duration
	leader   LeaderLock // 可为 nil，单副本部署时不需要选举
	tracer   trace.Tracer
}

func NewReservationSweeper(svc *InventoryService, resRepo domain.ReservationRepository, interval time.Duration, leader LeaderLock, tracer trace.Tracer) *ReservationSweeper {
	return &ReservationSweeper{
		svc:      svc,
		resRepo:  resRepo,
		interval: interval,
		leader:   leader,
		tracer:   tracer,
	}
}

// Run 以固定间隔执行清扫，直到 ctx 被取消。
func (s *ReservationSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.L().Info().Dur("interval", s.interval).Msg("Reservation TTL sweeper started")
	for {
		select {
		case <-ctx.Done():
			logger.L().Info().Msg("Reservation TTL sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *ReservationSweeper) sweepOnce(ctx context.Context) {
	if s.leader != nil {
		if err := s.leader.TryLock(); err != nil {
			return // 本轮由其他副本执行
		}
		defer func() {
			if err := s.leader.Unlock(); err != nil {
				logger.L().Error().Err(err).Msg("Failed to release sweeper leader lock")
			}
		}()
	}

	if _, err := s.Sweep(ctx, time.Now()); err != nil {
		logger.L().Error().Err(err).Msg("Reservation sweep pass failed")
	}
}

// Sweep 执行一轮清扫，返回成功回收的预占数量。
// 幂等：已被并发支付流程确认的预占在 CAS 处会失败并被跳过。
func (s *ReservationSweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.sweeper.Sweep")
	defer span.End()

	expired, err := s.resRepo.FindExpiredActive(ctx, now, sweepBatchSize)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}
	span.SetAttributes(attribute.Int("expired.count", len(expired)))

	reclaimed := 0
	for _, r := range expired {
		ok, err := s.resRepo.TransitionStatus(ctx, r.OrderID, r.SKU, domain.ReservationActive, domain.ReservationExpired)
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("order_id", r.OrderID).Str("sku", r.SKU).
				Msg("Failed to expire reservation, will retry next pass")
			continue
		}
		if !ok {
			continue // 并发支付已确认或已取消
		}
		if _, err := s.svc.CancelReservation(ctx, r.SKU, r.Quantity); err != nil {
			// 状态已是 EXPIRED 但库存未释放：记录后下一轮无法重试（CAS 已走完），需要告警
			logger.Ctx(ctx).Error().Err(err).
				Str("order_id", r.OrderID).Str("sku", r.SKU).Int("quantity", r.Quantity).
				Msg("CRITICAL: expired reservation but failed to release held stock")
			continue
		}
		reclaimed++
		metrics.ReservationsExpired.Inc()
	}

	if reclaimed > 0 {
		logger.Ctx(ctx).Info().Int("reclaimed", reclaimed).Msg("Expired reservations reclaimed")
	}
	return reclaimed, nil
}
