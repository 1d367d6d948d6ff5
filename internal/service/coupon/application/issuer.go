// internal/service/coupon/application/issuer.go
package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/pkg/metrics"
	"bazaar/internal/service/coupon/domain"
	"bazaar/internal/service/coupon/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// 每个优惠活动在计数器/集合存储中的三个键。
// 花括号让同一活动的键在 Redis Cluster 中落在同一个 slot。
func quotaKey(couponID string) string  { return fmt.Sprintf("coupon:quota:{%s}", couponID) }
func countKey(couponID string) string  { return fmt.Sprintf("coupon:count:{%s}", couponID) }
func issuedKey(couponID string) string { return fmt.Sprintf("coupon:issued:{%s}", couponID) }

// QuotaIssuer 在高并发抢券场景下执行限量发放。
// 全程不加锁：先抢计数器名额，后做去重，两处失败都原子回滚计数器，
// 这保证对外可见的发放计数始终等于去重集合的大小。
type QuotaIssuer struct {
	store    port.CounterSetStore
	repo     domain.CouponRepository // 发放成功后落库的用户券；可为 nil（纯配额模式）
	stateTTL time.Duration
	tracer   trace.Tracer
}

func NewQuotaIssuer(store port.CounterSetStore, repo domain.CouponRepository, stateTTL time.Duration, tracer trace.Tracer) *QuotaIssuer {
	return &QuotaIssuer{store: store, repo: repo, stateTTL: stateTTL, tracer: tracer}
}

// Initialize 重置一个活动的配额状态：计数器清零、去重集合清空。
// 三个键都带有界 TTL，过期活动的状态自动消失。
func (q *QuotaIssuer) Initialize(ctx context.Context, couponID string, quota int64) error {
	ctx, span := q.tracer.Start(ctx, "coupon.quota.Initialize")
	defer span.End()
	span.SetAttributes(attribute.String("coupon.id", couponID), attribute.Int64("quota", quota))

	if err := q.store.Del(ctx, countKey(couponID), issuedKey(couponID)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to clear quota state for %s: %w", couponID, err)
	}
	if err := q.store.Set(ctx, quotaKey(couponID), quota, q.stateTTL); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set quota for %s: %w", couponID, err)
	}
	if err := q.store.Set(ctx, countKey(couponID), 0, q.stateTTL); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to reset counter for %s: %w", couponID, err)
	}
	logger.Ctx(ctx).Info().Str("coupon_id", couponID).Int64("quota", quota).Msg("Coupon quota initialized")
	return nil
}

// Issue 尝试给 userID 发放一张券，返回剩余可发数量。
//
// 顺序是正确性的关键：
//  1. 先原子递增计数器抢名额——这是并发守门员，必须发生在一切检查之前；
//  2. 超过配额则原子递减回滚，返回 ErrExhausted；
//  3. 再把 userID 原子加入去重集合，member 已存在说明输给了并发的重复请求，
//     同样回滚计数器，返回 ErrAlreadyIssued。
func (q *QuotaIssuer) Issue(ctx context.Context, couponID, userID string) (int64, error) {
	ctx, span := q.tracer.Start(ctx, "coupon.quota.Issue")
	defer span.End()
	span.SetAttributes(attribute.String("coupon.id", couponID), attribute.String("user.id", userID))

	quota, err := q.store.Get(ctx, quotaKey(couponID))
	if err != nil {
		span.RecordError(err)
		metrics.CouponIssued.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("%s: %w", couponID, port.ErrQuotaUninitialized)
	}

	// 1. 抢名额
	n, err := q.store.Incr(ctx, countKey(couponID))
	if err != nil {
		span.RecordError(err)
		metrics.CouponIssued.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to increment counter for %s: %w", couponID, err)
	}

	// 2. 超配额回滚
	if n > quota {
		q.rollbackCounter(ctx, couponID)
		span.SetStatus(codes.Error, "quota exhausted")
		metrics.CouponIssued.WithLabelValues("exhausted").Inc()
		return 0, port.ErrExhausted
	}

	// 3. 去重，输掉并发重复请求则回滚
	added, err := q.store.SAdd(ctx, issuedKey(couponID), userID)
	if err != nil {
		q.rollbackCounter(ctx, couponID)
		span.RecordError(err)
		metrics.CouponIssued.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to record issuance for %s: %w", couponID, err)
	}
	if !added {
		q.rollbackCounter(ctx, couponID)
		span.SetStatus(codes.Error, "duplicate issuance")
		metrics.CouponIssued.WithLabelValues("duplicate").Inc()
		return 0, port.ErrAlreadyIssued
	}

	// 去重集合是惰性建键的，TTL 要和配额、计数器两个键保持一致
	if err := q.store.Expire(ctx, issuedKey(couponID), q.stateTTL); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("coupon_id", couponID).Msg("Failed to set TTL on issuance set")
	}

	if err := q.grant(ctx, couponID, userID); err != nil {
		// 落库失败时撤销本次发放，计数器与集合保持一致
		if remErr := q.store.SRem(ctx, issuedKey(couponID), userID); remErr != nil {
			logger.Ctx(ctx).Error().Err(remErr).Str("coupon_id", couponID).Msg("CRITICAL: failed to roll back dedup set after grant failure")
		}
		q.rollbackCounter(ctx, couponID)
		span.RecordError(err)
		metrics.CouponIssued.WithLabelValues("error").Inc()
		return 0, err
	}

	span.AddEvent("Coupon issued")
	metrics.CouponIssued.WithLabelValues("issued").Inc()
	return quota - n, nil
}

// Remaining 返回当前剩余可发数量，仅用于展示，不参与发放判定。
func (q *QuotaIssuer) Remaining(ctx context.Context, couponID string) (int64, error) {
	quota, err := q.store.Get(ctx, quotaKey(couponID))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", couponID, port.ErrQuotaUninitialized)
	}
	issued, err := q.store.Get(ctx, countKey(couponID))
	if err != nil {
		issued = 0
	}
	remaining := quota - issued
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (q *QuotaIssuer) rollbackCounter(ctx context.Context, couponID string) {
	if _, err := q.store.Decr(ctx, countKey(couponID)); err != nil {
		// 回滚失败会让计数器虚高一个名额，记下来供人工修正
		logger.Ctx(ctx).Error().Err(err).Str("coupon_id", couponID).Msg("CRITICAL: failed to roll back issuance counter")
	}
}

// couponID 即模板主键的字符串形式，解析失败时按 0 处理（无模板的临时活动）。
func templateIDOf(couponID string) int64 {
	id, _ := strconv.ParseInt(couponID, 10, 64)
	return id
}

func (q *QuotaIssuer) grant(ctx context.Context, couponID, userID string) error {
	if q.repo == nil {
		return nil
	}
	tpl, err := q.repo.FindTemplate(ctx, templateIDOf(couponID))
	if err != nil && !errors.Is(err, domain.ErrCouponNotFound) {
		return fmt.Errorf("failed to load template for %s: %w", couponID, err)
	}
	validDays := 30
	var templateID int64
	if tpl != nil {
		templateID = tpl.ID
		if tpl.ValidDays > 0 {
			validDays = tpl.ValidDays
		}
	}
	now := time.Now()
	return q.repo.GrantToUser(ctx, &domain.UserCoupon{
		CouponCode: uuid.New().String(),
		UserID:     userID,
		Status:     domain.StatusUnused,
		ReceivedAt: now,
		ExpiredAt:  now.AddDate(0, 0, validDays),
		TemplateID: templateID,
	})
}
