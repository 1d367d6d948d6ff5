// internal/service/coupon/application/usage.go
package application

import (
	"context"
	"fmt"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/service/coupon/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// UsageService 负责优惠券核销及其补偿回滚。
// 状态迁移全部通过 CAS 条件更新完成，并发核销同一张券时只有一方成功。
type UsageService struct {
	repo   domain.CouponRepository
	rules  domain.RuleEngine
	tracer trace.Tracer
}

func NewUsageService(repo domain.CouponRepository, rules domain.RuleEngine, tracer trace.Tracer) *UsageService {
	return &UsageService{repo: repo, rules: rules, tracer: tracer}
}

// MarkUsed 核销一张优惠券。先校验可用性和模板规则，再做 UNUSED→USED 的 CAS。
func (s *UsageService) MarkUsed(ctx context.Context, couponCode, orderID string, orderAmount float64) error {
	ctx, span := s.tracer.Start(ctx, "coupon.MarkUsed")
	defer span.End()
	span.SetAttributes(
		attribute.String("coupon.code", couponCode),
		attribute.String("order.id", orderID),
	)

	uc, err := s.repo.FindByCode(ctx, couponCode)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !uc.IsAvailable() {
		err := fmt.Errorf("coupon %s: %w", couponCode, domain.ErrCouponNotUsable)
		span.RecordError(err)
		return err
	}

	if err := s.checkRule(ctx, uc, orderAmount); err != nil {
		span.RecordError(err)
		return err
	}

	ok, err := s.repo.MarkUsed(ctx, couponCode, orderID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark coupon %s used: %w", couponCode, err)
	}
	if !ok {
		// 输给并发核销
		err := fmt.Errorf("coupon %s: %w", couponCode, domain.ErrCouponNotUsable)
		span.RecordError(err)
		return err
	}

	logger.Ctx(ctx).Info().Str("coupon_code", couponCode).Str("order_id", orderID).Msg("Coupon marked as used")
	return nil
}

// MarkUnused 是 MarkUsed 的补偿：把 USED 回滚为 UNUSED。
func (s *UsageService) MarkUnused(ctx context.Context, couponCode string) error {
	ctx, span := s.tracer.Start(ctx, "coupon.MarkUnused")
	defer span.End()
	span.SetAttributes(attribute.String("coupon.code", couponCode))

	ok, err := s.repo.MarkUnused(ctx, couponCode)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to roll back coupon %s: %w", couponCode, err)
	}
	if !ok {
		// 补偿时状态不对是严重问题，交给上层决定是否判定 STUCK
		err := fmt.Errorf("coupon %s: %w", couponCode, domain.ErrCouponNotUsed)
		span.RecordError(err)
		return err
	}

	logger.Ctx(ctx).Info().Str("coupon_code", couponCode).Msg("Coupon usage rolled back to UNUSED")
	return nil
}

func (s *UsageService) checkRule(ctx context.Context, uc *domain.UserCoupon, orderAmount float64) error {
	if s.rules == nil || uc.TemplateID == 0 {
		return nil
	}
	tpl, err := s.repo.FindTemplate(ctx, uc.TemplateID)
	if err != nil {
		return err
	}
	if tpl.RuleExpression == "" {
		return nil
	}
	fact := map[string]interface{}{
		"order": map[string]interface{}{"amount": orderAmount},
		"user":  map[string]interface{}{"id": uc.UserID},
	}
	eligible, err := s.rules.Evaluate(tpl.RuleExpression, fact)
	if err != nil {
		return fmt.Errorf("failed to evaluate coupon rule: %w", err)
	}
	if !eligible {
		return fmt.Errorf("coupon %s: %w", uc.CouponCode, domain.ErrNotEligible)
	}
	return nil
}
