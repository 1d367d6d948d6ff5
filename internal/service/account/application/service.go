// internal/service/account/application/service.go
package application

import (
	"context"
	"fmt"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/service/account/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AccountService 提供余额扣减与返还。
// 所有余额变更都在仓储的行锁内执行，两个并发扣款不会同时读到旧余额。
type AccountService struct {
	repo   domain.AccountRepository
	tracer trace.Tracer
}

func NewAccountService(repo domain.AccountRepository, tracer trace.Tracer) *AccountService {
	return &AccountService{repo: repo, tracer: tracer}
}

// Deduct 从用户账户扣减 amount。
func (s *AccountService) Deduct(ctx context.Context, userID string, amount float64) error {
	ctx, span := s.tracer.Start(ctx, "account.Deduct")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.Float64("amount", amount),
	)

	err := s.repo.UpdateWithLock(ctx, userID, func(acc *domain.Account) error {
		return acc.Deduct(amount)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "deduct failed")
		return fmt.Errorf("failed to deduct %.2f from user %s: %w", amount, userID, err)
	}

	logger.Ctx(ctx).Info().Str("user_id", userID).Float64("amount", amount).Msg("Balance deducted")
	return nil
}

// Refund 把 amount 返还给用户账户，是 Deduct 的补偿。
func (s *AccountService) Refund(ctx context.Context, userID string, amount float64) error {
	ctx, span := s.tracer.Start(ctx, "account.Refund")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.Float64("amount", amount),
	)

	err := s.repo.UpdateWithLock(ctx, userID, func(acc *domain.Account) error {
		return acc.Refund(amount)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refund failed")
		return fmt.Errorf("failed to refund %.2f to user %s: %w", amount, userID, err)
	}

	logger.Ctx(ctx).Info().Str("user_id", userID).Float64("amount", amount).Msg("Balance refunded")
	return nil
}

// GetBalance 返回当前余额，仅用于查询展示。
func (s *AccountService) GetBalance(ctx context.Context, userID string) (float64, error) {
	acc, err := s.repo.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}
