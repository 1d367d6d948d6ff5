package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"bazaar/internal/service/coupon/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

// memCouponRepo 用互斥锁模拟数据库条件更新的原子性。
type memCouponRepo struct {
	mu        sync.Mutex
	coupons   map[string]*domain.UserCoupon
	templates map[int64]*domain.CouponTemplate
}

func newMemCouponRepo() *memCouponRepo {
	return &memCouponRepo{
		coupons:   make(map[string]*domain.UserCoupon),
		templates: make(map[int64]*domain.CouponTemplate),
	}
}

func (r *memCouponRepo) FindByCode(_ context.Context, code string) (*domain.UserCoupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	uc, ok := r.coupons[code]
	if !ok {
		return nil, domain.ErrCouponNotFound
	}
	cp := *uc
	return &cp, nil
}

func (r *memCouponRepo) FindTemplate(_ context.Context, id int64) (*domain.CouponTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tpl, ok := r.templates[id]
	if !ok {
		return nil, domain.ErrCouponNotFound
	}
	cp := *tpl
	return &cp, nil
}

func (r *memCouponRepo) GrantToUser(_ context.Context, uc *domain.UserCoupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *uc
	r.coupons[uc.CouponCode] = &cp
	return nil
}

func (r *memCouponRepo) MarkUsed(_ context.Context, code, orderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	uc, ok := r.coupons[code]
	if !ok || uc.Status != domain.StatusUnused {
		return false, nil
	}
	uc.Status = domain.StatusUsed
	uc.OrderID = orderID
	uc.UsedAt = time.Now()
	return true, nil
}

func (r *memCouponRepo) MarkUnused(_ context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	uc, ok := r.coupons[code]
	if !ok || uc.Status != domain.StatusUsed {
		return false, nil
	}
	uc.Status = domain.StatusUnused
	uc.OrderID = ""
	uc.UsedAt = time.Time{}
	return true, nil
}

// stubRuleEngine 按表达式内容返回固定结果。
type stubRuleEngine struct {
	eligible bool
}

func (e *stubRuleEngine) Evaluate(string, map[string]interface{}) (bool, error) {
	return e.eligible, nil
}

func seedCoupon(repo *memCouponRepo, code string, status domain.UserCouponStatus, templateID int64) {
	repo.coupons[code] = &domain.UserCoupon{
		CouponCode: code,
		UserID:     "user-1",
		Status:     status,
		ReceivedAt: time.Now().Add(-time.Hour),
		ExpiredAt:  time.Now().Add(24 * time.Hour),
		TemplateID: templateID,
	}
}

func TestMarkUsed_TransitionsUnusedToUsed(t *testing.T) {
	repo := newMemCouponRepo()
	seedCoupon(repo, "CPN-1", domain.StatusUnused, 0)
	svc := NewUsageService(repo, nil, otel.Tracer("test"))

	err := svc.MarkUsed(context.Background(), "CPN-1", "order-1", 200)
	require.NoError(t, err)

	uc, err := repo.FindByCode(context.Background(), "CPN-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUsed, uc.Status)
	assert.Equal(t, "order-1", uc.OrderID)
}

func TestMarkUsed_RejectsIneligibleOrder(t *testing.T) {
	repo := newMemCouponRepo()
	seedCoupon(repo, "CPN-1", domain.StatusUnused, 7)
	repo.templates[7] = &domain.CouponTemplate{ID: 7, RuleExpression: "order.amount >= 100.0"}
	svc := NewUsageService(repo, &stubRuleEngine{eligible: false}, otel.Tracer("test"))

	err := svc.MarkUsed(context.Background(), "CPN-1", "order-1", 50)
	require.ErrorIs(t, err, domain.ErrNotEligible)

	uc, err := repo.FindByCode(context.Background(), "CPN-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnused, uc.Status, "rejected usage must not change state")
}

func TestMarkUsed_ConcurrentDoubleSpendHasOneWinner(t *testing.T) {
	repo := newMemCouponRepo()
	seedCoupon(repo, "CPN-1", domain.StatusUnused, 0)
	svc := NewUsageService(repo, nil, otel.Tracer("test"))

	const racers = 8
	var wg sync.WaitGroup
	var wins int
	var mu sync.Mutex
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := svc.MarkUsed(context.Background(), "CPN-1", fmt.Sprintf("order-%d", n), 200); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "a coupon must be spendable exactly once")
}

func TestMarkUnused_RollsBackUsage(t *testing.T) {
	repo := newMemCouponRepo()
	seedCoupon(repo, "CPN-1", domain.StatusUsed, 0)
	svc := NewUsageService(repo, nil, otel.Tracer("test"))

	err := svc.MarkUnused(context.Background(), "CPN-1")
	require.NoError(t, err)

	uc, err := repo.FindByCode(context.Background(), "CPN-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnused, uc.Status)
	assert.Empty(t, uc.OrderID)
}

func TestMarkUnused_FailsWhenCouponNotUsed(t *testing.T) {
	repo := newMemCouponRepo()
	seedCoupon(repo, "CPN-1", domain.StatusUnused, 0)
	svc := NewUsageService(repo, nil, otel.Tracer("test"))

	err := svc.MarkUnused(context.Background(), "CPN-1")
	require.ErrorIs(t, err, domain.ErrCouponNotUsed)
}
