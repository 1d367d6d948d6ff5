package saga

import (
	"context"
	"errors"
	"sync"
	"testing"

	"bazaar/internal/service/payment/domain"
	"bazaar/internal/service/payment/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

// callLog 记录各端口被调用的顺序，用来断言补偿的逆序性。
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type memSagaRepo struct {
	mu           sync.Mutex
	instances    map[string]*domain.Instance
	steps        map[string][]string
	failAppendOn string
}

func newMemSagaRepo() *memSagaRepo {
	return &memSagaRepo{
		instances: make(map[string]*domain.Instance),
		steps:     make(map[string][]string),
	}
}

func (r *memSagaRepo) Create(_ context.Context, instance *domain.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *instance
	r.instances[instance.SagaID] = &cp
	return nil
}

func (r *memSagaRepo) Get(_ context.Context, sagaID string) (*domain.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	instance, ok := r.instances[sagaID]
	if !ok {
		return nil, domain.ErrSagaNotFound
	}
	cp := *instance
	cp.CompletedSteps = append([]string(nil), r.steps[sagaID]...)
	return &cp, nil
}

func (r *memSagaRepo) AppendStep(_ context.Context, sagaID, step string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAppendOn == step {
		return errors.New("saga log unavailable")
	}
	r.steps[sagaID] = append(r.steps[sagaID], step)
	return nil
}

func (r *memSagaRepo) UpdateStatus(_ context.Context, sagaID string, status domain.Status, failedStep, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	instance, ok := r.instances[sagaID]
	if !ok {
		return domain.ErrSagaNotFound
	}
	instance.Status = status
	instance.FailedStep = failedStep
	instance.FailureReason = reason
	return nil
}

func (r *memSagaRepo) FindByStatus(_ context.Context, status domain.Status, limit int) ([]*domain.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Instance
	for _, instance := range r.instances {
		if instance.Status == status && len(out) < limit {
			cp := *instance
			cp.CompletedSteps = append([]string(nil), r.steps[instance.SagaID]...)
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memSagaRepo) loggedSteps(sagaID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.steps[sagaID]...)
}

type fakeOrders struct {
	log        *callLog
	payable    *port.PayableOrder
	state      string
	failPaid   bool
	failCancel bool
	mu         sync.Mutex
}

func (f *fakeOrders) GetPayable(_ context.Context, orderID string) (*port.PayableOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != "PENDING_PAYMENT" {
		return nil, errors.New("order is not pending payment")
	}
	cp := *f.payable
	return &cp, nil
}

func (f *fakeOrders) MarkPaid(_ context.Context, _ string) error {
	if f.failPaid {
		return errors.New("order storage unavailable")
	}
	f.mu.Lock()
	f.state = "PAID"
	f.mu.Unlock()
	f.log.add("order.paid")
	return nil
}

func (f *fakeOrders) MarkCancelled(_ context.Context, _, _ string) error {
	if f.failCancel {
		return errors.New("order storage unavailable")
	}
	f.mu.Lock()
	f.state = "CANCELLED"
	f.mu.Unlock()
	f.log.add("order.cancelled")
	return nil
}

type fakeBalance struct {
	log        *callLog
	mu         sync.Mutex
	balance    float64
	failDeduct bool
}

func (f *fakeBalance) Deduct(_ context.Context, _ string, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDeduct || f.balance < amount {
		return errors.New("insufficient balance")
	}
	f.balance -= amount
	f.log.add("balance.deduct")
	return nil
}

func (f *fakeBalance) Refund(_ context.Context, _ string, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance += amount
	f.log.add("balance.refund")
	return nil
}

type fakeInventory struct {
	log         *callLog
	confirmed   map[string]int
	failConfirm bool
	mu          sync.Mutex
	deducted    bool
}

func (f *fakeInventory) ConfirmForOrder(_ context.Context, _ string) (map[string]int, error) {
	if f.failConfirm {
		return nil, errors.New("reservation expired")
	}
	f.mu.Lock()
	f.deducted = true
	f.mu.Unlock()
	f.log.add("inventory.confirm")
	return f.confirmed, nil
}

func (f *fakeInventory) ConfirmedForOrder(_ context.Context, _ string) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.deducted {
		return map[string]int{}, nil
	}
	return f.confirmed, nil
}

func (f *fakeInventory) RestoreForOrder(_ context.Context, _ string, _ map[string]int) error {
	f.mu.Lock()
	f.deducted = false
	f.mu.Unlock()
	f.log.add("inventory.restore")
	return nil
}

type fakeCoupons struct {
	log        *callLog
	mu         sync.Mutex
	used       bool
	failUnused bool
}

func (f *fakeCoupons) MarkUsed(_ context.Context, _, _ string, _ float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.used {
		return errors.New("coupon already used")
	}
	f.used = true
	f.log.add("coupon.used")
	return nil
}

func (f *fakeCoupons) MarkUnused(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUnused {
		return errors.New("coupon storage unavailable")
	}
	f.used = false
	f.log.add("coupon.unused")
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	succeeded int
	failed    int
}

func (f *fakeNotifier) PaymentSucceeded(_ context.Context, _, _ string, _ float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.succeeded++
	return nil
}

func (f *fakeNotifier) PaymentFailed(_ context.Context, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed++
	return nil
}

type fakeAlerts struct {
	mu     sync.Mutex
	raised []string
}

func (f *fakeAlerts) SagaStuck(_ context.Context, sagaID, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raised = append(f.raised, sagaID)
	return nil
}

type fixture struct {
	repo      *memSagaRepo
	orders    *fakeOrders
	balance   *fakeBalance
	inventory *fakeInventory
	coupons   *fakeCoupons
	notifier  *fakeNotifier
	alerts    *fakeAlerts
	log       *callLog
	orch      *Orchestrator
}

func newFixture(couponCode string) *fixture {
	log := &callLog{}
	f := &fixture{
		repo: newMemSagaRepo(),
		orders: &fakeOrders{
			log:   log,
			state: "PENDING_PAYMENT",
			payable: &port.PayableOrder{
				OrderID:     "order-1",
				UserID:      "user-1",
				CouponCode:  couponCode,
				FinalAmount: 80,
			},
		},
		balance:   &fakeBalance{log: log, balance: 100},
		inventory: &fakeInventory{log: log, confirmed: map[string]int{"sku-a": 2}},
		coupons:   &fakeCoupons{log: log},
		notifier:  &fakeNotifier{},
		alerts:    &fakeAlerts{},
		log:       log,
	}
	f.orch = NewOrchestrator(f.repo, f.orders, f.balance, f.inventory, f.coupons, f.notifier, f.alerts, otel.Tracer("test"))
	return f
}

func TestExecute_HappyPathCompletesAllSteps(t *testing.T) {
	f := newFixture("CPN-1")

	result, err := f.orch.Execute(context.Background(), "order-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Equal(t, 80.0, result.PaidAmount)

	assert.Equal(t, []string{
		StepValidateOrder, StepDeductBalance, StepConfirmInventory, StepUseCoupon, StepMarkPaid,
	}, f.repo.loggedSteps(result.SagaID), "every committed step must be in the durable log, in order")

	assert.Equal(t, "PAID", f.orders.state)
	assert.Equal(t, 20.0, f.balance.balance)
	assert.True(t, f.coupons.used)
	assert.Equal(t, 1, f.notifier.succeeded)
}

func TestExecute_BalanceFailureCancelsOrder(t *testing.T) {
	f := newFixture("CPN-1")
	f.balance.failDeduct = true

	result, err := f.orch.Execute(context.Background(), "order-1", "user-1")
	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, result.Status)

	var execErr *domain.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, StepDeductBalance, execErr.Step)

	assert.Equal(t, []string{"order.cancelled"}, f.log.all())
	assert.Equal(t, "CANCELLED", f.orders.state)
	assert.False(t, f.coupons.used, "coupon step was never reached")
	assert.Equal(t, 100.0, f.balance.balance, "nothing was deducted")
	assert.Equal(t, 1, f.notifier.failed)
}

func TestExecute_InventoryFailureRefundsBalance(t *testing.T) {
	f := newFixture("CPN-1")
	f.inventory.failConfirm = true

	result, err := f.orch.Execute(context.Background(), "order-1", "user-1")
	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, result.Status)

	assert.Equal(t, []string{
		"balance.deduct",
		"balance.refund", "order.cancelled",
	}, f.log.all())
	assert.Equal(t, 100.0, f.balance.balance, "deducted amount must be refunded")
	assert.Equal(t, "CANCELLED", f.orders.state)
}

func TestExecute_MarkPaidFailureCompensatesInReverseOrder(t *testing.T) {
	f := newFixture("CPN-1")
	f.orders.failPaid = true

	result, err := f.orch.Execute(context.Background(), "order-1", "user-1")
	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, result.Status)

	// 补偿必须按与正向相反的顺序执行
	assert.Equal(t, []string{
		"balance.deduct", "inventory.confirm", "coupon.used",
		"coupon.unused", "inventory.restore", "balance.refund", "order.cancelled",
	}, f.log.all())
	assert.Equal(t, "CANCELLED", f.orders.state)
	assert.False(t, f.coupons.used, "coupon must be returned to UNUSED")
	assert.Equal(t, 100.0, f.balance.balance)
}

func TestExecute_CompensationFailureMarksSagaStuck(t *testing.T) {
	f := newFixture("CPN-1")
	f.orders.failPaid = true
	f.coupons.failUnused = true

	result, err := f.orch.Execute(context.Background(), "order-1", "user-1")
	require.Error(t, err)
	assert.Equal(t, domain.StatusStuck, result.Status)

	instance, getErr := f.repo.Get(context.Background(), result.SagaID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusStuck, instance.Status)
	assert.Equal(t, StepUseCoupon, instance.FailedStep)
	assert.Equal(t, []string{result.SagaID}, f.alerts.raised, "a stuck saga must raise an alert")
}

func TestExecute_AppendFailureUnwindsCommittedStep(t *testing.T) {
	f := newFixture("")
	f.repo.failAppendOn = StepDeductBalance

	result, err := f.orch.Execute(context.Background(), "order-1", "user-1")
	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, result.Status)

	// 扣款已提交但没能落日志：视为需要撤销
	assert.Equal(t, []string{"balance.deduct", "balance.refund", "order.cancelled"}, f.log.all())
	assert.Equal(t, 100.0, f.balance.balance)
}

func TestExecute_WithoutCouponSkipsCouponPort(t *testing.T) {
	f := newFixture("")

	result, err := f.orch.Execute(context.Background(), "order-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, result.Status)

	assert.False(t, f.coupons.used)
	// 空转步骤依然留痕，恢复逻辑不需要猜测它是否执行过
	assert.Contains(t, f.repo.loggedSteps(result.SagaID), StepUseCoupon)
}

func TestRecover_CompensatesLoggedStepsInReverse(t *testing.T) {
	f := newFixture("CPN-1")
	f.coupons.used = true
	f.inventory.deducted = true
	f.balance.balance = 20
	require.NoError(t, f.repo.Create(context.Background(), &domain.Instance{
		SagaID:  "saga-crashed",
		OrderID: "order-1",
		UserID:  "user-1",
		Status:  domain.StatusRunning,
	}))
	for _, step := range []string{StepValidateOrder, StepDeductBalance, StepConfirmInventory, StepUseCoupon} {
		require.NoError(t, f.repo.AppendStep(context.Background(), "saga-crashed", step))
	}

	status, err := f.orch.Recover(context.Background(), "saga-crashed")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, status)

	assert.Equal(t, []string{"coupon.unused", "inventory.restore", "balance.refund", "order.cancelled"}, f.log.all())
	assert.Equal(t, 100.0, f.balance.balance)
	assert.False(t, f.coupons.used)
	assert.Equal(t, "CANCELLED", f.orders.state)
}

func TestRecover_AbortsWhenOrderNoLongerPayable(t *testing.T) {
	f := newFixture("CPN-1")
	f.orders.state = "CANCELLED"
	f.balance.balance = 20
	require.NoError(t, f.repo.Create(context.Background(), &domain.Instance{
		SagaID:  "saga-orphan",
		OrderID: "order-1",
		UserID:  "user-1",
		Status:  domain.StatusRunning,
	}))
	for _, step := range []string{StepValidateOrder, StepDeductBalance} {
		require.NoError(t, f.repo.AppendStep(context.Background(), "saga-orphan", step))
	}

	status, err := f.orch.Recover(context.Background(), "saga-orphan")
	require.Error(t, err, "recovery without the order's amounts must not run compensations")
	assert.Equal(t, domain.StatusRunning, status)

	// 素材拿不全就不动任何东西，下一轮扫描重试
	assert.Empty(t, f.log.all())
	assert.Equal(t, 20.0, f.balance.balance, "no blind refund without a known amount")

	instance, getErr := f.repo.Get(context.Background(), "saga-orphan")
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusRunning, instance.Status)
}

func TestRecover_StuckWhenMarkPaidAlreadyLogged(t *testing.T) {
	f := newFixture("")
	f.orders.state = "PAID"
	require.NoError(t, f.repo.Create(context.Background(), &domain.Instance{
		SagaID:  "saga-paid",
		OrderID: "order-1",
		UserID:  "user-1",
		Status:  domain.StatusRunning,
	}))
	for _, step := range []string{StepValidateOrder, StepDeductBalance, StepConfirmInventory, StepUseCoupon, StepMarkPaid} {
		require.NoError(t, f.repo.AppendStep(context.Background(), "saga-paid", step))
	}

	status, err := f.orch.Recover(context.Background(), "saga-paid")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStuck, status)

	// 已支付订单无法自动回退，不允许任何补偿副作用发生
	assert.Empty(t, f.log.all())
	assert.Equal(t, []string{"saga-paid"}, f.alerts.raised)
}

func TestRecover_LeavesTerminalInstancesAlone(t *testing.T) {
	f := newFixture("")
	require.NoError(t, f.repo.Create(context.Background(), &domain.Instance{
		SagaID:  "saga-done",
		OrderID: "order-1",
		UserID:  "user-1",
		Status:  domain.StatusCompleted,
	}))

	status, err := f.orch.Recover(context.Background(), "saga-done")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, status)
	assert.Empty(t, f.log.all())
}
