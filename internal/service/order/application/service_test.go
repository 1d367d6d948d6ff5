package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bazaar/internal/service/order/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

type memOrderRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.Order
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{rows: make(map[string]*domain.Order)}
}

func (r *memOrderRepo) Save(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *order
	r.rows[order.ID] = &cp
	return nil
}

func (r *memOrderRepo) FindByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *memOrderRepo) TransitionState(_ context.Context, id string, from, to domain.State) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.State != from {
		return false, nil
	}
	row.State = to
	return true, nil
}

func (r *memOrderRepo) stateOf(id string) domain.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id].State
}

type fakeInventoryPort struct {
	mu          sync.Mutex
	reserved    map[string]map[string]int
	failReserve bool
	released    []string
}

func newFakeInventoryPort() *fakeInventoryPort {
	return &fakeInventoryPort{reserved: make(map[string]map[string]int)}
}

func (f *fakeInventoryPort) ReserveForOrder(_ context.Context, orderID string, items map[string]int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReserve {
		return errors.New("insufficient stock")
	}
	f.reserved[orderID] = items
	return nil
}

func (f *fakeInventoryPort) ReleaseForOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.reserved, orderID)
	f.released = append(f.released, orderID)
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	placed    int
	paid      int
	cancelled int
}

func (f *fakePublisher) PublishOrderPlaced(_ context.Context, _ *domain.OrderPlaced) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed++
	return nil
}

func (f *fakePublisher) PublishOrderPaid(_ context.Context, _ *domain.OrderPaid) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paid++
	return nil
}

func (f *fakePublisher) PublishOrderCancelled(_ context.Context, _ *domain.OrderCancelled) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
	return nil
}

func newTestOrderService() (*OrderApplicationService, *memOrderRepo, *fakeInventoryPort, *fakePublisher) {
	repo := newMemOrderRepo()
	inventory := newFakeInventoryPort()
	publisher := &fakePublisher{}
	svc := NewOrderApplicationService(repo, inventory, publisher, 15*time.Minute, otel.Tracer("test"))
	return svc, repo, inventory, publisher
}

func sampleCommand() *CreateOrderCommand {
	return &CreateOrderCommand{
		OrderID: "order-1",
		UserID:  "user-1",
		Items: []OrderItemInput{
			{SKU: "sku-a", Quantity: 2, Price: 30},
			{SKU: "sku-b", Quantity: 1, Price: 20},
		},
	}
}

func TestCreateOrder_ReservesStockAndMovesToPendingPayment(t *testing.T) {
	svc, repo, inventory, publisher := newTestOrderService()

	orderEntity, err := svc.CreateOrder(context.Background(), sampleCommand())
	require.NoError(t, err)

	assert.Equal(t, domain.StatePendingPayment, orderEntity.State)
	assert.Equal(t, 80.0, orderEntity.TotalAmount)
	assert.Equal(t, domain.StatePendingPayment, repo.stateOf("order-1"))
	assert.Equal(t, map[string]int{"sku-a": 2, "sku-b": 1}, inventory.reserved["order-1"])
	assert.Equal(t, 1, publisher.placed)
}

func TestCreateOrder_ReservationFailureMarksOrderFailed(t *testing.T) {
	svc, repo, inventory, publisher := newTestOrderService()
	inventory.failReserve = true

	_, err := svc.CreateOrder(context.Background(), sampleCommand())
	require.Error(t, err)

	assert.Equal(t, domain.StateFailed, repo.stateOf("order-1"))
	assert.Empty(t, inventory.reserved)
	assert.Zero(t, publisher.placed)
}

func TestCancelOrder_ReleasesReservationsAndPublishes(t *testing.T) {
	svc, repo, inventory, publisher := newTestOrderService()
	_, err := svc.CreateOrder(context.Background(), sampleCommand())
	require.NoError(t, err)

	require.NoError(t, svc.CancelOrder(context.Background(), "order-1", "cancelled by user"))

	assert.Equal(t, domain.StateCancelled, repo.stateOf("order-1"))
	assert.Equal(t, []string{"order-1"}, inventory.released)
	assert.Equal(t, 1, publisher.cancelled)
}

func TestCancelOrder_RejectsPaidOrder(t *testing.T) {
	svc, repo, _, _ := newTestOrderService()
	_, err := svc.CreateOrder(context.Background(), sampleCommand())
	require.NoError(t, err)
	require.NoError(t, svc.MarkPaid(context.Background(), "order-1"))

	err = svc.CancelOrder(context.Background(), "order-1", "too late")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.StatePaid, repo.stateOf("order-1"))
}

func TestMarkPaid_RequiresPendingPayment(t *testing.T) {
	svc, repo, _, publisher := newTestOrderService()
	_, err := svc.CreateOrder(context.Background(), sampleCommand())
	require.NoError(t, err)

	require.NoError(t, svc.MarkPaid(context.Background(), "order-1"))
	assert.Equal(t, domain.StatePaid, repo.stateOf("order-1"))
	assert.Equal(t, 1, publisher.paid)

	err = svc.MarkPaid(context.Background(), "order-1")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}
