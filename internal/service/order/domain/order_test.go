package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrder_ComputesTotalAmount(t *testing.T) {
	order, err := NewOrder("order-1", "user-1", []OrderItem{
		{SKU: "sku-a", Quantity: 2, Price: 30},
		{SKU: "sku-b", Quantity: 1, Price: 15.5},
	}, "")
	require.NoError(t, err)

	assert.Equal(t, 75.5, order.TotalAmount)
	assert.Equal(t, 75.5, order.FinalAmount)
	assert.Equal(t, StateCreated, order.State)
}

func TestNewOrder_RejectsInvalidInput(t *testing.T) {
	_, err := NewOrder("", "user-1", []OrderItem{{SKU: "sku-a", Quantity: 1}}, "")
	assert.ErrorIs(t, err, ErrEmptyOrder)

	_, err = NewOrder("order-1", "user-1", nil, "")
	assert.ErrorIs(t, err, ErrEmptyOrder)

	_, err = NewOrder("order-1", "user-1", []OrderItem{{SKU: "sku-a", Quantity: 0}}, "")
	assert.ErrorIs(t, err, ErrEmptyOrder)
}

func TestStateMachine_AllowsOnlyDeclaredTransitions(t *testing.T) {
	cases := []struct {
		from    State
		to      State
		allowed bool
	}{
		{StateCreated, StatePendingPayment, true},
		{StateCreated, StateCancelled, true},
		{StateCreated, StatePaid, false},
		{StatePendingPayment, StatePaid, true},
		{StatePendingPayment, StateCancelled, true},
		{StatePaid, StateCancelled, false},
		{StateCancelled, StatePendingPayment, false},
		{StateFailed, StateCreated, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStateMachine_TerminalStates(t *testing.T) {
	assert.True(t, StatePaid.IsTerminal())
	assert.True(t, StateCancelled.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateCreated.IsTerminal())
	assert.False(t, StatePendingPayment.IsTerminal())
}

func TestApplyDiscount_NeverGoesNegative(t *testing.T) {
	order, err := NewOrder("order-1", "user-1", []OrderItem{{SKU: "sku-a", Quantity: 1, Price: 10}}, "CPN-1")
	require.NoError(t, err)

	order.ApplyDiscount(25)
	assert.Equal(t, 0.0, order.FinalAmount)
}
