// internal/service/payment/application/saga/orchestrator.go
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/service/payment/domain"
	"bazaar/internal/service/payment/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// 编排的五个固定步骤。顺序即执行顺序，补偿按日志逆序。
const (
	StepValidateOrder    = "validate-order"
	StepDeductBalance    = "deduct-balance"
	StepConfirmInventory = "confirm-inventory"
	StepUseCoupon        = "use-coupon"
	StepMarkPaid         = "mark-paid"
)

const cancelReason = "payment failed"

// Orchestrator 驱动一次支付的完整编排。
// 每一步的副作用先提交、后记日志；任一步失败即按日志逆序补偿。
type Orchestrator struct {
	repo      domain.SagaRepository
	runner    *Runner
	orders    port.OrderPort
	balance   port.BalancePort
	inventory port.InventoryPort
	coupons   port.CouponPort
	notifier  port.NotificationPort
	alerts    port.AlertPort
	tracer    trace.Tracer
}

func NewOrchestrator(repo domain.SagaRepository, orders port.OrderPort, balance port.BalancePort, inventory port.InventoryPort, coupons port.CouponPort, notifier port.NotificationPort, alerts port.AlertPort, tracer trace.Tracer) *Orchestrator {
	return &Orchestrator{
		repo:      repo,
		runner:    NewRunner(repo, tracer),
		orders:    orders,
		balance:   balance,
		inventory: inventory,
		coupons:   coupons,
		notifier:  notifier,
		alerts:    alerts,
		tracer:    tracer,
	}
}

// Result 是一次编排的最终结论。
type Result struct {
	SagaID     string
	OrderID    string
	Status     domain.Status
	PaidAmount float64
}

// execState 在步骤之间传递正向操作产出的补偿素材。
type execState struct {
	payable   *port.PayableOrder
	confirmed map[string]int
}

// Execute 对一个待支付订单执行支付编排。
// 返回的 error 非 nil 时，Result.Status 指明是 FAILED 还是 STUCK。
func (o *Orchestrator) Execute(ctx context.Context, orderID, userID string) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "payment.saga.Execute")
	defer span.End()

	instance := &domain.Instance{
		SagaID:    uuid.New().String(),
		OrderID:   orderID,
		UserID:    userID,
		Status:    domain.StatusRunning,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	span.SetAttributes(
		attribute.String("saga.id", instance.SagaID),
		attribute.String("order.id", orderID),
	)

	if err := o.repo.Create(ctx, instance); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create saga instance")
		return nil, fmt.Errorf("failed to create saga instance for order %s: %w", orderID, err)
	}

	st := &execState{}
	status, runErr := o.runner.Run(ctx, instance, o.buildSteps(orderID, userID, st))

	result := &Result{
		SagaID:  instance.SagaID,
		OrderID: orderID,
		Status:  status,
	}
	if st.payable != nil {
		result.PaidAmount = st.payable.FinalAmount
	}

	o.report(ctx, instance, st, runErr)

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, string(status))
		return result, runErr
	}
	span.AddEvent("Payment saga completed")
	return result, nil
}

// buildSteps 返回固定的五步编排。
// use-coupon 在订单没有券码时是显式的空转步骤，日志里依然留痕。
func (o *Orchestrator) buildSteps(orderID, userID string, st *execState) []Step {
	return []Step{
		{
			Name: StepValidateOrder,
			Forward: func(ctx context.Context) error {
				payable, err := o.orders.GetPayable(ctx, orderID)
				if err != nil {
					return err
				}
				if payable.UserID != userID {
					return fmt.Errorf("order %s does not belong to user %s", orderID, userID)
				}
				st.payable = payable
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return o.orders.MarkCancelled(ctx, orderID, cancelReason)
			},
		},
		{
			Name: StepDeductBalance,
			Forward: func(ctx context.Context) error {
				return o.balance.Deduct(ctx, userID, st.payable.FinalAmount)
			},
			Compensate: func(ctx context.Context) error {
				if st.payable == nil {
					return fmt.Errorf("order %s final amount unknown, cannot refund balance", orderID)
				}
				return o.balance.Refund(ctx, userID, st.payable.FinalAmount)
			},
		},
		{
			Name: StepConfirmInventory,
			Forward: func(ctx context.Context) error {
				confirmed, err := o.inventory.ConfirmForOrder(ctx, orderID)
				if err != nil {
					return err
				}
				st.confirmed = confirmed
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return o.inventory.RestoreForOrder(ctx, orderID, st.confirmed)
			},
		},
		{
			Name: StepUseCoupon,
			Forward: func(ctx context.Context) error {
				if st.payable.CouponCode == "" {
					return nil
				}
				return o.coupons.MarkUsed(ctx, st.payable.CouponCode, orderID, st.payable.FinalAmount)
			},
			Compensate: func(ctx context.Context) error {
				if st.payable == nil || st.payable.CouponCode == "" {
					return nil
				}
				return o.coupons.MarkUnused(ctx, st.payable.CouponCode)
			},
		},
		{
			Name: StepMarkPaid,
			Forward: func(ctx context.Context) error {
				return o.orders.MarkPaid(ctx, orderID)
			},
			Compensate: func(ctx context.Context) error {
				// 已支付订单无法自动回退，只能人工处理
				return fmt.Errorf("order %s is already paid and cannot be unwound automatically", orderID)
			},
		},
	}
}

// Recover 处理崩溃后残留的 RUNNING 实例：
// 按持久化日志逆序补偿已提交的步骤，把实例收敛到 FAILED 或 STUCK。
func (o *Orchestrator) Recover(ctx context.Context, sagaID string) (domain.Status, error) {
	ctx, span := o.tracer.Start(ctx, "payment.saga.Recover")
	defer span.End()
	span.SetAttributes(attribute.String("saga.id", sagaID))

	instance, err := o.repo.Get(ctx, sagaID)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if instance.Status != domain.StatusRunning {
		return instance.Status, nil
	}

	// 订单金额或已确认数量拿不到时中止本轮恢复，留给下一次扫描；
	// mark-paid 已落日志的实例不需要这些素材，补偿直接收敛到 STUCK。
	st := &execState{}
	if !instance.HasCompleted(StepMarkPaid) {
		payable, perr := o.orders.GetPayable(ctx, instance.OrderID)
		if perr != nil {
			span.RecordError(perr)
			return instance.Status, fmt.Errorf("saga %s: failed to load order %s for recovery: %w", sagaID, instance.OrderID, perr)
		}
		st.payable = payable

		confirmed, cerr := o.inventory.ConfirmedForOrder(ctx, instance.OrderID)
		if cerr != nil {
			span.RecordError(cerr)
			return instance.Status, fmt.Errorf("saga %s: failed to load confirmed reservations of order %s for recovery: %w", sagaID, instance.OrderID, cerr)
		}
		st.confirmed = confirmed
	}

	steps := o.buildSteps(instance.OrderID, instance.UserID, st)
	var committed []Step
	for _, step := range steps {
		if instance.HasCompleted(step.Name) {
			committed = append(committed, step)
		}
	}

	cause := &domain.ExecutionError{
		SagaID: instance.SagaID,
		Step:   "recovery",
		Err:    errors.New("saga interrupted before completion"),
	}
	status := o.runner.compensate(ctx, instance, committed, cause)
	o.report(ctx, instance, st, cause)

	logger.Ctx(ctx).Info().
		Str("saga_id", sagaID).
		Str("order_id", instance.OrderID).
		Str("status", string(status)).
		Msg("Interrupted saga recovered")
	return status, nil
}

// report 发出结果通知与告警，全部尽力而为。
func (o *Orchestrator) report(ctx context.Context, instance *domain.Instance, st *execState, runErr error) {
	switch instance.Status {
	case domain.StatusCompleted:
		var amount float64
		if st.payable != nil {
			amount = st.payable.FinalAmount
		}
		if o.notifier != nil {
			if err := o.notifier.PaymentSucceeded(ctx, instance.OrderID, instance.UserID, amount); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("order_id", instance.OrderID).Msg("Failed to send payment success notification")
			}
		}
	case domain.StatusFailed:
		reason := instance.FailureReason
		if reason == "" && runErr != nil {
			reason = runErr.Error()
		}
		if o.notifier != nil {
			if err := o.notifier.PaymentFailed(ctx, instance.OrderID, instance.UserID, reason); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("order_id", instance.OrderID).Msg("Failed to send payment failure notification")
			}
		}
	case domain.StatusStuck:
		if o.alerts != nil {
			if err := o.alerts.SagaStuck(ctx, instance.SagaID, instance.OrderID, instance.FailedStep, instance.FailureReason); err != nil {
				logger.Ctx(ctx).Error().Err(err).Str("saga_id", instance.SagaID).Msg("CRITICAL: failed to raise stuck saga alert")
			}
		}
	}
}
