// internal/service/order/application/service.go
package application

import (
	"context"
	"fmt"
	"time"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/service/order/domain"
	"bazaar/internal/service/order/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OrderApplicationService 只关注业务流程编排：
// 建单、预占库存、状态流转和事件发布。
type OrderApplicationService struct {
	orderRepo     domain.OrderRepository
	inventory     port.InventoryService
	publisher     port.EventPublisher
	paymentWindow time.Duration
	tracer        trace.Tracer
}

func NewOrderApplicationService(orderRepo domain.OrderRepository, inventory port.InventoryService, publisher port.EventPublisher, paymentWindow time.Duration, tracer trace.Tracer) *OrderApplicationService {
	return &OrderApplicationService{
		orderRepo:     orderRepo,
		inventory:     inventory,
		publisher:     publisher,
		paymentWindow: paymentWindow,
		tracer:        tracer,
	}
}

// CreateOrder 创建订单并为每个商品行预占库存。
// 预占是全有或全无的：任一 SKU 失败，整个订单标记为 FAILED。
func (s *OrderApplicationService) CreateOrder(ctx context.Context, cmd *CreateOrderCommand) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder")
	defer span.End()

	orderID := cmd.OrderID
	if orderID == "" {
		orderID = uuid.New().String()
	}
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.String("user.id", cmd.UserID),
	)

	items := make([]domain.OrderItem, 0, len(cmd.Items))
	reserveItems := make(map[string]int, len(cmd.Items))
	for _, item := range cmd.Items {
		items = append(items, domain.OrderItem{SKU: item.SKU, Quantity: item.Quantity, Price: item.Price})
		reserveItems[item.SKU] += item.Quantity
	}

	orderEntity, err := domain.NewOrder(orderID, cmd.UserID, items, cmd.CouponCode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create order entity")
		return nil, err
	}

	// 1. 初始持久化，CREATED 状态
	if err := s.orderRepo.Save(ctx, orderEntity); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save initial order")
		return nil, fmt.Errorf("failed to save order %s: %w", orderID, err)
	}
	span.AddEvent("Initial order saved with CREATED state")

	// 2. 预占库存
	if err := s.inventory.ReserveForOrder(ctx, orderID, reserveItems); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to reserve inventory")
		if _, failErr := s.orderRepo.TransitionState(ctx, orderID, domain.StateCreated, domain.StateFailed); failErr != nil {
			logger.Ctx(ctx).Error().Err(failErr).Str("order_id", orderID).Msg("CRITICAL: failed to mark order FAILED after reservation failure")
		}
		return nil, fmt.Errorf("failed to reserve inventory for order %s: %w", orderID, err)
	}

	// 3. 进入待支付
	ok, err := s.orderRepo.TransitionState(ctx, orderID, domain.StateCreated, domain.StatePendingPayment)
	if err != nil || !ok {
		if err == nil {
			err = domain.ErrInvalidTransition
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to move order to pending payment")
		s.releaseQuietly(ctx, orderID)
		return nil, fmt.Errorf("failed to move order %s to pending payment: %w", orderID, err)
	}
	orderEntity.State = domain.StatePendingPayment

	// 事件发布失败不阻断主流程
	now := time.Now()
	if err := s.publisher.PublishOrderPlaced(ctx, &domain.OrderPlaced{
		OrderID:      orderID,
		UserID:       cmd.UserID,
		TotalAmount:  orderEntity.TotalAmount,
		PlacedAt:     now,
		PaymentDueBy: now.Add(s.paymentWindow),
	}); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Msg("Failed to publish OrderPlaced event")
	}

	logger.Ctx(ctx).Info().Str("order_id", orderID).Str("user_id", cmd.UserID).Msg("Order created, inventory reserved, pending payment")
	span.AddEvent("Order is pending payment")
	return orderEntity, nil
}

// CancelOrder 取消一个待支付订单并释放它的库存预占。
// CAS 保证与支付编排互斥：支付一旦把订单改走，这里就会失败。
func (s *OrderApplicationService) CancelOrder(ctx context.Context, orderID, reason string) error {
	ctx, span := s.tracer.Start(ctx, "order.CancelOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	orderEntity, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	ok, err := s.orderRepo.TransitionState(ctx, orderID, domain.StatePendingPayment, domain.StateCancelled)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}
	if !ok {
		err := fmt.Errorf("order %s: %s -> %s: %w", orderID, orderEntity.State, domain.StateCancelled, domain.ErrInvalidTransition)
		span.RecordError(err)
		return err
	}

	if err := s.inventory.ReleaseForOrder(ctx, orderID); err != nil {
		// 预占最终会被回收器兜底
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("Failed to release reservations for cancelled order")
	}

	if err := s.publisher.PublishOrderCancelled(ctx, &domain.OrderCancelled{
		OrderID:     orderID,
		UserID:      orderEntity.UserID,
		Reason:      reason,
		CancelledAt: time.Now(),
	}); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Msg("Failed to publish OrderCancelled event")
	}

	logger.Ctx(ctx).Info().Str("order_id", orderID).Str("reason", reason).Msg("Order cancelled")
	return nil
}

// GetOrder 查询订单聚合。
func (s *OrderApplicationService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.orderRepo.FindByID(ctx, orderID)
}

// MarkPaid 把待支付订单置为 PAID，由支付编排在全部步骤成功后调用。
func (s *OrderApplicationService) MarkPaid(ctx context.Context, orderID string) error {
	ctx, span := s.tracer.Start(ctx, "order.MarkPaid")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	ok, err := s.orderRepo.TransitionState(ctx, orderID, domain.StatePendingPayment, domain.StatePaid)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark order %s paid: %w", orderID, err)
	}
	if !ok {
		err := fmt.Errorf("order %s is not pending payment: %w", orderID, domain.ErrInvalidTransition)
		span.RecordError(err)
		return err
	}

	orderEntity, findErr := s.orderRepo.FindByID(ctx, orderID)
	if findErr == nil {
		if err := s.publisher.PublishOrderPaid(ctx, &domain.OrderPaid{
			OrderID:    orderID,
			UserID:     orderEntity.UserID,
			PaidAmount: orderEntity.FinalAmount,
			PaidAt:     time.Now(),
		}); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Msg("Failed to publish OrderPaid event")
		}
	}

	logger.Ctx(ctx).Info().Str("order_id", orderID).Msg("Order marked as paid")
	return nil
}

// MarkCancelled 是 MarkPaid 路径上游失败后的补偿：
// 待支付订单被置为 CANCELLED，预占一并释放。
func (s *OrderApplicationService) MarkCancelled(ctx context.Context, orderID, reason string) error {
	return s.CancelOrder(ctx, orderID, reason)
}

func (s *OrderApplicationService) releaseQuietly(ctx context.Context, orderID string) {
	if err := s.inventory.ReleaseForOrder(ctx, orderID); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("Failed to release reservations during rollback")
	}
}
