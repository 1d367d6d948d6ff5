// internal/service/inventory/application/service.go
package application

import (
	"context"
	"fmt"
	"sort"
	"time"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/service/inventory/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InventoryService 实现库存预占状态机。
// 五个基础操作都在持有目标 SKU 行锁的事务里完成读-改-写，要么全部生效要么全部回滚。
type InventoryService struct {
	invRepo        domain.InventoryRepository
	resRepo        domain.ReservationRepository
	reservationTTL time.Duration
	tracer         trace.Tracer
}

func NewInventoryService(invRepo domain.InventoryRepository, resRepo domain.ReservationRepository, reservationTTL time.Duration, tracer trace.Tracer) *InventoryService {
	return &InventoryService{
		invRepo:        invRepo,
		resRepo:        resRepo,
		reservationTTL: reservationTTL,
		tracer:         tracer,
	}
}

// Reserve 预占库存。可用库存不足时返回 domain.ErrInsufficientStock。
func (s *InventoryService) Reserve(ctx context.Context, sku string, qty int) (*domain.Inventory, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.Reserve")
	defer span.End()
	span.SetAttributes(attribute.String("sku", sku), attribute.Int("quantity", qty))

	inv, err := s.invRepo.UpdateWithLock(ctx, sku, func(inv *domain.Inventory) error {
		return inv.Reserve(qty)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve failed")
		return nil, err
	}
	span.AddEvent("Stock reserved")
	return inv, nil
}

// ConfirmReservation 把软锁定转为永久扣减（支付成功时调用）。
func (s *InventoryService) ConfirmReservation(ctx context.Context, sku string, qty int) (*domain.Inventory, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.ConfirmReservation")
	defer span.End()
	span.SetAttributes(attribute.String("sku", sku), attribute.Int("quantity", qty))

	inv, err := s.invRepo.UpdateWithLock(ctx, sku, func(inv *domain.Inventory) error {
		return inv.ConfirmReservation(qty)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirm failed")
		return nil, err
	}
	return inv, nil
}

// CancelReservation 释放软锁定（订单取消或支付失败时调用）。
func (s *InventoryService) CancelReservation(ctx context.Context, sku string, qty int) (*domain.Inventory, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.CancelReservation")
	defer span.End()
	span.SetAttributes(attribute.String("sku", sku), attribute.Int("quantity", qty))

	inv, err := s.invRepo.UpdateWithLock(ctx, sku, func(inv *domain.Inventory) error {
		return inv.CancelReservation(qty)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancel failed")
		return nil, err
	}
	return inv, nil
}

// RestoreStock 把已确认扣减的库存加回（已支付订单的取消/退款）。
func (s *InventoryService) RestoreStock(ctx context.Context, sku string, qty int) (*domain.Inventory, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.RestoreStock")
	defer span.End()
	span.SetAttributes(attribute.String("sku", sku), attribute.Int("quantity", qty))

	inv, err := s.invRepo.UpdateWithLock(ctx, sku, func(inv *domain.Inventory) error {
		return inv.Restore(qty)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return inv, nil
}

// AdjustStock 管理员绝对值调整。newValue 为负时返回 domain.ErrInvalidStockValue。
func (s *InventoryService) AdjustStock(ctx context.Context, sku string, newValue int) (*domain.Inventory, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.AdjustStock")
	defer span.End()
	span.SetAttributes(attribute.String("sku", sku), attribute.Int("new_value", newValue))

	inv, err := s.invRepo.UpdateWithLock(ctx, sku, func(inv *domain.Inventory) error {
		return inv.Adjust(newValue)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("sku", sku).Int("new_value", newValue).Msg("Stock adjusted by administrator")
	return inv, nil
}

// ReserveForOrder 为订单的所有行项目建立预占记录。
// 按 SKU 字典序逐个加锁，避免两个订单以相反顺序竞争同一组 SKU 时互相死锁。
// 任何一项失败都会把已预占的项回滚，调用方看到的是全有或全无。
func (s *InventoryService) ReserveForOrder(ctx context.Context, orderID string, items map[string]int) error {
	ctx, span := s.tracer.Start(ctx, "inventory.ReserveForOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.Int("item.count", len(items)))

	skus := sortedSKUs(items)

	var reserved []string
	for _, sku := range skus {
		qty := items[sku]
		if _, err := s.Reserve(ctx, sku, qty); err != nil {
			s.rollbackPartialReserve(ctx, orderID, reserved, items)
			span.RecordError(err)
			span.SetStatus(codes.Error, "reservation failed, partial holds released")
			return fmt.Errorf("failed to reserve %s x%d for order %s: %w", sku, qty, orderID, err)
		}
		if err := s.resRepo.Create(ctx, domain.NewReservation(orderID, sku, qty, s.reservationTTL)); err != nil {
			// 预占记录写不进去时同样回滚本次已加的软锁定
			if _, cancelErr := s.CancelReservation(ctx, sku, qty); cancelErr != nil {
				logger.Ctx(ctx).Error().Err(cancelErr).Str("sku", sku).Msg("Failed to release hold after reservation record failure")
			}
			s.rollbackPartialReserve(ctx, orderID, reserved, items)
			span.RecordError(err)
			return fmt.Errorf("failed to record reservation for order %s sku %s: %w", orderID, sku, err)
		}
		reserved = append(reserved, sku)
	}

	span.AddEvent("All items reserved")
	return nil
}

// ConfirmForOrder 确认订单的全部 ACTIVE 预占（支付成功）。
// 返回已确认的 (sku -> qty)，供调用方在后续步骤失败时执行补偿。
func (s *InventoryService) ConfirmForOrder(ctx context.Context, orderID string) (map[string]int, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.ConfirmForOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	reservations, err := s.resRepo.FindByOrderStatus(ctx, orderID, domain.ReservationActive)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(reservations) == 0 {
		err := fmt.Errorf("order %s: %w", orderID, domain.ErrReservationNotActive)
		span.RecordError(err)
		return nil, err
	}

	sort.Slice(reservations, func(i, j int) bool { return reservations[i].SKU < reservations[j].SKU })

	confirmed := map[string]int{}
	for _, r := range reservations {
		ok, err := s.resRepo.TransitionStatus(ctx, orderID, r.SKU, domain.ReservationActive, domain.ReservationConfirmed)
		if err != nil {
			s.undoConfirmed(ctx, orderID, confirmed)
			span.RecordError(err)
			return nil, err
		}
		if !ok {
			// 已被清扫任务标记为过期
			s.undoConfirmed(ctx, orderID, confirmed)
			err := fmt.Errorf("order %s sku %s: %w", orderID, r.SKU, domain.ErrReservationNotActive)
			span.RecordError(err)
			return nil, err
		}
		if _, err := s.ConfirmReservation(ctx, r.SKU, r.Quantity); err != nil {
			s.undoConfirmed(ctx, orderID, confirmed)
			span.RecordError(err)
			return nil, err
		}
		confirmed[r.SKU] = r.Quantity
	}

	span.AddEvent("All reservations confirmed")
	return confirmed, nil
}

// ReleaseForOrder 取消订单的全部 ACTIVE 预占（订单取消/超时）。
func (s *InventoryService) ReleaseForOrder(ctx context.Context, orderID string) error {
	ctx, span := s.tracer.Start(ctx, "inventory.ReleaseForOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	reservations, err := s.resRepo.FindByOrderStatus(ctx, orderID, domain.ReservationActive)
	if err != nil {
		span.RecordError(err)
		return err
	}

	sort.Slice(reservations, func(i, j int) bool { return reservations[i].SKU < reservations[j].SKU })

	for _, r := range reservations {
		ok, err := s.resRepo.TransitionStatus(ctx, orderID, r.SKU, domain.ReservationActive, domain.ReservationCancelled)
		if err != nil {
			return err
		}
		if !ok {
			continue // 已被其他流程处理
		}
		if _, err := s.CancelReservation(ctx, r.SKU, r.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// ConfirmedForOrder 返回订单当前处于 CONFIRMED 的 (sku -> qty)，
// 崩溃恢复时据此重建补偿所需的扣减清单。
func (s *InventoryService) ConfirmedForOrder(ctx context.Context, orderID string) (map[string]int, error) {
	reservations, err := s.resRepo.FindByOrderStatus(ctx, orderID, domain.ReservationConfirmed)
	if err != nil {
		return nil, err
	}
	confirmed := make(map[string]int, len(reservations))
	for _, r := range reservations {
		confirmed[r.SKU] = r.Quantity
	}
	return confirmed, nil
}

// RestoreForOrder 把一批已确认扣减的库存加回（补偿路径）。
func (s *InventoryService) RestoreForOrder(ctx context.Context, orderID string, confirmed map[string]int) error {
	ctx, span := s.tracer.Start(ctx, "inventory.RestoreForOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	for _, sku := range sortedSKUs(confirmed) {
		qty := confirmed[sku]
		// 物理库存加回，并重新建立软锁定，使订单回到支付前的状态
		if _, err := s.invRepo.UpdateWithLock(ctx, sku, func(inv *domain.Inventory) error {
			if err := inv.Restore(qty); err != nil {
				return err
			}
			return inv.Reserve(qty)
		}); err != nil {
			return fmt.Errorf("failed to restore %s x%d for order %s: %w", sku, qty, orderID, err)
		}
		if _, err := s.resRepo.TransitionStatus(ctx, orderID, sku, domain.ReservationConfirmed, domain.ReservationActive); err != nil {
			return err
		}
	}
	return nil
}

func (s *InventoryService) rollbackPartialReserve(ctx context.Context, orderID string, reserved []string, items map[string]int) {
	for _, sku := range reserved {
		if _, err := s.resRepo.TransitionStatus(ctx, orderID, sku, domain.ReservationActive, domain.ReservationCancelled); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("sku", sku).Msg("Failed to cancel reservation record during rollback")
			continue
		}
		if _, err := s.CancelReservation(ctx, sku, items[sku]); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("sku", sku).Msg("Failed to release hold during rollback")
		}
	}
}

func (s *InventoryService) undoConfirmed(ctx context.Context, orderID string, confirmed map[string]int) {
	if len(confirmed) == 0 {
		return
	}
	if err := s.RestoreForOrder(ctx, orderID, confirmed); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("CRITICAL: failed to undo partially confirmed reservations")
	}
}

func sortedSKUs(items map[string]int) []string {
	skus := make([]string, 0, len(items))
	for sku := range items {
		skus = append(skus, sku)
	}
	sort.Strings(skus)
	return skus
}
