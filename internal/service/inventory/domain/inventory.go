// internal/service/inventory/domain/inventory.go
package domain

import (
	"errors"
	"time"
)

var (
	ErrInventoryNotFound    = errors.New("inventory not found for sku")
	ErrInsufficientStock    = errors.New("insufficient available stock")
	ErrReservationShortfall = errors.New("quantity exceeds reserved stock")
	ErrInvalidStockValue    = errors.New("stock value must not be negative")
)

// Status 是根据可用库存推导出来的展示状态。
type Status string

const (
	StatusInStock    Status = "IN_STOCK"
	StatusLowStock   Status = "LOW_STOCK" // 可用库存 1~5
	StatusOutOfStock Status = "OUT_OF_STOCK"
)

// lowStockThreshold 以下（含）视为低库存。
const lowStockThreshold = 5

// Inventory 是单个 SKU 的库存聚合根。
// 物理库存、预占库存、安全库存三者共同推导出可用库存：
//
//	available = physical - reserved - safety
//
// 不变量: reserved <= physical。所有变更必须在持有该 SKU 行锁的前提下进行。
type Inventory struct {
	SKU           string
	PhysicalStock int
	ReservedStock int
	SafetyStock   int
	Status        Status
	LastUpdated   time.Time
}

// AvailableStock 返回可售数量，决策时不允许为负。
func (i *Inventory) AvailableStock() int {
	available := i.PhysicalStock - i.ReservedStock - i.SafetyStock
	if available < 0 {
		return 0
	}
	return available
}

// Reserve 预占库存（软锁定）：只增加 reserved，不动 physical。
func (i *Inventory) Reserve(qty int) error {
	if qty <= 0 {
		return ErrInvalidStockValue
	}
	if qty > i.PhysicalStock-i.ReservedStock-i.SafetyStock {
		return ErrInsufficientStock
	}
	i.ReservedStock += qty
	i.touch()
	return nil
}

// ConfirmReservation 把软锁定转为永久扣减：physical 和 reserved 同时减少。
func (i *Inventory) ConfirmReservation(qty int) error {
	if qty <= 0 {
		return ErrInvalidStockValue
	}
	if qty > i.ReservedStock {
		return ErrReservationShortfall
	}
	i.PhysicalStock -= qty
	i.ReservedStock -= qty
	i.touch()
	return nil
}

// CancelReservation 释放软锁定，physical 不变。
func (i *Inventory) CancelReservation(qty int) error {
	if qty <= 0 {
		return ErrInvalidStockValue
	}
	if qty > i.ReservedStock {
		return ErrReservationShortfall
	}
	i.ReservedStock -= qty
	i.touch()
	return nil
}

// Restore 把已扣减的物理库存加回来（确认后的订单被取消/退款时使用）。
func (i *Inventory) Restore(qty int) error {
	if qty <= 0 {
		return ErrInvalidStockValue
	}
	i.PhysicalStock += qty
	i.touch()
	return nil
}

// Adjust 管理员绝对值调整物理库存。
func (i *Inventory) Adjust(newValue int) error {
	if newValue < 0 {
		return ErrInvalidStockValue
	}
	i.PhysicalStock = newValue
	i.touch()
	return nil
}

func (i *Inventory) touch() {
	i.Status = deriveStatus(i.PhysicalStock - i.ReservedStock - i.SafetyStock)
	i.LastUpdated = time.Now()
}

func deriveStatus(available int) Status {
	switch {
	case available <= 0:
		return StatusOutOfStock
	case available <= lowStockThreshold:
		return StatusLowStock
	default:
		return StatusInStock
	}
}
