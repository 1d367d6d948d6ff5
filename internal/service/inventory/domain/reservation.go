// internal/service/inventory/domain/reservation.go
package domain

import (
	"errors"
	"time"
)

var ErrReservationNotActive = errors.New("reservation is no longer active")

// ReservationStatus 描述一条预占记录的生命周期。
// CONFIRMED / EXPIRED / CANCELLED 均为终态，不可再变更。
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationExpired   ReservationStatus = "EXPIRED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Reservation 记录某个订单对某个 SKU 的一次库存软锁定。
// 主键为 orderID + SKU。创建后 15 分钟内未被确认则由清扫任务回收。
type Reservation struct {
	OrderID   string
	SKU       string
	Quantity  int
	Status    ReservationStatus
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewReservation 创建一条 ACTIVE 的预占记录。
func NewReservation(orderID, sku string, qty int, ttl time.Duration) *Reservation {
	now := time.Now()
	return &Reservation{
		OrderID:   orderID,
		SKU:       sku,
		Quantity:  qty,
		Status:    ReservationActive,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsExpired 判断预占是否已超过保留时限。
func (r *Reservation) IsExpired(now time.Time) bool {
	return r.Status == ReservationActive && now.After(r.ExpiresAt)
}
