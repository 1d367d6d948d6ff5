// internal/service/inventory/infrastructure/models.go
package infrastructure

import (
	"time"

	"bazaar/internal/service/inventory/domain"
)

// InventoryModel 对应数据库中的 inventory 表。
type InventoryModel struct {
	SKU           string `gorm:"primaryKey;size:64"`
	PhysicalStock int    `gorm:"not null"`
	ReservedStock int    `gorm:"not null"`
	SafetyStock   int    `gorm:"not null"`
	Status        string `gorm:"size:16"`
	LastUpdated   time.Time
}

func (InventoryModel) TableName() string {
	return "inventory"
}

// ReservationModel 对应数据库中的 inventory_reservation 表，联合主键 order_id + sku。
type ReservationModel struct {
	OrderID   string    `gorm:"primaryKey;size:64"`
	SKU       string    `gorm:"primaryKey;size:64;column:sku"`
	Quantity  int       `gorm:"not null"`
	Status    string    `gorm:"size:16;index:idx_status_expires"`
	ExpiresAt time.Time `gorm:"index:idx_status_expires"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ReservationModel) TableName() string {
	return "inventory_reservation"
}

func toInventoryDomain(m *InventoryModel) *domain.Inventory {
	return &domain.Inventory{
		SKU:           m.SKU,
		PhysicalStock: m.PhysicalStock,
		ReservedStock: m.ReservedStock,
		SafetyStock:   m.SafetyStock,
		Status:        domain.Status(m.Status),
		LastUpdated:   m.LastUpdated,
	}
}

func toReservationDomain(m *ReservationModel) *domain.Reservation {
	return &domain.Reservation{
		OrderID:   m.OrderID,
		SKU:       m.SKU,
		Quantity:  m.Quantity,
		Status:    domain.ReservationStatus(m.Status),
		ExpiresAt: m.ExpiresAt,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
