// internal/service/inventory/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"time"

	"bazaar/internal/service/inventory/domain"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormInventoryRepository 是 InventoryRepository 的 GORM 实现。
type GormInventoryRepository struct {
	db *gorm.DB
}

func NewGormInventoryRepository(db *gorm.DB) *GormInventoryRepository {
	return &GormInventoryRepository{db: db}
}

func (r *GormInventoryRepository) Get(ctx context.Context, sku string) (*domain.Inventory, error) {
	var m InventoryModel
	err := r.db.WithContext(ctx).Where("sku = ?", sku).First(&m).Error
	if err != nil {
		if pkgerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInventoryNotFound
		}
		return nil, pkgerrors.Wrap(err, "query inventory")
	}
	return toInventoryDomain(&m), nil
}

func (r *GormInventoryRepository) Create(ctx context.Context, inv *domain.Inventory) error {
	m := InventoryModel{
		SKU:           inv.SKU,
		PhysicalStock: inv.PhysicalStock,
		ReservedStock: inv.ReservedStock,
		SafetyStock:   inv.SafetyStock,
		Status:        string(inv.Status),
		LastUpdated:   inv.LastUpdated,
	}
	return pkgerrors.Wrap(r.db.WithContext(ctx).Create(&m).Error, "create inventory")
}

// UpdateWithLock 在单个事务里完成 SELECT ... FOR UPDATE → mutate → UPDATE。
// InnoDB 的行锁保证同一 SKU 上的并发变更完全串行。
func (r *GormInventoryRepository) UpdateWithLock(ctx context.Context, sku string, mutate func(inv *domain.Inventory) error) (*domain.Inventory, error) {
	var result *domain.Inventory
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m InventoryModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("sku = ?", sku).First(&m).Error; err != nil {
			if pkgerrors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrInventoryNotFound
			}
			return pkgerrors.Wrap(err, "lock inventory row")
		}

		inv := toInventoryDomain(&m)
		if err := mutate(inv); err != nil {
			return err
		}

		if err := tx.Model(&InventoryModel{}).Where("sku = ?", sku).Updates(map[string]interface{}{
			"physical_stock": inv.PhysicalStock,
			"reserved_stock": inv.ReservedStock,
			"safety_stock":   inv.SafetyStock,
			"status":         string(inv.Status),
			"last_updated":   inv.LastUpdated,
		}).Error; err != nil {
			return pkgerrors.Wrap(err, "update inventory row")
		}

		result = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GormReservationRepository 是 ReservationRepository 的 GORM 实现。
type GormReservationRepository struct {
	db *gorm.DB
}

func NewGormReservationRepository(db *gorm.DB) *GormReservationRepository {
	return &GormReservationRepository{db: db}
}

func (r *GormReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	m := ReservationModel{
		OrderID:   res.OrderID,
		SKU:       res.SKU,
		Quantity:  res.Quantity,
		Status:    string(res.Status),
		ExpiresAt: res.ExpiresAt,
		CreatedAt: res.CreatedAt,
		UpdatedAt: res.UpdatedAt,
	}
	return pkgerrors.Wrap(r.db.WithContext(ctx).Create(&m).Error, "create reservation")
}

func (r *GormReservationRepository) Get(ctx context.Context, orderID, sku string) (*domain.Reservation, error) {
	var m ReservationModel
	err := r.db.WithContext(ctx).Where("order_id = ? AND sku = ?", orderID, sku).First(&m).Error
	if err != nil {
		return nil, pkgerrors.Wrap(err, "query reservation")
	}
	return toReservationDomain(&m), nil
}

func (r *GormReservationRepository) FindByOrderStatus(ctx context.Context, orderID string, status domain.ReservationStatus) ([]*domain.Reservation, error) {
	var models []*ReservationModel
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, string(status)).
		Find(&models).Error
	if err != nil {
		return nil, pkgerrors.Wrap(err, "query reservations by order")
	}
	out := make([]*domain.Reservation, len(models))
	for i, m := range models {
		out[i] = toReservationDomain(m)
	}
	return out, nil
}

func (r *GormReservationRepository) FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	var models []*ReservationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", string(domain.ReservationActive), now).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, pkgerrors.Wrap(err, "query expired reservations")
	}
	out := make([]*domain.Reservation, len(models))
	for i, m := range models {
		out[i] = toReservationDomain(m)
	}
	return out, nil
}

// TransitionStatus 用条件 UPDATE 实现 CAS：WHERE 里带上旧状态，
// RowsAffected == 0 说明已被并发方抢先改走。
func (r *GormReservationRepository) TransitionStatus(ctx context.Context, orderID, sku string, from, to domain.ReservationStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&ReservationModel{}).
		Where("order_id = ? AND sku = ? AND status = ?", orderID, sku, string(from)).
		Updates(map[string]interface{}{
			"status":     string(to),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, pkgerrors.Wrap(res.Error, "transition reservation status")
	}
	return res.RowsAffected > 0, nil
}
