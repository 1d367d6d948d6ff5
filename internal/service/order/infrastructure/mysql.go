// internal/service/order/infrastructure/mysql.go
package infrastructure

import (
	"context"

	"bazaar/internal/service/order/domain"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOrderRepository 是 OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Save 保存订单聚合，商品行随主表一起 upsert。
func (r *GormOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	model := toModel(order)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"coupon_code", "total_amount", "final_amount", "state", "updated_at",
		}),
	}).Create(model).Error
	if err != nil {
		return pkgerrors.Wrap(err, "failed to save order")
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Preload("Items").First(&model, "id = ?", id).Error
	if err != nil {
		if pkgerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, pkgerrors.Wrap(err, "failed to query order")
	}
	return model.toDomain(), nil
}

// TransitionState 用条件更新做 CAS 状态迁移，
// RowsAffected == 0 说明当前状态已不是 from。
func (r *GormOrderRepository) TransitionState(ctx context.Context, id string, from, to domain.State) (bool, error) {
	result := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND state = ?", id, from).
		Update("state", to)
	if result.Error != nil {
		return false, pkgerrors.Wrap(result.Error, "failed to transition order state")
	}
	return result.RowsAffected > 0, nil
}
