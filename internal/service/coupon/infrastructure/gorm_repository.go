// internal/service/coupon/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"database/sql"
	"time"

	"bazaar/internal/service/coupon/domain"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
)

// GormCouponRepository 是 CouponRepository 的 GORM 实现
type GormCouponRepository struct {
	db *gorm.DB
}

// NewGormCouponRepository 创建一个新的 GORM 仓储实例
func NewGormCouponRepository(db *gorm.DB) *GormCouponRepository {
	return &GormCouponRepository{db: db}
}

// FindByCode 使用 GORM 从数据库中查找优惠券
func (r *GormCouponRepository) FindByCode(ctx context.Context, code string) (*domain.UserCoupon, error) {
	var model UserCouponModel
	err := r.db.WithContext(ctx).Where("coupon_code = ?", code).First(&model).Error
	if err != nil {
		if pkgerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCouponNotFound
		}
		return nil, pkgerrors.Wrap(err, "failed to query user coupon")
	}
	return model.toDomain(), nil
}

func (r *GormCouponRepository) FindTemplate(ctx context.Context, templateID int64) (*domain.CouponTemplate, error) {
	var model CouponTemplateModel
	err := r.db.WithContext(ctx).First(&model, templateID).Error
	if err != nil {
		if pkgerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCouponNotFound
		}
		return nil, pkgerrors.Wrap(err, "failed to query coupon template")
	}
	return model.toDomain(), nil
}

// GrantToUser 落库一张新发放的优惠券
func (r *GormCouponRepository) GrantToUser(ctx context.Context, uc *domain.UserCoupon) error {
	model := UserCouponModel{
		CouponCode: uc.CouponCode,
		UserID:     uc.UserID,
		TemplateID: uc.TemplateID,
		Status:     uc.Status,
		ReceivedAt: uc.ReceivedAt,
		ExpiredAt:  uc.ExpiredAt,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return pkgerrors.Wrap(err, "failed to persist granted coupon")
	}
	uc.ID = model.ID
	return nil
}

// MarkUsed 把 UNUSED 的券 CAS 成 USED，并记录核销订单。
// RowsAffected == 0 说明状态已被并发方改走。
func (r *GormCouponRepository) MarkUsed(ctx context.Context, code, orderID string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&UserCouponModel{}).
		Where("coupon_code = ? AND status = ?", code, domain.StatusUnused).
		Updates(map[string]interface{}{
			"status":   domain.StatusUsed,
			"order_id": orderID,
			"used_at":  sql.NullTime{Time: time.Now(), Valid: true},
		})
	if result.Error != nil {
		return false, pkgerrors.Wrap(result.Error, "failed to mark coupon used")
	}
	return result.RowsAffected > 0, nil
}

// MarkUnused 是 MarkUsed 的逆操作，USED→UNUSED 并清掉核销痕迹。
func (r *GormCouponRepository) MarkUnused(ctx context.Context, code string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&UserCouponModel{}).
		Where("coupon_code = ? AND status = ?", code, domain.StatusUsed).
		Updates(map[string]interface{}{
			"status":   domain.StatusUnused,
			"order_id": sql.NullString{},
			"used_at":  sql.NullTime{},
		})
	if result.Error != nil {
		return false, pkgerrors.Wrap(result.Error, "failed to roll back coupon usage")
	}
	return result.RowsAffected > 0, nil
}
