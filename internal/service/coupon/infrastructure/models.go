// internal/service/coupon/infrastructure/models.go
package infrastructure

import (
	"database/sql"
	"time"

	"bazaar/internal/service/coupon/domain"
)

// CouponTemplateModel 对应数据库中的 coupon_template 表
type CouponTemplateModel struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	TemplateCode   string `gorm:"uniqueIndex;size:64"`
	Name           string
	DiscountValue  float64 `gorm:"type:decimal(10,2)"`
	Quota          int64
	RuleExpression string `gorm:"type:text"`
	ValidDays      int
	Status         int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName 指定 GORM 应该使用的表名
func (CouponTemplateModel) TableName() string {
	return "coupon_template"
}

// UserCouponModel 对应数据库中的 user_coupon 表
type UserCouponModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	CouponCode string `gorm:"uniqueIndex;size:64"`
	UserID     string `gorm:"index;size:64"`
	TemplateID int64
	Status     domain.UserCouponStatus `gorm:"size:16;default:UNUSED"`
	OrderID    sql.NullString          `gorm:"size:64"`
	ReceivedAt time.Time
	UsedAt     sql.NullTime
	ExpiredAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName 指定 GORM 应该使用的表名
func (UserCouponModel) TableName() string {
	return "user_coupon"
}

func (m *UserCouponModel) toDomain() *domain.UserCoupon {
	uc := &domain.UserCoupon{
		ID:         m.ID,
		CouponCode: m.CouponCode,
		UserID:     m.UserID,
		Status:     m.Status,
		ReceivedAt: m.ReceivedAt,
		ExpiredAt:  m.ExpiredAt,
		TemplateID: m.TemplateID,
	}
	if m.OrderID.Valid {
		uc.OrderID = m.OrderID.String
	}
	if m.UsedAt.Valid {
		uc.UsedAt = m.UsedAt.Time
	}
	return uc
}

func (m *CouponTemplateModel) toDomain() *domain.CouponTemplate {
	return &domain.CouponTemplate{
		ID:             m.ID,
		TemplateCode:   m.TemplateCode,
		Name:           m.Name,
		DiscountValue:  m.DiscountValue,
		Quota:          m.Quota,
		RuleExpression: m.RuleExpression,
		ValidDays:      m.ValidDays,
		Status:         m.Status,
	}
}
