// internal/service/coupon/domain/coupon.go
package domain

import (
	"errors"
	"time"
)

var (
	ErrCouponNotFound  = errors.New("coupon not found")
	ErrCouponNotUsable = errors.New("coupon is not in a usable state")
	ErrCouponNotUsed   = errors.New("coupon is not in USED state")
	ErrNotEligible     = errors.New("order does not satisfy the coupon rule")
)

// UserCouponStatus 定义了用户优惠券的生命周期状态。
type UserCouponStatus string

const (
	StatusUnused  UserCouponStatus = "UNUSED"
	StatusUsed    UserCouponStatus = "USED"
	StatusExpired UserCouponStatus = "EXPIRED"
)

// UserCoupon 代表用户持有的一张具体的优惠券实例。
type UserCoupon struct {
	ID         int64
	CouponCode string
	UserID     string
	Status     UserCouponStatus
	OrderID    string
	ReceivedAt time.Time
	UsedAt     time.Time
	ExpiredAt  time.Time

	// 指向特定版本的优惠模板：领取后管理员修改活动规则
	// 不影响已发出的券的权益。
	TemplateID int64
}

// IsAvailable 检查优惠券当前是否可用（非终态且未过期）。
func (uc *UserCoupon) IsAvailable() bool {
	return uc.Status == StatusUnused && time.Now().Before(uc.ExpiredAt)
}

// CouponTemplate 是一类优惠券的模板定义。
type CouponTemplate struct {
	ID             int64
	TemplateCode   string
	Name           string
	DiscountValue  float64
	Quota          int64  // 限量发放的硬上限
	RuleExpression string // CEL 表达式，如 `order.amount >= 100.0`
	ValidDays      int
	Status         int
}
