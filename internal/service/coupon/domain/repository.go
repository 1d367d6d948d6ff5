// internal/service/coupon/domain/repository.go
package domain

import "context"

// RuleEngine 评估优惠模板的适用规则。
// fact 是规则可见的变量集合（订单金额、用户标识等）。
type RuleEngine interface {
	Evaluate(ruleExpression string, fact map[string]interface{}) (bool, error)
}

// CouponRepository 是优惠券持久化的仓储端口。
// MarkUsed / MarkUnused 是 CAS 式条件更新，返回 false 表示状态已被并发方改走。
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (*UserCoupon, error)
	FindTemplate(ctx context.Context, templateID int64) (*CouponTemplate, error)
	GrantToUser(ctx context.Context, uc *UserCoupon) error
	MarkUsed(ctx context.Context, code, orderID string) (bool, error)
	MarkUnused(ctx context.Context, code string) (bool, error)
}
