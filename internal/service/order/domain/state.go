// internal/service/order/domain/state.go
package domain

// State 定义了订单的生命周期状态
type State string

const (
	StateCreated        State = "CREATED"         // 订单已落库，库存预占完成
	StatePendingPayment State = "PENDING_PAYMENT" // 等待用户支付
	StatePaid           State = "PAID"            // 支付编排全部成功
	StateCancelled      State = "CANCELLED"       // 已取消（用户主动、支付失败补偿或预占超时）
	StateFailed         State = "FAILED"          // 订单处理失败，不可恢复
)

// transitions 描述了合法的状态迁移，未列出的迁移一律拒绝。
var transitions = map[State][]State{
	StateCreated:        {StatePendingPayment, StateCancelled, StateFailed},
	StatePendingPayment: {StatePaid, StateCancelled, StateFailed},
	StatePaid:           {},
	StateCancelled:      {},
	StateFailed:         {},
}

// CanTransitionTo 判断从当前状态到 target 是否合法。
func (s State) CanTransitionTo(target State) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal 判断状态是否为终态。
func (s State) IsTerminal() bool {
	return len(transitions[s]) == 0
}
