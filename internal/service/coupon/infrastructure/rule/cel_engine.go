// internal/service/coupon/infrastructure/rule/cel_engine.go
package rule

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// CELRuleEngine 用 CEL 表达式评估优惠模板规则。
// 表达式形如 `order.amount >= 100.0 && user.id != ""`。
// 编译结果按表达式缓存，评估本身无状态、并发安全。
type CELRuleEngine struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func NewCELRuleEngine() (*CELRuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("order", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("user", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &CELRuleEngine{env: env, programs: make(map[string]cel.Program)}, nil
}

// Evaluate 返回 fact 是否满足 ruleExpression。
// 表达式必须求值为 bool，否则视为规则配置错误。
func (e *CELRuleEngine) Evaluate(ruleExpression string, fact map[string]interface{}) (bool, error) {
	prg, err := e.program(ruleExpression)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(fact)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rule %q: %w", ruleExpression, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %q did not evaluate to a boolean", ruleExpression)
	}
	return result, nil
}

func (e *CELRuleEngine) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, iss := e.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %q: %w", expr, iss.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule program %q: %w", expr, err)
	}

	e.mu.Lock()
	e.programs[expr] = prg
	e.mu.Unlock()
	return prg, nil
}
