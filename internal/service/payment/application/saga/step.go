// internal/service/payment/application/saga/step.go
package saga

import (
	"context"
	"time"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/pkg/metrics"
	"bazaar/internal/service/payment/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Step 是编排中的一个环节：一个正向操作和它的逆操作。
// Forward 必须在返回 nil 之前提交自己的副作用；
// Compensate 负责撤销 Forward 已提交的副作用。
type Step struct {
	Name       string
	Forward    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Runner 按顺序驱动步骤，维护只追加的步骤日志。
// 日志写入发生在副作用提交之后：宁可崩溃后把成功的步骤再补偿一遍，
// 也不能让日志声称一个从未发生过的副作用。
type Runner struct {
	repo   domain.SagaRepository
	tracer trace.Tracer
}

func NewRunner(repo domain.SagaRepository, tracer trace.Tracer) *Runner {
	return &Runner{repo: repo, tracer: tracer}
}

// Run 依次执行 steps。任一步骤失败即停止推进，
// 按日志逆序补偿已提交的步骤，返回最终状态。
func (r *Runner) Run(ctx context.Context, instance *domain.Instance, steps []Step) (domain.Status, error) {
	for i, step := range steps {
		if err := r.runStep(ctx, instance, step); err != nil {
			execErr := &domain.ExecutionError{SagaID: instance.SagaID, Step: step.Name, Err: err}
			status := r.compensate(ctx, instance, steps[:i], execErr)
			return status, execErr
		}

		// 副作用已提交，落日志。落不进去就当这一步需要撤销：
		// 恢复逻辑只信日志，不能留下"做了但没记"的步骤。
		if err := r.repo.AppendStep(ctx, instance.SagaID, step.Name); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("saga_id", instance.SagaID).
				Str("step", step.Name).
				Msg("Failed to append step to saga log, unwinding committed side effect")
			execErr := &domain.ExecutionError{SagaID: instance.SagaID, Step: step.Name, Err: err}
			status := r.compensate(ctx, instance, steps[:i+1], execErr)
			return status, execErr
		}
		instance.CompletedSteps = append(instance.CompletedSteps, step.Name)
	}

	if err := r.repo.UpdateStatus(ctx, instance.SagaID, domain.StatusCompleted, "", ""); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("saga_id", instance.SagaID).Msg("Failed to persist COMPLETED saga status")
	}
	instance.Status = domain.StatusCompleted
	metrics.SagaCompleted.WithLabelValues(string(domain.StatusCompleted)).Inc()
	return domain.StatusCompleted, nil
}

func (r *Runner) runStep(ctx context.Context, instance *domain.Instance, step Step) error {
	ctx, span := r.tracer.Start(ctx, "saga.step."+step.Name)
	defer span.End()
	span.SetAttributes(
		attribute.String("saga.id", instance.SagaID),
		attribute.String("order.id", instance.OrderID),
	)

	start := time.Now()
	err := step.Forward(ctx)
	metrics.SagaStepDuration.WithLabelValues(step.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "step failed")
		return err
	}
	span.AddEvent("Step committed")
	return nil
}

// compensate 逆序撤销 completed 里的步骤。
// 任何一个补偿失败都意味着系统处于不一致状态，实例被标记为 STUCK。
func (r *Runner) compensate(ctx context.Context, instance *domain.Instance, completed []Step, cause *domain.ExecutionError) domain.Status {
	ctx, span := r.tracer.Start(ctx, "saga.compensate")
	defer span.End()
	span.SetAttributes(attribute.String("saga.id", instance.SagaID))

	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "compensation failed")
			logger.Ctx(ctx).Error().Err(err).
				Str("saga_id", instance.SagaID).
				Str("step", step.Name).
				Msg("CRITICAL: compensation failed, saga is stuck")
			r.finish(ctx, instance, domain.StatusStuck, step.Name, err.Error())
			return domain.StatusStuck
		}
		logger.Ctx(ctx).Info().
			Str("saga_id", instance.SagaID).
			Str("step", step.Name).
			Msg("Step compensated")
	}

	r.finish(ctx, instance, domain.StatusFailed, cause.Step, cause.Err.Error())
	return domain.StatusFailed
}

func (r *Runner) finish(ctx context.Context, instance *domain.Instance, status domain.Status, failedStep, reason string) {
	if err := r.repo.UpdateStatus(ctx, instance.SagaID, status, failedStep, reason); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("saga_id", instance.SagaID).
			Str("status", string(status)).
			Msg("Failed to persist saga status")
	}
	instance.Status = status
	instance.FailedStep = failedStep
	instance.FailureReason = reason
	metrics.SagaCompleted.WithLabelValues(string(status)).Inc()
}
