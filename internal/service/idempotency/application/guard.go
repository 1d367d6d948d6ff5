// internal/service/idempotency/application/guard.go
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bazaar/internal/pkg/metrics"
	"bazaar/internal/service/idempotency/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrNotProcessing = errors.New("idempotency record is not in PROCESSING state")

const zombieTimeoutReason = "processing timed out: worker presumed dead"

// Guard 按外部幂等键对逻辑请求去重。
// 同键并发请求由 key 列的唯一约束串行化：只有一个插入成功，
// 输掉竞态的一方重新加载赢家的行，而不是把冲突错误抛给调用方。
type Guard struct {
	repo      domain.Repository
	zombieAge time.Duration
	tracer    trace.Tracer
}

func NewGuard(repo domain.Repository, zombieAge time.Duration, tracer trace.Tracer) *Guard {
	return &Guard{repo: repo, zombieAge: zombieAge, tracer: tracer}
}

// AcquireKey 对外部键做一次幂等判定，返回四种结果之一。
func (g *Guard) AcquireKey(ctx context.Context, key, requestType, userID, entityID string) (*domain.AcquireResult, error) {
	ctx, span := g.tracer.Start(ctx, "idempotency.AcquireKey")
	defer span.End()
	span.SetAttributes(
		attribute.String("idempotency.key", key),
		attribute.String("request.type", requestType),
	)

	// 最多两轮：第一轮输掉插入竞态或重试竞态后，第二轮基于赢家的行判定
	for attempt := 0; attempt < 2; attempt++ {
		rec, err := g.repo.Get(ctx, key)
		if errors.Is(err, domain.ErrKeyNotFound) {
			newRec := domain.NewRecord(key, requestType, userID, entityID)
			if insErr := g.repo.Insert(ctx, newRec); insErr != nil {
				if errors.Is(insErr, domain.ErrDuplicateKey) {
					continue // 输掉竞态，读取赢家的行
				}
				span.RecordError(insErr)
				return nil, insErr
			}
			span.AddEvent("New idempotency record created")
			metrics.IdempotencyHits.WithLabelValues("new").Inc()
			return &domain.AcquireResult{Outcome: domain.OutcomeNewRequest, Record: newRec}, nil
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		switch rec.Status {
		case domain.StatusProcessing:
			if rec.IsZombie(time.Now(), g.zombieAge) {
				// 僵尸请求：原 worker 大概率已死亡，强制置为失败
				if _, failErr := g.repo.Fail(ctx, key, zombieTimeoutReason); failErr != nil {
					span.RecordError(failErr)
					return nil, failErr
				}
				span.AddEvent("Zombie PROCESSING record forced to FAILED")
				metrics.IdempotencyHits.WithLabelValues("zombie").Inc()
				return &domain.AcquireResult{
					Outcome: domain.OutcomeFailed,
					Record:  rec,
					Message: "previous attempt timed out, please retry",
				}, nil
			}
			metrics.IdempotencyHits.WithLabelValues("processing").Inc()
			return &domain.AcquireResult{
				Outcome: domain.OutcomeProcessing,
				Record:  rec,
				Message: "request is already being processed, retry later",
			}, nil

		case domain.StatusCompleted:
			span.AddEvent("Replaying stored response")
			metrics.IdempotencyHits.WithLabelValues("completed").Inc()
			return &domain.AcquireResult{
				Outcome:  domain.OutcomeAlreadyCompleted,
				Record:   rec,
				Response: rec.ResponseData,
			}, nil

		case domain.StatusFailed:
			// 上次失败，原地复用同一行发起新尝试
			ok, resetErr := g.repo.ResetForRetry(ctx, key, requestType, userID, entityID)
			if resetErr != nil {
				span.RecordError(resetErr)
				return nil, resetErr
			}
			if !ok {
				continue // 另一个重试者抢先复位了
			}
			fresh, getErr := g.repo.Get(ctx, key)
			if getErr != nil {
				span.RecordError(getErr)
				return nil, getErr
			}
			span.AddEvent("FAILED record reset for a fresh attempt")
			metrics.IdempotencyHits.WithLabelValues("failed").Inc()
			return &domain.AcquireResult{Outcome: domain.OutcomeNewRequest, Record: fresh}, nil

		default:
			err := fmt.Errorf("unknown idempotency status: %s", rec.Status)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	// 两轮都输掉竞态，按"处理中"对待，让客户端稍后重试
	metrics.IdempotencyHits.WithLabelValues("processing").Inc()
	return &domain.AcquireResult{
		Outcome: domain.OutcomeProcessing,
		Message: "request is already being processed, retry later",
	}, nil
}

// MarkAsCompleted 把 PROCESSING 记录置为 COMPLETED 并存储响应，供后续同键请求原样重放。
func (g *Guard) MarkAsCompleted(ctx context.Context, key string, responseData []byte) error {
	ctx, span := g.tracer.Start(ctx, "idempotency.MarkAsCompleted")
	defer span.End()
	span.SetAttributes(attribute.String("idempotency.key", key))

	ok, err := g.repo.Complete(ctx, key, responseData)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !ok {
		return fmt.Errorf("key %s: %w", key, ErrNotProcessing)
	}
	return nil
}

// MarkAsFailed 把 PROCESSING 记录置为 FAILED 并存储错误信息。
func (g *Guard) MarkAsFailed(ctx context.Context, key, errorMessage string) error {
	ctx, span := g.tracer.Start(ctx, "idempotency.MarkAsFailed")
	defer span.End()
	span.SetAttributes(attribute.String("idempotency.key", key))

	ok, err := g.repo.Fail(ctx, key, errorMessage)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !ok {
		return fmt.Errorf("key %s: %w", key, ErrNotProcessing)
	}
	return nil
}
