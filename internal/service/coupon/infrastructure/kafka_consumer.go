// internal/service/coupon/infrastructure/kafka_consumer.go
package infrastructure

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/pkg/mq"
	"bazaar/internal/service/coupon/application"
	"bazaar/internal/service/coupon/port"

	pkgerrors "github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// IssueRequested 是发放请求队列的消息体。
type IssueRequested struct {
	CouponID string `json:"coupon_id"`
	UserID   string `json:"user_id"`
}

// IssueConsumerAdapter 是一个驱动适配器，它监听发放请求队列并驱动限量发放逻辑。
// 削峰用：入口只投递消息，真正的配额判定在这里异步完成。
type IssueConsumerAdapter struct {
	reader  *kafka.Reader
	issuer  *application.QuotaIssuer
	wg      sync.WaitGroup
	stopped bool
}

func NewIssueConsumerAdapter(reader *kafka.Reader, issuer *application.QuotaIssuer) *IssueConsumerAdapter {
	return &IssueConsumerAdapter{reader: reader, issuer: issuer}
}

// Start 开始监听发放请求主题。这是一个长期运行的方法。
func (a *IssueConsumerAdapter) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.L().Info().Str("topic", a.reader.Config().Topic).Msg("Coupon issue consumer started")
		for {
			if a.stopped {
				return
			}
			// 用 FetchMessage 而不是 ReadMessage，便于控制提交时机和退出逻辑
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.L().Info().Msg("Coupon issue consumer shutting down")
					return
				}
				logger.L().Error().Err(err).Msg("Failed to fetch issue request, retrying")
				time.Sleep(1 * time.Second)
				continue
			}

			a.processMessage(ctx, msg)

			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.L().Error().Err(err).Msg("Failed to commit issue request offset")
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (a *IssueConsumerAdapter) Stop() {
	a.stopped = true
	a.reader.Close()
	a.wg.Wait()
	logger.L().Info().Msg("Coupon issue consumer stopped")
}

func (a *IssueConsumerAdapter) processMessage(parentCtx context.Context, msg kafka.Message) {
	var req IssueRequested
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		logger.L().Error().Err(err).Msg("Failed to unmarshal issue request, message skipped")
		return
	}

	propagator := otel.GetTextMapPropagator()
	headerCarrier := mq.KafkaHeaderCarrier(msg.Headers)
	ctx := propagator.Extract(parentCtx, &headerCarrier)

	remaining, err := a.issuer.Issue(ctx, req.CouponID, req.UserID)
	switch {
	case err == nil:
		logger.Ctx(ctx).Info().
			Str("coupon_id", req.CouponID).
			Str("user_id", req.UserID).
			Int64("remaining", remaining).
			Msg("Coupon issued from queue")
	case pkgerrors.Is(err, port.ErrExhausted), pkgerrors.Is(err, port.ErrAlreadyIssued):
		// 业务性拒绝，不重投
		logger.Ctx(ctx).Warn().
			Str("coupon_id", req.CouponID).
			Str("user_id", req.UserID).
			Err(err).
			Msg("Issue request rejected")
	default:
		logger.Ctx(ctx).Error().
			Str("coupon_id", req.CouponID).
			Str("user_id", req.UserID).
			Err(err).
			Msg("Failed to process issue request")
	}
}
