// cmd/coupon-worker/main.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"

	"bazaar/internal/pkg/bootstrap"
	"bazaar/internal/pkg/config"
	"bazaar/internal/pkg/db"
	"bazaar/internal/pkg/logger"
	"bazaar/internal/pkg/mq"
	"bazaar/internal/pkg/redis"
	couponapp "bazaar/internal/service/coupon/application"
	couponinfra "bazaar/internal/service/coupon/infrastructure"
	"bazaar/internal/service/coupon/port"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
)

const serviceName = "coupon-worker"

// main 是发券服务的组装根：
// 入口流量经 Kafka 队列削峰，限量判定全部走 Redis 原子命令。
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Init(serviceName)
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	cfg.ServiceName = serviceName

	redisClient, err := redis.NewClient(cfg.Redis.Addrs)
	if err != nil {
		logger.Init(serviceName)
		logger.L().Fatal().Err(err).Msg("failed to initialize redis client")
	}
	defer redisClient.Close()

	gormDB, err := db.Open(cfg)
	if err != nil {
		logger.Init(serviceName)
		logger.L().Fatal().Err(err).Msg("failed to open mysql")
	}
	if err := gormDB.AutoMigrate(&couponinfra.CouponTemplateModel{}, &couponinfra.UserCouponModel{}); err != nil {
		logger.Init(serviceName)
		logger.L().Fatal().Err(err).Msg("failed to run schema migration")
	}

	tracer := otel.Tracer(serviceName)

	store := couponinfra.NewRedisCounterSetStore(redisClient)
	couponRepo := couponinfra.NewGormCouponRepository(gormDB)
	issuer := couponapp.NewQuotaIssuer(store, couponRepo, cfg.Coordination.CouponStateTTL.Std(), tracer)

	reader := mq.NewKafkaReader(strings.Split(cfg.Kafka.Brokers, ","),
		cfg.Kafka.CouponIssueTopic, cfg.Kafka.CouponWorkerGroup)
	consumer := couponinfra.NewIssueConsumerAdapter(reader, issuer)

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	consumer.Start(consumerCtx)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Cfg:         cfg,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			registerRoutes(appCtx.Mux, issuer)
		},
		OnShutdown: func(ctx context.Context) {
			cancelConsumer()
			consumer.Stop()
		},
	})
}

func registerRoutes(mux *http.ServeMux, issuer *couponapp.QuotaIssuer) {
	mux.HandleFunc("/coupons/initialize", func(w http.ResponseWriter, r *http.Request) {
		couponID := r.URL.Query().Get("couponId")
		quota, err := strconv.ParseInt(r.URL.Query().Get("quota"), 10, 64)
		if couponID == "" || err != nil || quota <= 0 {
			http.Error(w, "couponId and a positive quota are required", http.StatusBadRequest)
			return
		}
		if err := issuer.Initialize(r.Context(), couponID, quota); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/coupons/issue", func(w http.ResponseWriter, r *http.Request) {
		couponID := r.URL.Query().Get("couponId")
		userID := r.URL.Query().Get("userId")
		if couponID == "" || userID == "" {
			http.Error(w, "couponId and userId are required", http.StatusBadRequest)
			return
		}

		remaining, err := issuer.Issue(r.Context(), couponID, userID)
		switch {
		case err == nil:
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{"issued": true, "remaining": remaining})
		case pkgerrors.Is(err, port.ErrExhausted):
			http.Error(w, "coupon quota exhausted", http.StatusGone)
		case pkgerrors.Is(err, port.ErrAlreadyIssued):
			http.Error(w, "coupon already issued to this user", http.StatusConflict)
		case pkgerrors.Is(err, port.ErrQuotaUninitialized):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	mux.HandleFunc("/coupons/remaining", func(w http.ResponseWriter, r *http.Request) {
		couponID := r.URL.Query().Get("couponId")
		remaining, err := issuer.Remaining(r.Context(), couponID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"remaining": remaining})
	})
}
