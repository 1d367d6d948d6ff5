// cmd/order-service/main.go
package main

import (
	"context"
	"os"
	"strings"

	"bazaar/internal/pkg/bootstrap"
	"bazaar/internal/pkg/config"
	"bazaar/internal/pkg/db"
	"bazaar/internal/pkg/logger"
	"bazaar/internal/pkg/mq"
	accountapp "bazaar/internal/service/account/application"
	accountinfra "bazaar/internal/service/account/infrastructure"
	couponapp "bazaar/internal/service/coupon/application"
	couponinfra "bazaar/internal/service/coupon/infrastructure"
	couponrule "bazaar/internal/service/coupon/infrastructure/rule"
	idemapp "bazaar/internal/service/idempotency/application"
	ideminfra "bazaar/internal/service/idempotency/infrastructure"
	invapp "bazaar/internal/service/inventory/application"
	invinfra "bazaar/internal/service/inventory/infrastructure"
	orderapp "bazaar/internal/service/order/application"
	orderinfra "bazaar/internal/service/order/infrastructure"
	"bazaar/internal/service/order/interfaces"
	sagaapp "bazaar/internal/service/payment/application/saga"
	paymentinfra "bazaar/internal/service/payment/infrastructure"
	"bazaar/internal/zookeeper"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const serviceName = "order-service"

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Init(serviceName)
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	cfg.ServiceName = serviceName

	// 1. 基础设施
	gormDB, err := db.Open(cfg)
	if err != nil {
		logger.Init(serviceName)
		logger.L().Fatal().Err(err).Msg("failed to open mysql")
	}
	if err := gormDB.AutoMigrate(
		&invinfra.InventoryModel{}, &invinfra.ReservationModel{},
		&ideminfra.IdempotencyKeyModel{},
		&orderinfra.OrderModel{}, &orderinfra.OrderItemModel{},
		&paymentinfra.SagaInstanceModel{}, &paymentinfra.SagaStepModel{},
		&accountinfra.AccountModel{},
		&couponinfra.CouponTemplateModel{}, &couponinfra.UserCouponModel{},
	); err != nil {
		logger.Init(serviceName)
		logger.L().Fatal().Err(err).Msg("failed to run schema migration")
	}

	zkConn, err := zookeeper.Connect(cfg.Zookeeper.Servers)
	if err != nil {
		logger.Init(serviceName)
		logger.L().Fatal().Err(err).Msg("failed to connect to zookeeper")
	}
	defer zkConn.Close()

	brokers := strings.Split(cfg.Kafka.Brokers, ",")
	orderEventWriter := mq.NewKafkaWriter(brokers, cfg.Kafka.OrderEventTopic)
	defer orderEventWriter.Close()
	paymentEventWriter := mq.NewKafkaWriter(brokers, cfg.Kafka.PaymentEventTopic)
	defer paymentEventWriter.Close()
	alertWriter := mq.NewKafkaWriter(brokers, cfg.Kafka.SagaAlertTopic)
	defer alertWriter.Close()

	tracer := otel.Tracer(serviceName)

	// 2. 库存
	invRepo := invinfra.NewGormInventoryRepository(gormDB)
	resRepo := invinfra.NewGormReservationRepository(gormDB)
	inventoryService := invapp.NewInventoryService(invRepo, resRepo, cfg.Coordination.ReservationTTL.Std(), tracer)

	sweepLeader, err := zookeeper.NewDistributedLock(zkConn, "reservation-sweeper")
	if err != nil {
		logger.Init(serviceName)
		logger.L().Fatal().Err(err).Msg("failed to create sweeper leader lock")
	}
	reservationSweeper := invapp.NewReservationSweeper(inventoryService, resRepo, cfg.Coordination.ReservationSweep.Std(), sweepLeader, tracer)

	// 3. 幂等防护
	idemRepo := ideminfra.NewGormRepository(gormDB)
	guard := idemapp.NewGuard(idemRepo, cfg.Coordination.IdempotencyZombieAge.Std(), tracer)
	idemSweeper := idemapp.NewSweeper(idemRepo,
		cfg.Coordination.IdempotencyZombieAge.Std(), cfg.Coordination.IdempotencyZombieSweep.Std(),
		cfg.Coordination.IdempotencyRetention.Std(), cfg.Coordination.IdempotencyPurgeSweep.Std())

	// 4. 订单与账户
	orderRepo := orderinfra.NewGormOrderRepository(gormDB)
	orderEvents := orderinfra.NewOrderEventProducer(orderEventWriter)
	orderService := orderapp.NewOrderApplicationService(orderRepo, inventoryService, orderEvents, cfg.Coordination.ReservationTTL.Std(), tracer)

	accountRepo := accountinfra.NewGormAccountRepository(gormDB)
	accountService := accountapp.NewAccountService(accountRepo, tracer)

	// 5. 优惠券核销
	ruleEngine, err := couponrule.NewCELRuleEngine()
	if err != nil {
		logger.Init(serviceName)
		logger.L().Fatal().Err(err).Msg("failed to build coupon rule engine")
	}
	couponRepo := couponinfra.NewGormCouponRepository(gormDB)
	couponUsage := couponapp.NewUsageService(couponRepo, ruleEngine, tracer)

	// 6. 支付编排
	sagaRepo := paymentinfra.NewGormSagaRepository(gormDB)
	orchestrator := sagaapp.NewOrchestrator(
		sagaRepo,
		paymentinfra.NewOrderAdapter(orderService),
		accountService,
		inventoryService,
		couponUsage,
		paymentinfra.NewKafkaNotifier(paymentEventWriter),
		paymentinfra.NewKafkaAlertProducer(alertWriter),
		tracer,
	)
	sagaJanitor := sagaapp.NewJanitor(orchestrator, sagaRepo,
		cfg.Coordination.SagaRecoveryMinAge.Std(), cfg.Coordination.SagaRecoverySweep.Std())

	// 7. 后台任务
	bgCtx, cancelBg := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(bgCtx)
	group.Go(func() error { return reservationSweeper.Run(groupCtx) })
	group.Go(func() error { return idemSweeper.Run(groupCtx) })
	group.Go(func() error { sagaJanitor.Run(groupCtx); return nil })

	// 8. HTTP 服务
	handler := interfaces.NewOrderHandler(orderService, inventoryService, guard, orchestrator)
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Cfg:         cfg,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			cancelBg()
			if err := group.Wait(); err != nil && err != context.Canceled {
				logger.L().Error().Err(err).Msg("background worker exited with error")
			}
		},
	})
}
