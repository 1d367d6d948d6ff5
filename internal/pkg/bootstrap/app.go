// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"bazaar/internal/pkg/config"
	"bazaar/internal/pkg/logger"
	"bazaar/internal/pkg/nacos"
	"bazaar/internal/pkg/tracing"
	"bazaar/internal/pkg/utils"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type AppCtx struct {
	Mux   *http.ServeMux
	Nacos *nacos.Client
	Cfg   *config.Config
}

// AppInfo 包含启动一个服务所需的全部信息。
type AppInfo struct {
	ServiceName      string
	Cfg              *config.Config
	RegisterHandlers func(appCtx AppCtx) // 每个服务注册自己的 HTTP 路由
	OnShutdown       func(ctx context.Context)
}

// StartService 封装所有服务通用的启动和优雅关停逻辑。
func StartService(info AppInfo) {
	logger.Init(info.ServiceName)
	cfg := info.Cfg

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Jaeger.Endpoint)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// 2. Nacos 注册
	namingClient, err := nacos.NewClient(cfg.Nacos.ServerAddrs, cfg.Nacos.Namespace, cfg.Nacos.Group)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to initialize nacos client")
	}

	ip, err := utils.GetOutboundIP()
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to get outbound IP address")
	}

	if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, cfg.Port); err != nil {
		logger.L().Fatal().Err(err).Msg("failed to register service with nacos")
	}

	// 3. HTTP Server：业务路由 + 健康检查 + 指标
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Nacos: namingClient, Cfg: cfg})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(cfg.Port), Handler: mux}
	go func() {
		logger.L().Info().Msgf("%s listening on :%d", info.ServiceName, cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.L().Fatal().Err(err).Msgf("could not listen on %s", server.Addr)
		}
	}()

	// 4. 阻塞等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.L().Info().Msgf("Shutting down service %s...", info.ServiceName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 5. 按顺序清理 (后进先出)
	if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, cfg.Port); err != nil {
		logger.L().Error().Err(err).Msg("Error deregistering from Nacos")
	}

	if info.OnShutdown != nil {
		info.OnShutdown(ctx)
	}

	if err := tp.Shutdown(ctx); err != nil {
		logger.L().Error().Err(err).Msg("Error shutting down tracer provider")
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.L().Error().Err(err).Msg("Error shutting down http server")
	}

	logger.L().Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
}
