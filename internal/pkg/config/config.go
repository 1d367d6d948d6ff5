// internal/pkg/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 让 yaml 里可以写 "15m"、"24h" 这种人类可读的时长。
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config 聚合了所有基础设施与核心流程的可调参数。
// 优先从 yaml 文件加载，环境变量可以覆盖关键字段，便于容器化部署。
type Config struct {
	ServiceName string `yaml:"service_name"`
	Port        int    `yaml:"port"`

	MySQL struct {
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Addr     string `yaml:"addr"`
		Database string `yaml:"database"`
	} `yaml:"mysql"`

	Redis struct {
		Addrs string `yaml:"addrs"` // "host1:6379,host2:6379"
	} `yaml:"redis"`

	Kafka struct {
		Brokers           string `yaml:"brokers"`
		OrderEventTopic   string `yaml:"order_event_topic"`
		CouponIssueTopic  string `yaml:"coupon_issue_topic"`
		PaymentEventTopic string `yaml:"payment_event_topic"`
		SagaAlertTopic    string `yaml:"saga_alert_topic"`
		CouponWorkerGroup string `yaml:"coupon_worker_group"`
		OpsGatewayGroup   string `yaml:"ops_gateway_group"`
	} `yaml:"kafka"`

	Zookeeper struct {
		Servers string `yaml:"servers"`
	} `yaml:"zookeeper"`

	Nacos struct {
		ServerAddrs string `yaml:"server_addrs"`
		Namespace   string `yaml:"namespace"`
		Group       string `yaml:"group"`
	} `yaml:"nacos"`

	Jaeger struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"jaeger"`

	Coordination struct {
		ReservationTTL         Duration `yaml:"reservation_ttl"`          // 默认 15m
		ReservationSweep       Duration `yaml:"reservation_sweep"`        // 默认 1m
		IdempotencyZombieAge   Duration `yaml:"idempotency_zombie_age"`   // 默认 1h
		IdempotencyZombieSweep Duration `yaml:"idempotency_zombie_sweep"` // 默认 10m
		IdempotencyRetention   Duration `yaml:"idempotency_retention"`    // 默认 24h
		IdempotencyPurgeSweep  Duration `yaml:"idempotency_purge_sweep"`  // 默认 24h
		CouponStateTTL         Duration `yaml:"coupon_state_ttl"`         // 默认 720h
		SagaRecoveryMinAge     Duration `yaml:"saga_recovery_min_age"`    // 默认 10m
		SagaRecoverySweep      Duration `yaml:"saga_recovery_sweep"`      // 默认 2m
	} `yaml:"coordination"`
}

// Load 读取配置文件并应用环境变量覆盖。path 为空时只使用默认值和环境变量。
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// 环境变量覆盖，保持与部署脚本的约定一致
	cfg.MySQL.Addr = getEnv("MYSQL_ADDR", cfg.MySQL.Addr)
	cfg.MySQL.User = getEnv("MYSQL_USER", cfg.MySQL.User)
	cfg.MySQL.Password = getEnv("MYSQL_PASSWORD", cfg.MySQL.Password)
	cfg.MySQL.Database = getEnv("MYSQL_DATABASE", cfg.MySQL.Database)
	cfg.Redis.Addrs = getEnv("REDIS_ADDRS", cfg.Redis.Addrs)
	cfg.Kafka.Brokers = getEnv("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Zookeeper.Servers = getEnv("ZK_SERVERS", cfg.Zookeeper.Servers)
	cfg.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", cfg.Nacos.ServerAddrs)
	cfg.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Nacos.Namespace)
	cfg.Nacos.Group = getEnv("NACOS_GROUP", cfg.Nacos.Group)
	cfg.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Jaeger.Endpoint)

	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Port = 8080
	cfg.MySQL.User = "root"
	cfg.MySQL.Addr = "localhost:3306"
	cfg.MySQL.Database = "bazaar"
	cfg.Redis.Addrs = "localhost:6379"
	cfg.Kafka.Brokers = "localhost:9092"
	cfg.Kafka.OrderEventTopic = "order-events"
	cfg.Kafka.CouponIssueTopic = "coupon-issue-requests"
	cfg.Kafka.PaymentEventTopic = "payment-events"
	cfg.Kafka.SagaAlertTopic = "saga-alerts"
	cfg.Kafka.CouponWorkerGroup = "coupon-worker-group"
	cfg.Kafka.OpsGatewayGroup = "ops-gateway-group"
	cfg.Zookeeper.Servers = "localhost:2181"
	cfg.Nacos.ServerAddrs = "localhost:8848"
	cfg.Nacos.Group = "DEFAULT_GROUP"
	cfg.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Coordination.ReservationTTL = Duration(15 * time.Minute)
	cfg.Coordination.ReservationSweep = Duration(time.Minute)
	cfg.Coordination.IdempotencyZombieAge = Duration(time.Hour)
	cfg.Coordination.IdempotencyZombieSweep = Duration(10 * time.Minute)
	cfg.Coordination.IdempotencyRetention = Duration(24 * time.Hour)
	cfg.Coordination.IdempotencyPurgeSweep = Duration(24 * time.Hour)
	cfg.Coordination.CouponStateTTL = Duration(30 * 24 * time.Hour)
	cfg.Coordination.SagaRecoveryMinAge = Duration(10 * time.Minute)
	cfg.Coordination.SagaRecoverySweep = Duration(2 * time.Minute)
	return cfg
}

// getEnv 从环境变量中读取配置，缺失时回退到默认值。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
