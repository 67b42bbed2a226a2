package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Fanout    FanoutConfig    `mapstructure:"fanout"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Services  ServicesConfig  `mapstructure:"services"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name          string `mapstructure:"name"`
	Version       string `mapstructure:"version"`
	LogLevel      string `mapstructure:"log_level"`
	StorageDriver string `mapstructure:"storage_driver"` // mongo | memory
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	Timeout        time.Duration `mapstructure:"timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"` // WebSocket握手允许的Origin，为空时不校验
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
	PostgreSQL PostgreSQLConfig `mapstructure:"postgresql"`
}

// MongoDBConfig MongoDB配置
type MongoDBConfig struct {
	URI    string `mapstructure:"uri"`
	DBName string `mapstructure:"db_name"`
}

// PostgreSQLConfig PostgreSQL配置
type PostgreSQLConfig struct {
	DSN    string `mapstructure:"dsn"`
	DBName string `mapstructure:"db_name"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// AuthConfig 会话凭证配置
type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwt_secret"`
	CookieName string `mapstructure:"cookie_name"`
}

// RateLimitConfig 每用户令牌桶
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// FanoutConfig 实时推送配置
type FanoutConfig struct {
	KafkaEnabled     bool          `mapstructure:"kafka_enabled"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
	BreakerThreshold uint32        `mapstructure:"breaker_threshold"`
}

// TelemetryConfig 链路追踪配置
type TelemetryConfig struct {
	Exporter   string  `mapstructure:"exporter"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// ServicesConfig 服务间地址，API网关与testClient使用
type ServicesConfig struct {
	UserURL      string `mapstructure:"user_url"`
	GroupURL     string `mapstructure:"group_url"`
	MessageURL   string `mapstructure:"message_url"`
	VoteURL      string `mapstructure:"vote_url"`
	HistoryURL   string `mapstructure:"history_url"`
	GatewayURL   string `mapstructure:"gateway_url"`
	// IMGatewayURL 网关服务的HTTP地址，与 GatewayURL 的ws地址区分
	IMGatewayURL string `mapstructure:"im_gateway_url"`
}

// defaultPorts 各服务默认HTTP端口
var defaultPorts = map[string]string{
	"api-gateway-service": "21000",
	"user-service":        "21001",
	"group-service":       "21002",
	"message-service":     "21004",
	"im-gateway-service":  "21005",
	"vote-service":        "21006",
	"history-service":     "21007",
	"test-client":         "0",
}

// envBindings 配置键与环境变量的对应关系
var envBindings = map[string]string{
	"app.version":                 "APP_VERSION",
	"app.log_level":               "LOG_LEVEL",
	"app.storage_driver":          "STORAGE_DRIVER",
	"server.addr":                 "HTTP_ADDR",
	"server.timeout":              "HTTP_TIMEOUT",
	"server.allowed_origins":      "WS_ALLOWED_ORIGINS",
	"database.mongodb.uri":        "MONGODB_URI",
	"database.mongodb.db_name":    "MONGODB_DB",
	"database.postgresql.dsn":     "POSTGRESQL_DSN",
	"database.postgresql.db_name": "POSTGRESQL_DB",
	"redis.addr":                  "REDIS_ADDR",
	"redis.password":              "REDIS_PASSWORD",
	"redis.db":                    "REDIS_DB",
	"redis.cache_ttl":             "REDIS_CACHE_TTL",
	"kafka.brokers":               "KAFKA_BROKERS",
	"kafka.topic":                 "KAFKA_TOPIC",
	"kafka.group_id":              "KAFKA_GROUP_ID",
	"auth.jwt_secret":             "JWT_SECRET",
	"auth.cookie_name":            "AUTH_COOKIE",
	"rate_limit.rps":              "RATE_LIMIT_RPS",
	"rate_limit.burst":            "RATE_LIMIT_BURST",
	"fanout.kafka_enabled":        "FANOUT_KAFKA_ENABLED",
	"fanout.breaker_timeout":      "FANOUT_BREAKER_TIMEOUT",
	"fanout.breaker_threshold":    "FANOUT_BREAKER_THRESHOLD",
	"telemetry.exporter":          "OTEL_EXPORTER",
	"telemetry.sample_rate":       "OTEL_SAMPLE_RATE",
	"services.user_url":           "USER_SERVICE_URL",
	"services.group_url":          "GROUP_SERVICE_URL",
	"services.message_url":        "MESSAGE_SERVICE_URL",
	"services.vote_url":           "VOTE_SERVICE_URL",
	"services.history_url":        "HISTORY_SERVICE_URL",
	"services.gateway_url":        "GATEWAY_URL",
	"services.im_gateway_url":     "IM_GATEWAY_SERVICE_URL",
}

// Load 加载配置：默认值 < 配置文件(CONFIG_FILE) < 环境变量
func Load(serviceName string) (*Config, error) {
	port, ok := defaultPorts[serviceName]
	if !ok {
		return nil, fmt.Errorf("unknown service name: %s", serviceName)
	}

	v := viper.New()
	setDefaults(v, serviceName, port)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.App.Name = serviceName

	// 列表类环境变量以逗号分隔
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)
	return &cfg, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

// MustLoad 加载失败直接panic，用于main
func MustLoad(serviceName string) *Config {
	cfg, err := Load(serviceName)
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper, serviceName, port string) {
	_ = v.BindEnv("config_file", "CONFIG_FILE")

	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.storage_driver", "mongo")
	v.SetDefault("server.addr", ":"+port)
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("database.mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("database.mongodb.db_name", "trekmateDB")
	v.SetDefault("database.postgresql.dsn", "host=localhost user=postgres password=postgres dbname=trekmate port=5432 sslmode=disable TimeZone=UTC")
	v.SetDefault("database.postgresql.db_name", "trekmate")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", 5*time.Minute)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "group-events")
	v.SetDefault("kafka.group_id", serviceName)
	v.SetDefault("auth.jwt_secret", "trekmate-dev-secret")
	v.SetDefault("auth.cookie_name", "accessToken")
	v.SetDefault("rate_limit.rps", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("fanout.kafka_enabled", true)
	v.SetDefault("fanout.breaker_timeout", 30*time.Second)
	v.SetDefault("fanout.breaker_threshold", 5)
	v.SetDefault("telemetry.exporter", "stdout")
	v.SetDefault("telemetry.sample_rate", 1.0)
	v.SetDefault("services.user_url", "http://localhost:21001")
	v.SetDefault("services.group_url", "http://localhost:21002")
	v.SetDefault("services.message_url", "http://localhost:21004")
	v.SetDefault("services.vote_url", "http://localhost:21006")
	v.SetDefault("services.history_url", "http://localhost:21007")
	v.SetDefault("services.gateway_url", "ws://localhost:21005/ws")
	v.SetDefault("services.im_gateway_url", "http://localhost:21005")
}
