package server

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"

	"trekmate/pkg/config"
	"trekmate/pkg/database"
	"trekmate/pkg/fanout"
	"trekmate/pkg/kafka"
	"trekmate/pkg/lifecycle"
	"trekmate/pkg/logger"
	"trekmate/pkg/middleware"
	"trekmate/pkg/redis"
	"trekmate/pkg/telemetry"
	"trekmate/pkg/validation"
)

// Application 应用程序框架
type Application struct {
	serviceName    string
	config         *config.Config
	logger         kratoslog.Logger
	originalLogger logger.Logger
	serverManager  *ServerManager
	lifecycle      *lifecycle.LifecycleManager

	// 基础设施组件，按需连接
	mongoDB       *database.MongoDB
	postgreSQL    *database.PostgreSQL
	redisClient   *redis.RedisClient
	kafkaProducer *kafka.Producer
	notifier      *fanout.Notifier
	memoryBroker  *fanout.MemoryBroker

	// 中间件
	authMiddleware    *middleware.AuthMiddleware
	loggingMiddleware *middleware.LoggingMiddleware
	otelMiddleware    *middleware.OTelMiddleware
	rateLimiter       *middleware.RateLimiter

	httpServer        HTTPServer
	wsServer          *WebSocketServerWrapper
	httpRouteRegister func(*gin.Engine)
}

// NewApplication 创建应用程序
func NewApplication(serviceName string) *Application {
	cfg := config.MustLoad(serviceName)

	if err := logger.Init(cfg.App.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	originalLogger := logger.GetLogger()
	kratosLogger := logger.NewKratosLogger(originalLogger, cfg.App.Name, cfg.App.Version)

	if err := telemetry.Init(context.Background(), serviceName, cfg.App.Version, cfg.Telemetry); err != nil {
		kratosLogger.Log(kratoslog.LevelWarn, "msg", "OpenTelemetry disabled", "error", err)
	}

	validation.Register()

	app := &Application{
		serviceName:       serviceName,
		config:            cfg,
		logger:            kratosLogger,
		originalLogger:    originalLogger,
		serverManager:     NewServerManager(cfg, kratosLogger),
		lifecycle:         lifecycle.NewLifecycleManager(kratosLogger),
		authMiddleware:    middleware.NewAuthMiddleware(kratosLogger, cfg.Auth.JWTSecret, cfg.Auth.CookieName),
		loggingMiddleware: middleware.NewLoggingMiddleware(originalLogger),
		otelMiddleware:    middleware.NewOTelMiddleware(serviceName),
		rateLimiter:       middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	}
	app.registerInfrastructureHooks()
	return app
}

// EnableHTTP 启用HTTP服务器并挂载通用中间件，可重复调用
func (app *Application) EnableHTTP() HTTPServer {
	if app.httpServer != nil {
		return app.httpServer
	}
	httpServer := app.serverManager.EnableHTTP()
	app.httpServer = httpServer

	httpServer.RegisterRoutes(func(engine *gin.Engine) {
		engine.Use(app.otelMiddleware.GinMiddleware()...)
		engine.Use(app.loggingMiddleware.GinLogging())
		engine.Use(middleware.Recovery(app.originalLogger))
		engine.Use(app.authMiddleware.GinAuth())
		engine.Use(middleware.RateLimit(app.rateLimiter))
	})

	return httpServer
}

// EnableWebSocket 在HTTP服务器上启用WebSocket端点，停机时先于HTTP关闭长连接
func (app *Application) EnableWebSocket() *WebSocketServerWrapper {
	if app.wsServer != nil {
		return app.wsServer
	}
	httpServer := app.EnableHTTP()
	app.wsServer = NewWebSocketServerWrapper(httpServer.GetEngine(), app.logger, app.config.Server.AllowedOrigins...)
	app.serverManager.AddServer("websocket", app.wsServer)
	return app.wsServer
}

// RegisterHTTPRoutes 注册HTTP路由
func (app *Application) RegisterHTTPRoutes(registerFunc func(*gin.Engine)) {
	app.httpRouteRegister = registerFunc
}

// AddBackground 注册后台任务（消费者、订阅），HTTP之后启动、之前停止
func (app *Application) AddBackground(name string, start, stop func(context.Context) error) {
	app.lifecycle.AddHook(lifecycle.Hook{
		Name:     name,
		Priority: lifecycle.PriorityBackground,
		OnStart:  start,
		OnStop:   stop,
	})
}

// GetMongoDB 获取MongoDB连接，首次调用时连接
func (app *Application) GetMongoDB() *database.MongoDB {
	if app.mongoDB == nil {
		mongoDB, err := database.NewMongoDB(app.config.Database.MongoDB, app.serviceName)
		if err != nil {
			app.logger.Log(kratoslog.LevelFatal, "msg", "Failed to connect to MongoDB", "error", err)
			panic(err)
		}
		app.mongoDB = mongoDB
	}
	return app.mongoDB
}

// GetPostgreSQL 获取PostgreSQL连接，首次调用时连接
func (app *Application) GetPostgreSQL() *database.PostgreSQL {
	if app.postgreSQL == nil {
		postgreSQL, err := database.NewPostgreSQL(app.config.Database.PostgreSQL, app.originalLogger)
		if err != nil {
			app.logger.Log(kratoslog.LevelFatal, "msg", "Failed to connect to PostgreSQL", "error", err)
			panic(err)
		}
		app.postgreSQL = postgreSQL
	}
	return app.postgreSQL
}

// GetRedisClient 获取Redis客户端
func (app *Application) GetRedisClient() *redis.RedisClient {
	if app.redisClient == nil {
		app.redisClient = redis.NewRedisClient(app.config.Redis)
	}
	return app.redisClient
}

// GetKafkaProducer 获取Kafka生产者
func (app *Application) GetKafkaProducer() *kafka.Producer {
	if app.kafkaProducer == nil {
		producer, err := kafka.InitProducer(app.config.Kafka.Brokers, app.originalLogger)
		if err != nil {
			app.logger.Log(kratoslog.LevelFatal, "msg", "Failed to connect to Kafka", "error", err)
			panic(err)
		}
		app.kafkaProducer = producer
	}
	return app.kafkaProducer
}

// GetNotifier 实时推送出口。Redis为主通道，开启 fanout.kafka_enabled 时同时写Kafka，
// 两者各自带熔断器；内存模式下推送到进程内代理
func (app *Application) GetNotifier() *fanout.Notifier {
	if app.notifier != nil {
		return app.notifier
	}
	n := fanout.NewNotifier(app.originalLogger)
	if app.UseMemoryStorage() {
		n.AddSink("memory", app.getMemoryBroker())
		app.notifier = n
		return n
	}

	fc := app.config.Fanout
	n.AddSink("redis", fanout.NewBreakerPublisher(
		fanout.NewRedisPublisher(app.GetRedisClient()),
		fanout.BreakerSettings{Name: "fanout-redis", Timeout: fc.BreakerTimeout, FailureThreshold: fc.BreakerThreshold},
		app.originalLogger,
	))
	if fc.KafkaEnabled {
		n.AddSink("kafka", fanout.NewBreakerPublisher(
			fanout.NewKafkaPublisher(app.GetKafkaProducer(), app.config.Kafka.Topic),
			fanout.BreakerSettings{Name: "fanout-kafka", Timeout: fc.BreakerTimeout, FailureThreshold: fc.BreakerThreshold},
			app.originalLogger,
		))
	}
	app.notifier = n
	return n
}

// GetSubscriber 实时事件订阅入口，与 GetNotifier 使用同一通道
func (app *Application) GetSubscriber() fanout.Subscriber {
	if app.UseMemoryStorage() {
		return app.getMemoryBroker()
	}
	return fanout.NewRedisSubscriber(app.GetRedisClient(), app.originalLogger)
}

func (app *Application) getMemoryBroker() *fanout.MemoryBroker {
	if app.memoryBroker == nil {
		app.memoryBroker = fanout.NewMemoryBroker()
	}
	return app.memoryBroker
}

// GetLogger 获取业务日志器
func (app *Application) GetLogger() logger.Logger {
	return app.originalLogger
}

// GetKratosLogger 获取Kratos日志器
func (app *Application) GetKratosLogger() kratoslog.Logger {
	return app.logger
}

// GetConfig 获取配置
func (app *Application) GetConfig() *config.Config {
	return app.config
}

// UseMemoryStorage STORAGE_DRIVER=memory 时使用内存存储，本地调试用
func (app *Application) UseMemoryStorage() bool {
	return app.config.App.StorageDriver == "memory"
}

// Run 运行应用程序，阻塞直到收到停止信号
func (app *Application) Run() error {
	if app.httpRouteRegister != nil {
		if err := app.serverManager.RegisterHTTPRoutes(app.httpRouteRegister); err != nil {
			return err
		}
	}

	app.lifecycle.AddHook(lifecycle.Hook{
		Name:     "servers",
		Priority: lifecycle.PriorityServers,
		OnStart: func(ctx context.Context) error {
			return app.serverManager.StartAll(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return app.serverManager.StopAll(ctx)
		},
	})

	if err := app.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle: %w", err)
	}

	// 服务器运行中退出时整体停机，由进程管理器拉起
	runErr := make(chan error, 1)
	go func() {
		select {
		case err := <-app.serverManager.Failed():
			app.logger.Log(kratoslog.LevelError, "msg", "Server failed, shutting down", "error", err)
			runErr <- err
			_ = app.lifecycle.Stop()
		case <-app.lifecycle.Done():
		}
	}()
	app.lifecycle.Wait()

	select {
	case err := <-runErr:
		return err
	default:
		return nil
	}
}

// registerInfrastructureHooks 基础设施最先启动、最后关闭
func (app *Application) registerInfrastructureHooks() {
	app.lifecycle.AddHook(lifecycle.Hook{
		Name:     "infrastructure",
		Priority: lifecycle.PriorityInfrastructure,
		OnStop: func(ctx context.Context) error {
			if app.kafkaProducer != nil {
				if err := app.kafkaProducer.Close(); err != nil {
					app.logger.Log(kratoslog.LevelError, "msg", "Failed to close Kafka producer", "error", err)
				}
			}
			if app.redisClient != nil {
				if err := app.redisClient.Close(); err != nil {
					app.logger.Log(kratoslog.LevelError, "msg", "Failed to close Redis", "error", err)
				}
			}
			if app.mongoDB != nil {
				if err := app.mongoDB.Close(); err != nil {
					app.logger.Log(kratoslog.LevelError, "msg", "Failed to close MongoDB", "error", err)
				}
			}
			if app.postgreSQL != nil {
				if err := app.postgreSQL.Close(); err != nil {
					app.logger.Log(kratoslog.LevelError, "msg", "Failed to close PostgreSQL", "error", err)
				}
			}
			return telemetry.Shutdown(ctx)
		},
	})
}
