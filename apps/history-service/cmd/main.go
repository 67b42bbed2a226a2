package main

import (
	"context"

	"github.com/gin-gonic/gin"

	"trekmate/apps/history-service/dao"
	"trekmate/apps/history-service/handler"
	"trekmate/apps/history-service/model"
	"trekmate/apps/history-service/service"
	"trekmate/pkg/kafka"
	"trekmate/pkg/server"
)

func main() {
	// 创建应用程序
	app := server.NewApplication("history-service")

	// 启用HTTP
	app.EnableHTTP()

	// 初始化存储层
	var activityDAO dao.ActivityDAO
	if app.UseMemoryStorage() {
		activityDAO = dao.NewMemoryActivityDAO()
	} else {
		postgreSQL := app.GetPostgreSQL()

		// 自动迁移数据库表结构
		if err := postgreSQL.AutoMigrate(
			&model.ActivityRecord{},
			&model.GroupEventStats{},
		); err != nil {
			panic("Failed to migrate database: " + err.Error())
		}
		activityDAO = dao.NewActivityDAO(postgreSQL)
	}

	// 初始化Service层
	svc := service.NewService(activityDAO, app.GetLogger())

	// 内存模式下没有Kafka，只提供查询
	if !app.UseMemoryStorage() {
		cfg := app.GetConfig()
		consumer, err := kafka.InitConsumer(kafka.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
			Topics:  []string{cfg.Kafka.Topic},
		}, svc, app.GetLogger())
		if err != nil {
			panic("Failed to init Kafka consumer: " + err.Error())
		}
		app.AddBackground("activity-consumer",
			consumer.StartConsuming,
			func(context.Context) error { return consumer.Close() })
	}

	// 初始化Handler
	httpHandler := handler.NewHTTPHandler(svc, app.GetLogger())

	// 注册HTTP路由
	app.RegisterHTTPRoutes(func(engine *gin.Engine) {
		httpHandler.RegisterRoutes(engine)
	})

	// 运行应用程序
	if err := app.Run(); err != nil {
		panic(err)
	}
}
