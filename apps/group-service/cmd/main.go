package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"trekmate/apps/group-service/dao"
	"trekmate/apps/group-service/handler"
	"trekmate/apps/group-service/service"
	"trekmate/pkg/msgstore"
	"trekmate/pkg/server"
	"trekmate/pkg/userdir"
)

func main() {
	// 创建应用程序
	app := server.NewApplication("group-service")

	// 启用HTTP服务器
	app.EnableHTTP()

	// 初始化存储层
	var (
		groupDAO dao.GroupDAO
		users    userdir.Directory
		messages msgstore.Store
	)
	if app.UseMemoryStorage() {
		memDAO := dao.NewMemoryGroupDAO()
		groupDAO = memDAO
		users = userdir.NewMemoryDirectory()
		messages = msgstore.NewMemoryStore(memDAO)
	} else {
		mongoDB := app.GetMongoDB()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := dao.EnsureGroupIndexes(ctx, mongoDB); err != nil {
			panic("Failed to create group indexes: " + err.Error())
		}
		store := msgstore.NewMongoStore(mongoDB)
		if err := store.EnsureIndexes(ctx); err != nil {
			panic("Failed to create message indexes: " + err.Error())
		}
		cancel()

		groupDAO = dao.NewGroupDAO(mongoDB)
		users = userdir.NewCachedDirectory(userdir.NewMongoDirectory(mongoDB), app.GetRedisClient(), app.GetConfig().Redis.CacheTTL, app.GetLogger())
		messages = store
	}

	// 初始化Service层
	svc := service.NewService(groupDAO, users, messages, app.GetNotifier(), app.GetLogger())

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
