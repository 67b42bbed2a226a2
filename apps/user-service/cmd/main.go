package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"trekmate/apps/user-service/dao"
	"trekmate/apps/user-service/handler"
	"trekmate/apps/user-service/service"
	"trekmate/pkg/server"
	"trekmate/pkg/userdir"
)

func main() {
	// 创建应用程序
	app := server.NewApplication("user-service")

	// 启用HTTP服务器
	app.EnableHTTP()

	// 初始化存储层，读取与群组服务共用同一份资料缓存
	var (
		profileDAO dao.ProfileDAO
		users      userdir.Directory
		cache      service.ProfileCache
	)
	if app.UseMemoryStorage() {
		memUsers := userdir.NewMemoryDirectory()
		profileDAO = dao.NewMemoryProfileDAO(memUsers)
		users = memUsers
	} else {
		mongoDB := app.GetMongoDB()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := dao.EnsureProfileIndexes(ctx, mongoDB); err != nil {
			panic("Failed to create profile indexes: " + err.Error())
		}
		cancel()

		cached := userdir.NewCachedDirectory(userdir.NewMongoDirectory(mongoDB), app.GetRedisClient(), app.GetConfig().Redis.CacheTTL, app.GetLogger())
		profileDAO = dao.NewProfileDAO(mongoDB)
		users = cached
		cache = cached
	}

	// 初始化Service层
	svc := service.NewService(profileDAO, users, cache, app.GetNotifier(), app.GetLogger())

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
