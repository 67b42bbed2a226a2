package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"trekmate/apps/message-service/dao"
	"trekmate/apps/message-service/handler"
	"trekmate/apps/message-service/service"
	"trekmate/pkg/msgstore"
	"trekmate/pkg/server"
	"trekmate/pkg/userdir"
)

func main() {
	// 创建应用程序
	app := server.NewApplication("message-service")

	// 启用HTTP服务器
	app.EnableHTTP()

	// 初始化存储层
	var (
		members  dao.MembershipDAO
		messages msgstore.Store
		profiles msgstore.ProfileSource
	)
	if app.UseMemoryStorage() {
		// 内存模式下成员关系不与群组服务同步，所有群都不存在
		app.GetLogger().Warn(context.Background(), "Memory storage has no group membership; message routes will return Group not found until groups are seeded")
		memDAO := dao.NewMemoryMembershipDAO()
		members = memDAO
		messages = msgstore.NewMemoryStore(memDAO)
		profiles = userdir.NewMemoryDirectory()
	} else {
		mongoDB := app.GetMongoDB()
		store := msgstore.NewMongoStore(mongoDB)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := store.EnsureIndexes(ctx); err != nil {
			panic("Failed to create message indexes: " + err.Error())
		}
		cancel()

		members = dao.NewMembershipDAO(mongoDB)
		messages = store
		profiles = userdir.NewCachedDirectory(userdir.NewMongoDirectory(mongoDB), app.GetRedisClient(), app.GetConfig().Redis.CacheTTL, app.GetLogger())
	}

	// 初始化Service层
	svc := service.NewService(members, messages, profiles, app.GetNotifier(), app.GetLogger())

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
