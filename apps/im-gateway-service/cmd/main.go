package main

import (
	"github.com/gin-gonic/gin"

	"trekmate/apps/im-gateway-service/dao"
	"trekmate/apps/im-gateway-service/handler"
	"trekmate/apps/im-gateway-service/service"
	"trekmate/pkg/server"
	"trekmate/pkg/userdir"
)

func main() {
	// 创建应用程序
	app := server.NewApplication("im-gateway-service")

	// 启用HTTP与WebSocket
	app.EnableHTTP()
	wsServer := app.EnableWebSocket()

	// 初始化存储层
	var (
		groups   service.GroupIndex
		presence dao.PresenceDAO
	)
	if app.UseMemoryStorage() {
		groups = userdir.NewMemoryDirectory()
		presence = dao.NewMemoryPresenceDAO()
	} else {
		groups = userdir.NewMongoDirectory(app.GetMongoDB())
		presence = dao.NewPresenceDAO(app.GetRedisClient())
	}

	// 初始化Service层
	svc := service.NewService(app.GetSubscriber(), groups, presence, app.GetLogger())

	// 初始化Handler
	wsHandler := handler.NewWSHandler(svc, app.GetLogger())
	httpHandler := handler.NewHTTPHandler(svc, app.GetLogger())

	// 注册路由
	wsServer.RegisterHandler("/ws", wsHandler)
	app.RegisterHTTPRoutes(func(engine *gin.Engine) {
		httpHandler.RegisterRoutes(engine)
	})

	// 运行应用程序
	if err := app.Run(); err != nil {
		panic(err)
	}
}
