package main

import (
	"github.com/gin-gonic/gin"

	"trekmate/apps/api-gateway-service/handler"
	"trekmate/apps/api-gateway-service/service"
	"trekmate/pkg/server"
)

func main() {
	// 创建应用程序
	app := server.NewApplication("api-gateway-service")

	// 启用HTTP服务器
	app.EnableHTTP()

	// 下游地址来自配置，服务名与各服务的 service name 一致
	services := app.GetConfig().Services
	svc, err := service.NewService(map[string]string{
		"user-service":       services.UserURL,
		"group-service":      services.GroupURL,
		"message-service":    services.MessageURL,
		"vote-service":       services.VoteURL,
		"history-service":    services.HistoryURL,
		"im-gateway-service": services.IMGatewayURL,
	}, app.GetLogger())
	if err != nil {
		panic(err)
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
