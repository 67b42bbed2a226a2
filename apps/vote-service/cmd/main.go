package main

import (
	"github.com/gin-gonic/gin"

	"trekmate/apps/vote-service/dao"
	"trekmate/apps/vote-service/handler"
	"trekmate/apps/vote-service/service"
	"trekmate/pkg/server"
)

func main() {
	// 创建应用程序
	app := server.NewApplication("vote-service")

	// 启用HTTP服务器
	app.EnableHTTP()

	// 初始化DAO层
	var voteDAO dao.VoteDAO
	if app.UseMemoryStorage() {
		voteDAO = dao.NewMemoryVoteDAO()
	} else {
		voteDAO = dao.NewVoteDAO(app.GetMongoDB())
	}

	// 初始化Service层
	svc := service.NewService(voteDAO, app.GetLogger())

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
