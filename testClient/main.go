package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/pkg/auth"
	"trekmate/pkg/chatsession"
	"trekmate/pkg/config"
	"trekmate/pkg/logger"
	"trekmate/pkg/msgstore"
)

func main() {
	// 命令行参数
	var (
		userID   = flag.String("user", "", "当前用户ID（十六进制ObjectID）")
		username = flag.String("name", "trekker", "签发调试token时使用的用户名")
		token    = flag.String("token", "", "会话token，为空时用JWT_SECRET签发")
		limit    = flag.Int("limit", 20, "选中群组时加载的历史条数")
	)
	flag.Parse()

	if _, err := primitive.ObjectIDFromHex(*userID); err != nil {
		log.Fatal("❌ 请通过 -user 指定合法的用户ID")
	}

	cfg := config.MustLoad("test-client")
	clientLog, err := logger.NewLogger("warn")
	if err != nil {
		log.Fatalf("❌ 初始化日志失败: %v", err)
	}

	if *token == "" {
		signed, err := auth.GenerateJWT(*userID, *username, &auth.JWTConfig{
			Secret:     cfg.Auth.JWTSecret,
			ExpireTime: 24 * time.Hour,
		})
		if err != nil {
			log.Fatalf("❌ 签发token失败: %v", err)
		}
		*token = signed
		fmt.Println("🔧 调试模式：使用本地签发的token")
	}

	api := chatsession.NewRESTClient(cfg.Services.GroupURL, cfg.Services.MessageURL, *token, nil).
		WithUserURL(cfg.Services.UserURL)
	sess := chatsession.New(api,
		chatsession.DialWebSocket(cfg.Services.GatewayURL, *token, clientLog),
		*userID, clientLog,
		chatsession.WithHistoryLimit(*limit))

	ctx := context.Background()
	fmt.Printf("🔌 正在连接: %s\n", cfg.Services.GatewayURL)
	if err := sess.Connect(ctx); err != nil {
		log.Fatalf("❌ 连接失败: %v", err)
	}
	defer sess.Close()

	fmt.Println("✅ 已连接")
	printGroups(sess)
	showHelp()

	// 启动界面刷新协程
	go render(sess)

	// 主循环处理用户输入
	handleUserInput(ctx, sess, api)
}

// 处理用户输入
func handleUserInput(ctx context.Context, sess *chatsession.Session, api *chatsession.RESTClient) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		prompt(sess)
		if !scanner.Scan() {
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(input, " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "/exit", "/quit", "/q":
			fmt.Println("👋 再见！")
			return
		case "/help", "/h":
			showHelp()
		case "/groups":
			printGroups(sess)
		case "/open":
			groupID, ok := resolveGroup(sess, arg)
			if !ok {
				fmt.Println("❌ 无效的群组编号或ID")
				continue
			}
			if err := sess.Select(ctx, groupID); err != nil {
				fmt.Printf("❌ 打开群组失败: %v\n", err)
				continue
			}
			printHistory(sess)
		case "/members":
			printMembers(sess)
		case "/history":
			printHistory(sess)
		case "/refresh":
			if err := sess.Refresh(ctx); err != nil {
				fmt.Printf("❌ 刷新失败: %v\n", err)
				continue
			}
			printHistory(sess)
		case "/join":
			if err := sess.Join(ctx, arg); err != nil {
				fmt.Printf("❌ 加入失败: %v\n", err)
				continue
			}
			fmt.Println("✅ 已加入群组")
		case "/leave":
			groupID, _, ok := sess.ActiveGroup()
			if !ok {
				fmt.Println("❌ 请先用 /open 选择群组")
				continue
			}
			if err := sess.Leave(ctx, groupID); err != nil {
				fmt.Printf("❌ 退出失败: %v\n", err)
				continue
			}
			fmt.Println("✅ 已退出群组")
		case "/rename":
			if arg == "" {
				fmt.Println("❌ 用法: /rename <全名>")
				continue
			}
			if err := api.UpdateProfile(ctx, &chatsession.ProfileUpdate{FullName: arg}); err != nil {
				fmt.Printf("❌ 修改资料失败: %v\n", err)
				continue
			}
			fmt.Println("✅ 资料已更新")
		default:
			// 发送成功后等推送回显再显示
			sess.SetComposer(input)
			if err := sess.Send(ctx); err != nil {
				fmt.Printf("❌ 发送失败: %v（内容已保留）\n", err)
			}
		}
	}
}

// 显示帮助信息
func showHelp() {
	fmt.Println("\n📋 可用命令:")
	fmt.Println("  /groups        - 群组列表（含未读数）")
	fmt.Println("  /open <编号|ID> - 打开群组")
	fmt.Println("  /members       - 当前群成员")
	fmt.Println("  /history       - 当前群消息")
	fmt.Println("  /refresh       - 重新拉取消息")
	fmt.Println("  /join <ID>     - 加入群组")
	fmt.Println("  /leave         - 退出当前群组")
	fmt.Println("  /rename <全名> - 修改自己的全名")
	fmt.Println("  /exit          - 退出程序")
	fmt.Println("  其他输入       - 发送到当前群组")
	fmt.Println(strings.Repeat("-", 50))
}

func prompt(sess *chatsession.Session) {
	if _, name, ok := sess.ActiveGroup(); ok {
		fmt.Printf("[%s] 💬 ", name)
		return
	}
	fmt.Print("💬 ")
}

// resolveGroup 支持列表编号或群组ID
func resolveGroup(sess *chatsession.Session, arg string) (string, bool) {
	groups := sess.Groups()
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(groups) {
		return groups[n-1].ID, true
	}
	for _, g := range groups {
		if g.ID == arg {
			return g.ID, true
		}
	}
	return "", false
}

func printGroups(sess *chatsession.Session) {
	groups := sess.Groups()
	if len(groups) == 0 {
		fmt.Println("📭 还没有加入任何群组")
		return
	}
	fmt.Println("\n👥 我的群组:")
	for i, g := range groups {
		preview := "（暂无消息）"
		if g.LatestMessage != nil {
			preview = fmt.Sprintf("%s: %s", g.LatestMessage.SenderUsername, g.LatestMessage.Text)
		}
		unread := ""
		if g.Unread > 0 {
			unread = fmt.Sprintf(" 🔴%d", g.Unread)
		}
		fmt.Printf("  %d. %s (%d人)%s - %s\n", i+1, g.Name, g.MemberCount, unread, preview)
	}
}

func printMembers(sess *chatsession.Session) {
	members := sess.Members()
	if members == nil {
		fmt.Println("❌ 请先用 /open 选择群组")
		return
	}
	fmt.Println("\n👤 成员:")
	for _, m := range members {
		fmt.Printf("  %s [%s] %s\n", m.FullName, m.Role, m.User)
	}
}

func printHistory(sess *chatsession.Session) {
	for _, m := range sess.Messages() {
		printMessage(m)
	}
}

func printMessage(m *msgstore.View) {
	ts := m.CreatedAt.Local().Format("15:04:05")
	if m.IsSystemMessage {
		fmt.Printf("  📢 [%s] %s\n", ts, m.Text)
		return
	}
	edited := ""
	if m.IsEdited {
		edited = " (edited)"
	}
	fmt.Printf("  #%d [%s] %s: %s%s\n", m.Seq, ts, m.SenderUsername, m.Text, edited)
}

// render 消费会话变更并打印
func render(sess *chatsession.Session) {
	for c := range sess.Updates() {
		switch c.Kind {
		case chatsession.ChangeMessages:
			if c.Message != nil {
				fmt.Println()
				printMessage(c.Message)
				prompt(sess)
			}
		case chatsession.ChangeUnread:
			if c.Message != nil {
				fmt.Printf("\n📥 %s 有新消息（未读 %d）\n", groupName(sess, c.GroupID), sess.Unread(c.GroupID))
				prompt(sess)
			}
		case chatsession.ChangeGap:
			fmt.Printf("\n⚠️  消息 #%d-#%d 缺失，输入 /refresh 补齐\n", c.Gap.From, c.Gap.To)
			prompt(sess)
		case chatsession.ChangeNotice:
			if c.Notice != "" {
				fmt.Printf("\n🔔 %s\n", c.Notice)
				prompt(sess)
			}
		case chatsession.ChangeDisconnected:
			fmt.Println("\n❌ 连接已断开，请重新启动客户端")
		}
	}
}

func groupName(sess *chatsession.Session, groupID string) string {
	for _, g := range sess.Groups() {
		if g.ID == groupID {
			return g.Name
		}
	}
	return groupID
}
