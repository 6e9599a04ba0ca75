package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	tablechat "github.com/tablewire/tablechat-sdk"
	"github.com/tablewire/tablechat-sdk/attach"
	"github.com/tablewire/tablechat-sdk/imagestore"
	"github.com/tablewire/tablechat-sdk/internal/config"
	"github.com/tablewire/tablechat-sdk/internal/log"
	"github.com/tablewire/tablechat-sdk/token"
)

var (
	flagConfig     string
	flagServerURL  string
	flagUser       string
	flagName       string
	flagRoom       string
	flagRestaurant string
	flagLogLevel   string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tablechat",
		Short:         "Real-time restaurant chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.AddCommand(chatCmd())
	return root
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a room and chat interactively",
		Long: "Connects to the chat server, joins the room for a restaurant " +
			"(or an explicit room), replays history and streams messages. " +
			"Type to send; /attach <path> stages an image, /clear drops it, " +
			"/who lists who is online. Ctrl+C leaves and exits.",
		RunE: runChat,
	}
	cmd.Flags().StringVar(&flagServerURL, "server", "", "chat server WebSocket URL")
	cmd.Flags().StringVarP(&flagUser, "user", "u", "", "user id")
	cmd.Flags().StringVarP(&flagName, "name", "n", "", "display name")
	cmd.Flags().StringVarP(&flagRoom, "room", "r", "", "explicit room id")
	cmd.Flags().StringVar(&flagRestaurant, "restaurant", "", "restaurant id to chat about")
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	bootstrapLog := log.New("info")
	cfg, path, err := config.Load(bootstrapLog, flagConfig)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.UpdateFrom(config.Config{
		ServerURL:   flagServerURL,
		UserID:      flagUser,
		DisplayName: flagName,
		LogLevel:    flagLogLevel,
	})

	logger := log.New(cfg.LogLevel)
	logger.Debug().Str("config", path).Msg("configuration loaded")

	if cfg.UserID == "" {
		return fmt.Errorf("no user id: set --user, TABLECHAT_USER_ID or user_id in %s", path)
	}

	room := flagRoom
	if room == "" {
		if flagRestaurant == "" {
			return fmt.Errorf("set --restaurant or --room")
		}
		room = tablechat.RestaurantRoom(flagRestaurant)
	}

	var tokens token.Provider
	switch {
	case cfg.TokenEndpoint != "":
		tokens = token.NewRefreshing(cfg.TokenEndpoint)
	default:
		tokens = token.Static(cfg.AuthToken)
	}

	identity := tablechat.Identity{UserID: cfg.UserID, DisplayName: cfg.DisplayName}
	session := tablechat.NewSession(cfg.ServerURL, identity, tokens, logger, cfg.SessionConfig())

	store := imagestore.New(cfg.ImageStoreURL, tokens, logger)
	staging := attach.NewStaging(store, logger)
	staging.OnComplete = func(res attach.Result, err error) {
		if err != nil {
			fmt.Printf("! image upload failed: %v\n", err)
			return
		}
		fmt.Printf("* image uploaded, will be attached to your next message\n")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Open(ctx); err != nil {
		return err
	}
	defer session.Close()
	defer staging.Close(context.Background())

	if err := session.JoinRoom(room); err != nil {
		return err
	}

	fmt.Printf("Joining %s as %s. Type messages and press Enter to send.\n", room, cfg.UserID)

	go printEvents(session, room)

	readInput(ctx, session, staging, room)

	session.LeaveRoom(room)
	return nil
}

func printEvents(session *tablechat.Session, room string) {
	for ev := range session.Events() {
		switch ev.Kind {
		case tablechat.EventStateChanged:
			fmt.Printf("* connection %s\n", ev.State)
		case tablechat.EventRoomJoined:
			fmt.Printf("* joined %s\n", ev.Room)
		case tablechat.EventHistory:
			for _, m := range ev.Messages {
				printMessage(m)
			}
			fmt.Printf("* history loaded (%d messages)\n", len(ev.Messages))
		case tablechat.EventHistoryTimeout:
			fmt.Printf("* no history for %s\n", ev.Room)
		case tablechat.EventMessage:
			printMessage(ev.Message)
		case tablechat.EventTyping:
			if ev.Room == room && ev.Typing.IsTyping {
				fmt.Printf("* %s is typing...\n", displayName(ev.Typing.DisplayName, ev.Typing.UserID))
			}
		case tablechat.EventPresence:
			verb := "offline"
			if ev.Presence.Online {
				verb = "online"
			}
			fmt.Printf("* %s is %s\n", displayName(ev.Presence.DisplayName, ev.Presence.UserID), verb)
		case tablechat.EventError:
			fmt.Printf("! %s\n", ev.Err.Message)
		}
	}
}

func printMessage(m tablechat.ChatMessage) {
	name := displayName(m.DisplayName, m.UserID)
	if m.ImageURL != "" {
		fmt.Printf("[%s] %s: %s (image: %s)\n", m.Timestamp.Format("15:04"), name, m.Body, m.ImageURL)
		return
	}
	fmt.Printf("[%s] %s: %s\n", m.Timestamp.Format("15:04"), name, m.Body)
}

func displayName(name, userID string) string {
	if name != "" {
		return name
	}
	return userID
}

func readInput(ctx context.Context, session *tablechat.Session, staging *attach.Staging, room string) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if strings.HasPrefix(text, "/") {
				handleCommand(ctx, session, staging, room, text)
				continue
			}

			session.NotifyTyping(room)
			imageURL, _ := staging.ConsumeForSend()
			if _, err := session.SendImage(room, text, imageURL); err != nil {
				fmt.Printf("! send failed: %v\n", err)
			}
		}
	}
}

func handleCommand(ctx context.Context, session *tablechat.Session, staging *attach.Staging, room, text string) {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/attach":
		if len(fields) < 2 {
			fmt.Println("usage: /attach <path>")
			return
		}
		data, err := os.ReadFile(fields[1])
		if err != nil {
			fmt.Printf("! read file: %v\n", err)
			return
		}
		pending, err := staging.Select(ctx, attach.File{Name: fields[1], Data: data})
		if err != nil {
			fmt.Printf("! attach: %v\n", err)
			return
		}
		fmt.Printf("* uploading %s (%d bytes)\n", pending.Name, pending.Size)
	case "/clear":
		staging.Clear(ctx)
		fmt.Println("* attachment cleared")
	case "/who":
		for _, p := range session.Online() {
			fmt.Printf("* online: %s\n", displayName(p.DisplayName, p.UserID))
		}
	case "/leave":
		session.LeaveRoom(room)
	default:
		fmt.Printf("unknown command %s\n", fields[0])
	}
}
