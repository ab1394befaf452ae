package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"panelchat/internal/chat"
	"panelchat/internal/config"
	"panelchat/internal/db"
	"panelchat/internal/events"
	"panelchat/internal/logging"
	myMiddleware "panelchat/internal/middleware"
	"panelchat/internal/notify"
	"panelchat/internal/presence"
	"panelchat/internal/realtime"
	"panelchat/internal/session"
	"panelchat/internal/storage"
	"panelchat/internal/user"
)

const version = "0.3.0"

func main() {
	app := &cli.App{
		Name:    "panelchat",
		Usage:   "Realtime chat and presence for the intranet panel",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` (default: ./panelchat.toml if present)",
				EnvVars: []string{"PANELCHAT_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP and WebSocket server",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Create the database schema and job queue tables",
				Action: migrate,
			},
			{
				Name:      "promote",
				Usage:     "Change the role of a user",
				ArgsUsage: "USERNAME",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "role", Value: user.RoleAdmin, Usage: "employee or admin"},
				},
				Action: promote,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Init(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func migrate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	database, err := db.NewDatabase(c.Context, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if err := database.AutoMigrate(c.Context); err != nil {
		return err
	}
	n, err := database.MigrateQueue(c.Context)
	if err != nil {
		return err
	}
	log.Info().Int("queue_migrations", n).Msg("database schema is up to date")
	return nil
}

func promote(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one USERNAME")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	database, err := db.NewDatabase(c.Context, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	svc := user.NewService(user.NewRepository(database.Conn), cfg.Auth.JWTSecret, nil, nil)
	if err := svc.Promote(c.Context, c.Args().First(), c.String("role")); err != nil {
		return err
	}
	log.Info().Str("username", c.Args().First()).Str("role", c.String("role")).Msg("role updated")
	return nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDatabase(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()
	log.Info().Msg("connected to PostgreSQL")

	if err := database.AutoMigrate(ctx); err != nil {
		return err
	}
	if _, err := database.MigrateQueue(ctx); err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")

	var (
		images  chat.ImageStore
		avatars user.AvatarStore
	)
	if cfg.Storage.Bucket != "" {
		s3, err := storage.NewS3Store(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		images, avatars = s3, s3
	} else {
		log.Warn().Msg("storage.bucket is not set, image uploads are disabled")
	}

	bus := events.New()

	userService := user.NewService(user.NewRepository(database.Conn), cfg.Auth.JWTSecret, avatars, bus)

	feed := chat.NewFeed(redisClient)
	go feed.Run(ctx)
	chatService := chat.NewService(chat.NewRepository(database.Conn), feed, images,
		cfg.Chat.MaxImageBytes, cfg.Chat.HistoryLimit)

	presenceChannel := realtime.NewRedisChannel(redisClient, "online-users")
	typingChannel := realtime.NewRedisChannel(redisClient, "typing")
	directory := presence.NewDirectory(presenceChannel, cfg.Presence.StaleAfter, userService, bus)
	defer directory.Close()
	for _, ch := range []realtime.Channel{presenceChannel, typingChannel} {
		if err := ch.Subscribe(ctx); err != nil {
			return err
		}
		defer ch.Unsubscribe()
	}

	var sender notify.Sender = notify.LogSender{}
	if cfg.Push.WebhookURL != "" {
		sender = notify.NewWebhookSender(cfg.Push.WebhookURL)
	}
	queue, err := notify.NewQueue(database.Pool, sender, cfg.Push.Workers)
	if err != nil {
		return err
	}
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("start push queue: %w", err)
	}

	hub := session.NewHub()
	go hub.Run(ctx, bus)

	deps := session.Deps{
		Chat:      chatService,
		Presence:  presenceChannel,
		Directory: directory,
		Typing:    typingChannel,
		Profiles:  userService,
		Pusher:    queue,
		Timings: session.Timings{
			Presence: presence.Config{
				Heartbeat:   cfg.Presence.Heartbeat,
				AwayAfter:   cfg.Presence.AwayAfter,
				HiddenGrace: cfg.Presence.HiddenGrace,
			},
			TypingQuiet: cfg.Typing.Quiet,
			ToastTTL:    cfg.Notify.ToastTTL,
		},
	}

	router := newRouter(handlers{
		users:   user.NewHandler(userService),
		chat:    chat.NewHandler(chatService, userService),
		session: session.NewHandler(hub, deps),
		auth:    myMiddleware.NewAuthMiddleware(userService),
		health: func(ctx context.Context) error {
			return errors.Join(database.Pool.Ping(ctx), redisClient.Ping(ctx).Err())
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Str("version", version).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("push queue shutdown")
	}
	return nil
}
