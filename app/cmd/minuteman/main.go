package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "minuteman/app/configs"
	"minuteman/app/core/interaction/cli"
	"minuteman/app/core/interaction/gateway"
	"minuteman/app/core/interaction/webhook"
	"minuteman/app/core/orchestrator/command"
	"minuteman/app/core/orchestrator/db"
	"minuteman/app/core/orchestrator/extract"
	"minuteman/app/core/orchestrator/permission"
	"minuteman/app/core/orchestrator/remind"
	"minuteman/app/core/orchestrator/session"
	"minuteman/app/core/orchestrator/task"
	"minuteman/app/pkg/logger"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to config json")
	withCLI := flag.Bool("cli", false, "also attach a local stdin channel")
	cliUser := flag.String("cli-user", "local_user", "user id for the cli channel")
	flag.Parse()

	if err := run(*configPath, *withCLI, *cliUser); err != nil {
		fmt.Fprintf(os.Stderr, "minuteman: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, withCLI bool, cliUser string) error {
	cfgMgr, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := cfgMgr.Get()

	if err := logger.Init(cfg.Bot.LogDir); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	database, err := db.NewSQLiteDB(cfg.Bot.DataDir)
	if err != nil {
		return fmt.Errorf("init db: %w", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	perms := permission.NewStore(database)
	if err := perms.Bootstrap(ctx, cfg.Admin.BootstrapSuperAdmins); err != nil {
		return fmt.Errorf("bootstrap admins: %w", err)
	}

	tasks := task.NewStore(database, cfgMgr)
	recorder := session.NewRecorder()
	pipeline := extract.NewPipeline(extract.Config{
		BaseURL: cfg.Extractor.BaseURL,
		APIKey:  os.Getenv(cfg.Extractor.APIKeyEnv),
		Model:   cfg.Extractor.Model,
		Timeout: time.Duration(cfg.Extractor.TimeoutSec) * time.Second,
	})

	dispatcher := command.NewDispatcher(perms, tasks, recorder, pipeline)
	gw := gateway.NewGateway(dispatcher)

	hook := webhook.NewChannel(webhook.Config{
		Port:      cfg.Server.Port,
		PushURL:   cfg.Server.PushURL,
		PushToken: os.Getenv(cfg.Server.PushTokenEnv),
	})
	gw.RegisterChannel(hook)

	if withCLI {
		gw.RegisterChannel(cli.NewCLIChannel(cfg.Bot.Name, cliUser))
	}

	if cfg.Remind.Enabled {
		sweeper, err := remind.NewService(tasks, hook, cfg.Remind.Cron)
		if err != nil {
			return fmt.Errorf("init remind service: %w", err)
		}
		go sweeper.Run(ctx)
	}

	logger.Info("%s starting, port=%d", cfg.Bot.Name, cfg.Server.Port)
	return gw.Start(ctx)
}
