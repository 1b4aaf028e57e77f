package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"facility-risk/internal/auth"
	"facility-risk/internal/config"
	"facility-risk/internal/database"
	"facility-risk/internal/handlers"
	"facility-risk/internal/lock"
	"facility-risk/internal/metrics"
	"facility-risk/internal/models"
	"facility-risk/internal/notify"
	"facility-risk/internal/server"
	"facility-risk/internal/workflow"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		log.Fatal(err)
	}
}

// run returns instead of exiting so the deferred cleanups (redis client,
// notification drain) always execute.
func run(cfg *config.Config, logger *slog.Logger) error {
	db, err := database.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := database.SeedAdmin(db, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	var locker lock.Locker = lock.NewKeyed()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer client.Close()
		locker = lock.NewRedis(client, cfg.LockTTL)
		logger.Info("using redis locks", "addr", cfg.RedisAddr)
	}

	var sender notify.Sender = notify.LogSender{Logger: logger}
	if cfg.SMTPAddr != "" {
		sender = notify.NewSMTPSender(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPassword, cfg.OpsEmail)
		logger.Info("sending notifications by mail", "smtp", cfg.SMTPAddr)
	}
	dispatcher := notify.NewDispatcher(sender,
		notify.WithRate(cfg.NotifyRate, cfg.NotifyBurst),
		notify.WithTimeout(cfg.NotifyTimeout),
		notify.WithLogger(logger),
	)
	defer dispatcher.Wait()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine := workflow.New(db,
		workflow.WithLocker(locker),
		workflow.WithNotifier(dispatcher),
		workflow.WithMetrics(metrics.NewWorkflow(reg)),
		workflow.WithLogger(logger),
	)

	if cfg.ProtocolSeedFile != "" {
		if err := seedProtocols(engine, db, cfg); err != nil {
			return fmt.Errorf("seed protocols: %w", err)
		}
	}

	r := server.NewRouter(cfg, db, handlers.New(engine, db, logger), reg)

	addr := fmt.Sprintf(":%s", cfg.ServerPort)
	logger.Info("starting server", "addr", addr)
	if err := r.Run(addr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// seedProtocols imports the template file on behalf of the seeded admin.
func seedProtocols(engine *workflow.Engine, db *gorm.DB, cfg *config.Config) error {
	var admin models.User
	if err := db.Where("username = ?", cfg.AdminUsername).First(&admin).Error; err != nil {
		return fmt.Errorf("find admin: %w", err)
	}
	f, err := os.Open(cfg.ProtocolSeedFile)
	if err != nil {
		return err
	}
	defer f.Close()

	created, err := engine.Protocols.Import(context.Background(), auth.New(admin.ID, admin.Role), f)
	if err != nil {
		return err
	}
	slog.Info("imported protocol templates", "file", cfg.ProtocolSeedFile, "created", len(created))
	return nil
}
