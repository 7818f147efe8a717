package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/idoneo/emailer/internal/config"
	"github.com/idoneo/emailer/internal/contacts"
	"github.com/idoneo/emailer/internal/domain"
	"github.com/idoneo/emailer/internal/emailer"
	"github.com/idoneo/emailer/internal/provider"
	"github.com/idoneo/emailer/internal/queue"
	"github.com/idoneo/emailer/internal/scheduler"
	"github.com/idoneo/emailer/internal/stats"
	"github.com/idoneo/emailer/internal/store"
	"github.com/idoneo/emailer/internal/template"
	"github.com/idoneo/emailer/internal/token"
	"github.com/idoneo/emailer/internal/worker"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Tracking.SigningKey == "" {
		log.Fatal("tracking.signing_key is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	pingCancel()
	log.Println("Connected to database")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to ping redis: %v", err)
	}

	st := store.NewPostgres(db)
	hostData := contacts.New(db)
	codec := token.New(cfg.Tracking.SigningKey, st)
	q := queue.New(redisClient, cfg.Redis.QueueKey)

	sched := scheduler.New(st, q, codec, hostData, hostData, scheduler.Pacing{
		BaseMinutes:      cfg.Pacing.BaseMinutes,
		MaxRandomSeconds: cfg.Pacing.MaxRandomSeconds,
	})

	router := provider.NewRouter(st, hostData, provider.Defaults{
		Provider:    domain.Provider(cfg.Mail.Provider),
		FromAddress: cfg.Mail.FromAddress,
		FromName:    cfg.Mail.FromName,
		ReplyTo:     cfg.Mail.ReplyTo,
		SMTP: provider.SMTPConfig{
			Host:       cfg.Mail.SMTP.Host,
			Port:       cfg.Mail.SMTP.Port,
			Username:   cfg.Mail.SMTP.Username,
			Password:   cfg.Mail.SMTP.Password,
			Encryption: cfg.Mail.SMTP.Encryption,
		},
		MailgunAPIKey:  cfg.Mail.Mailgun.APIKey,
		MailgunDomain:  cfg.Mail.Mailgun.Domain,
		SendGridAPIKey: cfg.Mail.SendGrid.APIKey,
		MailBabyAPIKey: cfg.Mail.MailBaby.APIKey,
		FallbackToSMTP: cfg.Mail.FallbackToSMTP,
	})

	injector := &template.Injector{
		BaseURL:     cfg.Tracking.BaseURL,
		TrackOpens:  cfg.Tracking.OpensEnabled(),
		TrackClicks: cfg.Tracking.ClicksEnabled(),
	}
	composer := emailer.New(st, q, sched, router, stats.New(st),
		template.NewRenderer(), injector, codec, hostData, nil)

	runtime := worker.New(st, q, router, composer, worker.Config{
		Workers:      cfg.Worker.Workers,
		PollInterval: cfg.Worker.PollInterval(),
		SendTimeout:  cfg.Worker.SendTimeout(),
		MaxRetries:   cfg.Worker.MaxRetries,
		RetryDelay:   cfg.Worker.RetryDelay(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down worker...")
		cancel()
	}()

	log.Printf("Send worker starting (%d workers)", cfg.Worker.Workers)
	runtime.Run(ctx)

	s := runtime.Stats()
	log.Printf("Worker stopped (sent=%d failed=%d skipped=%d retried=%d)",
		s.Sent, s.Failed, s.Skipped, s.Retried)
}
