package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sahelsms/orange-gateway/internal/config"
	"github.com/sahelsms/orange-gateway/internal/handlers"
	"github.com/sahelsms/orange-gateway/internal/msisdn"
	"github.com/sahelsms/orange-gateway/internal/orange"
	"github.com/sahelsms/orange-gateway/internal/queue"
	"github.com/sahelsms/orange-gateway/internal/repository"
	"github.com/sahelsms/orange-gateway/internal/services"
	xhttp "github.com/sahelsms/orange-gateway/pkg/http"
	"github.com/sahelsms/orange-gateway/pkg/logger"
	"github.com/sahelsms/orange-gateway/pkg/pg"
	"github.com/sahelsms/orange-gateway/pkg/prom"
	"github.com/sahelsms/orange-gateway/pkg/redis"
)

func main() {
	if err := config.Load(argContainsEnvPath()); err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()

	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(cfg.CarrierTimeout + 5*time.Second))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	var (
		messageRepo services.MessageRepository
		tokenStore  orange.TokenStore
	)
	if cfg.UseDB {
		readConf := pg.Config{
			User:     cfg.PostgresReadUser,
			Host:     cfg.PostgresReadHost,
			Port:     cfg.PostgresReadPort,
			Password: cfg.PostgresReadPassword,
			Database: cfg.PostgresReadDatabase,
		}
		writeConf := pg.Config{
			User:     cfg.PostgresWriteUser,
			Host:     cfg.PostgresWriteHost,
			Port:     cfg.PostgresWritePort,
			Password: cfg.PostgresWritePassword,
			Database: cfg.PostgresWriteDatabase,
		}
		db, err := pg.CreateReadWrite(readConf, writeConf, cfg.AppEnv == "dev")
		if err != nil {
			logger.Error("failed connecting to pg", "error", err)
			return
		}
		messageRepo = repository.NewMessageRepository(db)
		tokenStore = repository.NewTokenRepository(db)
	} else {
		logger.Warn("running with the in-memory ledger, messages will not survive restarts")
		messageRepo = repository.NewMemoryMessageRepository()
		tokenStore = repository.NewMemoryTokenStore()
	}

	tokens := orange.NewTokenManager(orange.TokenManagerConfig{
		OAuthURL:     cfg.OrangeOAuthURL,
		ClientID:     cfg.OrangeClientID,
		ClientSecret: cfg.OrangeClientSecret,
		Timeout:      cfg.CarrierTimeout,
		SeedToken:    cfg.OrangeToken,
		SeedExpiry:   cfg.TokenExpiryTime(),
	}, tokenStore, nil)

	carrier := orange.NewClient(orange.ClientConfig{
		MTBaseURL:     cfg.OrangeMTURL,
		AdminBaseURL:  cfg.OrangeAdminURL,
		SenderAddress: cfg.SenderAddress,
		Country:       cfg.Country,
		Timeout:       cfg.CarrierTimeout,
	}, tokens, nil)

	svc := services.NewMessageService(messageRepo, carrier, services.NoopHandler{}, services.MessageServiceConfig{
		Normalizer:        msisdn.Normalizer{CountryPrefix: cfg.CountryPrefix, Enabled: cfg.FixMSISDN},
		DefaultSenderName: cfg.DefaultSenderName,
	})

	switch cfg.DispatchMode {
	case "enqueued":
		redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
			Addrs:      []string{cfg.RedisAddr},
			ClientName: "default",
			DB:         cfg.RedisDatabase,
			Username:   cfg.RedisUsername,
			Password:   cfg.RedisPassword,
		})
		if err != nil {
			logger.Error("failed connecting to redis", "error", err)
			return
		}
		q, err := queue.New(redisAdap, queue.Config{
			Name:              cfg.QueueName,
			ConsumerGroup:     cfg.QueueConsumerGroup,
			ConsumerName:      cfg.QueueConsumerName,
			MaxRetries:        cfg.QueueMaxRetries,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			PollInterval:      cfg.QueuePollInterval,
			BatchSize:         cfg.QueueBatchSize,
			MaxLen:            cfg.QueueMaxLen,
			EnableDLQ:         cfg.QueueEnableDLQ,
		})
		if err != nil {
			logger.Error("failed creating submit queue", "error", err)
			return
		}
		svc.SetDispatcher(services.NewEnqueuedDispatcher(q))
	default:
		svc.SetDispatcher(services.NewInlineDispatcher(svc))
	}

	messageHandler := handlers.NewMessageHandler(svc)
	webhookHandler := handlers.NewWebhookHandler(svc)
	balanceHandler := handlers.NewBalanceHandler(svc)
	healthHandler := handlers.NewHealthHandler()

	g := s.Router.Group("/api/v1")
	handlers.RegisterMessageRoutes(g, messageHandler)
	handlers.RegisterWebhookRoutes(g, webhookHandler)
	handlers.RegisterBalanceRoutes(g, balanceHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	if cfg.PromListenAddr != "" {
		go prom.ListenAndServe(cfg.PromListenAddr, cfg.PromMetricsPath)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := s.ListenAndServe(cfg.HttpListenAddr); err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	if err := s.Shutdown(); err != nil {
		logger.Error("error shutting down http-server", "error", err)
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error " + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
