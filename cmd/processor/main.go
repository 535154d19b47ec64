package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sahelsms/orange-gateway/internal/config"
	"github.com/sahelsms/orange-gateway/internal/msisdn"
	"github.com/sahelsms/orange-gateway/internal/orange"
	"github.com/sahelsms/orange-gateway/internal/processor"
	"github.com/sahelsms/orange-gateway/internal/repository"
	"github.com/sahelsms/orange-gateway/internal/services"
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

	// The processor settles messages, so it always needs the durable ledger.
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

	messageRepo := repository.NewMessageRepository(db)
	tokenStore := repository.NewTokenRepository(db)

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

	guard := processor.NewSubmitGuard(redisAdap, processor.DefaultSubmitGuardConfig())
	service := processor.NewProcessorService(redisAdap)
	service.RegisterProcessor(processor.NewSubmitProcessor(messageRepo, svc, guard))

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go prom.ListenAndServe(":9100", "/metrics")

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := service.Start(); err != nil {
			logger.Error("failed to start processor", "error", err)
		}
	}()

	<-c
	service.Stop()
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
