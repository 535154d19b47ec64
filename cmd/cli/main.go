package main

import (
	"os"
	"strings"

	"github.com/sahelsms/orange-gateway/internal/config"
	"github.com/sahelsms/orange-gateway/pkg/logger"
	"github.com/sahelsms/orange-gateway/pkg/pg"
)

// Migration runner: main.go --env=.env --dir=./migrations
func main() {
	if err := config.Load(getEnvPath()); err != nil {
		logger.Error("failed to load config", "error", err)
	}

	pgConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}
	if err := pg.Migrate(pgConf, getMigrationPath()); err != nil {
		logger.Error("migration: error running migrations", "error", err)
	}
}

func getEnvPath() string {
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
	if _, err := os.Open(".env"); err != nil {
		return ""
	}
	return ".env"
}

func getMigrationPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--dir=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed migrations dir, got error " + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return "./migrations"
}
