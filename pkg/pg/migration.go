package pg

import (
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/sahelsms/orange-gateway/pkg/logger"
)

// Migrate runs the goose SQL migrations found in dir against the write DB.
func Migrate(cfg Config, dir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		logger.Fatal(err)
	}

	db, err := newSQLConnection(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err = goose.Up(db, dir); err != nil {
		logger.Fatal(err)
	}
	return nil
}
