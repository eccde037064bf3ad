package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/finsync/integration-connector/internal/config"

	_ "github.com/lib/pq"
)

func InitializeDatabaseConnection(cfg *config.Config) (*sql.DB, error) {

	psqlConnectionInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s TimeZone=UTC",
		cfg.DatabaseHost,
		cfg.DatabasePort,
		cfg.DatabaseUser,
		cfg.DatabasePassword,
		cfg.DatabaseName)

	sslSettings, err := buildPostgresSslConfigString(cfg)
	if err != nil {
		return nil, err
	}

	psqlConnectionInfo += " " + sslSettings

	return sql.Open("postgres", psqlConnectionInfo)
}

func buildPostgresSslConfigString(cfg *config.Config) (string, error) {
	if cfg.DatabaseSslMode == "disable" {
		return "sslmode=disable", nil
	} else if cfg.DatabaseSslMode == "verify-full" {
		return "sslmode=verify-full sslrootcert=" + cfg.DatabaseSslRootCert, nil
	} else {
		return "", errors.New("Invalid SSL configuration for database connection: " + cfg.DatabaseSslMode)
	}
}
