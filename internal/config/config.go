// package config/config.go
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"fiscal-service/internal/storage"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Storage backends accepted in FISCAL_STORAGE.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
	StorageSQLite = "sqlite"
)

// Config holds the server settings read from the environment.
type Config struct {
	Addr           string        `envconfig:"FISCAL_ADDR" default:":8080"`
	HomeUF         string        `envconfig:"FISCAL_HOME_UF" default:"PR"`
	CompanyTaxID   string        `envconfig:"FISCAL_COMPANY_CNPJ"`
	ReturnCategory string        `envconfig:"FISCAL_RETURN_CATEGORY" default:"devolucao-emissao-propria"`
	YieldDelay     time.Duration `envconfig:"FISCAL_YIELD_DELAY" default:"0s"`

	Storage           string `envconfig:"FISCAL_STORAGE" default:"file"`
	StorageDir        string `envconfig:"FISCAL_STORAGE_DIR" default:"data"`
	RedisAddr         string `envconfig:"FISCAL_REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPrefix       string `envconfig:"FISCAL_REDIS_PREFIX" default:"fiscal"`
	SQLitePath        string `envconfig:"FISCAL_SQLITE_PATH" default:"data/fiscal.db"`
	StorageQuotaBytes int64  `envconfig:"FISCAL_STORAGE_QUOTA_BYTES" default:"5242880"`
}

// Load reads the optional .env files and then the environment. Variables
// already set in the environment win over the files.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("erro ao carregar %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("configuração inválida: %w", err)
	}
	cfg.HomeUF = strings.ToUpper(strings.TrimSpace(cfg.HomeUF))
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
	if cfg.StorageQuotaBytes < 0 {
		return nil, errors.New("FISCAL_STORAGE_QUOTA_BYTES não pode ser negativo")
	}
	if cfg.YieldDelay < 0 {
		return nil, errors.New("FISCAL_YIELD_DELAY não pode ser negativo")
	}
	switch cfg.Storage {
	case StorageMemory, StorageFile, StorageRedis, StorageSQLite:
	default:
		return nil, fmt.Errorf("FISCAL_STORAGE desconhecido: %q", cfg.Storage)
	}
	return &cfg, nil
}

// OpenStorage builds the configured backend. The returned close function
// releases its connections and is never nil.
func (c *Config) OpenStorage(ctx context.Context) (storage.Storage, func() error, error) {
	noop := func() error { return nil }
	switch c.Storage {
	case StorageMemory:
		return storage.NewMemory(c.StorageQuotaBytes), noop, nil
	case StorageFile:
		fileStore, err := storage.NewFile(c.StorageDir, c.StorageQuotaBytes)
		if err != nil {
			return nil, noop, err
		}
		return fileStore, noop, nil
	case StorageRedis:
		client, err := storage.DialRedis(ctx, c.RedisAddr)
		if err != nil {
			return nil, noop, err
		}
		return storage.NewRedis(client, c.RedisPrefix, c.StorageQuotaBytes), client.Close, nil
	case StorageSQLite:
		db, err := storage.NewSQLite(c.SQLitePath, c.StorageQuotaBytes)
		if err != nil {
			return nil, noop, err
		}
		return db, db.Close, nil
	}
	return nil, noop, fmt.Errorf("FISCAL_STORAGE desconhecido: %q", c.Storage)
}
