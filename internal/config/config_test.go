package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fiscal-service/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "PR", cfg.HomeUF)
	assert.Equal(t, StorageFile, cfg.Storage)
	assert.Equal(t, int64(storage.DefaultQuotaBytes), cfg.StorageQuotaBytes)
	assert.Equal(t, time.Duration(0), cfg.YieldDelay)
}

func TestLoadEnvFileAndOverrides(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "FISCAL_HOME_UF=sc\nFISCAL_STORAGE=Memory\nFISCAL_YIELD_DELAY=20ms\nFISCAL_ADDR=:9000\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))
	t.Setenv("FISCAL_ADDR", ":7000")
	t.Cleanup(func() {
		for _, k := range []string{"FISCAL_HOME_UF", "FISCAL_STORAGE", "FISCAL_YIELD_DELAY"} {
			os.Unsetenv(k)
		}
	})

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Addr, "environment wins over .env")
	assert.Equal(t, "SC", cfg.HomeUF)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, 20*time.Millisecond, cfg.YieldDelay)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")

	t.Setenv("FISCAL_STORAGE", "s3")
	_, err := Load(missing)
	assert.Error(t, err)

	t.Setenv("FISCAL_STORAGE", "memory")
	t.Setenv("FISCAL_STORAGE_QUOTA_BYTES", "-1")
	_, err = Load(missing)
	assert.Error(t, err)

	t.Setenv("FISCAL_STORAGE_QUOTA_BYTES", "muito")
	_, err = Load(missing)
	assert.Error(t, err)
}

func TestOpenStorage(t *testing.T) {
	dir := t.TempDir()
	cases := []Config{
		{Storage: StorageMemory, StorageQuotaBytes: 100},
		{Storage: StorageFile, StorageDir: filepath.Join(dir, "files"), StorageQuotaBytes: 100},
		{Storage: StorageSQLite, SQLitePath: filepath.Join(dir, "fiscal.db"), StorageQuotaBytes: 100},
	}
	for _, cfg := range cases {
		t.Run(cfg.Storage, func(t *testing.T) {
			store, closeFn, err := cfg.OpenStorage(context.Background())
			require.NoError(t, err)
			defer closeFn()

			require.NoError(t, store.SetItem(context.Background(), "k", "v"))
			v, ok, err := store.GetItem(context.Background(), "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v", v)
		})
	}

	_, closeFn, err := (&Config{Storage: "fita"}).OpenStorage(context.Background())
	assert.Error(t, err)
	assert.NotNil(t, closeFn)
}
