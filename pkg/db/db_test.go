package db

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/algotrader/pkg/config"
	"gorm.io/gorm"
)

type row struct {
	ID   uint   `gorm:"primaryKey"`
	Code string `gorm:"uniqueIndex"`
}

func openSQLite(t *testing.T) *DB {
	t.Helper()
	database, err := Open(context.Background(), config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          "file:" + t.Name() + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestDialector(t *testing.T) {
	for _, driver := range []string{"mysql", "postgres", "sqlite"} {
		d, err := Dialector(driver, "dsn")
		require.NoError(t, err)
		assert.Equal(t, driver, d.Name())
	}
	_, err := Dialector("oracle", "dsn")
	assert.Error(t, err)
}

func TestDuplicateKeyIsTranslated(t *testing.T) {
	database := openSQLite(t)
	assert.Equal(t, "sqlite", database.Driver())
	require.NoError(t, database.AutoMigrate(&row{}))

	ctx := context.Background()
	require.NoError(t, database.WithContext(ctx).Create(&row{Code: "A"}).Error)
	err := database.WithContext(ctx).Create(&row{Code: "A"}).Error
	require.Error(t, err)
	assert.True(t, IsDuplicateKey(err))
}

func TestWithTxRollsBack(t *testing.T) {
	database := openSQLite(t)
	require.NoError(t, database.AutoMigrate(&row{}))

	boom := errors.New("boom")
	err := WithTx(context.Background(), database.DB, func(tx *gorm.DB) error {
		if err := tx.Create(&row{Code: "B"}).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, database.Model(&row{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestIsDuplicateKey(t *testing.T) {
	assert.False(t, IsDuplicateKey(nil))
	assert.True(t, IsDuplicateKey(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKey(errors.New("Error 1062: Duplicate entry 'x' for key 'uk'")))
	assert.False(t, IsDuplicateKey(errors.New("connection refused")))
}
