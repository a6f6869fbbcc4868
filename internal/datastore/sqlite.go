package datastore

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/polarbio/occurharvest/internal/conf"
	"github.com/polarbio/occurharvest/internal/errors"
)

// SQLiteStore is the SQLite backed implementation of Interface.
type SQLiteStore struct {
	Settings *conf.Settings
	DataStore
}

func validateSQLiteConfig(settings *conf.Settings) error {
	path := settings.Output.SQLite.Path
	if path == "" {
		return fmt.Errorf("sqlite database path is empty")
	}
	return nil
}

// Open initializes the SQLite database connection and performs migrations.
func (store *SQLiteStore) Open() error {
	if err := validateSQLiteConfig(store.Settings); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	dir, fileName := filepath.Split(store.Settings.Output.SQLite.Path)
	basePath := conf.GetBasePath(dir)
	absoluteFilePath := filepath.Join(basePath, fileName)

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("path", basePath).
			Build()
	}

	db, err := gorm.Open(sqlite.Open(absoluteFilePath), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		return errors.Newf("failed to open SQLite database: %v", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("path", absoluteFilePath).
			Build()
	}

	store.DB = db
	if err := performAutoMigration(db, store.Settings.Debug, "SQLite", absoluteFilePath); err != nil {
		return err
	}

	logger.Info("sqlite database open", "path", absoluteFilePath)
	return nil
}

// Close closes the underlying database connection.
func (store *SQLiteStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return sqlDB.Close()
}

// Maintenance reclaims space freed by bulk deletes. SQLite cannot VACUUM
// inside a transaction, so this must run between batches, never during one.
func (store *SQLiteStore) Maintenance() error {
	if err := store.DB.Exec("VACUUM").Error; err != nil {
		logger.Warn("vacuum failed", "error", err)
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}
