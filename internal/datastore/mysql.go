package datastore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/polarbio/occurharvest/internal/conf"
	"github.com/polarbio/occurharvest/internal/errors"
)

// MySQLStore is the MySQL backed implementation of Interface.
type MySQLStore struct {
	Settings *conf.Settings
	DataStore
}

func validateMySQLConfig(settings *conf.Settings) error {
	mc := settings.Output.MySQL
	if mc.Username == "" || mc.Database == "" || mc.Host == "" || mc.Port == "" {
		return fmt.Errorf("mysql configuration incomplete: username, database, host and port are required")
	}
	return nil
}

// Open initializes the MySQL database connection and performs migrations.
func (store *MySQLStore) Open() error {
	if err := validateMySQLConfig(store.Settings); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	mc := store.Settings.Output.MySQL
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		mc.Username, mc.Password, mc.Host, mc.Port, mc.Database)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		return errors.Newf("failed to open MySQL database: %v", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("host", mc.Host).
			Context("database", mc.Database).
			Build()
	}

	store.DB = db
	if err := performAutoMigration(db, store.Settings.Debug, "MySQL", dsn); err != nil {
		return err
	}

	logger.Info("mysql database open", "host", mc.Host, "database", mc.Database)
	return nil
}

// Close closes the underlying database connection.
func (store *MySQLStore) Close() error {
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

// Maintenance defragments the occurrence tables after bulk deletes.
func (store *MySQLStore) Maintenance() error {
	for _, table := range []string{"occurrences", "occurrence_hexgrids"} {
		if err := store.DB.Exec("OPTIMIZE TABLE " + table).Error; err != nil {
			logger.Warn("optimize table failed", "table", table, "error", err)
			return errors.New(err).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("table", table).
				Build()
		}
	}
	return nil
}
