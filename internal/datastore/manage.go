package datastore

import (
	"log"
	"os"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/polarbio/occurharvest/internal/errors"
)

// performAutoMigration runs GORM auto-migration for all entities.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&DataType{},
		&Publisher{},
		&Project{},
		&Keyword{},
		&Person{},
		&Dataset{},
		&PersonTypeRole{},
		&BasisOfRecord{},
		&HarvestedDataset{},
		&Occurrence{},
		&HexGrid{},
	); err != nil {
		return errors.Newf("failed to auto-migrate %s database: %v", dbType, err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("db_type", dbType).
			Build()
	}

	if debug {
		log.Printf("%s database connection initialized: %s", dbType, connectionInfo)
	}
	return nil
}

// wrapDB attaches component, category and one context key to a database error.
func wrapDB(err error, key string, value any) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context(key, value).
		Build()
}

// whereNullable matches a nullable foreign key column against an optional id.
func whereNullable(q *gorm.DB, column string, id *uint) *gorm.DB {
	if id == nil {
		return q.Where(column + " IS NULL")
	}
	return q.Where(column+" = ?", *id)
}

// categoryForLookup distinguishes a missing row from a real database fault.
func categoryForLookup(err error) errors.ErrorCategory {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.CategoryNotFound
	}
	return errors.CategoryDatabase
}

// createGormLogger returns a gorm logger that only surfaces slow queries and
// errors, keeping bulk import runs quiet.
func createGormLogger() gormlogger.Interface {
	return gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}
