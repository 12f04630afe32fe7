// File: internal/database/database.go
package database

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to Postgres when databaseURL is set and falls back to the
// SQLite file at sqlitePath otherwise. The schema is migrated before returning.
func Open(databaseURL, sqlitePath string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		dialector = postgres.Open(databaseURL)
	case databaseURL != "":
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme: %q", schemeOf(databaseURL))
	default:
		dialector = sqlite.Open(sqliteDSN(sqlitePath))
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if db.Dialector.Name() == "sqlite" {
		// A single connection serializes writers; SQLite cannot upgrade a
		// read lock inside a transaction while another connection writes.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := GetMigrator(db).Migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	log.Printf("[Database] connected using %s dialect", db.Dialector.Name())
	return db, nil
}

// sqliteDSN turns on foreign key enforcement, which SQLite leaves off by
// default, and waits on locks held by the title worker instead of failing.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func schemeOf(url string) string {
	if i := strings.Index(url, "://"); i > 0 {
		return url[:i]
	}
	return url
}
