package database

import (
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init(dataDir string) *gorm.DB {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatal("failed to create data directory:", err)
	}

	dbPath := filepath.Join(dataDir, "inboxforge.db")

	dsn := buildSQLiteDSN(dbPath)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: newGormLogger(),
	})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("failed to get database handle:", err)
	}

	applySQLiteTuning(sqlDB)

	DB = db
	return db
}

func GetDB() *gorm.DB {
	return DB
}

func applySQLiteTuning(sqlDB *sql.DB) {
	if sqlDB == nil {
		return
	}

	// Allow concurrent readers under WAL while keeping writes serialized by SQLite.
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA temp_store = MEMORY;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA cache_size = -20000;",
		"PRAGMA wal_autocheckpoint = 1000;",
	}

	for _, q := range pragmas {
		if _, err := sqlDB.Exec(q); err != nil {
			log.Printf("[DB] sqlite pragma failed: %s err=%v", q, err)
		}
	}
}

func buildSQLiteDSN(dbPath string) string {
	p := strings.TrimSpace(dbPath)
	if p == "" {
		return dbPath
	}
	if strings.Contains(p, "?") {
		return p
	}
	return p + "?" + strings.Join([]string{
		"_busy_timeout=5000",
		"_foreign_keys=1",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_temp_store=MEMORY",
		"_cache_size=-20000",
		"_wal_autocheckpoint=1000",
	}, "&")
}

func newGormLogger() logger.Interface {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("IBF_DB_LOG_SQL")))
	lvl := logger.Warn
	if mode == "1" || mode == "true" || mode == "yes" || mode == "on" {
		lvl = logger.Info
	}

	slowMs := 200
	if v := strings.TrimSpace(os.Getenv("IBF_DB_SLOW_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			slowMs = n
		}
	}

	return logger.New(
		log.New(os.Stdout, "\r\n[GORM] ", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Duration(slowMs) * time.Millisecond,
			LogLevel:                  lvl,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}
