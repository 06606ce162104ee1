package dbhelper

import (
	"fmt"
	"os"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"styleaiapi/config"
	"styleaiapi/models"
)

func SetupDB(cfg config.DBConfig, logLevel logger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(300)
	sqlDB.SetConnMaxLifetime(time.Minute * 5)

	if err := MigrateAll(db); err != nil {
		return nil, err
	}
	return db, nil
}

func MigrateAll(db *gorm.DB) error {
	for _, model := range []interface{}{
		&models.UsageRecord{},
		&models.OutfitAnalysis{},
		&models.OutfitRender{},
		&models.Payment{},
	} {
		if err := Migrate(db, model); err != nil {
			return err
		}
	}
	return nil
}

func testEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SetupTestDB connects to the local test database and skips the test when it
// is not reachable.
func SetupTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	cfg := config.DBConfig{
		Username: testEnv("TEST_DB_USERNAME", "fastpos"),
		Password: testEnv("TEST_DB_PASSWORD", "fastpos"),
		Host:     testEnv("TEST_DB_HOST", "localhost"),
		Port:     testEnv("TEST_DB_PORT", "5432"),
		Name:     testEnv("TEST_DB_NAME", "fastpos"),
	}
	db, err := SetupDB(cfg, logger.Silent)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil || sqlDB.Ping() != nil {
		t.Skip("postgres not reachable")
	}
	return db
}
