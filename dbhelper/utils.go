package dbhelper

import (
	"fmt"

	"gorm.io/gorm"

	"styleaiapi/models"
)

func SetupCleaner(db *gorm.DB) func() {
	return func() {
		db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.OutfitRender{})
		db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.OutfitAnalysis{})
		db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Payment{})
		db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.UsageRecord{})
	}
}

func Migrate(db *gorm.DB, model interface{}) error {
	if err := db.AutoMigrate(model); err != nil {
		return fmt.Errorf("migrate %T: %w", model, err)
	}
	return nil
}
