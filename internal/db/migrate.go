package db

import (
	"dexbot/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Token{},
		&models.Order{},
		&models.Trade{},
		&models.PortfolioSnapshot{},
	)
}
