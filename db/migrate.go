package db

import (
	"fmt"

	"github.com/quailyquaily/deskmate/db/models"
	"gorm.io/gorm"
)

func AutoMigrate(gdb *gorm.DB) error {
	if gdb == nil {
		return fmt.Errorf("nil gorm db")
	}
	return gdb.AutoMigrate(
		&models.Business{},
		&models.Client{},
		&models.Conversation{},
		&models.Message{},
		&models.ClientAction{},
		&models.GptConfiguration{},
		&models.ManagerPreference{},
	)
}
