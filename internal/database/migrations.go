package database

import (
	"log"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/iyunix/go-madlen/internal/domain"
)

// GetMigrator returns the ordered schema history. New installs skip straight
// to the latest schema through InitSchema.
func GetMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	migrator := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "0001_chats_and_messages",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&domain.Chat{}, &domain.Message{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Message{}, &domain.Chat{})
			},
		},
	})

	migrator.InitSchema(func(tx *gorm.DB) error {
		log.Println("[Database] clean database detected, running full schema initialization")
		return tx.AutoMigrate(&domain.Chat{}, &domain.Message{})
	})

	return migrator
}
