package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationRecountSignatureLikes = "2026-09-01_recount_signature_likes"

// migrationRecord marks a one-time fan-wall data repair, such as the like-counter recount, as applied.
// Repairs with a record are skipped on later startups so counters edited afterwards stay untouched.
type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "fanwall_data_repairs"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRecountSignatureLikes, apply: recountSignatureLikes},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// recountSignatureLikes rebuilds the denormalized counters left inconsistent by two-step client writes.
func recountSignatureLikes(db *gorm.DB) error {
	return db.Exec(`UPDATE signatures SET likes = (
		SELECT COUNT(*) FROM signature_likes WHERE signature_likes.signature_id = signatures.id
	)`).Error
}
