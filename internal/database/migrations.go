package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillVoteTallies = "2026-08-12_backfill_vote_tallies"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillVoteTallies, apply: backfillVoteTallies},
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

// backfillVoteTallies rewrites every cached tally from the vote ledger,
// repairing rows persisted before tallies were recomputed inside the vote
// transaction.
func backfillVoteTallies(db *gorm.DB) error {
	const questionTallies = `UPDATE questions SET vote_tally = COALESCE(
		(SELECT SUM(value) FROM vote_records
		 WHERE content_kind = 'question' AND content_id = questions.question_id), 0);`
	if err := db.Exec(questionTallies).Error; err != nil {
		return err
	}
	const answerTallies = `UPDATE answers SET vote_tally = COALESCE(
		(SELECT SUM(value) FROM vote_records
		 WHERE content_kind = 'answer' AND content_id = answers.answer_id), 0);`
	return db.Exec(answerTallies).Error
}
