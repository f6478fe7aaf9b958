package db

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/roamerhq/roamer/pkg/db/models"
)

type DB struct {
	DB *gorm.DB

	// BatchSize is used for how many insertions we should do at once.
	// Postgres supports a maximum of 2^16 records per insert.
	BatchSize int
}

func New(dsn string, logLevel logger.LogLevel) (*DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, err
	}

	return &DB{
		DB:        db,
		BatchSize: 1024,
	}, nil
}

// UpdateSchema migrates the tables and indexes the service owns. Messages are
// append-only; the unique indexes on (thread_id, request_id) and
// (thread_id, source_message_id) are what makes submission and job processing
// idempotent under retries and queue redelivery.
func (d *DB) UpdateSchema() error {
	return d.DB.AutoMigrate(
		&models.Thread{},
		&models.Message{},
		&models.PointOfInterest{},
	)
}
