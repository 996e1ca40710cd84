// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package postgres stores the notification ledger and the breach registry in
// PostgreSQL through gorm.
package postgres

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB wraps the gorm handle shared by the ledger and the breach store.
type DB struct {
	gorm *gorm.DB
}

// Open connects to dsn and migrates the schema.
func Open(dsn string) (*DB, error) {
	gcfg := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Silent),
		PrepareStmt: true,
		NowFunc:     func() time.Time { return time.Now().UTC() },
	}
	g, err := gorm.Open(postgres.Open(dsn), gcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := g.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(60 * time.Minute)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	db := &DB{gorm: g}
	if err := db.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the tables.
func (db *DB) Migrate() error {
	if err := db.gorm.AutoMigrate(&notificationRow{}, &breachRow{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ledger returns the notification ledger backed by db.
func (db *DB) Ledger() *Ledger {
	return &Ledger{db: db.gorm}
}

// Breaches returns the breach store backed by db.
func (db *DB) Breaches() *Breaches {
	return &Breaches{db: db.gorm}
}
