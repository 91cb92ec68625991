package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// cacheEntry is one persisted table.
type cacheEntry struct {
	CacheKey  string         `gorm:"column:cache_key;primaryKey"`
	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb;not null"`
	RowCount  int            `gorm:"column:row_count;not null"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (cacheEntry) TableName() string { return "cache_entries" }

// PostgresBackend stores tables as JSON rows in a shared PostgreSQL database.
type PostgresBackend struct {
	db *gorm.DB
}

// OpenPostgres connects with a postgres:// URL and migrates the entry table.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresBackend, error) {
	if dsn == "" {
		return nil, errors.New("CACHE_DATABASE_URL is required for the postgres backend")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&cacheEntry{}); err != nil {
		return nil, fmt.Errorf("migrate cache_entries: %w", err)
	}
	return &PostgresBackend{db: db}, nil
}

func (p *PostgresBackend) Load(ctx context.Context, key string) (*Table, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	var e cacheEntry
	err := p.db.WithContext(ctx).Where("cache_key = ?", key).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select %s: %w", key, err)
	}
	var t Table
	if err := json.Unmarshal(e.Payload, &t); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return &t, true, nil
}

func (p *PostgresBackend) Save(ctx context.Context, key string, t *Table) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := t.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	e := cacheEntry{
		CacheKey:  key,
		Payload:   datatypes.JSON(payload),
		RowCount:  t.Len(),
		UpdatedAt: time.Now().UTC(),
	}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "row_count", "updated_at"}),
	}).Create(&e).Error
}

func (p *PostgresBackend) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := p.db.WithContext(ctx).Model(&cacheEntry{}).Order("cache_key").Pluck("cache_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

func (p *PostgresBackend) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return p.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&cacheEntry{}).Error
}

func (p *PostgresBackend) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
