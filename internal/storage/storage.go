package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is the process's single GORM/SQLite handle for ambient,
// cross-restart-safe bookkeeping (see package doc).
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (creating if necessary) the application database under
// the user's config directory and migrates its schema.
func NewStorage() (*Storage, error) {
	appData, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	dir := filepath.Join(appData, "TTHSDNext")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return NewStorageAt(filepath.Join(dir, "tthsd.db"))
}

// NewStorageAt opens the database at an explicit path, primarily so tests
// can point it at a temp directory instead of the real user config dir.
func NewStorageAt(dbPath string) (*Storage, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&DailyStat{}, &AppSetting{}, &SpeedTestHistory{}, &PerfSnapshot{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetString reads a setting; returns "" with a nil error if unset.
func (s *Storage) GetString(key string) (string, error) {
	var row AppSetting
	err := s.db.Where("key = ?", key).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", err
	}
	return row.Value, nil
}

// SetString upserts a setting.
func (s *Storage) SetString(key, value string) error {
	row := AppSetting{Key: key, Value: value}
	return s.db.Save(&row).Error
}

// IncrementDailyBytes adds to today's byte counter via SQL upsert.
func (s *Storage) IncrementDailyBytes(n int64) error {
	return s.upsertDaily(func(d *DailyStat) { d.Bytes += n })
}

// IncrementDailyFiles adds to today's completed-file counter.
func (s *Storage) IncrementDailyFiles() error {
	return s.upsertDaily(func(d *DailyStat) { d.Files++ })
}

func (s *Storage) upsertDaily(mutate func(*DailyStat)) error {
	today := time.Now().Format("2006-01-02")
	return s.db.Transaction(func(tx *gorm.DB) error {
		var row DailyStat
		err := tx.Where("date = ?", today).First(&row).Error
		if err != nil {
			if err != gorm.ErrRecordNotFound {
				return err
			}
			row = DailyStat{Date: today}
		}
		mutate(&row)
		return tx.Save(&row).Error
	})
}

// GetTotalLifetime sums bytes across all recorded days.
func (s *Storage) GetTotalLifetime() (int64, error) {
	var total int64
	err := s.db.Model(&DailyStat{}).Select("COALESCE(SUM(bytes), 0)").Scan(&total).Error
	return total, err
}

// GetTotalFiles sums completed files across all recorded days.
func (s *Storage) GetTotalFiles() (int64, error) {
	var total int64
	err := s.db.Model(&DailyStat{}).Select("COALESCE(SUM(files), 0)").Scan(&total).Error
	return total, err
}

// GetDailyHistory returns the most recent `days` daily stat rows.
func (s *Storage) GetDailyHistory(days int) ([]DailyStat, error) {
	var rows []DailyStat
	err := s.db.Order("date DESC").Limit(days).Find(&rows).Error
	return rows, err
}

// RecordSpeedTest persists a completed speed-test result.
func (s *Storage) RecordSpeedTest(row SpeedTestHistory) error {
	return s.db.Create(&row).Error
}

// GetSpeedTestHistory returns the most recent speed-test results.
func (s *Storage) GetSpeedTestHistory(limit int) ([]SpeedTestHistory, error) {
	var rows []SpeedTestHistory
	err := s.db.Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// RecordPerfSnapshot persists a Performance Monitor sample.
func (s *Storage) RecordPerfSnapshot(row PerfSnapshot) error {
	return s.db.Create(&row).Error
}
