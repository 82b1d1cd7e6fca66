package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/usageboard/config"
	"github.com/cppla/usageboard/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := config.OpenDatabase(config.AppConfig{
		DBDriver:    "sqlite",
		DatabaseURI: fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		LogLevel:    "silent",
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := config.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func seedProfile(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	if err := db.Create(&models.UserProfile{ID: id}).Error; err != nil {
		t.Fatalf("Failed to insert test user: %v", err)
	}
}

func loadProfile(t *testing.T, db *gorm.DB, id string) models.UserProfile {
	t.Helper()
	var p models.UserProfile
	if err := db.Where("id = ?", id).First(&p).Error; err != nil {
		t.Fatalf("Failed to load profile %s: %v", id, err)
	}
	return p
}

func fixedNow() time.Time {
	return time.Date(2025, 1, 1, 18, 0, 0, 0, time.UTC)
}

type recordingRanks struct {
	mu    sync.Mutex
	users []string
	err   error
}

func (r *recordingRanks) RefreshUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	return r.err
}
