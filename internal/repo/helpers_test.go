package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/casasegura/backend/internal/domain"
)

// newRepoDB opens a private in-memory database. With migrate it creates the
// full schema; without it every table is missing, which drives error paths.
func newRepoDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if migrate {
		if err := AutoMigrate(db); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, role domain.Role) *domain.User {
	t.Helper()
	id := uuid.NewString()
	u := &domain.User{
		ID:           id,
		Name:         "User " + id[:4],
		Email:        id + "@example.com",
		PasswordHash: "x",
		Role:         role,
		ReferralCode: id[:8],
		CreatedAt:    time.Now().UTC(),
	}
	if err := CreateUser(context.Background(), db, u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func seedJob(t *testing.T, db *gorm.DB, clientID string, status domain.JobStatus) *domain.Job {
	t.Helper()
	id := uuid.NewString()
	j := &domain.Job{
		ID:       id,
		Code:     "CS-20250101-" + id[:5],
		Title:    "Fix sink",
		Status:   status,
		ClientID: clientID,
	}
	if err := CreateJob(context.Background(), db, j); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return j
}
