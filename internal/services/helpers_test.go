package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/casasegura/backend/internal/config"
	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/repo"
)

// newSvcDB opens a private in-memory database with the full schema. The pool
// is capped at one connection so concurrent callers queue on transactions
// instead of hitting shared-cache table locks.
func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newFileSvcDB opens a file-backed database through repo.Open with its
// default pool, for tests whose transactions must really overlap.
func newFileSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.Open(context.Background(), config.DBConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "casasegura.db"),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mkUser(t *testing.T, db *gorm.DB, role domain.Role) *domain.User {
	t.Helper()
	id := uuid.NewString()
	u := &domain.User{
		ID:           id,
		Name:         "User " + id[:4],
		Email:        id + "@example.com",
		PasswordHash: "x",
		Role:         role,
		ReferralCode: strings.ToUpper(id[:8]),
	}
	if err := repo.CreateUser(context.Background(), db, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if role == domain.RoleProfessional {
		if err := repo.CreateProfessional(context.Background(), db, id); err != nil {
			t.Fatalf("create professional: %v", err)
		}
	}
	if err := repo.EnsureCreditBalance(context.Background(), db, id); err != nil {
		t.Fatalf("ensure balance: %v", err)
	}
	return u
}

// mkJob inserts a job directly at status with the given professional.
func mkJob(t *testing.T, db *gorm.DB, clientID string, proID *string, status domain.JobStatus, amount int64) *domain.Job {
	t.Helper()
	now := time.Now().UTC()
	j := &domain.Job{
		ID:             uuid.NewString(),
		Code:           "CS-" + uuid.NewString()[:13],
		Title:          "Fix sink",
		Status:         status,
		ClientID:       clientID,
		ProfessionalID: proID,
		Amount:         amount,
		PayableAmount:  amount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := repo.CreateJob(context.Background(), db, j); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return j
}

func ptr[T any](v T) *T { return &v }
