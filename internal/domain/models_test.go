package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(
		&User{}, &Professional{}, &Address{},
		&Job{}, &Quote{}, &JobStatusEvent{}, &Review{},
		&CreditBalance{}, &CreditTransaction{}, &Referral{},
		&Conversation{}, &Message{}, &Notification{}, &Idempotency{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		User{}.TableName():              "users",
		Professional{}.TableName():      "professionals",
		Address{}.TableName():           "addresses",
		Job{}.TableName():               "jobs",
		Quote{}.TableName():             "quotes",
		JobStatusEvent{}.TableName():    "job_status_events",
		Review{}.TableName():            "reviews",
		CreditBalance{}.TableName():     "credit_balances",
		CreditTransaction{}.TableName(): "credit_transactions",
		Referral{}.TableName():          "referrals",
		Conversation{}.TableName():      "conversations",
		Message{}.TableName():           "messages",
		Notification{}.TableName():      "notifications",
		Idempotency{}.TableName():       "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_Indexes(t *testing.T) {
	db := newDomainDB(t)
	m := db.Migrator()

	checks := []struct {
		model any
		index string
	}{
		{&User{}, "ux_users_email"},
		{&User{}, "ux_users_referral_code"},
		{&Address{}, "idx_user_addresses"},
		{&Address{}, "ux_addresses_user_default"},
		{&Job{}, "ux_jobs_code"},
		{&Review{}, "ux_reviews_job"},
		{&Referral{}, "ux_referrals_referred"},
		{&Conversation{}, "ux_conversations_job"},
		{&Message{}, "ux_conversation_seq"},
		{&Idempotency{}, "ux_user_scope_key"},
	}
	for _, c := range checks {
		if !m.HasIndex(c.model, c.index) {
			t.Fatalf("expected index %s on %T", c.index, c.model)
		}
	}
}

func seedUser(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	u := &User{ID: id, Name: "N", Email: id + "@x.io", PasswordHash: "h", Role: RoleClient, ReferralCode: id[:8]}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func TestAddress_PartialUniqueDefault(t *testing.T) {
	db := newDomainDB(t)
	uid := uuid.NewString()
	seedUser(t, db, uid)

	mk := func(def bool) *Address {
		return &Address{ID: uuid.NewString(), UserID: uid, Street: "S", Number: "1",
			Neighborhood: "N", City: "C", State: "SP", ZipCode: "00000", IsDefault: def}
	}
	if err := db.Create(mk(true)).Error; err != nil {
		t.Fatalf("first default: %v", err)
	}
	if err := db.Create(mk(false)).Error; err != nil {
		t.Fatalf("non-default: %v", err)
	}
	if err := db.Create(mk(false)).Error; err != nil {
		t.Fatalf("second non-default: %v", err)
	}
	if err := db.Create(mk(true)).Error; err == nil {
		t.Fatalf("expected unique violation for a second default address")
	}
}

func TestCascades(t *testing.T) {
	db := newDomainDB(t)
	uid := uuid.NewString()
	seedUser(t, db, uid)
	now := time.Now().UTC()

	if err := db.Create(&Address{ID: "a1", UserID: uid, Street: "S", Number: "1", Neighborhood: "N",
		City: "C", State: "SP", ZipCode: "0", IsDefault: true}).Error; err != nil {
		t.Fatalf("insert address: %v", err)
	}
	job := &Job{ID: "j1", Code: "CS-20250101-AAAAA", Title: "T", Status: StatusCreated, ClientID: uid}
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("insert job: %v", err)
	}
	conv := &Conversation{ID: "c1", JobID: "j1", ClientID: uid, ProfessionalID: "p1"}
	if err := db.Create(conv).Error; err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	msg := &Message{ID: "m1", ConversationID: "c1", Seq: 1, SenderID: uid, Type: MessageText, Content: "hi", CreatedAt: now}
	if err := db.Create(msg).Error; err != nil {
		t.Fatalf("insert message: %v", err)
	}

	// Deleting the job removes its conversation and, transitively, its messages.
	if err := db.Delete(&Job{}, "id = ?", "j1").Error; err != nil {
		t.Fatalf("delete job: %v", err)
	}
	var cnt int64
	db.Model(&Message{}).Where("conversation_id = ?", "c1").Count(&cnt)
	if cnt != 0 {
		t.Fatalf("expected messages to cascade-delete, got %d", cnt)
	}

	if err := db.Delete(&User{}, "id = ?", uid).Error; err != nil {
		t.Fatalf("delete user: %v", err)
	}
	db.Model(&Address{}).Where("user_id = ?", uid).Count(&cnt)
	if cnt != 0 {
		t.Fatalf("expected addresses to cascade-delete, got %d", cnt)
	}
}

func TestMessage_DuplicateSeqRejected(t *testing.T) {
	db := newDomainDB(t)
	uid := uuid.NewString()
	if err := db.Create(&Job{ID: "j1", Code: "CS-1", Title: "T", Status: StatusCreated, ClientID: uid}).Error; err != nil {
		t.Fatalf("insert job: %v", err)
	}
	if err := db.Create(&Conversation{ID: "c1", JobID: "j1", ClientID: uid, ProfessionalID: "p1"}).Error; err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	if err := db.Create(&Message{ID: "m1", ConversationID: "c1", Seq: 1, SenderID: uid, Type: MessageText}).Error; err != nil {
		t.Fatalf("insert m1: %v", err)
	}
	if err := db.Create(&Message{ID: "m2", ConversationID: "c1", Seq: 1, SenderID: uid, Type: MessageText}).Error; err == nil {
		t.Fatalf("expected unique violation on (conversation_id, seq)")
	}
}

func TestRatings_Valid(t *testing.T) {
	five, zero, three := 5, 0, 3
	cases := []struct {
		name string
		r    Ratings
		want bool
	}{
		{"overall only", Ratings{Overall: 4}, true},
		{"all subs", Ratings{Overall: 1, Quality: &five, Punctuality: &three, Communication: &five}, true},
		{"overall low", Ratings{Overall: 0}, false},
		{"overall high", Ratings{Overall: 6}, false},
		{"sub out of range", Ratings{Overall: 3, Quality: &zero}, false},
	}
	for _, c := range cases {
		if got := c.r.Valid(); got != c.want {
			t.Fatalf("%s: Valid() = %v; want %v", c.name, got, c.want)
		}
	}
}

func TestConversation_Participants(t *testing.T) {
	c := &Conversation{ClientID: "c", ProfessionalID: "p"}
	if !c.HasParticipant("c") || !c.HasParticipant("p") || c.HasParticipant("x") {
		t.Fatalf("HasParticipant mismatch")
	}
	if c.Other("c") != "p" || c.Other("p") != "c" {
		t.Fatalf("Other mismatch")
	}
	if !MessageImage.Valid() || MessageType("video").Valid() {
		t.Fatalf("MessageType.Valid mismatch")
	}
}
