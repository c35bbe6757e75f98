package repo

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNotifications(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	job := "j1"

	n1, err := CreateNotification(ctx, db, "u", "job_status", "Job update", "Your job moved", &job)
	if err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, err := CreateNotification(ctx, db, "u", "new_message", "New message", "", nil); err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}

	if n, _ := CountNotifications(ctx, db, "u", true); n != 2 {
		t.Fatalf("unread = %d; want 2", n)
	}
	read, err := MarkNotificationRead(ctx, db, n1.ID, "u", time.Now().UTC())
	if err != nil || read.ReadAt == nil {
		t.Fatalf("MarkNotificationRead = %+v, %v", read, err)
	}
	first := *read.ReadAt
	again, _ := MarkNotificationRead(ctx, db, n1.ID, "u", time.Now().UTC().Add(time.Hour))
	if !again.ReadAt.Equal(first) {
		t.Fatalf("read_at must not move: %v -> %v", first, again.ReadAt)
	}
	if _, err := MarkNotificationRead(ctx, db, n1.ID, "someone-else", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign notification: expected ErrNotFound, got %v", err)
	}

	unread, _ := ListNotificationsPage(ctx, db, "u", true, 0, 10)
	all, _ := ListNotificationsPage(ctx, db, "u", false, 0, 10)
	if len(unread) != 1 || len(all) != 2 || all[0].Type != "new_message" {
		t.Fatalf("unexpected lists: unread=%d all=%+v", len(unread), all)
	}
	if n, _ := CountNotifications(ctx, db, "u", false); n != 2 {
		t.Fatalf("total = %d; want 2", n)
	}
}
