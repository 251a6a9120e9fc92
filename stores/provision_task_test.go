package stores

import (
	"errors"
	"testing"
	"time"

	"botpay/models"
	bptesting "botpay/testing"
)

func TestProvisionTaskStore_Enqueue_Idempotent(t *testing.T) {
	db := bptesting.OpenTestDB(t)
	store := CreateProvisionTaskStore(db)
	ctx := bptesting.MockContext()

	created, err := store.Enqueue(ctx, "pay_1", 5)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if !created {
		t.Error("Enqueue() created = false, want true on first insert")
	}

	created, err = store.Enqueue(ctx, "pay_1", 5)
	if err != nil {
		t.Fatalf("Enqueue() replay error = %v", err)
	}
	if created {
		t.Error("Enqueue() created = true on replay, want false")
	}

	var count int64
	db.Model(&models.ProvisionTask{}).Where("payment_intent_id = ?", "pay_1").Count(&count)
	if count != 1 {
		t.Errorf("task count = %d, want 1", count)
	}
}

func TestProvisionTaskStore_Claim_Exclusive(t *testing.T) {
	db := bptesting.OpenTestDB(t)
	store := CreateProvisionTaskStore(db)
	ctx := bptesting.MockContext()

	if _, err := store.Enqueue(ctx, "pay_1", 5); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	task, err := store.GetByPaymentIntentID(ctx, "pay_1")
	if err != nil {
		t.Fatalf("GetByPaymentIntentID() error = %v", err)
	}

	if err := store.Claim(ctx, task.ID); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	err = store.Claim(ctx, task.ID)
	if !errors.Is(err, ErrTransitionConflict) {
		t.Fatalf("second Claim() error = %v, want ErrTransitionConflict", err)
	}

	got, _ := store.GetByPaymentIntentID(ctx, "pay_1")
	if got.Status != models.ProvisionTaskStatusRunning {
		t.Errorf("Status = %s, want running", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
}

func TestProvisionTaskStore_GetDue_SkipsFutureRetries(t *testing.T) {
	db := bptesting.OpenTestDB(t)
	store := CreateProvisionTaskStore(db)
	ctx := bptesting.MockContext()

	if _, err := store.Enqueue(ctx, "pay_due", 5); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := store.Enqueue(ctx, "pay_future", 5); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	future, _ := store.GetByPaymentIntentID(ctx, "pay_future")
	if err := store.MarkRetry(ctx, future.ID, "boom", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("MarkRetry() error = %v", err)
	}

	due, err := store.GetDue(ctx, 10)
	if err != nil {
		t.Fatalf("GetDue() error = %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("GetDue() returned %d tasks, want 1", len(due))
	}
	if due[0].PaymentIntentID != "pay_due" {
		t.Errorf("GetDue() returned task for %s, want pay_due", due[0].PaymentIntentID)
	}
}

func TestProvisionTaskStore_MarkRetry_RequeuesWithError(t *testing.T) {
	db := bptesting.OpenTestDB(t)
	store := CreateProvisionTaskStore(db)
	ctx := bptesting.MockContext()

	if _, err := store.Enqueue(ctx, "pay_1", 5); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	task, _ := store.GetByPaymentIntentID(ctx, "pay_1")
	if err := store.Claim(ctx, task.ID); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	next := time.Now().Add(30 * time.Second)
	if err := store.MarkRetry(ctx, task.ID, "connection refused", next); err != nil {
		t.Fatalf("MarkRetry() error = %v", err)
	}

	got, _ := store.GetByPaymentIntentID(ctx, "pay_1")
	if got.Status != models.ProvisionTaskStatusPending {
		t.Errorf("Status = %s, want pending", got.Status)
	}
	if got.LastError != "connection refused" {
		t.Errorf("LastError = %q, want connection refused", got.LastError)
	}
	if got.NextAttemptAt == nil {
		t.Error("NextAttemptAt not set")
	}
}

func TestNextAttemptDelay_Ladder(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, 2 * time.Minute},
		{3, 10 * time.Minute},
		{4, 30 * time.Minute},
		{5, 2 * time.Hour},
		{9, 2 * time.Hour},
	}

	for _, tt := range tests {
		if got := NextAttemptDelay(tt.attempts); got != tt.want {
			t.Errorf("NextAttemptDelay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
