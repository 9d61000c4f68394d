package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/mmeshcher/jobboard-system/internal/model"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func draft(plan string) *model.Posting {
	return &model.Posting{
		ID:        1,
		AccountID: 10,
		Plan:      plan,
		Status:    model.PostingStatusDraft,
	}
}

func TestActivate_SetsExpiryFromPlan(t *testing.T) {
	p := draft("standard")

	if err := Activate(p, testNow); err != nil {
		t.Fatalf("Activate error: %v", err)
	}

	if p.Status != model.PostingStatusActive {
		t.Fatalf("status = %s, want active", p.Status)
	}
	if p.ExpiresAt == nil {
		t.Fatalf("expiresAt must be set for standard plan")
	}
	want := testNow.Add(30 * 24 * time.Hour)
	if !p.ExpiresAt.Equal(want) {
		t.Fatalf("expiresAt = %v, want %v", p.ExpiresAt, want)
	}
	if p.Featured {
		t.Fatalf("standard plan must not set featured")
	}
}

func TestActivate_UnlimitedHasNoExpiry(t *testing.T) {
	p := draft("unlimited")

	if err := Activate(p, testNow); err != nil {
		t.Fatalf("Activate error: %v", err)
	}
	if p.ExpiresAt != nil {
		t.Fatalf("unlimited plan must have nil expiresAt")
	}
	if !p.Featured {
		t.Fatalf("unlimited plan must grant featured placement")
	}
}

func TestActivate_RejectsNonDraft(t *testing.T) {
	for _, status := range []model.PostingStatus{
		model.PostingStatusActive,
		model.PostingStatusExpired,
		model.PostingStatusClosed,
	} {
		p := draft("basic")
		p.Status = status

		err := Activate(p, testNow)

		var invalid *InvalidTransitionError
		if !errors.As(err, &invalid) {
			t.Fatalf("Activate from %s: expected InvalidTransitionError, got %v", status, err)
		}
		if invalid.From != status || invalid.To != model.PostingStatusActive {
			t.Fatalf("error edge = %s -> %s, want %s -> active", invalid.From, invalid.To, status)
		}
	}
}

func TestClose_IrreversibleAndClearsFeatured(t *testing.T) {
	p := draft("featured")
	if err := Activate(p, testNow); err != nil {
		t.Fatalf("Activate error: %v", err)
	}
	if !p.Featured {
		t.Fatalf("featured plan must set featured on activation")
	}

	if err := Close(p, testNow); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if p.Status != model.PostingStatusClosed || p.Featured {
		t.Fatalf("closed posting: status=%s featured=%v", p.Status, p.Featured)
	}

	// Повторная активация закрытой вакансии запрещена.
	if err := Activate(p, testNow); err == nil {
		t.Fatalf("expected error reactivating closed posting")
	}
}

func TestExpire(t *testing.T) {
	p := draft("basic")
	if err := Activate(p, testNow); err != nil {
		t.Fatalf("Activate error: %v", err)
	}
	p.Featured = true

	// До наступления срока переход запрещён.
	if err := Expire(p, testNow.Add(24*time.Hour)); err == nil {
		t.Fatalf("expected error expiring before deadline")
	}

	after := testNow.Add(15 * 24 * time.Hour)
	if err := Expire(p, after); err != nil {
		t.Fatalf("Expire error: %v", err)
	}
	if p.Status != model.PostingStatusExpired || p.Featured {
		t.Fatalf("expired posting: status=%s featured=%v", p.Status, p.Featured)
	}

	// Реактивация истёкшей вакансии запрещена: нужен новый цикл оплаты.
	if err := Activate(p, after); err == nil {
		t.Fatalf("expected error reactivating expired posting")
	}
}

func TestSetFeatured_OnlyWhileActive(t *testing.T) {
	p := draft("basic")
	if err := SetFeatured(p, testNow); err == nil {
		t.Fatalf("expected error featuring a draft")
	}

	if err := Activate(p, testNow); err != nil {
		t.Fatalf("Activate error: %v", err)
	}
	if err := SetFeatured(p, testNow); err != nil {
		t.Fatalf("SetFeatured error: %v", err)
	}
	if !p.Featured {
		t.Fatalf("featured flag not set")
	}

	exp := testNow.Add(20 * 24 * time.Hour)
	if err := Expire(p, exp); err != nil {
		t.Fatalf("Expire error: %v", err)
	}

	err := SetFeatured(p, exp)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("featuring expired posting: expected InvalidTransitionError, got %v", err)
	}
}

func TestIsOverdue(t *testing.T) {
	p := draft("basic")
	if err := Activate(p, testNow); err != nil {
		t.Fatalf("Activate error: %v", err)
	}

	if IsOverdue(p, testNow.Add(24*time.Hour)) {
		t.Fatalf("posting overdue before expiry")
	}
	if !IsOverdue(p, testNow.Add(14*24*time.Hour)) {
		t.Fatalf("posting not overdue at expiry")
	}

	unlimited := draft("unlimited")
	if err := Activate(unlimited, testNow); err != nil {
		t.Fatalf("Activate error: %v", err)
	}
	if IsOverdue(unlimited, testNow.Add(1000*24*time.Hour)) {
		t.Fatalf("unlimited posting must never be overdue")
	}
}
