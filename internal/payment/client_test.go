package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCreateTransaction_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/transactions" {
			t.Fatalf("path = %s, want /api/transactions", r.URL.Path)
		}

		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.AmountMinor != 49900 {
			t.Fatalf("amount = %d, want 49900", req.AmountMinor)
		}
		if req.Currency != "RUB" {
			t.Fatalf("currency = %s, want RUB", req.Currency)
		}
		if req.IdempotencyKey == "" {
			t.Fatalf("idempotency key not set")
		}
		if req.Metadata["plan"] != "standard" {
			t.Fatalf("metadata plan = %q, want standard", req.Metadata["plan"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(CreatedTransaction{
			TransactionID: "tx-1",
			ClientToken:   "tok-1",
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := client.CreateTransaction(ctx, 49900, "RUB", map[string]string{"plan": "standard"})
	if err != nil {
		t.Fatalf("CreateTransaction error: %v", err)
	}
	if res.TransactionID != "tx-1" || res.ClientToken != "tok-1" {
		t.Fatalf("unexpected response: %+v", res)
	}
}

func TestCreateTransaction_RejectsZeroAmount(t *testing.T) {
	client := NewClient("localhost:1")

	_, err := client.CreateTransaction(context.Background(), 0, "RUB", nil)
	if err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func TestCreateTransaction_ServerErrorRetriedThenUnavailable(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := client.CreateTransaction(ctx, 100, "RUB", nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if atomic.LoadInt32(&calls) < 2 {
		t.Fatalf("expected retried calls, got %d", calls)
	}
}

func TestGetTransactionStatus_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/transactions/tx-9" {
			t.Fatalf("path = %s, want /api/transactions/tx-9", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TransactionStatus{
			TransactionID: "tx-9",
			Status:        OutcomeSucceeded,
			AmountMinor:   49900,
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := client.GetTransactionStatus(ctx, "tx-9")
	if err != nil {
		t.Fatalf("GetTransactionStatus error: %v", err)
	}
	if res.Status != OutcomeSucceeded || res.AmountMinor != 49900 {
		t.Fatalf("unexpected status: %+v", res)
	}
}

func TestGetTransactionStatus_UnknownStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"transaction_id": "tx-9", "status": "mystery"})
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	_, err := client.GetTransactionStatus(context.Background(), "tx-9")
	if err == nil {
		t.Fatalf("expected error for unknown status")
	}
}
