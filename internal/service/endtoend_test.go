package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/jobboard-system/internal/model"
	"github.com/mmeshcher/jobboard-system/internal/payment"
	"github.com/mmeshcher/jobboard-system/internal/pricing"
)

// Полный платный цикл: публикация открывает транзакцию во внешней системе,
// подтверждение сверяет сумму и активирует вакансию.
func TestPublishThenConfirm_EndToEnd(t *testing.T) {
	var createdAmount int64

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/transactions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode create request: %v", err)
		}
		createdAmount = req.Amount

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(payment.CreatedTransaction{
			TransactionID: "tx-e2e",
			ClientToken:   "tok-e2e",
		})
	})
	mux.HandleFunc("GET /api/transactions/tx-e2e", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payment.TransactionStatus{
			TransactionID: "tx-e2e",
			Status:        payment.OutcomeSucceeded,
			AmountMinor:   createdAmount,
		})
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()

	repo := newStubRepo()
	repo.postings[1] = draftPosting(1, 10, "standard")

	svc := NewService(repo, payment.NewClient(ts.URL), zap.NewNop().Sugar())
	svc.SetClock(func() time.Time { return testNow })

	res, err := svc.PublishPosting(context.Background(), 10, 1, pricing.PlanStandard, nil)
	if err != nil {
		t.Fatalf("PublishPosting error: %v", err)
	}
	if res.Status != PublishStatusPaymentRequired {
		t.Fatalf("status = %s, want payment_required", res.Status)
	}
	if res.TransactionID != "tx-e2e" {
		t.Fatalf("transaction id = %s, want tx-e2e", res.TransactionID)
	}
	if createdAmount != 49900 {
		t.Fatalf("processor received amount %d, want 49900", createdAmount)
	}

	confirm, err := svc.ConfirmAndActivate(context.Background(), "tx-e2e")
	if err != nil {
		t.Fatalf("ConfirmAndActivate error: %v", err)
	}
	if confirm.Status != ConfirmStatusActivated || confirm.PostingID != 1 {
		t.Fatalf("unexpected confirm result: %+v", confirm)
	}

	activated := repo.postings[1]
	if activated.Status != model.PostingStatusActive {
		t.Fatalf("posting status = %s, want active", activated.Status)
	}
	if activated.ExpiresAt == nil {
		t.Fatalf("standard plan posting must have a non-nil expiry")
	}
}
