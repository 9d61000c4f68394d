// Package payment предоставляет клиент для внешней платёжной системы.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

// ErrUnavailable возвращается при сетевых ошибках, таймаутах и ошибках 5xx
// платёжной системы после исчерпания повторов. Ошибка транзиентная: вызывающая
// сторона может предложить пользователю повторить попытку.
var ErrUnavailable = errors.New("payment processor unavailable")

// Outcome — статус транзакции по данным платёжной системы.
type Outcome string

const (
	OutcomeSucceeded      Outcome = "succeeded"
	OutcomeProcessing     Outcome = "processing"
	OutcomeRequiresAction Outcome = "requires_action"
	OutcomeFailed         Outcome = "failed"
)

// Client инкапсулирует HTTP-взаимодействие с платёжной системой.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// CreatedTransaction — результат открытия транзакции.
type CreatedTransaction struct {
	TransactionID string `json:"transaction_id"`
	ClientToken   string `json:"client_token"`
}

// TransactionStatus — авторитетный статус транзакции. Сумма возвращается
// платёжной системой и сверяется с котировкой на нашей стороне.
type TransactionStatus struct {
	TransactionID string  `json:"transaction_id"`
	Status        Outcome `json:"status"`
	AmountMinor   int64   `json:"amount"`
}

// NewClient создаёт клиент платёжной системы по указанному адресу.
// Транзиентные ошибки повторяются с экспоненциальной задержкой, не более
// трёх повторов на запрос.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc,
	}
}

type createRequest struct {
	AmountMinor    int64             `json:"amount"`
	Currency       string            `json:"currency"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata"`
}

// CreateTransaction открывает транзакцию на указанную сумму в копейках.
// Метаданные включают снимок тарифа и дополнений для аудита. Сумма должна
// быть положительной: нулевые платежи до платёжной системы не доходят.
func (c *Client) CreateTransaction(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*CreatedTransaction, error) {
	if amountMinor <= 0 {
		return nil, fmt.Errorf("create transaction: non-positive amount %d", amountMinor)
	}

	body, err := json.Marshal(createRequest{
		AmountMinor:    amountMinor,
		Currency:       currency,
		IdempotencyKey: uuid.NewString(),
		Metadata:       metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url("/api/transactions"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("create transaction: unexpected status %d", resp.StatusCode)
	}

	var result CreatedTransaction
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.TransactionID == "" {
		return nil, fmt.Errorf("create transaction: empty transaction id")
	}

	return &result, nil
}

// GetTransactionStatus запрашивает авторитетный статус транзакции.
// Клиентским заявлениям об успехе оплаты сервис не доверяет: активация
// выполняется только после этого запроса.
func (c *Client) GetTransactionStatus(ctx context.Context, transactionID string) (*TransactionStatus, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/transactions/"+transactionID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("get transaction status: transaction %s not found", transactionID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get transaction status: unexpected status %d", resp.StatusCode)
	}

	var result TransactionStatus
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	switch result.Status {
	case OutcomeSucceeded, OutcomeProcessing, OutcomeRequiresAction, OutcomeFailed:
	default:
		return nil, fmt.Errorf("get transaction status: unknown status %q", result.Status)
	}

	return &result, nil
}

func (c *Client) url(path string) string {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base + path
}
