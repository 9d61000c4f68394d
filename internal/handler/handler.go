// Package handler содержит HTTP-обработчики API сервиса доски вакансий.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/jobboard-system/internal/access"
	"github.com/mmeshcher/jobboard-system/internal/lifecycle"
	"github.com/mmeshcher/jobboard-system/internal/middleware"
	"github.com/mmeshcher/jobboard-system/internal/model"
	"github.com/mmeshcher/jobboard-system/internal/payment"
	"github.com/mmeshcher/jobboard-system/internal/pricing"
	"github.com/mmeshcher/jobboard-system/internal/repository"
	"github.com/mmeshcher/jobboard-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterAccount(ctx context.Context, login, password string) (int64, error)
	AuthenticateAccount(ctx context.Context, login, password string) (int64, error)
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	SelectRole(ctx context.Context, accountID int64, role model.Role) error
	SwitchRole(ctx context.Context, accountID int64, role model.Role) error
	QuotePrice(plan pricing.Plan, addons []pricing.Addon) (int64, error)
	CreateDraft(ctx context.Context, accountID int64, in service.DraftInput) (int64, error)
	PublishPosting(ctx context.Context, accountID, postingID int64, plan pricing.Plan, addons []pricing.Addon) (*service.PublishResult, error)
	ConfirmAndActivate(ctx context.Context, transactionID string) (*service.ConfirmResult, error)
	GetPosting(ctx context.Context, id int64, viewerAccountID int64) (*model.Posting, error)
	ListActivePostings(ctx context.Context) ([]model.Posting, error)
	ListFeatured(ctx context.Context) ([]model.Posting, error)
	ListAccountPostings(ctx context.Context, accountID int64) ([]model.Posting, error)
	ClosePosting(ctx context.Context, accountID, postingID int64) error
	FeaturePosting(ctx context.Context, accountID, postingID int64) error
	ApplyToPosting(ctx context.Context, accountID, postingID int64, coverNote string) (int64, error)
	ListApplications(ctx context.Context, accountID int64) ([]model.Application, error)
}

// Handler реализует HTTP-обработчики API сервиса доски вакансий.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// authorize загружает текущий аккаунт и проверяет требуемую роль через
// access.Authorize. Требуемую роль объявляет каждый обработчик.
func (h *Handler) authorize(r *http.Request, required model.Role) (*model.Account, error) {
	accountID, ok := middleware.GetAccountIDFromContext(r.Context())
	if !ok {
		return nil, access.ErrUnauthenticated
	}

	acc, err := h.service.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, access.ErrUnauthenticated
		}
		return nil, err
	}

	if err := access.Authorize(acc, required); err != nil {
		return nil, err
	}

	return acc, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError переводит доменные ошибки в HTTP-статусы. Ошибки гейта доступа —
// ожидаемые исходы, а не сбои, и отдаются со структурированной причиной.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *lifecycle.InvalidTransitionError

	switch {
	case errors.Is(err, access.ErrUnauthenticated):
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, access.ErrRoleSelectionRequired):
		writeJSONError(w, http.StatusConflict, "role selection required")
	case errors.Is(err, access.ErrForbiddenRole):
		writeJSONError(w, http.StatusForbidden, "operation not allowed for account role")
	case errors.Is(err, service.ErrNotOwner):
		writeJSONError(w, http.StatusForbidden, "posting belongs to another account")
	case errors.Is(err, pricing.ErrInvalidCatalogItem):
		writeJSONError(w, http.StatusUnprocessableEntity, "unknown plan or addon")
	case errors.Is(err, service.ErrAmountMismatch):
		// Идентификатор транзакции в причину не попадает.
		writeJSONError(w, http.StatusConflict, "payment amount mismatch, request a new quote")
	case errors.Is(err, payment.ErrUnavailable):
		w.Header().Set("Retry-After", "5")
		writeJSONError(w, http.StatusServiceUnavailable, "payment processor unavailable, try again")
	case errors.As(err, &invalid):
		writeJSONError(w, http.StatusConflict, invalid.Error())
	case errors.Is(err, service.ErrRoleAlreadySelected):
		writeJSONError(w, http.StatusConflict, "role already selected")
	case errors.Is(err, service.ErrInvalidRole):
		writeJSONError(w, http.StatusBadRequest, "invalid role")
	case errors.Is(err, repository.ErrDuplicateApplication):
		writeJSONError(w, http.StatusConflict, "application already submitted")
	case errors.Is(err, repository.ErrStaleState):
		writeJSONError(w, http.StatusConflict, "state changed, reload and retry")
	case errors.Is(err, repository.ErrPostingNotFound),
		errors.Is(err, repository.ErrPaymentNotFound),
		errors.Is(err, repository.ErrAccountNotFound):
		writeJSONError(w, http.StatusNotFound, "not found")
	default:
		h.logger.Error("internal error", zap.Error(err), zap.String("path", r.URL.Path))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового аккаунта.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	accountID, err := h.service.RegisterAccount(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrAccountExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register account error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, accountID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию аккаунта и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	accountID, err := h.service.AuthenticateAccount(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, accountID)
	w.WriteHeader(http.StatusOK)
}

type roleRequest struct {
	Role   string `json:"role"`
	Switch bool   `json:"switch,omitempty"`
}

// SelectRole устанавливает роль текущего аккаунта. Повторный выбор той же
// роли — no-op; смена роли требует явного флага switch.
func (h *Handler) SelectRole(w http.ResponseWriter, r *http.Request) {
	acc, err := h.authorize(r, model.RoleUnset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Switch {
		err = h.service.SwitchRole(r.Context(), acc.ID, model.Role(req.Role))
	} else {
		err = h.service.SelectRole(r.Context(), acc.ID, model.Role(req.Role))
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type quoteResponse struct {
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// Quote возвращает стоимость публикации для тарифа и дополнений.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	plan := pricing.Plan(r.URL.Query().Get("plan"))

	var addons []pricing.Addon
	if raw := r.URL.Query().Get("addons"); raw != "" {
		for _, a := range strings.Split(raw, ",") {
			addons = append(addons, pricing.Addon(strings.TrimSpace(a)))
		}
	}

	amount, err := h.service.QuotePrice(plan, addons)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, quoteResponse{AmountMinor: amount, Currency: service.Currency})
}

type draftRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	City        string   `json:"city"`
	SalaryFrom  *int64   `json:"salary_from,omitempty"`
	SalaryTo    *int64   `json:"salary_to,omitempty"`
	Plan        string   `json:"plan"`
	Addons      []string `json:"addons,omitempty"`
}

type draftResponse struct {
	ID int64 `json:"id"`
}

// CreateDraft создаёт черновик вакансии работодателя.
func (h *Handler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	acc, err := h.authorize(r, model.RoleBusiness)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req draftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Title == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.CreateDraft(r.Context(), acc.ID, service.DraftInput{
		Title:       req.Title,
		Description: req.Description,
		City:        req.City,
		SalaryFrom:  req.SalaryFrom,
		SalaryTo:    req.SalaryTo,
		Plan:        pricing.Plan(req.Plan),
		Addons:      toAddons(req.Addons),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, draftResponse{ID: id})
}

func toAddons(raw []string) []pricing.Addon {
	res := make([]pricing.Addon, 0, len(raw))
	for _, a := range raw {
		res = append(res, pricing.Addon(a))
	}
	return res
}

type publishRequest struct {
	Plan   string   `json:"plan"`
	Addons []string `json:"addons,omitempty"`
}

type publishResponse struct {
	Status        string `json:"status"`
	AmountMinor   int64  `json:"amount,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	ClientToken   string `json:"client_token,omitempty"`
}

// Publish начинает публикацию черновика: бесплатный тариф активируется сразу,
// платный возвращает открытую транзакцию для оплаты на стороне клиента.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	acc, err := h.authorize(r, model.RoleBusiness)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	postingID, err := postingIDParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.PublishPosting(r.Context(), acc.ID, postingID, pricing.Plan(req.Plan), toAddons(req.Addons))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, publishResponse{
		Status:        string(res.Status),
		AmountMinor:   res.AmountMinor,
		TransactionID: res.TransactionID,
		ClientToken:   res.ClientToken,
	})
}

type confirmResponse struct {
	Status    string `json:"status"`
	PostingID int64  `json:"posting_id,omitempty"`
}

// Confirm запрашивает статус транзакции у платёжной системы и активирует
// вакансию при подтверждённом успехе.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	if _, err := h.authorize(r, model.RoleBusiness); err != nil {
		h.writeError(w, r, err)
		return
	}

	transactionID := chi.URLParam(r, "transactionID")
	if transactionID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.ConfirmAndActivate(r.Context(), transactionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, confirmResponse{
		Status:    string(res.Status),
		PostingID: res.PostingID,
	})
}

// Close закрывает активную вакансию владельца.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	acc, err := h.authorize(r, model.RoleBusiness)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	postingID, err := postingIDParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.ClosePosting(r.Context(), acc.ID, postingID); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Feature включает приоритетное размещение активной вакансии владельца.
func (h *Handler) Feature(w http.ResponseWriter, r *http.Request) {
	acc, err := h.authorize(r, model.RoleBusiness)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	postingID, err := postingIDParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.FeaturePosting(r.Context(), acc.ID, postingID); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type postingResponse struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	City       string   `json:"city,omitempty"`
	SalaryFrom *int64   `json:"salary_from,omitempty"`
	SalaryTo   *int64   `json:"salary_to,omitempty"`
	Plan       string   `json:"plan"`
	Addons     []string `json:"addons,omitempty"`
	Status     string   `json:"status"`
	Featured   bool     `json:"featured"`
	ExpiresAt  *string  `json:"expires_at,omitempty"`
	CreatedAt  string   `json:"created_at"`
}

func toPostingResponse(p model.Posting) postingResponse {
	res := postingResponse{
		ID:         p.ID,
		Title:      p.Title,
		City:       p.City,
		SalaryFrom: p.SalaryFrom,
		SalaryTo:   p.SalaryTo,
		Plan:       p.Plan,
		Addons:     p.Addons,
		Status:     string(p.Status),
		Featured:   p.Featured,
		CreatedAt:  p.CreatedAt.Format(time.RFC3339),
	}
	if p.ExpiresAt != nil {
		exp := p.ExpiresAt.Format(time.RFC3339)
		res.ExpiresAt = &exp
	}
	return res
}

// ListPostings возвращает публичную выдачу активных вакансий.
func (h *Handler) ListPostings(w http.ResponseWriter, r *http.Request) {
	postings, err := h.service.ListActivePostings(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writePostings(w, postings)
}

// ListFeatured возвращает блок приоритетных вакансий, не более четырёх.
func (h *Handler) ListFeatured(w http.ResponseWriter, r *http.Request) {
	postings, err := h.service.ListFeatured(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writePostings(w, postings)
}

func writePostings(w http.ResponseWriter, postings []model.Posting) {
	resp := make([]postingResponse, 0, len(postings))
	for _, p := range postings {
		resp = append(resp, toPostingResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPosting возвращает карточку вакансии. Черновики видны только владельцу.
func (h *Handler) GetPosting(w http.ResponseWriter, r *http.Request) {
	postingID, err := postingIDParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	viewerID, _ := middleware.GetAccountIDFromContext(r.Context())

	p, err := h.service.GetPosting(r.Context(), postingID, viewerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPostingResponse(*p))
}

// BusinessPostings возвращает кабинет работодателя: все его вакансии,
// включая черновики, истёкшие и закрытые.
func (h *Handler) BusinessPostings(w http.ResponseWriter, r *http.Request) {
	acc, err := h.authorize(r, model.RoleBusiness)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	postings, err := h.service.ListAccountPostings(r.Context(), acc.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writePostings(w, postings)
}

type applyRequest struct {
	CoverNote string `json:"cover_note,omitempty"`
}

// Apply создаёт отклик соискателя на активную вакансию.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	acc, err := h.authorize(r, model.RoleJobSeeker)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	postingID, err := postingIDParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req applyRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	if _, err := h.service.ApplyToPosting(r.Context(), acc.ID, postingID, req.CoverNote); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

type applicationResponse struct {
	ID        int64  `json:"id"`
	PostingID int64  `json:"posting_id"`
	CoverNote string `json:"cover_note,omitempty"`
	CreatedAt string `json:"created_at"`
}

// SeekerApplications возвращает отклики текущего соискателя.
func (h *Handler) SeekerApplications(w http.ResponseWriter, r *http.Request) {
	acc, err := h.authorize(r, model.RoleJobSeeker)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	apps, err := h.service.ListApplications(r.Context(), acc.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(apps) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]applicationResponse, 0, len(apps))
	for _, a := range apps {
		resp = append(resp, applicationResponse{
			ID:        a.ID,
			PostingID: a.PostingID,
			CoverNote: a.CoverNote,
			CreatedAt: a.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func postingIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "postingID"), 10, 64)
}
