// Package service реализует бизнес-логику сервиса доски вакансий.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mmeshcher/jobboard-system/internal/featured"
	"github.com/mmeshcher/jobboard-system/internal/lifecycle"
	"github.com/mmeshcher/jobboard-system/internal/model"
	"github.com/mmeshcher/jobboard-system/internal/payment"
	"github.com/mmeshcher/jobboard-system/internal/pricing"
	"github.com/mmeshcher/jobboard-system/internal/repository"
)

// Currency — валюта всех платежей сервиса.
const Currency = "RUB"

// stalePendingTTL — срок, после которого брошенная pending-транзакция
// закрывается фоновой очисткой и требует новой котировки.
const stalePendingTTL = 30 * time.Minute

// ErrNotOwner возвращается при попытке изменить чужую вакансию.
var (
	ErrNotOwner = errors.New("posting owned by another account")
	// ErrAmountMismatch возвращается, когда подтверждённая платёжной системой
	// сумма не совпадает с котировкой. Транзакция аннулируется, публикация
	// требует новой котировки.
	ErrAmountMismatch = errors.New("confirmed amount differs from quoted amount")
	// ErrRoleAlreadySelected возвращается при попытке сменить уже выбранную
	// роль без явной операции переключения.
	ErrRoleAlreadySelected = errors.New("role already selected")
	// ErrInvalidRole возвращается для неизвестной или пустой роли.
	ErrInvalidRole = errors.New("invalid role")
	// ErrInvalidCredentials возвращается при неверном логине или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateAccount(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetAccountByLogin(ctx context.Context, login string) (*model.Account, error)
	GetAccountByID(ctx context.Context, id int64) (*model.Account, error)
	SetAccountRole(ctx context.Context, id int64, role model.Role) error
	CreatePosting(ctx context.Context, p *model.Posting) (int64, error)
	GetPostingByID(ctx context.Context, id int64) (*model.Posting, error)
	GetPostingsByAccount(ctx context.Context, accountID int64) ([]model.Posting, error)
	GetActivePostings(ctx context.Context, now time.Time) ([]model.Posting, error)
	UpdatePostingState(ctx context.Context, id int64, from, to model.PostingStatus, featured bool, updatedAt time.Time) error
	UpdateDraftPlan(ctx context.Context, id int64, plan string, addons []string, now time.Time) error
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
	CreatePayment(ctx context.Context, pay *model.Payment) (*model.Payment, error)
	GetPaymentByID(ctx context.Context, id string) (*model.Payment, error)
	GetPendingPaymentByPosting(ctx context.Context, postingID int64) (*model.Payment, error)
	MarkPaymentFailed(ctx context.Context, id string, now time.Time) error
	CompletePaymentAndActivate(ctx context.Context, paymentID string, p *model.Posting) error
	ActivateFreePosting(ctx context.Context, pay *model.Payment, p *model.Posting) error
	FailStalePayments(ctx context.Context, olderThan, now time.Time) (int64, error)
	CreateApplication(ctx context.Context, a *model.Application) (int64, error)
	GetApplicationsByAccount(ctx context.Context, accountID int64) ([]model.Application, error)
}

// Processor описывает контракт внешней платёжной системы.
type Processor interface {
	CreateTransaction(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*payment.CreatedTransaction, error)
	GetTransactionStatus(ctx context.Context, transactionID string) (*payment.TransactionStatus, error)
}

// Service содержит бизнес-логику сервиса доски вакансий.
type Service struct {
	repo      Repository
	processor Processor
	sugar     *zap.SugaredLogger
	now       func() time.Time
	newRand   func() *rand.Rand
	cron      *cron.Cron
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом
// платёжной системы.
func NewService(repo Repository, processor Processor, sugar *zap.SugaredLogger) *Service {
	return &Service{
		repo:      repo,
		processor: processor,
		sugar:     sugar,
		now:       time.Now,
		newRand: func() *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
	}
}

// SetClock заменяет источник времени. Используется в тестах.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetRandFactory заменяет источник случайности выборки. Используется в тестах.
func (s *Service) SetRandFactory(f func() *rand.Rand) {
	s.newRand = f
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterAccount регистрирует новый аккаунт с невыбранной ролью.
func (s *Service) RegisterAccount(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateAccount(ctx, login, hashed)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateAccount проверяет логин и пароль и возвращает идентификатор аккаунта.
func (s *Service) AuthenticateAccount(ctx context.Context, login, password string) (int64, error) {
	a, err := s.repo.GetAccountByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(a.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return a.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// GetAccount возвращает аккаунт по идентификатору.
func (s *Service) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	return s.repo.GetAccountByID(ctx, id)
}

// SelectRole устанавливает роль аккаунта. Повторный выбор той же роли —
// no-op; смена уже выбранной роли отклоняется, для неё есть SwitchRole.
func (s *Service) SelectRole(ctx context.Context, accountID int64, role model.Role) error {
	if role == model.RoleUnset || !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	a, err := s.repo.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}

	if a.Role == role {
		return nil
	}
	if a.Role != model.RoleUnset {
		return ErrRoleAlreadySelected
	}

	return s.repo.SetAccountRole(ctx, accountID, role)
}

// SwitchRole явно меняет роль аккаунта на указанную.
func (s *Service) SwitchRole(ctx context.Context, accountID int64, role model.Role) error {
	if role == model.RoleUnset || !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return s.repo.SetAccountRole(ctx, accountID, role)
}

// QuotePrice возвращает стоимость публикации в копейках.
func (s *Service) QuotePrice(plan pricing.Plan, addons []pricing.Addon) (int64, error) {
	return pricing.Price(plan, addons)
}

// DraftInput — данные нового черновика вакансии.
type DraftInput struct {
	Title       string
	Description string
	City        string
	SalaryFrom  *int64
	SalaryTo    *int64
	Plan        pricing.Plan
	Addons      []pricing.Addon
}

// CreateDraft создаёт черновик вакансии. Тариф и дополнения проверяются по
// каталогу сразу: неизвестная позиция не доживает до оплаты.
func (s *Service) CreateDraft(ctx context.Context, accountID int64, in DraftInput) (int64, error) {
	if _, err := pricing.Price(in.Plan, in.Addons); err != nil {
		return 0, err
	}

	p := &model.Posting{
		AccountID:   accountID,
		Title:       in.Title,
		Description: in.Description,
		City:        in.City,
		SalaryFrom:  in.SalaryFrom,
		SalaryTo:    in.SalaryTo,
		Plan:        string(in.Plan),
		Addons:      pricing.NormalizeAddons(in.Addons),
		Status:      model.PostingStatusDraft,
	}

	return s.repo.CreatePosting(ctx, p)
}

// PublishStatus — исход запроса на публикацию.
type PublishStatus string

const (
	PublishStatusActivated       PublishStatus = "activated"
	PublishStatusPaymentRequired PublishStatus = "payment_required"
)

// PublishResult — результат запроса на публикацию вакансии.
type PublishResult struct {
	Status        PublishStatus
	AmountMinor   int64
	TransactionID string
	ClientToken   string
}

// PublishPosting начинает публикацию черновика. Бесплатный тариф активирует
// вакансию сразу, без обращения к платёжной системе. Платный тариф открывает
// транзакцию; повторный запрос до подтверждения возвращает уже открытую
// транзакцию с той же котировкой, а не вторую.
func (s *Service) PublishPosting(ctx context.Context, accountID, postingID int64, plan pricing.Plan, addons []pricing.Addon) (*PublishResult, error) {
	amount, err := pricing.Price(plan, addons)
	if err != nil {
		return nil, err
	}

	p, err := s.repo.GetPostingByID(ctx, postingID)
	if err != nil {
		return nil, err
	}
	if p.AccountID != accountID {
		return nil, ErrNotOwner
	}
	if p.Status != model.PostingStatusDraft {
		return nil, &lifecycle.InvalidTransitionError{From: p.Status, To: model.PostingStatusActive}
	}

	now := s.now()
	snapshot := pricing.NormalizeAddons(addons)

	if p.Plan != string(plan) || !equalStrings(p.Addons, snapshot) {
		if err := s.repo.UpdateDraftPlan(ctx, postingID, string(plan), snapshot, now); err != nil {
			return nil, err
		}
		p.Plan = string(plan)
		p.Addons = snapshot
	}

	// Бесплатный тариф: платёжная система не вызывается вовсе.
	if amount == 0 {
		pay := &model.Payment{
			ID:          uuid.NewString(),
			PostingID:   postingID,
			AmountMinor: 0,
			Currency:    Currency,
			Plan:        string(plan),
			Addons:      snapshot,
			Status:      model.PaymentStatusNotRequired,
			CreatedAt:   now,
		}

		activated := *p
		if err := lifecycle.Activate(&activated, now); err != nil {
			return nil, err
		}
		if err := s.repo.ActivateFreePosting(ctx, pay, &activated); err != nil {
			return nil, err
		}

		return &PublishResult{Status: PublishStatusActivated}, nil
	}

	// Двойная отправка формы: уже открытая транзакция с совпадающей
	// котировкой предъявляется повторно.
	if existing, err := s.repo.GetPendingPaymentByPosting(ctx, postingID); err == nil {
		if existing.AmountMinor == amount {
			return &PublishResult{
				Status:        PublishStatusPaymentRequired,
				AmountMinor:   existing.AmountMinor,
				TransactionID: existing.ID,
				ClientToken:   existing.ClientToken,
			}, nil
		}
	} else if !errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, err
	}

	if s.processor == nil {
		return nil, fmt.Errorf("%w: processor not configured", payment.ErrUnavailable)
	}

	created, err := s.processor.CreateTransaction(ctx, amount, Currency, paymentMetadata(plan, snapshot))
	if err != nil {
		return nil, err
	}

	pay, err := s.repo.CreatePayment(ctx, &model.Payment{
		ID:          created.TransactionID,
		PostingID:   postingID,
		AmountMinor: amount,
		Currency:    Currency,
		Plan:        string(plan),
		Addons:      snapshot,
		Status:      model.PaymentStatusPending,
		ClientToken: created.ClientToken,
		CreatedAt:   now,
	})
	if err != nil {
		return nil, err
	}

	return &PublishResult{
		Status:        PublishStatusPaymentRequired,
		AmountMinor:   pay.AmountMinor,
		TransactionID: pay.ID,
		ClientToken:   pay.ClientToken,
	}, nil
}

func paymentMetadata(plan pricing.Plan, addons []string) map[string]string {
	m := map[string]string{"plan": string(plan)}
	for i, a := range addons {
		m[fmt.Sprintf("addon_%d", i)] = a
	}
	return m
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ConfirmStatus — исход подтверждения оплаты.
type ConfirmStatus string

const (
	ConfirmStatusActivated      ConfirmStatus = "activated"
	ConfirmStatusProcessing     ConfirmStatus = "processing"
	ConfirmStatusRequiresAction ConfirmStatus = "requires_action"
	ConfirmStatusFailed         ConfirmStatus = "failed"
)

// ConfirmResult — результат подтверждения оплаты.
type ConfirmResult struct {
	Status    ConfirmStatus
	PostingID int64
}

// ConfirmAndActivate запрашивает авторитетный статус транзакции у платёжной
// системы и при успехе активирует вакансию. Заявлениям клиента об успехе
// сервис не доверяет; подтверждённая сумма сверяется с котировкой, и при
// расхождении транзакция аннулируется.
func (s *Service) ConfirmAndActivate(ctx context.Context, transactionID string) (*ConfirmResult, error) {
	pay, err := s.repo.GetPaymentByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	switch pay.Status {
	case model.PaymentStatusSucceeded, model.PaymentStatusNotRequired:
		// Повторное подтверждение уже завершённой транзакции.
		return &ConfirmResult{Status: ConfirmStatusActivated, PostingID: pay.PostingID}, nil
	case model.PaymentStatusFailed:
		return &ConfirmResult{Status: ConfirmStatusFailed, PostingID: pay.PostingID}, nil
	}

	if s.processor == nil {
		return nil, fmt.Errorf("%w: processor not configured", payment.ErrUnavailable)
	}

	st, err := s.processor.GetTransactionStatus(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	now := s.now()

	switch st.Status {
	case payment.OutcomeProcessing:
		return &ConfirmResult{Status: ConfirmStatusProcessing, PostingID: pay.PostingID}, nil
	case payment.OutcomeRequiresAction:
		return &ConfirmResult{Status: ConfirmStatusRequiresAction, PostingID: pay.PostingID}, nil
	case payment.OutcomeFailed:
		if err := s.repo.MarkPaymentFailed(ctx, transactionID, now); err != nil && !errors.Is(err, repository.ErrStaleState) {
			return nil, err
		}
		return &ConfirmResult{Status: ConfirmStatusFailed, PostingID: pay.PostingID}, nil
	}

	if st.AmountMinor != pay.AmountMinor {
		if err := s.repo.MarkPaymentFailed(ctx, transactionID, now); err != nil && !errors.Is(err, repository.ErrStaleState) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: quoted %d, confirmed %d", ErrAmountMismatch, pay.AmountMinor, st.AmountMinor)
	}

	p, err := s.repo.GetPostingByID(ctx, pay.PostingID)
	if err != nil {
		return nil, err
	}

	// Активация по снимку транзакции: тариф на момент котировки определяет
	// срок действия и приоритетное размещение.
	p.Plan = pay.Plan
	p.Addons = pay.Addons

	activated := *p
	if err := lifecycle.Activate(&activated, now); err != nil {
		var invalid *lifecycle.InvalidTransitionError
		if errors.As(err, &invalid) && p.Status == model.PostingStatusActive {
			// Конкурирующее подтверждение активировало вакансию раньше.
			return &ConfirmResult{Status: ConfirmStatusActivated, PostingID: p.ID}, nil
		}
		return nil, err
	}

	if err := s.repo.CompletePaymentAndActivate(ctx, transactionID, &activated); err != nil {
		return nil, err
	}

	return &ConfirmResult{Status: ConfirmStatusActivated, PostingID: p.ID}, nil
}

// GetPosting возвращает вакансию с ленивым распознаванием истечения: строка
// со статусом active и наступившим сроком отдаётся как expired. Черновик
// виден только владельцу.
func (s *Service) GetPosting(ctx context.Context, id int64, viewerAccountID int64) (*model.Posting, error) {
	p, err := s.repo.GetPostingByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if lifecycle.IsOverdue(p, now) {
		p.Status = model.PostingStatusExpired
		p.Featured = false
	}

	if p.Status == model.PostingStatusDraft && p.AccountID != viewerAccountID {
		return nil, repository.ErrPostingNotFound
	}

	return p, nil
}

// ListActivePostings возвращает публичную выдачу активных вакансий.
func (s *Service) ListActivePostings(ctx context.Context) ([]model.Posting, error) {
	return s.repo.GetActivePostings(ctx, s.now())
}

// ListFeatured возвращает блок приоритетных вакансий публичной выдачи.
// Выборка пересчитывается на каждый запрос с собственным генератором
// случайности и не изменяет состояние вакансий.
func (s *Service) ListFeatured(ctx context.Context) ([]model.Posting, error) {
	active, err := s.repo.GetActivePostings(ctx, s.now())
	if err != nil {
		return nil, err
	}
	return featured.Select(active, featured.Slots, s.newRand()), nil
}

// ListAccountPostings возвращает вакансии работодателя для кабинета, включая
// черновики и завершённые, с ленивым распознаванием истечения.
func (s *Service) ListAccountPostings(ctx context.Context, accountID int64) ([]model.Posting, error) {
	postings, err := s.repo.GetPostingsByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for i := range postings {
		if lifecycle.IsOverdue(&postings[i], now) {
			postings[i].Status = model.PostingStatusExpired
			postings[i].Featured = false
		}
	}

	return postings, nil
}

// ClosePosting закрывает активную вакансию по решению владельца. Переход
// необратим; повторная публикация требует новой вакансии и новой оплаты.
func (s *Service) ClosePosting(ctx context.Context, accountID, postingID int64) error {
	p, err := s.loadOwnedPosting(ctx, accountID, postingID)
	if err != nil {
		return err
	}

	if err := lifecycle.Close(p, s.now()); err != nil {
		return err
	}

	return s.repo.UpdatePostingState(ctx, p.ID, model.PostingStatusActive, model.PostingStatusClosed, false, p.UpdatedAt)
}

// FeaturePosting включает приоритетное размещение активной вакансии.
// Для истёкшей или закрытой вакансии возвращается явная ошибка перехода.
func (s *Service) FeaturePosting(ctx context.Context, accountID, postingID int64) error {
	p, err := s.loadOwnedPosting(ctx, accountID, postingID)
	if err != nil {
		return err
	}

	if err := lifecycle.SetFeatured(p, s.now()); err != nil {
		return err
	}

	return s.repo.UpdatePostingState(ctx, p.ID, model.PostingStatusActive, model.PostingStatusActive, true, p.UpdatedAt)
}

// loadOwnedPosting загружает вакансию владельца с ленивым распознаванием
// истечения, чтобы правила переходов видели действительное состояние.
func (s *Service) loadOwnedPosting(ctx context.Context, accountID, postingID int64) (*model.Posting, error) {
	p, err := s.repo.GetPostingByID(ctx, postingID)
	if err != nil {
		return nil, err
	}
	if p.AccountID != accountID {
		return nil, ErrNotOwner
	}

	if lifecycle.IsOverdue(p, s.now()) {
		p.Status = model.PostingStatusExpired
		p.Featured = false
	}

	return p, nil
}

// ApplyToPosting создаёт отклик соискателя на активную вакансию.
func (s *Service) ApplyToPosting(ctx context.Context, accountID, postingID int64, coverNote string) (int64, error) {
	p, err := s.repo.GetPostingByID(ctx, postingID)
	if err != nil {
		return 0, err
	}

	now := s.now()
	if p.Status != model.PostingStatusActive || lifecycle.IsOverdue(p, now) {
		return 0, repository.ErrPostingNotFound
	}

	return s.repo.CreateApplication(ctx, &model.Application{
		PostingID: postingID,
		AccountID: accountID,
		CoverNote: coverNote,
	})
}

// ListApplications возвращает отклики соискателя.
func (s *Service) ListApplications(ctx context.Context, accountID int64) ([]model.Application, error) {
	return s.repo.GetApplicationsByAccount(ctx, accountID)
}

// StartExpirationSweep запускает периодическую очистку: просроченные активные
// вакансии переводятся в expired, брошенные pending-транзакции закрываются.
// Ленивое распознавание на путях чтения и очистка сходятся к одному состоянию.
func (s *Service) StartExpirationSweep(ctx context.Context, spec string) error {
	c := cron.New()

	_, err := c.AddFunc(spec, func() {
		s.runSweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("add sweep job: %w", err)
	}

	s.cron = c
	c.Start()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	return nil
}

func (s *Service) runSweep(ctx context.Context) {
	now := s.now()

	expired, err := s.repo.ExpireOverdue(ctx, now)
	if err != nil {
		s.sugar.Errorw("expire sweep failed", "error", err)
	} else if expired > 0 {
		s.sugar.Infow("postings expired by sweep", "count", expired)
	}

	failed, err := s.repo.FailStalePayments(ctx, now.Add(-stalePendingTTL), now)
	if err != nil {
		s.sugar.Errorw("stale payment sweep failed", "error", err)
	} else if failed > 0 {
		s.sugar.Infow("stale pending payments closed", "count", failed)
	}
}
