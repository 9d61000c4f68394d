// Package model содержит доменные сущности сервиса доски вакансий.
package model

import "time"

// Role описывает тип аккаунта. Роль выбирается один раз и определяет
// доступные операции.
type Role string

const (
	RoleUnset     Role = "unset"
	RoleBusiness  Role = "business"
	RoleJobSeeker Role = "job_seeker"
)

// Valid сообщает, является ли значение одной из известных ролей.
func (r Role) Valid() bool {
	switch r {
	case RoleUnset, RoleBusiness, RoleJobSeeker:
		return true
	}
	return false
}

// Account представляет зарегистрированный аккаунт работодателя или соискателя.
type Account struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         Role
	CreatedAt    time.Time
}

// PostingStatus описывает статус жизненного цикла вакансии.
type PostingStatus string

const (
	// PostingStatusDraft — вакансия создана, но ещё не опубликована и не видна публично.
	PostingStatusDraft   PostingStatus = "draft"
	PostingStatusActive  PostingStatus = "active"
	PostingStatusExpired PostingStatus = "expired"
	PostingStatusClosed  PostingStatus = "closed"
)

// Posting описывает вакансию работодателя.
type Posting struct {
	ID          int64
	AccountID   int64
	Title       string
	Description string
	City        string
	SalaryFrom  *int64
	SalaryTo    *int64
	Plan        string
	Addons      []string
	Status      PostingStatus
	Featured    bool
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PaymentStatus описывает статус платёжной транзакции.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	// PaymentStatusNotRequired присваивается бесплатным публикациям: внешняя
	// платёжная система для нулевой суммы не вызывается.
	PaymentStatusNotRequired PaymentStatus = "not_required"
)

// Payment описывает попытку оплаты публикации вакансии. Снимок тарифа и
// дополнений фиксируется на момент котировки, чтобы изменение каталога цен
// не влияло на уже открытую транзакцию.
type Payment struct {
	ID          string
	PostingID   int64
	AmountMinor int64
	Currency    string
	Plan        string
	Addons      []string
	Status      PaymentStatus
	ClientToken string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Application описывает отклик соискателя на вакансию.
type Application struct {
	ID        int64
	PostingID int64
	AccountID int64
	CoverNote string
	CreatedAt time.Time
}
