// Package lifecycle содержит правила переходов жизненного цикла вакансии.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/mmeshcher/jobboard-system/internal/model"
	"github.com/mmeshcher/jobboard-system/internal/pricing"
)

// InvalidTransitionError возвращается при недопустимом переходе и называет
// запрошенное ребро графа состояний.
type InvalidTransitionError struct {
	From model.PostingStatus
	To   model.PostingStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid posting transition: %s -> %s", e.From, e.To)
}

// Activate переводит черновик в активное состояние. Допустимо только при
// подтверждённой оплате или бесплатном тарифе; вызывающая сторона обязана
// проверить исход платежа до вызова.
func Activate(p *model.Posting, now time.Time) error {
	if p.Status != model.PostingStatusDraft {
		return &InvalidTransitionError{From: p.Status, To: model.PostingStatusActive}
	}

	dur, limited, err := pricing.Duration(pricing.Plan(p.Plan))
	if err != nil {
		return err
	}

	p.Status = model.PostingStatusActive
	p.CreatedAt = now
	p.UpdatedAt = now
	if limited {
		exp := now.Add(dur)
		p.ExpiresAt = &exp
	} else {
		p.ExpiresAt = nil
	}
	p.Featured = pricing.GrantsFeatured(pricing.Plan(p.Plan))

	return nil
}

// Close закрывает активную вакансию по решению владельца. Переход необратим.
func Close(p *model.Posting, now time.Time) error {
	if p.Status != model.PostingStatusActive {
		return &InvalidTransitionError{From: p.Status, To: model.PostingStatusClosed}
	}

	p.Status = model.PostingStatusClosed
	p.Featured = false
	p.UpdatedAt = now
	return nil
}

// Expire переводит активную вакансию с истёкшим сроком в состояние expired.
// Вызов до наступления срока или из другого состояния отклоняется.
func Expire(p *model.Posting, now time.Time) error {
	if p.Status != model.PostingStatusActive {
		return &InvalidTransitionError{From: p.Status, To: model.PostingStatusExpired}
	}
	if p.ExpiresAt == nil || now.Before(*p.ExpiresAt) {
		return &InvalidTransitionError{From: p.Status, To: model.PostingStatusExpired}
	}

	p.Status = model.PostingStatusExpired
	p.Featured = false
	p.UpdatedAt = now
	return nil
}

// SetFeatured включает приоритетное размещение. Допустимо только для активной
// вакансии: попытка отметить истёкшую или закрытую вакансию — явная ошибка,
// а не тихий no-op.
func SetFeatured(p *model.Posting, now time.Time) error {
	if p.Status != model.PostingStatusActive {
		return &InvalidTransitionError{From: p.Status, To: p.Status}
	}

	p.Featured = true
	p.UpdatedAt = now
	return nil
}

// IsOverdue сообщает, должен ли статус active считаться истёкшим на момент now.
// Используется ленивой проверкой на путях чтения: просроченная вакансия никогда
// не отдаётся как активная, даже если фоновая очистка ещё не сработала.
func IsOverdue(p *model.Posting, now time.Time) bool {
	return p.Status == model.PostingStatusActive &&
		p.ExpiresAt != nil &&
		!now.Before(*p.ExpiresAt)
}
