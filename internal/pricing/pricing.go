// Package pricing содержит каталог тарифов и расчёт стоимости публикации.
package pricing

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Plan — тариф публикации вакансии.
type Plan string

const (
	PlanBasic     Plan = "basic"
	PlanStandard  Plan = "standard"
	PlanFeatured  Plan = "featured"
	PlanUnlimited Plan = "unlimited"
)

// Addon — платное дополнение к тарифу.
type Addon string

const (
	AddonBoost     Addon = "boost"
	AddonHighlight Addon = "highlight"
	AddonUrgent    Addon = "urgent"
	AddonExtended  Addon = "extended"
)

// ErrInvalidCatalogItem возвращается для неизвестного тарифа или дополнения.
// Неизвестная позиция никогда не оценивается в ноль.
var ErrInvalidCatalogItem = errors.New("invalid catalog item")

// planEntry описывает тариф: базовая цена в копейках и срок действия публикации.
// Нулевой срок означает бессрочную публикацию.
type planEntry struct {
	priceMinor int64
	duration   time.Duration
}

// Каталог — единственный источник цен. Суммы хранятся в копейках,
// перевод в рубли выполняется только на границе представления.
var planCatalog = map[Plan]planEntry{
	PlanBasic:     {priceMinor: 0, duration: 14 * 24 * time.Hour},
	PlanStandard:  {priceMinor: 49900, duration: 30 * 24 * time.Hour},
	PlanFeatured:  {priceMinor: 99900, duration: 30 * 24 * time.Hour},
	PlanUnlimited: {priceMinor: 299900, duration: 0},
}

var addonCatalog = map[Addon]int64{
	AddonBoost:     10000,
	AddonHighlight: 5000,
	AddonUrgent:    15000,
	AddonExtended:  20000,
}

// Price возвращает стоимость публикации в копейках: базовая цена тарифа плюс
// сумма цен дополнений. Дубликаты дополнений учитываются один раз.
func Price(plan Plan, addons []Addon) (int64, error) {
	entry, ok := planCatalog[plan]
	if !ok {
		return 0, fmt.Errorf("%w: plan %q", ErrInvalidCatalogItem, plan)
	}

	total := entry.priceMinor

	seen := make(map[Addon]struct{}, len(addons))
	for _, a := range addons {
		price, ok := addonCatalog[a]
		if !ok {
			return 0, fmt.Errorf("%w: addon %q", ErrInvalidCatalogItem, a)
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		total += price
	}

	return total, nil
}

// Duration возвращает срок действия публикации для тарифа.
// Для бессрочного тарифа второй результат равен false.
func Duration(plan Plan) (time.Duration, bool, error) {
	entry, ok := planCatalog[plan]
	if !ok {
		return 0, false, fmt.Errorf("%w: plan %q", ErrInvalidCatalogItem, plan)
	}
	if entry.duration == 0 {
		return 0, false, nil
	}
	return entry.duration, true, nil
}

// GrantsFeatured сообщает, даёт ли тариф приоритетное размещение при активации.
func GrantsFeatured(plan Plan) bool {
	return plan == PlanFeatured || plan == PlanUnlimited
}

// NormalizeAddons приводит набор дополнений к отсортированному множеству без
// дубликатов. Результат используется как снимок в платёжной транзакции.
func NormalizeAddons(addons []Addon) []string {
	seen := make(map[Addon]struct{}, len(addons))
	res := make([]string, 0, len(addons))
	for _, a := range addons {
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		res = append(res, string(a))
	}
	sort.Strings(res)
	return res
}
