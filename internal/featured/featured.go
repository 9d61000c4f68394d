// Package featured реализует отбор вакансий для блока приоритетного
// размещения на публичной выдаче.
package featured

import (
	"math/rand"
	"sort"

	"github.com/mmeshcher/jobboard-system/internal/model"
)

// Slots — фиксированный размер блока приоритетных вакансий.
const Slots = 4

// Select возвращает не более n вакансий для блока. Сначала берутся явно
// отмеченные featured активные вакансии в стабильном порядке (новые первыми);
// оставшиеся места заполняются случайной выборкой без возвращения из прочих
// активных. Выборка пересчитывается на каждый запрос и не изменяет состояние
// вакансий; rng передаётся извне ради детерминированных тестов.
func Select(active []model.Posting, n int, rng *rand.Rand) []model.Posting {
	if n <= 0 {
		return nil
	}

	var flagged, rest []model.Posting
	for _, p := range active {
		if p.Status != model.PostingStatusActive {
			continue
		}
		if p.Featured {
			flagged = append(flagged, p)
		} else {
			rest = append(rest, p)
		}
	}

	sort.Slice(flagged, func(i, j int) bool {
		return flagged[i].CreatedAt.After(flagged[j].CreatedAt)
	})

	if len(flagged) >= n {
		return flagged[:n]
	}

	res := make([]model.Posting, 0, n)
	res = append(res, flagged...)

	need := n - len(flagged)
	for _, idx := range sampleIndexes(len(rest), need, rng) {
		res = append(res, rest[idx])
	}

	return res
}

// sampleIndexes возвращает k различных индексов из диапазона [0, n)
// в случайном порядке. При k >= n возвращаются все индексы.
func sampleIndexes(n, k int, rng *rand.Rand) []int {
	if n <= 0 || k <= 0 {
		return nil
	}
	if k > n {
		k = n
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	// Частичный Фишер-Йетс: перемешиваем только первые k позиций.
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}

	return idx[:k]
}
