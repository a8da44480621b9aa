package app

import (
	"math/rand"

	"opulence/internal/domain"
)

// Deal is the one-shot board setup: an unbiased permutation of every
// category in the catalog, split into a face-up row of up to four cards
// and the remaining draw pile. Nobles get a face-up row too; their pile
// stays behind it like any other category.
func Deal(catalog map[domain.Category][]domain.Card, rng *rand.Rand) (decks, board map[domain.Category][]domain.Card) {
	decks = make(map[domain.Category][]domain.Card, len(catalog))
	board = make(map[domain.Category][]domain.Card, len(catalog))

	for _, cat := range domain.AllCategories {
		cards := catalog[cat]
		shuffled := make([]domain.Card, len(cards))
		copy(shuffled, cards)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		cut := domain.BoardRowSize
		if cut > len(shuffled) {
			cut = len(shuffled)
		}
		board[cat] = shuffled[:cut]
		decks[cat] = shuffled[cut:]
	}

	return decks, board
}
