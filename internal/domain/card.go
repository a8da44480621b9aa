package domain

// Category identifies a card row on the board. Green, yellow and blue are
// purchasable tiers of increasing strength; nobles are earned through
// discounts and cannot be bought or reserved.
type Category string

const (
	CategoryGreen  Category = "green"
	CategoryYellow Category = "yellow"
	CategoryBlue   Category = "blue"
	CategoryNoble  Category = "noble"
)

// PurchasableCategories lists the tiers dealt into draw piles with face-up
// board rows, in board order.
var PurchasableCategories = []Category{CategoryGreen, CategoryYellow, CategoryBlue}

// AllCategories lists every category including nobles.
var AllCategories = []Category{CategoryGreen, CategoryYellow, CategoryBlue, CategoryNoble}

// Card is a single development or noble card. A card id appears in exactly
// one place at a time: a draw pile, the face-up board, a player's owned
// cards or a player's reserve.
type Card struct {
	ID       string   `json:"id"`
	Category Category `json:"category"`
	Score    int      `json:"score"`
	// GemType is the discount color granted on purchase. Empty for nobles.
	GemType GemColor `json:"gemType,omitempty"`
	// Cost is gem amounts for purchasable cards, discount requirements for
	// nobles.
	Cost GemSet `json:"cost"`
}

// IsNoble reports whether the card belongs to the noble row.
func (c Card) IsNoble() bool {
	return c.Category == CategoryNoble
}

// findCard returns the index of the card with the given id, or -1.
func findCard(cards []Card, id string) int {
	for i, c := range cards {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// removeCard deletes the card at index i preserving order.
func removeCard(cards []Card, i int) []Card {
	return append(cards[:i], cards[i+1:]...)
}
