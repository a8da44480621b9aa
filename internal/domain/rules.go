package domain

// LegalGemSelection reports whether a collection request has a legal shape
// against the current bank: either exactly three distinct colors at one
// each, or a single color at two with at least four of that color left in
// the bank before the take. Wild gems are never collectable directly.
func LegalGemSelection(bank, selection GemSet) bool {
	if selection.Wild != 0 {
		return false
	}

	distinct := 0
	total := 0
	var doubled GemColor
	for _, c := range BasicColors {
		n := selection.Get(c)
		if n < 0 {
			return false
		}
		if n == 0 {
			continue
		}
		distinct++
		total += n
		if n == 2 {
			doubled = c
		}
	}

	switch total {
	case 3:
		return distinct == 3
	case 2:
		return distinct == 1 && doubled != "" && bank.Get(doubled) >= 4
	default:
		return false
	}
}

// BankCovers reports whether the bank holds at least the requested amount
// for every color in the selection. Checked for all colors before any
// debit is applied.
func BankCovers(bank, selection GemSet) bool {
	for _, c := range AllColors {
		if bank.Get(c) < selection.Get(c) {
			return false
		}
	}
	return true
}

// Affordability is the result of a purchase feasibility check.
type Affordability struct {
	// CanBuy is true when discounts, owned gems and wilds cover the cost.
	CanBuy bool
	// Missing is the shortfall after discounts and owned gems, to be paid
	// with wild gems.
	Missing int
	// NeedsWild is true when the purchase would consume wild gems, which
	// requires an explicit confirmation before committing.
	NeedsWild bool
}

// CanAfford computes whether a player can pay for a card given owned gems,
// card-based discounts and wild gems. Pure: safe to call speculatively.
func CanAfford(card Card, player *Player) Affordability {
	missing := 0
	for _, c := range BasicColors {
		required := card.Cost.Get(c) - player.CardGems.Get(c)
		if required < 0 {
			required = 0
		}
		if have := player.Gems.Get(c); have < required {
			missing += required - have
		}
	}

	if missing > player.Gems.Wild {
		return Affordability{CanBuy: false, Missing: missing, NeedsWild: player.Gems.Wild > 0}
	}
	return Affordability{CanBuy: true, Missing: missing, NeedsWild: missing > 0}
}

// NobleEligible reports whether a player's permanent discounts meet every
// requirement of the noble. Nobles are earned via discounts, not spent
// gems or wilds.
func NobleEligible(noble Card, player *Player) bool {
	for _, c := range BasicColors {
		if player.CardGems.Get(c) < noble.Cost.Get(c) {
			return false
		}
	}
	return true
}

// EligibleNobles returns the nobles on the board the player currently
// qualifies for, in board order.
func EligibleNobles(room *Room, player *Player) []Card {
	var eligible []Card
	for _, noble := range room.CardsOnBoard[CategoryNoble] {
		if NobleEligible(noble, player) {
			eligible = append(eligible, noble)
		}
	}
	return eligible
}
