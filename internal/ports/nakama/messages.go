package nakama

import (
	"opulence/internal/domain"
)

// Client request payloads, decoded from JSON match data.

type collectGemsRequest struct {
	Gems domain.GemSet `json:"gems"`
}

type purchaseCardRequest struct {
	CardID         string `json:"cardId"`
	ConfirmWildUse bool   `json:"confirmWildUse"`
}

type reserveCardRequest struct {
	CardID   string          `json:"cardId,omitempty"`
	Category domain.Category `json:"category,omitempty"`
}

type confirmNobleRequest struct {
	NobleID string `json:"nobleId"`
}

type chatRequest struct {
	Message string `json:"message"`
}

// Server event payloads.

type errorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type chatEvent struct {
	Player  string `json:"player"`
	Message string `json:"message"`
}

type roomClosedEvent struct {
	Reason string `json:"reason"`
}

type sessionCredentialEvent struct {
	SessionID  string `json:"sessionId"`
	Credential string `json:"credential"`
}

// playerView is the per-player slice of the broadcast state.
type playerView struct {
	SessionID      string        `json:"sessionId"`
	Username       string        `json:"username"`
	Connected      bool          `json:"connected"`
	Score          int           `json:"score"`
	Gems           domain.GemSet `json:"gems"`
	CardGems       domain.GemSet `json:"cardGems"`
	Cards          []domain.Card `json:"cards"`
	ReservedCards  []domain.Card `json:"reservedCards"`
	MustReturnGems bool          `json:"mustReturnGems"`
}

// stateView is the room-wide broadcast state. Draw piles are reported as
// remaining counts only; the server keeps their order to itself.
type stateView struct {
	Code            string                            `json:"code"`
	HostID          string                            `json:"hostId"`
	Locked          bool                              `json:"locked"`
	GameStarted     bool                              `json:"gameStarted"`
	GameOver        bool                              `json:"gameOver"`
	Winner          string                            `json:"winner,omitempty"`
	Players         []playerView                      `json:"players"`
	PlayerOrder     []string                          `json:"playerOrder"`
	CurrentPlayerID string                            `json:"currentPlayerId,omitempty"`
	CardsOnBoard    map[domain.Category][]domain.Card `json:"cardsOnBoard"`
	DeckCounts      map[domain.Category]int           `json:"deckCounts"`
	GemBank         domain.GemSet                     `json:"gemBank"`
	TurnLog         []domain.TurnLogEntry             `json:"turnLog"`
	Preview         bool                              `json:"preview,omitempty"`
}

// buildStateView projects the Room aggregate into the broadcast shape.
func buildStateView(room *domain.Room) stateView {
	players := make([]playerView, 0, len(room.Players))
	for _, p := range room.Players {
		players = append(players, playerView{
			SessionID:      p.SessionID,
			Username:       p.Username,
			Connected:      p.Connected(),
			Score:          p.Score,
			Gems:           p.Gems,
			CardGems:       p.CardGems,
			Cards:          p.Cards,
			ReservedCards:  p.ReservedCards,
			MustReturnGems: p.MustReturnGems,
		})
	}

	deckCounts := make(map[domain.Category]int, len(room.Decks))
	for cat, deck := range room.Decks {
		deckCounts[cat] = len(deck)
	}

	return stateView{
		Code:            room.Code,
		HostID:          room.HostID,
		Locked:          room.Locked,
		GameStarted:     room.GameStarted,
		GameOver:        room.GameOver,
		Winner:          room.Winner,
		Players:         players,
		PlayerOrder:     room.PlayerOrder,
		CurrentPlayerID: room.CurrentPlayerID,
		CardsOnBoard:    room.CardsOnBoard,
		DeckCounts:      deckCounts,
		GemBank:         room.GemBank,
		TurnLog:         room.TurnLog,
	}
}
