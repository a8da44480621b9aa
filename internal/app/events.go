package app

// EventKind identifies emitted app events for transport dispatch.
type EventKind string

const (
	EventGameStarted         EventKind = "game_started"
	EventWildConfirmRequired EventKind = "wild_confirm_required"
	EventNobleChoiceRequired EventKind = "noble_choice_required"
	EventNobleClaimed        EventKind = "noble_claimed"
	EventGameOver            EventKind = "game_over"
	EventLockChanged         EventKind = "lock_changed"
)

// Event is an app-level event with optional targeted recipients.
type Event struct {
	Kind       EventKind
	Payload    any
	Recipients []string // session ids; empty means broadcast to the room
}

type GameStartedPayload struct {
	FirstPlayerID string `json:"firstPlayerId"`
}

// WildConfirmRequiredPayload prompts the acting player to confirm wild-gem
// spend before the purchase commits. Sent to the actor only; no state was
// mutated.
type WildConfirmRequiredPayload struct {
	CardID      string `json:"cardId"`
	WildsNeeded int    `json:"wildsNeeded"`
	Message     string `json:"message"`
}

// NobleChoiceRequiredPayload prompts the acting player to pick one of
// several simultaneously eligible nobles. The turn is held until the
// choice arrives.
type NobleChoiceRequiredPayload struct {
	NobleIDs []string `json:"nobleIds"`
}

type NobleClaimedPayload struct {
	Player  string `json:"player"`
	NobleID string `json:"nobleId"`
	Score   int    `json:"score"`
}

type GameOverPayload struct {
	Winner string `json:"winner"`
	Score  int    `json:"score"`
}

type LockChangedPayload struct {
	Locked bool `json:"locked"`
}

func broadcast(kind EventKind, payload any) Event {
	return Event{Kind: kind, Payload: payload}
}

func targeted(kind EventKind, payload any, sessionID string) Event {
	return Event{Kind: kind, Payload: payload, Recipients: []string{sessionID}}
}
