package domain

import "time"

// Limits from the default ruleset.
const (
	MaxPlayers      = 4
	BoardRowSize    = 4
	ReserveLimit    = 3
	GemHoldLimit    = 10
	DefaultWinScore = 15
)

// Player is one seat in a room. SessionID is the stable identity issued at
// first join; ParticipantID is the live connection and is re-assigned on
// reconnect.
type Player struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	Username      string `json:"username"`

	Score         int    `json:"score"`
	Gems          GemSet `json:"gems"`
	CardGems      GemSet `json:"cardGems"`
	Cards         []Card `json:"cards"`
	ReservedCards []Card `json:"reservedCards"`

	// MustReturnGems is recomputed on turn advancement whenever the player
	// holds more than GemHoldLimit gems. It blocks further collection.
	MustReturnGems bool `json:"mustReturnGems"`

	// DisconnectedAtTick is the match tick at which the player's connection
	// dropped, or 0 while connected. Removal happens after the grace period.
	DisconnectedAtTick int64 `json:"disconnectedAtTick,omitempty"`
}

// Connected reports whether the player has a live connection.
func (p *Player) Connected() bool {
	return p.DisconnectedAtTick == 0
}

// TurnLogEntry is one line of the append-only activity feed. Entries are
// never mutated or removed.
type TurnLogEntry struct {
	ID        string         `json:"id"`
	Player    string         `json:"player"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// PendingNobleChoice suspends turn advancement while a player picks one of
// several simultaneously eligible nobles.
type PendingNobleChoice struct {
	SessionID string   `json:"sessionId"`
	NobleIDs  []string `json:"nobleIds"`
}

// Room is the aggregate root for one game session. It is always loaded
// fully, mutated in memory and written back wholesale under a storage
// version check.
type Room struct {
	Code   string `json:"code"`
	HostID string `json:"hostId"` // session id of the creating participant

	Locked      bool   `json:"locked"`
	GameStarted bool   `json:"gameStarted"`
	GameOver    bool   `json:"gameOver"`
	Winner      string `json:"winner,omitempty"`

	Players     []*Player `json:"players"`
	PlayerOrder []string  `json:"playerOrder"` // session ids in turn rotation
	// CurrentPlayerID is the session id of whose turn it is; empty only
	// before any player has joined.
	CurrentPlayerID string `json:"currentPlayerId,omitempty"`

	Decks        map[Category][]Card `json:"decks"`
	CardsOnBoard map[Category][]Card `json:"cardsOnBoard"`
	GemBank      GemSet              `json:"gemBank"`

	TurnLog []TurnLogEntry `json:"turnLog"`

	// ActionLock is the short-lived mutex flag guarding the purchase path.
	// Requests arriving while it is held are rejected with a transient
	// try-again signal, never queued.
	ActionLock bool `json:"actionLock,omitempty"`

	PendingNoble *PendingNobleChoice `json:"pendingNoble,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// NewRoom creates an empty lobby-phase room. Decks, board and bank are
// populated at game start only.
func NewRoom(code string) *Room {
	return &Room{
		Code:         code,
		Decks:        map[Category][]Card{},
		CardsOnBoard: map[Category][]Card{},
		CreatedAt:    time.Now().UTC(),
	}
}

// FindBySession returns the player with the given stable session id.
func (r *Room) FindBySession(sessionID string) *Player {
	for _, p := range r.Players {
		if p.SessionID == sessionID {
			return p
		}
	}
	return nil
}

// FindByParticipant returns the player with the given live connection id.
func (r *Room) FindByParticipant(participantID string) *Player {
	for _, p := range r.Players {
		if p.ParticipantID == participantID {
			return p
		}
	}
	return nil
}

// FindByUsername returns the player with the given display name.
func (r *Room) FindByUsername(username string) *Player {
	for _, p := range r.Players {
		if p.Username == username {
			return p
		}
	}
	return nil
}

// CurrentPlayer returns the player whose turn it is, or nil.
func (r *Room) CurrentPlayer() *Player {
	if r.CurrentPlayerID == "" {
		return nil
	}
	return r.FindBySession(r.CurrentPlayerID)
}

// IsHost reports whether the given session id owns the room.
func (r *Room) IsHost(sessionID string) bool {
	return sessionID != "" && sessionID == r.HostID
}

// NextInOrder returns the session id after the given one in the rotation,
// wrapping to the first entry. Falls back to the first entry when the id is
// not in the order.
func (r *Room) NextInOrder(sessionID string) string {
	if len(r.PlayerOrder) == 0 {
		return ""
	}
	for i, id := range r.PlayerOrder {
		if id == sessionID {
			return r.PlayerOrder[(i+1)%len(r.PlayerOrder)]
		}
	}
	return r.PlayerOrder[0]
}

// RemoveFromOrder deletes the session id from the rotation.
func (r *Room) RemoveFromOrder(sessionID string) {
	for i, id := range r.PlayerOrder {
		if id == sessionID {
			r.PlayerOrder = append(r.PlayerOrder[:i], r.PlayerOrder[i+1:]...)
			return
		}
	}
}

// RemovePlayer deletes the player entity with the given session id.
func (r *Room) RemovePlayer(sessionID string) {
	for i, p := range r.Players {
		if p.SessionID == sessionID {
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			return
		}
	}
}

// BoardCard locates a face-up card by id across all board rows, returning
// the card and its category.
func (r *Room) BoardCard(id string) (Card, Category, bool) {
	for cat, row := range r.CardsOnBoard {
		if i := findCard(row, id); i >= 0 {
			return row[i], cat, true
		}
	}
	return Card{}, "", false
}

// RemoveFromBoard takes the card with the given id off its board row and
// immediately backfills the vacated slot from that category's draw pile if
// any cards remain.
func (r *Room) RemoveFromBoard(id string, cat Category) {
	row := r.CardsOnBoard[cat]
	i := findCard(row, id)
	if i < 0 {
		return
	}
	r.CardsOnBoard[cat] = removeCard(row, i)
	r.backfill(cat)
}

// DrawFromDeck pops the top card of a category's draw pile.
func (r *Room) DrawFromDeck(cat Category) (Card, bool) {
	deck := r.Decks[cat]
	if len(deck) == 0 {
		return Card{}, false
	}
	top := deck[0]
	r.Decks[cat] = deck[1:]
	return top, true
}

func (r *Room) backfill(cat Category) {
	if len(r.CardsOnBoard[cat]) >= BoardRowSize {
		return
	}
	if next, ok := r.DrawFromDeck(cat); ok {
		r.CardsOnBoard[cat] = append(r.CardsOnBoard[cat], next)
	}
}

// AppendLog adds an entry to the append-only turn log.
func (r *Room) AppendLog(id, player, action string, details map[string]any) {
	r.TurnLog = append(r.TurnLog, TurnLogEntry{
		ID:        id,
		Player:    player,
		Action:    action,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
}
