package app

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"opulence/internal/domain"

	"github.com/google/uuid"
)

// Service contains the game use-cases operating on a Room aggregate. All
// methods take the actor's stable session id; transport identity mapping
// is the adapter's job.
type Service struct {
	rng      *rand.Rand
	catalog  map[domain.Category][]domain.Card
	supply   domain.GemSet
	winScore int
}

// NewService constructs a Service. rng may be nil for a time-seeded
// default; winScore <= 0 selects the default ruleset threshold.
func NewService(catalog map[domain.Category][]domain.Card, supply domain.GemSet, winScore int, rng *rand.Rand) *Service {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if winScore <= 0 {
		winScore = domain.DefaultWinScore
	}
	return &Service{rng: rng, catalog: catalog, supply: supply, winScore: winScore}
}

// User-correctable rejections. Reported to the requesting participant
// only; they never mutate state.
var (
	ErrNotYourTurn        = errors.New("not your turn")
	ErrGameNotStarted     = errors.New("game has not started")
	ErrGameAlreadyStarted = errors.New("game already started")
	ErrGameOver           = errors.New("game is over")
	ErrNotHost            = errors.New("only the host can do this")
	ErrUnknownPlayer      = errors.New("player not in room")
	ErrMustReturnGems     = errors.New("you must return gems before collecting more")
	ErrIllegalSelection   = errors.New("invalid gem selection")
	ErrGemCapExceeded     = errors.New("collection would exceed the gem limit")
	ErrBankShort          = errors.New("not enough gems in the bank")
	ErrReserveLimit       = errors.New("reserve limit reached")
	ErrCardNotFound       = errors.New("card not found")
	ErrCannotAfford       = errors.New("cannot afford this card")
	ErrActionPending      = errors.New("another action is being processed, try again")
	ErrChoicePending      = errors.New("a noble selection is pending")
	ErrNoChoicePending    = errors.New("no noble selection is pending")
	ErrNobleNotEligible   = errors.New("noble not eligible")
	ErrRoomFull           = errors.New("room is full")
	ErrRoomLocked         = errors.New("room is locked")
	ErrTooFewPlayers      = errors.New("not enough players to start")
)

func (s *Service) newID() string {
	return uuid.NewString()
}

// turnGate runs the checks shared by every mutating action: the game is in
// progress, the actor is seated and it is their turn, and no noble choice
// is outstanding.
func (s *Service) turnGate(room *domain.Room, actorID string) (*domain.Player, error) {
	if room.GameOver {
		return nil, ErrGameOver
	}
	if !room.GameStarted {
		return nil, ErrGameNotStarted
	}
	pl := room.FindBySession(actorID)
	if pl == nil {
		return nil, ErrUnknownPlayer
	}
	if room.PendingNoble != nil {
		return nil, ErrChoicePending
	}
	if room.CurrentPlayerID != actorID {
		return nil, ErrNotYourTurn
	}
	return pl, nil
}

// advanceTurn implements the turn coordinator: check the win condition for
// the player whose action just completed, then rotate CurrentPlayerID and
// recompute the incoming player's forced-return flag. Once the game is
// over every later action fails closed.
func (s *Service) advanceTurn(room *domain.Room) []Event {
	cur := room.CurrentPlayer()
	if cur != nil && cur.Score >= s.winScore {
		room.GameOver = true
		room.Winner = cur.Username
		return []Event{broadcast(EventGameOver, GameOverPayload{Winner: cur.Username, Score: cur.Score})}
	}

	room.CurrentPlayerID = room.NextInOrder(room.CurrentPlayerID)
	if next := room.CurrentPlayer(); next != nil {
		next.MustReturnGems = next.Gems.Total() > domain.GemHoldLimit
	}
	return nil
}

// StartGame deals the board exactly once and opens play. Host only.
func (s *Service) StartGame(room *domain.Room, actorID string) (bool, []Event, error) {
	if room.GameOver {
		return false, nil, ErrGameOver
	}
	if room.GameStarted {
		return false, nil, ErrGameAlreadyStarted
	}
	if !room.IsHost(actorID) {
		return false, nil, ErrNotHost
	}
	if len(room.Players) < 2 {
		return false, nil, ErrTooFewPlayers
	}

	room.Decks, room.CardsOnBoard = Deal(s.catalog, s.rng)
	room.GemBank = s.supply
	room.GameStarted = true

	if len(room.PlayerOrder) == 0 {
		for _, p := range room.Players {
			room.PlayerOrder = append(room.PlayerOrder, p.SessionID)
		}
	}
	if room.CurrentPlayerID == "" {
		room.CurrentPlayerID = room.PlayerOrder[0]
	}

	return true, []Event{broadcast(EventGameStarted, GameStartedPayload{FirstPlayerID: room.CurrentPlayerID})}, nil
}

// CollectGems validates and applies a gem collection, then advances the
// turn. The bank is checked for every color before any debit.
func (s *Service) CollectGems(room *domain.Room, actorID string, selection domain.GemSet) (bool, []Event, error) {
	pl, err := s.turnGate(room, actorID)
	if err != nil {
		return false, nil, err
	}
	if pl.MustReturnGems {
		return false, nil, ErrMustReturnGems
	}
	if !domain.LegalGemSelection(room.GemBank, selection) {
		return false, nil, ErrIllegalSelection
	}
	if pl.Gems.Total()+selection.Total() > domain.GemHoldLimit {
		return false, nil, ErrGemCapExceeded
	}
	if !domain.BankCovers(room.GemBank, selection) {
		return false, nil, ErrBankShort
	}

	taken := map[string]any{}
	for _, c := range domain.BasicColors {
		n := selection.Get(c)
		if n == 0 {
			continue
		}
		room.GemBank.Add(c, -n)
		pl.Gems.Add(c, n)
		taken[string(c)] = n
	}

	room.AppendLog(s.newID(), pl.Username, "collect_gems", map[string]any{"gemsCollected": taken})
	return true, s.advanceTurn(room), nil
}

// PurchaseCard pays for a card on the board or in the actor's own reserve.
// When wild gems are needed and confirmWildUse is false the action
// suspends: a confirmation prompt goes to the actor and nothing mutates.
func (s *Service) PurchaseCard(room *domain.Room, actorID, cardID string, confirmWildUse bool) (bool, []Event, error) {
	pl, err := s.turnGate(room, actorID)
	if err != nil {
		return false, nil, err
	}

	// Purchase touches the most shared counters; guard it with the room
	// action lock on top of turn ownership.
	if room.ActionLock {
		return false, nil, ErrActionPending
	}
	room.ActionLock = true
	defer func() { room.ActionLock = false }()

	card, sourceCat, fromBoard := room.BoardCard(cardID)
	if !fromBoard {
		i := -1
		for j, rc := range pl.ReservedCards {
			if rc.ID == cardID {
				i = j
				break
			}
		}
		if i < 0 {
			return false, nil, ErrCardNotFound
		}
		card = pl.ReservedCards[i]
	}
	if card.IsNoble() {
		return false, nil, ErrCardNotFound
	}

	afford := domain.CanAfford(card, pl)
	if !afford.CanBuy {
		return false, nil, fmt.Errorf("%w: missing %d gems", ErrCannotAfford, afford.Missing)
	}
	if afford.NeedsWild && !confirmWildUse {
		prompt := targeted(EventWildConfirmRequired, WildConfirmRequiredPayload{
			CardID:      cardID,
			WildsNeeded: afford.Missing,
			Message:     fmt.Sprintf("This purchase will spend %d wild gems. Confirm?", afford.Missing),
		}, actorID)
		return false, []Event{prompt}, nil
	}

	// Pay colored gems first, wilds second, crediting the bank back.
	for _, c := range domain.BasicColors {
		discounted := card.Cost.Get(c) - pl.CardGems.Get(c)
		if discounted <= 0 {
			continue
		}
		pay := pl.Gems.Get(c)
		if pay > discounted {
			pay = discounted
		}
		pl.Gems.Add(c, -pay)
		room.GemBank.Add(c, pay)

		if rest := discounted - pay; rest > 0 {
			pl.Gems.Wild -= rest
			room.GemBank.Wild += rest
		}
	}

	pl.Cards = append(pl.Cards, card)
	if card.GemType != "" {
		pl.CardGems.Add(card.GemType, 1)
	}
	pl.Score += card.Score

	// A reserved card was never on the board, so only board purchases
	// trigger a backfill.
	if fromBoard {
		room.RemoveFromBoard(cardID, sourceCat)
	} else {
		for i, rc := range pl.ReservedCards {
			if rc.ID == cardID {
				pl.ReservedCards = append(pl.ReservedCards[:i], pl.ReservedCards[i+1:]...)
				break
			}
		}
	}

	room.AppendLog(s.newID(), pl.Username, "purchase_card", map[string]any{
		"cardId":   cardID,
		"category": string(card.Category),
		"score":    card.Score,
	})

	var events []Event
	switch nobles := domain.EligibleNobles(room, pl); len(nobles) {
	case 0:
		events = s.advanceTurn(room)
	case 1:
		events = append(events, s.claimNoble(room, pl, nobles[0]))
		events = append(events, s.advanceTurn(room)...)
	default:
		ids := make([]string, len(nobles))
		for i, n := range nobles {
			ids[i] = n.ID
		}
		room.PendingNoble = &domain.PendingNobleChoice{SessionID: actorID, NobleIDs: ids}
		events = append(events, targeted(EventNobleChoiceRequired, NobleChoiceRequiredPayload{NobleIDs: ids}, actorID))
	}

	return true, events, nil
}

// ReserveCard moves a face-up card (by id) or the top of a draw pile
// (blind, by category) into the actor's reserve, granting one wild gem
// while the bank has any.
func (s *Service) ReserveCard(room *domain.Room, actorID, cardID string, category domain.Category) (bool, []Event, error) {
	pl, err := s.turnGate(room, actorID)
	if err != nil {
		return false, nil, err
	}
	if len(pl.ReservedCards) >= domain.ReserveLimit {
		return false, nil, ErrReserveLimit
	}

	var card domain.Card
	var sourceCat domain.Category
	source := "deck"

	if cardID != "" {
		found, cat, ok := room.BoardCard(cardID)
		if !ok || found.IsNoble() {
			return false, nil, ErrCardNotFound
		}
		card, sourceCat = found, cat
		source = "board"
	} else {
		if category == "" || category == domain.CategoryNoble {
			return false, nil, ErrCardNotFound
		}
		drawn, ok := room.DrawFromDeck(category)
		if !ok {
			return false, nil, ErrCardNotFound
		}
		card, sourceCat = drawn, category
	}

	pl.ReservedCards = append(pl.ReservedCards, card)

	if room.GemBank.Wild > 0 {
		room.GemBank.Wild--
		pl.Gems.Wild++
	}

	if source == "board" {
		room.RemoveFromBoard(card.ID, sourceCat)
	}

	room.AppendLog(s.newID(), pl.Username, "reserve_card", map[string]any{
		"cardId":   card.ID,
		"source":   source,
		"category": string(sourceCat),
		"score":    card.Score,
	})

	return true, s.advanceTurn(room), nil
}

// SkipTurn logs a pass and advances the turn; it always succeeds for the
// current player.
func (s *Service) SkipTurn(room *domain.Room, actorID string) (bool, []Event, error) {
	pl, err := s.turnGate(room, actorID)
	if err != nil {
		return false, nil, err
	}

	room.AppendLog(s.newID(), pl.Username, "skip_turn", nil)
	return true, s.advanceTurn(room), nil
}

// ConfirmNobleSelection completes a suspended multi-noble choice and then
// advances the turn held by the suspension.
func (s *Service) ConfirmNobleSelection(room *domain.Room, actorID, nobleID string) (bool, []Event, error) {
	if room.GameOver {
		return false, nil, ErrGameOver
	}
	pending := room.PendingNoble
	if pending == nil {
		return false, nil, ErrNoChoicePending
	}
	if pending.SessionID != actorID {
		return false, nil, ErrNotYourTurn
	}
	pl := room.FindBySession(actorID)
	if pl == nil {
		return false, nil, ErrUnknownPlayer
	}

	offered := false
	for _, id := range pending.NobleIDs {
		if id == nobleID {
			offered = true
			break
		}
	}
	if !offered {
		return false, nil, ErrNobleNotEligible
	}
	noble, cat, ok := room.BoardCard(nobleID)
	if !ok || cat != domain.CategoryNoble || !domain.NobleEligible(noble, pl) {
		return false, nil, ErrNobleNotEligible
	}

	events := []Event{s.claimNoble(room, pl, noble)}
	room.PendingNoble = nil
	events = append(events, s.advanceTurn(room)...)
	return true, events, nil
}

// ToggleLock flips the join lock. Host only; existing players may still
// reconnect while locked.
func (s *Service) ToggleLock(room *domain.Room, actorID string) (bool, []Event, error) {
	if !room.IsHost(actorID) {
		return false, nil, ErrNotHost
	}
	room.Locked = !room.Locked
	return true, []Event{broadcast(EventLockChanged, LockChangedPayload{Locked: room.Locked})}, nil
}

// claimNoble moves the noble from the board into the player's cards and
// credits its score. The caller decides when the turn advances.
func (s *Service) claimNoble(room *domain.Room, pl *domain.Player, noble domain.Card) Event {
	room.RemoveFromBoard(noble.ID, domain.CategoryNoble)
	pl.Cards = append(pl.Cards, noble)
	pl.Score += noble.Score

	room.AppendLog(s.newID(), pl.Username, "claim_noble", map[string]any{
		"nobleId": noble.ID,
		"score":   noble.Score,
	})

	return broadcast(EventNobleClaimed, NobleClaimedPayload{Player: pl.Username, NobleID: noble.ID, Score: noble.Score})
}

// CanJoin checks a join attempt before any mutation. Reconnects of a known
// identity are always allowed; fresh joins are refused once the game
// started, while the room is locked, or when all seats are taken.
func (s *Service) CanJoin(room *domain.Room, sessionID, username string) error {
	if sessionID != "" && room.FindBySession(sessionID) != nil {
		return nil
	}
	if username != "" && room.FindByUsername(username) != nil {
		return nil
	}
	if room.GameStarted {
		return ErrGameAlreadyStarted
	}
	if room.Locked {
		return ErrRoomLocked
	}
	if len(room.Players) >= domain.MaxPlayers {
		return ErrRoomFull
	}
	return nil
}

// AttachPlayer adds a new player or re-attaches a returning one. Identity
// resolution prefers the stable session id from the join credential and
// falls back to username matching. Returns the player and whether this
// was a reconnect.
func (s *Service) AttachPlayer(room *domain.Room, sessionID, participantID, username string) (*domain.Player, bool, error) {
	if err := s.CanJoin(room, sessionID, username); err != nil {
		return nil, false, err
	}

	existing := room.FindBySession(sessionID)
	if existing == nil {
		existing = room.FindByUsername(username)
	}
	if existing != nil {
		existing.ParticipantID = participantID
		existing.DisconnectedAtTick = 0
		return existing, true, nil
	}

	pl := &domain.Player{
		SessionID:     s.newID(),
		ParticipantID: participantID,
		Username:      username,
	}
	room.Players = append(room.Players, pl)
	room.PlayerOrder = append(room.PlayerOrder, pl.SessionID)
	room.AppendLog(s.newID(), username, "joined_room", nil)

	if room.HostID == "" {
		room.HostID = pl.SessionID
	}
	if room.CurrentPlayerID == "" {
		room.CurrentPlayerID = pl.SessionID
	}

	return pl, false, nil
}

// DetachPlayer removes a player for good, after a leave or an expired
// disconnect grace period. The seat's gems go back to the bank and any
// reserved cards return to the bottom of their draw piles so the
// conservation invariants hold; purchased cards stay spent. A noble
// choice left pending by the leaver is auto-resolved to its first still
// eligible noble.
func (s *Service) DetachPlayer(room *domain.Room, sessionID string) []Event {
	pl := room.FindBySession(sessionID)
	if pl == nil {
		return nil
	}

	var events []Event
	if pending := room.PendingNoble; pending != nil && pending.SessionID == sessionID {
		for _, id := range pending.NobleIDs {
			noble, cat, ok := room.BoardCard(id)
			if ok && cat == domain.CategoryNoble && domain.NobleEligible(noble, pl) {
				events = append(events, s.claimNoble(room, pl, noble))
				break
			}
		}
		room.PendingNoble = nil
	}

	if room.CurrentPlayerID == sessionID {
		room.CurrentPlayerID = room.NextInOrder(sessionID)
		if room.CurrentPlayerID == sessionID {
			room.CurrentPlayerID = ""
		}
	}

	for _, c := range domain.AllColors {
		if n := pl.Gems.Get(c); n > 0 {
			room.GemBank.Add(c, n)
		}
	}
	for _, rc := range pl.ReservedCards {
		room.Decks[rc.Category] = append(room.Decks[rc.Category], rc)
	}

	room.AppendLog(s.newID(), pl.Username, "left_room", nil)
	room.RemoveFromOrder(sessionID)
	room.RemovePlayer(sessionID)

	if next := room.CurrentPlayer(); next != nil {
		next.MustReturnGems = next.Gems.Total() > domain.GemHoldLimit
	}

	return events
}
