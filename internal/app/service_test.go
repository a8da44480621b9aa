package app

import (
	"errors"
	"math/rand"
	"testing"

	"opulence/internal/domain"
)

var testSupply = domain.GemSet{White: 7, Green: 7, Orange: 7, Purple: 7, Black: 7, Wild: 5}

func serviceCatalog() map[domain.Category][]domain.Card {
	catalog := map[domain.Category][]domain.Card{}
	add := func(cat domain.Category, prefix string, n, score int) {
		for i := 0; i < n; i++ {
			catalog[cat] = append(catalog[cat], domain.Card{
				ID:       prefix + string(rune('0'+i)),
				Category: cat,
				Score:    score,
				GemType:  domain.BasicColors[i%len(domain.BasicColors)],
				Cost:     domain.GemSet{White: 1},
			})
		}
	}
	add(domain.CategoryGreen, "g", 8, 0)
	add(domain.CategoryYellow, "y", 8, 1)
	add(domain.CategoryBlue, "b", 8, 3)
	for i := 0; i < 5; i++ {
		catalog[domain.CategoryNoble] = append(catalog[domain.CategoryNoble], domain.Card{
			ID:       "n" + string(rune('0'+i)),
			Category: domain.CategoryNoble,
			Score:    3,
			Cost:     domain.GemSet{White: 9}, // unreachable unless a test lowers it
		})
	}
	return catalog
}

func newTestService() *Service {
	return NewService(serviceCatalog(), testSupply, 0, rand.New(rand.NewSource(1)))
}

// lobbyRoom seats two players with p1 as host, before game start.
func lobbyRoom() *domain.Room {
	room := domain.NewRoom("abc123")
	room.Players = []*domain.Player{
		{SessionID: "p1", ParticipantID: "u1", Username: "alice"},
		{SessionID: "p2", ParticipantID: "u2", Username: "bob"},
	}
	room.PlayerOrder = []string{"p1", "p2"}
	room.HostID = "p1"
	room.CurrentPlayerID = "p1"
	return room
}

// startedRoom is a two-player room mid-game with a hand-built board, so
// tests control exactly which cards are where.
func startedRoom() *domain.Room {
	room := lobbyRoom()
	room.GameStarted = true
	room.GemBank = testSupply
	room.CardsOnBoard = map[domain.Category][]domain.Card{
		domain.CategoryGreen: {
			{ID: "g1", Category: domain.CategoryGreen, Score: 0, GemType: domain.Green, Cost: domain.GemSet{White: 2}},
			{ID: "g2", Category: domain.CategoryGreen, Score: 1, GemType: domain.White, Cost: domain.GemSet{Purple: 3}},
			{ID: "g3", Category: domain.CategoryGreen, Score: 0, GemType: domain.Black, Cost: domain.GemSet{Green: 1, Orange: 1}},
			{ID: "g4", Category: domain.CategoryGreen, Score: 0, GemType: domain.Orange, Cost: domain.GemSet{Black: 2}},
		},
		domain.CategoryYellow: {
			{ID: "y1", Category: domain.CategoryYellow, Score: 2, GemType: domain.Purple, Cost: domain.GemSet{White: 3, Green: 2}},
		},
		domain.CategoryBlue: {
			{ID: "b1", Category: domain.CategoryBlue, Score: 4, GemType: domain.Green, Cost: domain.GemSet{Orange: 5, Black: 2}},
		},
		domain.CategoryNoble: {
			{ID: "n1", Category: domain.CategoryNoble, Score: 3, Cost: domain.GemSet{Green: 3}},
			{ID: "n2", Category: domain.CategoryNoble, Score: 3, Cost: domain.GemSet{White: 3}},
		},
	}
	room.Decks = map[domain.Category][]domain.Card{
		domain.CategoryGreen: {
			{ID: "g5", Category: domain.CategoryGreen, GemType: domain.Purple, Cost: domain.GemSet{White: 1}},
			{ID: "g6", Category: domain.CategoryGreen, GemType: domain.White, Cost: domain.GemSet{White: 1}},
		},
		domain.CategoryYellow: {},
		domain.CategoryBlue:   {},
		domain.CategoryNoble:  {},
	}
	return room
}

func hasEvent(events []Event, kind EventKind) bool {
	for _, ev := range events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func TestStartGame(t *testing.T) {
	svc := newTestService()
	room := lobbyRoom()

	applied, events, err := svc.StartGame(room, "p1")
	if err != nil || !applied {
		t.Fatalf("StartGame failed: applied=%t err=%v", applied, err)
	}
	if !room.GameStarted {
		t.Error("game not marked started")
	}
	if room.GemBank != testSupply {
		t.Errorf("bank = %+v, want the full supply", room.GemBank)
	}
	for _, cat := range domain.AllCategories {
		if got := len(room.CardsOnBoard[cat]); got != domain.BoardRowSize {
			t.Errorf("board[%s] = %d cards, want %d", cat, got, domain.BoardRowSize)
		}
	}
	if room.CurrentPlayerID != "p1" {
		t.Errorf("first turn belongs to %s, want p1", room.CurrentPlayerID)
	}
	if !hasEvent(events, EventGameStarted) {
		t.Error("expected a game started event")
	}
}

func TestStartGameRejections(t *testing.T) {
	svc := newTestService()

	room := lobbyRoom()
	if _, _, err := svc.StartGame(room, "p2"); !errors.Is(err, ErrNotHost) {
		t.Errorf("non-host start: err = %v, want ErrNotHost", err)
	}

	solo := domain.NewRoom("solo")
	solo.Players = []*domain.Player{{SessionID: "p1", Username: "alice"}}
	solo.HostID = "p1"
	if _, _, err := svc.StartGame(solo, "p1"); !errors.Is(err, ErrTooFewPlayers) {
		t.Errorf("solo start: err = %v, want ErrTooFewPlayers", err)
	}

	started := startedRoom()
	if _, _, err := svc.StartGame(started, "p1"); !errors.Is(err, ErrGameAlreadyStarted) {
		t.Errorf("double start: err = %v, want ErrGameAlreadyStarted", err)
	}
}

func TestCollectGems(t *testing.T) {
	svc := newTestService()
	room := startedRoom()

	applied, _, err := svc.CollectGems(room, "p1", domain.GemSet{White: 1, Green: 1, Black: 1})
	if err != nil || !applied {
		t.Fatalf("CollectGems failed: applied=%t err=%v", applied, err)
	}

	p1 := room.FindBySession("p1")
	if p1.Gems.White != 1 || p1.Gems.Green != 1 || p1.Gems.Black != 1 {
		t.Errorf("player gems = %+v, want one each of white/green/black", p1.Gems)
	}
	if room.GemBank.White != 6 || room.GemBank.Green != 6 || room.GemBank.Black != 6 {
		t.Errorf("bank = %+v, want symmetric debit", room.GemBank)
	}
	if room.CurrentPlayerID != "p2" {
		t.Errorf("turn did not advance, current = %s", room.CurrentPlayerID)
	}
	if len(room.TurnLog) != 1 || room.TurnLog[0].Action != "collect_gems" {
		t.Errorf("turn log = %+v, want one collect_gems entry", room.TurnLog)
	}
}

func TestCollectGemsRejections(t *testing.T) {
	svc := newTestService()

	tests := []struct {
		name      string
		setup     func(*domain.Room)
		actor     string
		selection domain.GemSet
		want      error
	}{
		{
			name:      "NotYourTurn",
			setup:     func(r *domain.Room) {},
			actor:     "p2",
			selection: domain.GemSet{White: 1, Green: 1, Black: 1},
			want:      ErrNotYourTurn,
		},
		{
			name:      "IllegalShape",
			setup:     func(r *domain.Room) {},
			actor:     "p1",
			selection: domain.GemSet{White: 1, Green: 1},
			want:      ErrIllegalSelection,
		},
		{
			name:      "DoubleTakeShallowBank",
			setup:     func(r *domain.Room) { r.GemBank.Purple = 3 },
			actor:     "p1",
			selection: domain.GemSet{Purple: 2},
			want:      ErrIllegalSelection,
		},
		{
			name: "OverGemCap",
			setup: func(r *domain.Room) {
				r.FindBySession("p1").Gems = domain.GemSet{White: 4, Green: 4}
			},
			actor:     "p1",
			selection: domain.GemSet{Orange: 1, Purple: 1, Black: 1},
			want:      ErrGemCapExceeded,
		},
		{
			name:      "BankShort",
			setup:     func(r *domain.Room) { r.GemBank.Black = 0 },
			actor:     "p1",
			selection: domain.GemSet{White: 1, Green: 1, Black: 1},
			want:      ErrBankShort,
		},
		{
			name: "MustReturnFirst",
			setup: func(r *domain.Room) {
				r.FindBySession("p1").MustReturnGems = true
			},
			actor:     "p1",
			selection: domain.GemSet{White: 1, Green: 1, Black: 1},
			want:      ErrMustReturnGems,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := startedRoom()
			tt.setup(room)
			bankBefore := room.GemBank

			applied, _, err := svc.CollectGems(room, tt.actor, tt.selection)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if applied {
				t.Error("rejected collection reported applied")
			}
			if room.GemBank != bankBefore {
				t.Errorf("rejection mutated the bank: %+v -> %+v", bankBefore, room.GemBank)
			}
			if room.CurrentPlayerID != "p1" {
				t.Error("rejection advanced the turn")
			}
		})
	}
}

func TestForcedReturnRecomputedOnTurnStart(t *testing.T) {
	svc := newTestService()
	room := startedRoom()
	p2 := room.FindBySession("p2")
	p2.Gems = domain.GemSet{White: 6, Green: 5} // 11 > cap

	if _, _, err := svc.SkipTurn(room, "p1"); err != nil {
		t.Fatalf("skip failed: %v", err)
	}
	if !p2.MustReturnGems {
		t.Fatal("incoming player over the cap not flagged")
	}
	if _, _, err := svc.CollectGems(room, "p2", domain.GemSet{White: 1, Green: 1, Black: 1}); !errors.Is(err, ErrMustReturnGems) {
		t.Errorf("over-cap player collected: err = %v", err)
	}
}

func TestPurchaseCardWithGems(t *testing.T) {
	svc := newTestService()
	room := startedRoom()
	p1 := room.FindBySession("p1")
	p1.Gems = domain.GemSet{White: 2}

	applied, _, err := svc.PurchaseCard(room, "p1", "g1", false)
	if err != nil || !applied {
		t.Fatalf("purchase failed: applied=%t err=%v", applied, err)
	}

	if p1.Gems.White != 0 {
		t.Errorf("gems not spent: %+v", p1.Gems)
	}
	if room.GemBank.White != 9 {
		t.Errorf("bank not credited: white = %d, want 9", room.GemBank.White)
	}
	if len(p1.Cards) != 1 || p1.Cards[0].ID != "g1" {
		t.Errorf("card not owned: %+v", p1.Cards)
	}
	if p1.CardGems.Green != 1 {
		t.Errorf("discount not granted: %+v", p1.CardGems)
	}
	if len(room.CardsOnBoard[domain.CategoryGreen]) != domain.BoardRowSize {
		t.Errorf("board not backfilled: %d cards", len(room.CardsOnBoard[domain.CategoryGreen]))
	}
	if room.CurrentPlayerID != "p2" {
		t.Error("turn did not advance")
	}
	if room.ActionLock {
		t.Error("action lock left held")
	}
}

func TestPurchaseCardDiscountsReduceCost(t *testing.T) {
	svc := newTestService()
	room := startedRoom()
	p1 := room.FindBySession("p1")
	p1.CardGems = domain.GemSet{White: 2}

	// g1 costs 2 white, fully covered by discounts.
	applied, _, err := svc.PurchaseCard(room, "p1", "g1", false)
	if err != nil || !applied {
		t.Fatalf("discounted purchase failed: applied=%t err=%v", applied, err)
	}
	if !p1.Gems.IsZero() {
		t.Errorf("discounted purchase spent gems: %+v", p1.Gems)
	}
	if room.GemBank != testSupply {
		t.Errorf("discounted purchase moved bank gems: %+v", room.GemBank)
	}
}

func TestPurchaseCardWildSuspension(t *testing.T) {
	svc := newTestService()
	room := startedRoom()
	p1 := room.FindBySession("p1")
	p1.Gems = domain.GemSet{White: 1, Wild: 1}
	bankBefore := room.GemBank

	// First attempt without confirmation: prompt, no mutation.
	applied, events, err := svc.PurchaseCard(room, "p1", "g1", false)
	if err != nil {
		t.Fatalf("suspension returned error: %v", err)
	}
	if applied {
		t.Fatal("suspended purchase reported applied")
	}
	if len(events) != 1 || events[0].Kind != EventWildConfirmRequired {
		t.Fatalf("events = %+v, want one wild confirm prompt", events)
	}
	if len(events[0].Recipients) != 1 || events[0].Recipients[0] != "p1" {
		t.Errorf("prompt recipients = %v, want actor only", events[0].Recipients)
	}
	if room.GemBank != bankBefore || len(p1.Cards) != 0 || room.CurrentPlayerID != "p1" {
		t.Error("suspension mutated room state")
	}

	// Resubmission with confirmation commits, spending the wild.
	applied, _, err = svc.PurchaseCard(room, "p1", "g1", true)
	if err != nil || !applied {
		t.Fatalf("confirmed purchase failed: applied=%t err=%v", applied, err)
	}
	if p1.Gems.Wild != 0 {
		t.Errorf("wild not spent: %+v", p1.Gems)
	}
	if room.GemBank.Wild != bankBefore.Wild+1 {
		t.Errorf("wild not returned to bank: %d", room.GemBank.Wild)
	}
}

func TestPurchaseCardRejections(t *testing.T) {
	svc := newTestService()

	room := startedRoom()
	if _, _, err := svc.PurchaseCard(room, "p1", "g1", false); !errors.Is(err, ErrCannotAfford) {
		t.Errorf("broke purchase: err = %v, want ErrCannotAfford", err)
	}

	room = startedRoom()
	if _, _, err := svc.PurchaseCard(room, "p1", "missing", false); !errors.Is(err, ErrCardNotFound) {
		t.Errorf("unknown card: err = %v, want ErrCardNotFound", err)
	}

	// Nobles cannot be bought even when "affordable".
	room = startedRoom()
	if _, _, err := svc.PurchaseCard(room, "p1", "n1", false); !errors.Is(err, ErrCardNotFound) {
		t.Errorf("noble purchase: err = %v, want ErrCardNotFound", err)
	}

	room = startedRoom()
	room.ActionLock = true
	if _, _, err := svc.PurchaseCard(room, "p1", "g1", false); !errors.Is(err, ErrActionPending) {
		t.Errorf("locked purchase: err = %v, want ErrActionPending", err)
	}
}

func TestPurchaseFromReserve(t *testing.T) {
	svc := newTestService()
	room := startedRoom()
	p1 := room.FindBySession("p1")
	p1.Gems = domain.GemSet{White: 1}
	p1.ReservedCards = []domain.Card{
		{ID: "r1", Category: domain.CategoryYellow, Score: 2, GemType: domain.Black, Cost: domain.GemSet{White: 1}},
	}
	boardBefore := len(room.CardsOnBoard[domain.CategoryGreen])
	deckBefore := len(room.Decks[domain.CategoryGreen])

	applied, _, err := svc.PurchaseCard(room, "p1", "r1", false)
	if err != nil || !applied {
		t.Fatalf("reserve purchase failed: applied=%t err=%v", applied, err)
	}
	if len(p1.ReservedCards) != 0 {
		t.Errorf("reserve not emptied: %+v", p1.ReservedCards)
	}
	if len(p1.Cards) != 1 || p1.Cards[0].ID != "r1" {
		t.Errorf("card not owned: %+v", p1.Cards)
	}
	// A reserve purchase never touches the board.
	if len(room.CardsOnBoard[domain.CategoryGreen]) != boardBefore || len(room.Decks[domain.CategoryGreen]) != deckBefore {
		t.Error("reserve purchase moved board or deck cards")
	}
}

func TestReserveCardFromBoard(t *testing.T) {
	svc := newTestService()
	room := startedRoom()
	p1 := room.FindBySession("p1")

	applied, _, err := svc.ReserveCard(room, "p1", "g1", "")
	if err != nil || !applied {
		t.Fatalf("reserve failed: applied=%t err=%v", applied, err)
	}
	if len(p1.ReservedCards) != 1 || p1.ReservedCards[0].ID != "g1" {
		t.Errorf("reserve = %+v, want g1", p1.ReservedCards)
	}
	if p1.Gems.Wild != 1 {
		t.Errorf("wild gem not granted: %+v", p1.Gems)
	}
	if room.GemBank.Wild != 4 {
		t.Errorf("bank wild = %d, want 4", room.GemBank.Wild)
	}
	if len(room.CardsOnBoard[domain.CategoryGreen]) != domain.BoardRowSize {
		t.Error("board slot not backfilled")
	}
	if room.CurrentPlayerID != "p2" {
		t.Error("turn did not advance")
	}
}

func TestReserveCardBlindDraw(t *testing.T) {
	svc := newTestService()
	room := startedRoom()
	p1 := room.FindBySession("p1")

	applied, _, err := svc.ReserveCard(room, "p1", "", domain.CategoryGreen)
	if err != nil || !applied {
		t.Fatalf("blind reserve failed: applied=%t err=%v", applied, err)
	}
	if len(p1.ReservedCards) != 1 || p1.ReservedCards[0].ID != "g5" {
		t.Errorf("reserve = %+v, want deck top g5", p1.ReservedCards)
	}
	if len(room.Decks[domain.CategoryGreen]) != 1 {
		t.Errorf("deck = %d cards, want 1", len(room.Decks[domain.CategoryGreen]))
	}
}

func TestReserveCardRejections(t *testing.T) {
	svc := newTestService()

	room := startedRoom()
	p1 := room.FindBySession("p1")
	p1.ReservedCards = []domain.Card{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	if _, _, err := svc.ReserveCard(room, "p1", "g1", ""); !errors.Is(err, ErrReserveLimit) {
		t.Errorf("full reserve: err = %v, want ErrReserveLimit", err)
	}

	room = startedRoom()
	if _, _, err := svc.ReserveCard(room, "p1", "n1", ""); !errors.Is(err, ErrCardNotFound) {
		t.Errorf("noble reserve: err = %v, want ErrCardNotFound", err)
	}

	room = startedRoom()
	if _, _, err := svc.ReserveCard(room, "p1", "", domain.CategoryNoble); !errors.Is(err, ErrCardNotFound) {
		t.Errorf("noble blind draw: err = %v, want ErrCardNotFound", err)
	}

	room = startedRoom()
	room.Decks[domain.CategoryYellow] = nil
	if _, _, err := svc.ReserveCard(room, "p1", "", domain.CategoryYellow); !errors.Is(err, ErrCardNotFound) {
		t.Errorf("empty deck draw: err = %v, want ErrCardNotFound", err)
	}
}

func TestReserveCardNoWildWhenBankEmpty(t *testing.T) {
	svc := newTestService()
	room := startedRoom()
	room.GemBank.Wild = 0
	p1 := room.FindBySession("p1")

	applied, _, err := svc.ReserveCard(room, "p1", "g1", "")
	if err != nil || !applied {
		t.Fatalf("reserve failed: applied=%t err=%v", applied, err)
	}
	if p1.Gems.Wild != 0 {
		t.Error("wild granted from an empty bank")
	}
}

func TestNobleAutoClaimOnPurchase(t *testing.T) {
	svc := newTestService()
	room := startedRoom()
	p1 := room.FindBySession("p1")
	p1.Gems = domain.GemSet{White: 2}
	p1.CardGems = domain.GemSet{Green: 2}
	// Buying g1 grants the third green discount; only n1 (3 green) matches.

	applied, events, err := svc.PurchaseCard(room, "p1", "g1", false)
	if err != nil || !applied {
		t.Fatalf("purchase failed: applied=%t err=%v", applied, err)
	}
	if !hasEvent(events, EventNobleClaimed) {
		t.Fatal("expected an automatic noble claim")
	}
	if p1.Score != 3 {
		t.Errorf("score = %d, want 3 from the noble", p1.Score)
	}
	if _, _, ok := room.BoardCard("n1"); ok {
		t.Error("claimed noble still on the board")
	}
	if room.PendingNoble != nil {
		t.Error("single eligible noble left a pending choice")
	}
	if room.CurrentPlayerID != "p2" {
		t.Error("turn did not advance after auto-claim")
	}
}

func TestNobleMultiChoiceSuspendsTurn(t *testing.T) {
	svc := newTestService()
	room := startedRoom()
	room.CardsOnBoard[domain.CategoryNoble] = []domain.Card{
		{ID: "n1", Category: domain.CategoryNoble, Score: 3, Cost: domain.GemSet{Green: 1}},
		{ID: "n2", Category: domain.CategoryNoble, Score: 3, Cost: domain.GemSet{Green: 1}},
	}
	p1 := room.FindBySession("p1")
	p1.Gems = domain.GemSet{White: 2}

	applied, events, err := svc.PurchaseCard(room, "p1", "g1", false)
	if err != nil || !applied {
		t.Fatalf("purchase failed: applied=%t err=%v", applied, err)
	}
	if !hasEvent(events, EventNobleChoiceRequired) {
		t.Fatal("expected a noble choice prompt")
	}
	if room.PendingNoble == nil || room.PendingNoble.SessionID != "p1" {
		t.Fatalf("pending choice = %+v, want p1's", room.PendingNoble)
	}
	if room.CurrentPlayerID != "p1" {
		t.Error("turn advanced while a choice is pending")
	}

	// Every action is held until the choice resolves.
	if _, _, err := svc.SkipTurn(room, "p1"); !errors.Is(err, ErrChoicePending) {
		t.Errorf("action during pending choice: err = %v, want ErrChoicePending", err)
	}
	if _, _, err := svc.ConfirmNobleSelection(room, "p2", "n1"); !errors.Is(err, ErrNotYourTurn) {
		t.Errorf("other player's confirm: err = %v, want ErrNotYourTurn", err)
	}
	if _, _, err := svc.ConfirmNobleSelection(room, "p1", "n9"); !errors.Is(err, ErrNobleNotEligible) {
		t.Errorf("unoffered noble: err = %v, want ErrNobleNotEligible", err)
	}

	applied, events, err = svc.ConfirmNobleSelection(room, "p1", "n2")
	if err != nil || !applied {
		t.Fatalf("confirm failed: applied=%t err=%v", applied, err)
	}
	if !hasEvent(events, EventNobleClaimed) {
		t.Error("expected a claim event on confirm")
	}
	if room.PendingNoble != nil {
		t.Error("pending choice not cleared")
	}
	if room.CurrentPlayerID != "p2" {
		t.Error("turn did not advance after the choice resolved")
	}
	if _, _, ok := room.BoardCard("n1"); !ok {
		t.Error("unchosen noble removed from the board")
	}
}

func TestConfirmNobleWithoutPending(t *testing.T) {
	svc := newTestService()
	room := startedRoom()
	if _, _, err := svc.ConfirmNobleSelection(room, "p1", "n1"); !errors.Is(err, ErrNoChoicePending) {
		t.Errorf("err = %v, want ErrNoChoicePending", err)
	}
}

func TestWinEndsGame(t *testing.T) {
	svc := newTestService()
	room := startedRoom()
	p1 := room.FindBySession("p1")
	p1.Score = 14
	p1.Gems = domain.GemSet{Purple: 3}

	// g2 is worth 1 point, crossing the threshold.
	applied, events, err := svc.PurchaseCard(room, "p1", "g2", false)
	if err != nil || !applied {
		t.Fatalf("winning purchase failed: applied=%t err=%v", applied, err)
	}
	if !room.GameOver || room.Winner != "alice" {
		t.Fatalf("game over = %t winner = %q, want alice's win", room.GameOver, room.Winner)
	}
	if !hasEvent(events, EventGameOver) {
		t.Error("expected a game over event")
	}
	if room.CurrentPlayerID != "p1" {
		t.Error("turn rotated past the game end")
	}

	// Everything fails closed afterwards.
	if _, _, err := svc.SkipTurn(room, "p2"); !errors.Is(err, ErrGameOver) {
		t.Errorf("post-game action: err = %v, want ErrGameOver", err)
	}
	if _, _, err := svc.StartGame(room, "p1"); !errors.Is(err, ErrGameOver) {
		t.Errorf("post-game restart: err = %v, want ErrGameOver", err)
	}
}

func TestToggleLock(t *testing.T) {
	svc := newTestService()
	room := lobbyRoom()

	if _, _, err := svc.ToggleLock(room, "p2"); !errors.Is(err, ErrNotHost) {
		t.Errorf("non-host toggle: err = %v, want ErrNotHost", err)
	}

	applied, events, err := svc.ToggleLock(room, "p1")
	if err != nil || !applied || !room.Locked {
		t.Fatalf("lock failed: applied=%t locked=%t err=%v", applied, room.Locked, err)
	}
	if !hasEvent(events, EventLockChanged) {
		t.Error("expected a lock changed event")
	}

	svc.ToggleLock(room, "p1")
	if room.Locked {
		t.Error("second toggle did not unlock")
	}
}

func TestCanJoin(t *testing.T) {
	svc := newTestService()

	room := startedRoom()
	if err := svc.CanJoin(room, "", "carol"); !errors.Is(err, ErrGameAlreadyStarted) {
		t.Errorf("join after start: err = %v, want ErrGameAlreadyStarted", err)
	}
	if err := svc.CanJoin(room, "p2", ""); err != nil {
		t.Errorf("reconnect by session after start refused: %v", err)
	}
	if err := svc.CanJoin(room, "", "bob"); err != nil {
		t.Errorf("reconnect by username after start refused: %v", err)
	}

	room = lobbyRoom()
	room.Locked = true
	if err := svc.CanJoin(room, "", "carol"); !errors.Is(err, ErrRoomLocked) {
		t.Errorf("join while locked: err = %v, want ErrRoomLocked", err)
	}
	if err := svc.CanJoin(room, "p1", "alice"); err != nil {
		t.Errorf("reconnect while locked refused: %v", err)
	}

	room = lobbyRoom()
	room.Players = append(room.Players,
		&domain.Player{SessionID: "p3", Username: "carol"},
		&domain.Player{SessionID: "p4", Username: "dave"},
	)
	if err := svc.CanJoin(room, "", "eve"); !errors.Is(err, ErrRoomFull) {
		t.Errorf("join when full: err = %v, want ErrRoomFull", err)
	}
}

func TestAttachPlayer(t *testing.T) {
	svc := newTestService()
	room := domain.NewRoom("fresh")

	first, reconnect, err := svc.AttachPlayer(room, "", "u1", "alice")
	if err != nil || reconnect {
		t.Fatalf("first join failed: reconnect=%t err=%v", reconnect, err)
	}
	if first.SessionID == "" {
		t.Fatal("no session id issued")
	}
	if room.HostID != first.SessionID {
		t.Error("first joiner did not become host")
	}
	if room.CurrentPlayerID != first.SessionID {
		t.Error("first joiner did not take the open turn slot")
	}

	second, reconnect, err := svc.AttachPlayer(room, "", "u2", "bob")
	if err != nil || reconnect {
		t.Fatalf("second join failed: reconnect=%t err=%v", reconnect, err)
	}
	if second.SessionID == first.SessionID {
		t.Error("session ids collided")
	}
	if len(room.Players) != 2 || len(room.PlayerOrder) != 2 {
		t.Errorf("room has %d players / %d order entries, want 2/2", len(room.Players), len(room.PlayerOrder))
	}
	if room.HostID != first.SessionID {
		t.Error("host changed on second join")
	}
}

func TestAttachPlayerReconnect(t *testing.T) {
	svc := newTestService()
	room := startedRoom()
	p2 := room.FindBySession("p2")
	p2.DisconnectedAtTick = 50

	// Credential-based reconnect onto a new connection.
	got, reconnect, err := svc.AttachPlayer(room, "p2", "u2-new", "bob")
	if err != nil || !reconnect {
		t.Fatalf("reconnect failed: reconnect=%t err=%v", reconnect, err)
	}
	if got != p2 {
		t.Fatal("reconnect created a new seat")
	}
	if p2.ParticipantID != "u2-new" {
		t.Errorf("participant id = %s, want migrated u2-new", p2.ParticipantID)
	}
	if p2.DisconnectedAtTick != 0 {
		t.Error("grace timer not cancelled")
	}
	if len(room.Players) != 2 {
		t.Errorf("players = %d, want 2", len(room.Players))
	}

	// Username fallback when no credential survived.
	p2.DisconnectedAtTick = 80
	got, reconnect, err = svc.AttachPlayer(room, "", "u2-newer", "bob")
	if err != nil || !reconnect || got != p2 {
		t.Fatalf("username reconnect failed: reconnect=%t err=%v", reconnect, err)
	}
	if p2.ParticipantID != "u2-newer" || p2.DisconnectedAtTick != 0 {
		t.Errorf("username reconnect did not migrate: %+v", p2)
	}
}

func TestDetachPlayerConservation(t *testing.T) {
	svc := newTestService()
	room := startedRoom()
	p2 := room.FindBySession("p2")
	p2.Gems = domain.GemSet{White: 2, Wild: 1}
	p2.ReservedCards = []domain.Card{
		{ID: "r1", Category: domain.CategoryGreen, GemType: domain.White, Cost: domain.GemSet{White: 1}},
	}
	deckBefore := len(room.Decks[domain.CategoryGreen])

	svc.DetachPlayer(room, "p2")

	if room.FindBySession("p2") != nil {
		t.Fatal("detached player still seated")
	}
	if len(room.PlayerOrder) != 1 {
		t.Errorf("order = %v, want p1 only", room.PlayerOrder)
	}
	if room.GemBank.White != 9 || room.GemBank.Wild != 6 {
		t.Errorf("gems not returned to bank: %+v", room.GemBank)
	}
	if got := len(room.Decks[domain.CategoryGreen]); got != deckBefore+1 {
		t.Errorf("reserved card not returned to deck: %d, want %d", got, deckBefore+1)
	}
}

func TestDetachCurrentPlayerAdvancesTurn(t *testing.T) {
	svc := newTestService()
	room := startedRoom()
	room.CurrentPlayerID = "p2"

	svc.DetachPlayer(room, "p2")

	if room.CurrentPlayerID != "p1" {
		t.Errorf("current = %s, want p1 after the leaver", room.CurrentPlayerID)
	}
}

func TestDetachResolvesPendingNoble(t *testing.T) {
	svc := newTestService()
	room := startedRoom()
	room.CardsOnBoard[domain.CategoryNoble] = []domain.Card{
		{ID: "n1", Category: domain.CategoryNoble, Score: 3, Cost: domain.GemSet{Green: 1}},
		{ID: "n2", Category: domain.CategoryNoble, Score: 3, Cost: domain.GemSet{Green: 1}},
	}
	p2 := room.FindBySession("p2")
	p2.CardGems = domain.GemSet{Green: 1}
	room.CurrentPlayerID = "p2"
	room.PendingNoble = &domain.PendingNobleChoice{SessionID: "p2", NobleIDs: []string{"n1", "n2"}}

	events := svc.DetachPlayer(room, "p2")

	if room.PendingNoble != nil {
		t.Fatal("pending choice survived the leaver")
	}
	if !hasEvent(events, EventNobleClaimed) {
		t.Error("expected the first eligible noble to be auto-claimed")
	}
	if _, _, ok := room.BoardCard("n1"); ok {
		t.Error("auto-claimed noble still on the board")
	}
	if room.CurrentPlayerID != "p1" {
		t.Errorf("turn stuck on the leaver: %s", room.CurrentPlayerID)
	}
}
