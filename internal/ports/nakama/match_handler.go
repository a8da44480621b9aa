package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"time"

	"opulence/internal/app"
	"opulence/internal/config"
	"opulence/internal/domain"
	"opulence/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// defaults applied when the runtime environment does not override them.
const (
	defaultGraceSeconds = 10
	defaultDataDir      = "data"
	tickRate            = 1 // ticks per second; grace ticks equal seconds
)

// matchLabel is advertised for find_room label queries.
type matchLabel struct {
	Code  string `json:"code"`
	Open  bool   `json:"open"`
	Phase string `json:"phase"`
}

// pendingJoin carries identity resolved during the join attempt into the
// join callback, which does not receive metadata.
type pendingJoin struct {
	sessionID string
	username  string
}

// MatchState holds the authoritative runtime state for one room.
type MatchState struct {
	Room    *domain.Room
	Version string // storage version for compare-and-swap saves
	Tick    int64

	Presences    map[string]runtime.Presence // participant id -> presence
	PendingJoins map[string]pendingJoin      // participant id -> resolved identity

	App        *app.Service
	Store      ports.RoomStore
	Data       *config.GameData
	Secret     string
	GraceTicks int64

	rng *rand.Rand
}

type matchHandler struct{}

func newMatchHandler() *matchHandler {
	return &matchHandler{}
}

// MatchInit creates or rehydrates the room record and prepares the app
// service from static game data and environment overrides.
func (mh *matchHandler) MatchInit(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, params map[string]interface{}) (interface{}, int, string) {
	env, _ := ctx.Value(runtime.RUNTIME_CTX_ENV).(map[string]string)

	dataDir := env[envDataDir]
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	if err := config.LoadGameData(dataDir); err != nil {
		logger.Error("MatchInit: failed to load game data: %v", err)
		return nil, 0, ""
	}
	data := config.GetGameData()

	code, _ := params["code"].(string)
	if code == "" {
		code = newRoomCode()
		logger.Warn("MatchInit: no room code in params, generated %s", code)
	}

	secret := env[envSessionSecret]
	if secret == "" {
		secret = "dev-secret"
		logger.Warn("MatchInit: session secret missing from env, using dev default.")
	}

	graceSeconds := defaultGraceSeconds
	if val, ok := env[envGraceSeconds]; ok {
		if i, err := strconv.Atoi(val); err == nil && i >= 0 {
			graceSeconds = i
		}
	}
	winScore := 0
	if val, ok := env[envWinScore]; ok {
		if i, err := strconv.Atoi(val); err == nil {
			winScore = i
		}
	}

	store := NewRoomStoreAdapter(nk)

	// Resume the persisted record if this room survived a restart.
	room, version, err := store.Get(ctx, code)
	if err != nil {
		if !errors.Is(err, ports.ErrRoomNotFound) {
			logger.Error("MatchInit: failed to load room %s: %v", code, err)
			return nil, 0, ""
		}
		room = domain.NewRoom(code)
		version, err = store.Save(ctx, room, "")
		if err != nil {
			logger.Error("MatchInit: failed to persist room %s: %v", code, err)
			return nil, 0, ""
		}
	} else {
		logger.Info("MatchInit: resumed room %s from storage", code)
	}

	state := &MatchState{
		Room:         room,
		Version:      version,
		Presences:    make(map[string]runtime.Presence),
		PendingJoins: make(map[string]pendingJoin),
		App:          app.NewService(data.Catalog, data.Supply, winScore, nil),
		Store:        store,
		Data:         data,
		Secret:       secret,
		GraceTicks:   int64(graceSeconds) * tickRate,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	return state, tickRate, marshalLabel(room)
}

// MatchJoinAttempt resolves the joiner's identity and applies the room's
// admission rules. Known identities may always reconnect.
func (mh *matchHandler) MatchJoinAttempt(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presence runtime.Presence, metadata map[string]string) (interface{}, bool, string) {
	ms, ok := state.(*MatchState)
	if !ok {
		return state, false, "state not found"
	}

	sessionID, _ := verifyCredential(ms.Secret, ms.Room.Code, metadata["credential"])
	username := metadata["username"]
	if username == "" {
		username = presence.GetUsername()
	}

	if err := ms.App.CanJoin(ms.Room, sessionID, username); err != nil {
		logger.Debug("MatchJoinAttempt: refused %s (%s): %v", username, presence.GetUserId(), err)
		return ms, false, reasonCode(err)
	}

	ms.PendingJoins[presence.GetUserId()] = pendingJoin{sessionID: sessionID, username: username}
	return ms, true, ""
}

// MatchJoin attaches new players or migrates returning identities onto
// their fresh connection, cancelling any pending grace-period removal.
func (mh *matchHandler) MatchJoin(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	ms, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchJoin: state not found")
		return state
	}

	for _, p := range presences {
		uid := p.GetUserId()
		pj := ms.PendingJoins[uid]
		delete(ms.PendingJoins, uid)
		ms.Presences[uid] = p

		pl, reattached, err := ms.App.AttachPlayer(ms.Room, pj.sessionID, uid, pj.username)
		if err != nil {
			// Admission changed between attempt and join; remove them.
			logger.Warn("MatchJoin: could not seat %s: %v", uid, err)
			_ = dispatcher.MatchKick([]runtime.Presence{p})
			delete(ms.Presences, uid)
			continue
		}

		if reattached {
			logger.Info("MatchJoin: %s reconnected to room %s", pl.Username, ms.Room.Code)
		} else {
			logger.Info("MatchJoin: %s joined room %s", pl.Username, ms.Room.Code)
		}

		credential, err := mintCredential(ms.Secret, ms.Room.Code, pl.SessionID)
		if err != nil {
			logger.Error("MatchJoin: failed to mint credential for %s: %v", pl.Username, err)
		} else {
			payload, _ := json.Marshal(sessionCredentialEvent{SessionID: pl.SessionID, Credential: credential})
			_ = dispatcher.BroadcastMessage(OpSessionCredential, payload, []runtime.Presence{p}, nil, true)
		}
	}

	mh.persist(ctx, ms, dispatcher, logger, "")
	mh.updateLabel(ms, dispatcher, logger)
	mh.broadcastState(ms, dispatcher, logger)
	return ms
}

// MatchLeave tears the room down when the host goes; for anyone else it
// starts the reconnect grace period instead of removing the seat.
func (mh *matchHandler) MatchLeave(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	ms, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchLeave: state not found")
		return state
	}

	for _, p := range presences {
		uid := p.GetUserId()
		delete(ms.Presences, uid)
		delete(ms.PendingJoins, uid)

		pl := ms.Room.FindByParticipant(uid)
		if pl == nil {
			continue
		}

		if ms.Room.IsHost(pl.SessionID) {
			logger.Info("MatchLeave: host %s left, closing room %s", pl.Username, ms.Room.Code)
			payload, _ := json.Marshal(roomClosedEvent{Reason: "host_left"})
			_ = dispatcher.BroadcastMessage(OpRoomClosed, payload, nil, nil, true)
			if err := ms.Store.Delete(ctx, ms.Room.Code); err != nil {
				logger.Error("MatchLeave: failed to delete room %s: %v", ms.Room.Code, err)
			}
			return nil
		}

		pl.DisconnectedAtTick = tick
		if pl.DisconnectedAtTick == 0 {
			pl.DisconnectedAtTick = 1
		}
		logger.Info("MatchLeave: %s disconnected from room %s, grace period started", pl.Username, ms.Room.Code)
	}

	mh.persist(ctx, ms, dispatcher, logger, "")
	mh.broadcastState(ms, dispatcher, logger)
	return ms
}

// MatchLoop sweeps expired disconnects and routes player actions.
func (mh *matchHandler) MatchLoop(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, messages []runtime.MatchData) interface{} {
	ms, ok := state.(*MatchState)
	if !ok {
		return state
	}
	ms.Tick = tick

	if terminated := mh.sweepDisconnects(ctx, ms, dispatcher, logger); terminated {
		return nil
	}

	for _, msg := range messages {
		mh.handleMessage(ctx, ms, dispatcher, logger, msg)
	}

	return ms
}

// sweepDisconnects removes players whose grace period ran out. Returns
// true when the room emptied and the match should stop.
func (mh *matchHandler) sweepDisconnects(ctx context.Context, ms *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger) bool {
	var expired []*domain.Player
	for _, p := range ms.Room.Players {
		if p.DisconnectedAtTick > 0 && ms.Tick-p.DisconnectedAtTick >= ms.GraceTicks {
			expired = append(expired, p)
		}
	}
	if len(expired) == 0 {
		return false
	}

	var events []app.Event
	for _, p := range expired {
		logger.Info("sweepDisconnects: removing %s from room %s after grace period", p.Username, ms.Room.Code)
		events = append(events, ms.App.DetachPlayer(ms.Room, p.SessionID)...)
	}

	if len(ms.Room.Players) == 0 {
		logger.Info("sweepDisconnects: room %s is empty, terminating", ms.Room.Code)
		if err := ms.Store.Delete(ctx, ms.Room.Code); err != nil {
			logger.Error("sweepDisconnects: failed to delete room %s: %v", ms.Room.Code, err)
		}
		return true
	}

	mh.persist(ctx, ms, dispatcher, logger, "")
	mh.updateLabel(ms, dispatcher, logger)
	mh.broadcastState(ms, dispatcher, logger)
	mh.dispatchEvents(ms, dispatcher, logger, events)
	return false
}

// handleMessage routes one opcode to its validator/executor and performs
// the persist-broadcast-advance tail shared by every action.
func (mh *matchHandler) handleMessage(ctx context.Context, ms *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	uid := msg.GetUserId()
	pl := ms.Room.FindByParticipant(uid)
	if pl == nil {
		mh.sendError(ms, dispatcher, logger, uid, "unknown_player", "You are not seated in this room.")
		return
	}
	actorID := pl.SessionID

	var applied bool
	var events []app.Event
	var err error

	switch msg.GetOpCode() {
	case OpStartGame:
		applied, events, err = ms.App.StartGame(ms.Room, actorID)

	case OpCollectGems:
		var req collectGemsRequest
		if err = json.Unmarshal(msg.GetData(), &req); err == nil {
			applied, events, err = ms.App.CollectGems(ms.Room, actorID, req.Gems)
		}

	case OpPurchaseCard:
		var req purchaseCardRequest
		if err = json.Unmarshal(msg.GetData(), &req); err == nil {
			applied, events, err = ms.App.PurchaseCard(ms.Room, actorID, req.CardID, req.ConfirmWildUse)
		}

	case OpReserveCard:
		var req reserveCardRequest
		if err = json.Unmarshal(msg.GetData(), &req); err == nil {
			applied, events, err = ms.App.ReserveCard(ms.Room, actorID, req.CardID, req.Category)
		}

	case OpSkipTurn:
		applied, events, err = ms.App.SkipTurn(ms.Room, actorID)

	case OpConfirmNoble:
		var req confirmNobleRequest
		if err = json.Unmarshal(msg.GetData(), &req); err == nil {
			applied, events, err = ms.App.ConfirmNobleSelection(ms.Room, actorID, req.NobleID)
		}

	case OpToggleLock:
		applied, events, err = ms.App.ToggleLock(ms.Room, actorID)

	case OpRequestState:
		mh.sendState(ms, dispatcher, logger, uid)
		return

	case OpChatMessage:
		mh.relayChat(ms, dispatcher, logger, pl.Username, msg.GetData())
		return

	default:
		logger.Warn("handleMessage: unknown opcode %d from %s", msg.GetOpCode(), uid)
		return
	}

	if err != nil {
		logger.Debug("handleMessage: op %d from %s rejected: %v", msg.GetOpCode(), pl.Username, err)
		mh.sendError(ms, dispatcher, logger, uid, reasonCode(err), err.Error())
		return
	}

	if !applied {
		// Suspension: prompt the actor, mutate and broadcast nothing.
		mh.dispatchEvents(ms, dispatcher, logger, events)
		return
	}

	if !mh.persist(ctx, ms, dispatcher, logger, uid) {
		return
	}
	mh.updateLabel(ms, dispatcher, logger)
	mh.broadcastState(ms, dispatcher, logger)
	mh.dispatchEvents(ms, dispatcher, logger, events)
}

// persist saves the room under its compare-and-swap version. On a lost
// race the in-memory copy is reloaded and the actor (if any) gets a
// transient try-again rejection.
func (mh *matchHandler) persist(ctx context.Context, ms *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, actorUID string) bool {
	version, err := ms.Store.Save(ctx, ms.Room, ms.Version)
	if err == nil {
		ms.Version = version
		return true
	}

	if errors.Is(err, ports.ErrVersionConflict) {
		logger.Warn("persist: version conflict on room %s, reloading", ms.Room.Code)
		if room, v, loadErr := ms.Store.Get(ctx, ms.Room.Code); loadErr == nil {
			ms.Room, ms.Version = room, v
		}
		if actorUID != "" {
			mh.sendError(ms, dispatcher, logger, actorUID, "try_again", "Another action is being processed. Try again.")
		}
		return false
	}

	logger.Error("persist: failed to save room %s: %v", ms.Room.Code, err)
	if actorUID != "" {
		mh.sendError(ms, dispatcher, logger, actorUID, "internal", "Failed to process the action.")
	}
	return false
}

// sendState answers a state request. A never-started room gets an
// ephemeral preview deal that is not persisted.
func (mh *matchHandler) sendState(ms *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, uid string) {
	view := buildStateView(ms.Room)
	if !ms.Room.GameStarted {
		decks, board := app.Deal(ms.Data.Catalog, ms.rng)
		deckCounts := make(map[domain.Category]int, len(decks))
		for cat, deck := range decks {
			deckCounts[cat] = len(deck)
		}
		view.CardsOnBoard = board
		view.DeckCounts = deckCounts
		view.GemBank = ms.Data.Supply
		view.Preview = true
	}

	payload, err := json.Marshal(view)
	if err != nil {
		logger.Error("sendState: failed to marshal state: %v", err)
		return
	}

	p, ok := ms.Presences[uid]
	if !ok {
		return
	}
	_ = dispatcher.BroadcastMessage(OpStateUpdated, payload, []runtime.Presence{p}, nil, true)
}

func (mh *matchHandler) relayChat(ms *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, username string, data []byte) {
	var req chatRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Message == "" {
		return
	}
	payload, _ := json.Marshal(chatEvent{Player: username, Message: req.Message})
	_ = dispatcher.BroadcastMessage(OpChat, payload, nil, nil, true)
}

// broadcastState sends the full room view to every participant.
func (mh *matchHandler) broadcastState(ms *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger) {
	payload, err := json.Marshal(buildStateView(ms.Room))
	if err != nil {
		logger.Error("broadcastState: failed to marshal state: %v", err)
		return
	}
	_ = dispatcher.BroadcastMessage(OpStateUpdated, payload, nil, nil, true)
}

// dispatchEvents converts app events into opcode broadcasts, resolving
// targeted recipients to live presences. A targeted event whose
// recipients are all offline is dropped, never broadcast.
func (mh *matchHandler) dispatchEvents(ms *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, events []app.Event) {
	for _, ev := range events {
		opCode, ok := eventOpCode(ev.Kind)
		if !ok {
			logger.Warn("dispatchEvents: unknown event kind %q", ev.Kind)
			continue
		}

		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			logger.Error("dispatchEvents: failed to marshal %q: %v", ev.Kind, err)
			continue
		}

		var recipients []runtime.Presence
		if len(ev.Recipients) > 0 {
			for _, sessionID := range ev.Recipients {
				pl := ms.Room.FindBySession(sessionID)
				if pl == nil {
					continue
				}
				if p, online := ms.Presences[pl.ParticipantID]; online {
					recipients = append(recipients, p)
				}
			}
			if len(recipients) == 0 {
				continue
			}
		}

		_ = dispatcher.BroadcastMessage(opCode, payload, recipients, nil, true)
	}
}

// sendError reports a rejection to the requesting participant only.
func (mh *matchHandler) sendError(ms *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, uid, code, message string) {
	p, ok := ms.Presences[uid]
	if !ok {
		logger.Warn("sendError: no presence for %s", uid)
		return
	}
	payload, _ := json.Marshal(errorEvent{Code: code, Message: message})
	_ = dispatcher.BroadcastMessage(OpError, payload, []runtime.Presence{p}, nil, true)
}

func (mh *matchHandler) updateLabel(ms *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger) {
	if err := dispatcher.MatchLabelUpdate(marshalLabel(ms.Room)); err != nil {
		logger.Error("updateLabel: failed to update: %v", err)
	}
}

func marshalLabel(room *domain.Room) string {
	phase := "lobby"
	switch {
	case room.GameOver:
		phase = "ended"
	case room.GameStarted:
		phase = "playing"
	}

	label := matchLabel{
		Code:  room.Code,
		Open:  !room.GameStarted && !room.Locked && len(room.Players) < domain.MaxPlayers,
		Phase: phase,
	}
	b, _ := json.Marshal(label)
	return string(b)
}

// eventOpCode maps app event kinds onto wire opcodes.
func eventOpCode(kind app.EventKind) (int64, bool) {
	switch kind {
	case app.EventGameStarted:
		return OpGameStarted, true
	case app.EventWildConfirmRequired:
		return OpWildConfirmRequired, true
	case app.EventNobleChoiceRequired:
		return OpNobleChoiceRequired, true
	case app.EventNobleClaimed:
		return OpNobleClaimed, true
	case app.EventGameOver:
		return OpGameOver, true
	case app.EventLockChanged:
		return OpLockChanged, true
	}
	return 0, false
}

// reasonCode maps app rejections onto stable reason codes for clients.
func reasonCode(err error) string {
	switch {
	case errors.Is(err, app.ErrNotYourTurn):
		return "not_your_turn"
	case errors.Is(err, app.ErrGameNotStarted):
		return "game_not_started"
	case errors.Is(err, app.ErrGameAlreadyStarted):
		return "game_already_started"
	case errors.Is(err, app.ErrGameOver):
		return "game_over"
	case errors.Is(err, app.ErrNotHost):
		return "not_host"
	case errors.Is(err, app.ErrUnknownPlayer):
		return "unknown_player"
	case errors.Is(err, app.ErrMustReturnGems):
		return "must_return_gems"
	case errors.Is(err, app.ErrIllegalSelection):
		return "invalid_gem_selection"
	case errors.Is(err, app.ErrGemCapExceeded):
		return "gem_limit_exceeded"
	case errors.Is(err, app.ErrBankShort):
		return "bank_insufficient"
	case errors.Is(err, app.ErrReserveLimit):
		return "reserve_limit"
	case errors.Is(err, app.ErrCardNotFound):
		return "card_not_found"
	case errors.Is(err, app.ErrCannotAfford):
		return "cannot_afford"
	case errors.Is(err, app.ErrActionPending):
		return "try_again"
	case errors.Is(err, app.ErrChoicePending):
		return "noble_choice_pending"
	case errors.Is(err, app.ErrNoChoicePending):
		return "no_noble_choice_pending"
	case errors.Is(err, app.ErrNobleNotEligible):
		return "noble_not_eligible"
	case errors.Is(err, app.ErrRoomFull):
		return "room_full"
	case errors.Is(err, app.ErrRoomLocked):
		return "room_locked"
	case errors.Is(err, app.ErrTooFewPlayers):
		return "too_few_players"
	}
	return "invalid_request"
}

// MatchTerminate persists the final state on shutdown, best effort.
func (mh *matchHandler) MatchTerminate(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, reason int) interface{} {
	ms, ok := state.(*MatchState)
	if !ok {
		return state
	}
	if _, err := ms.Store.Save(ctx, ms.Room, ms.Version); err != nil {
		logger.Warn("MatchTerminate: failed to persist room %s: %v", ms.Room.Code, err)
	}
	return ms
}

func (mh *matchHandler) MatchSignal(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, data string) (interface{}, string) {
	return state, ""
}
