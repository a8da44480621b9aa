package nakama

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/heroiclabs/nakama-common/runtime"
)

// newRoomCode allocates a short human-shareable code.
func newRoomCode() string {
	buf := make([]byte, 3)
	rand.Read(buf)
	return fmt.Sprintf("%x", buf)
}

// CreateRoomResponse is returned by the create_room RPC.
type CreateRoomResponse struct {
	Code    string `json:"code"`
	MatchID string `json:"matchId"`
}

// CheckRoomResponse is returned by the check_room RPC.
type CheckRoomResponse struct {
	Code    string `json:"code"`
	MatchID string `json:"matchId"`
	Exists  bool   `json:"exists"`
}

type roomCodeRequest struct {
	Code string `json:"code"`
}

// RegisterRPCs registers the room RPC endpoints.
func RegisterRPCs(initializer runtime.Initializer) error {
	if err := initializer.RegisterRpc("create_room", rpcCreateRoom); err != nil {
		return err
	}
	return initializer.RegisterRpc("check_room", rpcCheckRoom)
}

// rpcCreateRoom allocates a fresh room code and spins up the
// authoritative match for it. The empty room record is persisted by the
// match on init; the creator becomes host when they join.
func rpcCreateRoom(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, _ := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)

	code := newRoomCode()
	matchID, err := nk.MatchCreate(ctx, MatchNameOpulence, map[string]interface{}{"code": code})
	if err != nil {
		logger.Error("rpcCreateRoom [User:%s]: failed to create match: %v", userID, err)
		return "", runtime.NewError("failed to create room", 13) // INTERNAL
	}

	logger.Info("rpcCreateRoom [User:%s]: created room %s (match %s)", userID, code, matchID)

	b, _ := json.Marshal(CreateRoomResponse{Code: code, MatchID: matchID})
	return string(b), nil
}

// rpcCheckRoom resolves a room code to its running match via a label
// query, so clients can join by code alone.
func rpcCheckRoom(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	var req roomCodeRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil || req.Code == "" {
		return "", runtime.NewError("room code required", 3) // INVALID_ARGUMENT
	}

	limit := 1
	authoritative := true
	query := fmt.Sprintf("+label.code:%s", req.Code)

	matches, err := nk.MatchList(ctx, limit, authoritative, "", nil, nil, query)
	if err != nil {
		logger.Error("rpcCheckRoom: match list failed for code %s: %v", req.Code, err)
		return "", runtime.NewError("failed to look up room", 13)
	}
	if len(matches) == 0 {
		b, _ := json.Marshal(CheckRoomResponse{Code: req.Code, Exists: false})
		return string(b), nil
	}

	b, _ := json.Marshal(CheckRoomResponse{Code: req.Code, MatchID: matches[0].MatchId, Exists: true})
	return string(b), nil
}
