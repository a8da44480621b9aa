package nakama

// MatchNameOpulence is the authoritative match handler name registered
// with the Nakama runtime.
const MatchNameOpulence = "opulence"

// Storage layout: one record per room under the system owner.
const (
	storageCollectionRooms = "rooms"
)

// Environment variable keys read from the runtime context.
const (
	envDataDir       = "opulence_data_dir"
	envSessionSecret = "opulence_session_secret"
	envGraceSeconds  = "opulence_grace_period_sec"
	envWinScore      = "opulence_win_score"
)
