package nakama

// Op codes for client messages and server events.
const (
	// Client -> Server
	OpStartGame    int64 = 1
	OpCollectGems  int64 = 2
	OpPurchaseCard int64 = 3
	OpReserveCard  int64 = 4
	OpSkipTurn     int64 = 5
	OpConfirmNoble int64 = 6
	OpToggleLock   int64 = 7
	OpRequestState int64 = 8
	OpChatMessage  int64 = 9

	// Server -> Client events
	OpStateUpdated        int64 = 101
	OpGameStarted         int64 = 102
	OpWildConfirmRequired int64 = 103 // sent privately to the actor
	OpNobleChoiceRequired int64 = 104 // sent privately to the actor
	OpNobleClaimed        int64 = 105
	OpGameOver            int64 = 106
	OpLockChanged         int64 = 107
	OpRoomClosed          int64 = 108
	OpError               int64 = 109 // sent privately to the actor
	OpChat                int64 = 110
	OpSessionCredential   int64 = 111 // sent privately on join
)
