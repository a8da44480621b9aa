package main

import (
	"context"
	"database/sql"

	"opulence/internal/ports/nakama"

	"github.com/heroiclabs/nakama-common/runtime"
)

// InitModule proxies Nakama initialization to the nakama adapter package.
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	return nakama.InitModule(ctx, logger, db, nk, initializer)
}

// main is unused: this package is compiled as a Nakama plugin, which only
// calls InitModule. It exists so a regular `go build` succeeds.
func main() {}
