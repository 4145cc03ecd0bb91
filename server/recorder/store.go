package recorder

import (
	"context"
	"errors"

	"mafia-ratings/server/rating"
)

var (
	ErrInvalidTeamComposition = rating.ErrInvalidTeamComposition
	ErrInvalidInput           = rating.ErrInvalidInput
	ErrNoGameToUndo           = errors.New("no game to undo")
)

// RatingStore keeps the current distribution per player.
type RatingStore interface {
	// GetRating returns the stored distribution, creating the default entry
	// for an unseen player.
	GetRating(ctx context.Context, name string) (rating.Distribution, error)
	SetRating(ctx context.Context, name string, d rating.Distribution) error
}

// GameLogStore keeps the match history, newest game first.
type GameLogStore interface {
	MaxGameID(ctx context.Context) (int, bool, error)
	AppendEntries(ctx context.Context, gameID int, entries []Entry) error
	LatestGameEntries(ctx context.Context) ([]Entry, error)
	DeleteGame(ctx context.Context, gameID int) error
}

type Store interface {
	RatingStore
	GameLogStore
}

// TxStore is implemented by stores that can run a unit of work atomically.
// The recorder uses it so ratings and log rows commit together.
type TxStore interface {
	Store
	InTx(ctx context.Context, fn func(Store) error) error
}

// Rebuilder replaces every rating and log row, used after a full replay.
type Rebuilder interface {
	Rebuild(ctx context.Context, ratings map[string]rating.Distribution, games []GameRecord) error
}
