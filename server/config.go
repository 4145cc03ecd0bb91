package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"mafia-ratings/server/rating"
	"mafia-ratings/server/recorder"
)

type Config struct {
	Port        string        `env:"PORT"          envDefault:"8080"`
	StoreDriver string        `env:"STORE_DRIVER"  envDefault:"postgres"`
	DatabaseURL string        `env:"DATABASE_URL"`
	SQLitePath  string        `env:"SQLITE_PATH"   envDefault:"mafia.db"`
	AutoMigrate bool          `env:"AUTO_MIGRATE"`
	RedisURL    string        `env:"REDIS_URL"`
	CacheTTL    time.Duration `env:"CACHE_TTL"     envDefault:"5m"`
	FirstGameID int           `env:"FIRST_GAME_ID" envDefault:"46"`

	Tau             float64       `env:"TS_TAU"            envDefault:"0.1"`
	Beta            float64       `env:"TS_BETA"           envDefault:"5.5"`
	MafiaGhostMean  float64       `env:"MAFIA_GHOST_MU"    envDefault:"25.7"`
	MafiaGhostSigma float64       `env:"MAFIA_GHOST_SIGMA" envDefault:"0.8"`
	TownGhostMean   float64       `env:"TOWN_GHOST_MU"     envDefault:"23.85"`
	TownGhostSigma  float64       `env:"TOWN_GHOST_SIGMA"  envDefault:"0.8"`
	ErasFile        string        `env:"ERAS_FILE"`
	ExcludePolicy   string        `env:"EXCLUDE_POLICY"    envDefault:"ignore"`
	CORSOrigins     []string      `env:"CORS_ORIGINS"      envDefault:"*" envSeparator:","`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT"   envDefault:"30s"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// eras resolves the rating configuration: legacy constants, an eras file, or
// a single era built from the TS_* and *_GHOST_* keys.
func (c Config) eras(legacy bool) (rating.Eras, error) {
	if legacy {
		return rating.LegacyEras(), nil
	}
	if c.ErasFile != "" {
		f, err := os.Open(c.ErasFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return rating.LoadEras(f)
	}
	era := rating.DefaultEra()
	era.Env.Tau = c.Tau
	era.Env.Beta = c.Beta
	era.MafiaGhost = rating.Distribution{Mean: c.MafiaGhostMean, Uncertainty: c.MafiaGhostSigma}
	era.TownGhost = rating.Distribution{Mean: c.TownGhostMean, Uncertainty: c.TownGhostSigma}
	return rating.NewEras(era)
}

func (c Config) recorderConfig(legacy bool) (recorder.Config, error) {
	eras, err := c.eras(legacy)
	if err != nil {
		return recorder.Config{}, fmt.Errorf("eras: %w", err)
	}
	policy, err := recorder.ParseExcludePolicy(c.ExcludePolicy)
	if err != nil {
		return recorder.Config{}, err
	}
	return recorder.Config{Eras: eras, FirstGameID: c.FirstGameID, ExcludePolicy: policy}, nil
}
