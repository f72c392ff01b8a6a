package server

import "time"

// Config holds every tunable of the runtime. Zero-value fields fall back to
// the defaults from DefaultConfig at wiring time, so tests can set only what
// they care about.
type Config struct {
	// Addr is the listen address of the notification hub.
	Addr string

	// DBPath is the sqlite database path. ":memory:" for tests.
	DBPath string

	// PersistenceInterval is how often write-back caches flush dirty state.
	PersistenceInterval time.Duration

	// AutoPersistence enables the background flush timers. When false every
	// mutation flushes synchronously, which keeps tests deterministic.
	AutoPersistence bool

	// LogStats enables periodic cache statistics logging.
	LogStats bool

	WorldWidth  float64
	WorldHeight float64

	// TickInterval is the battle scheduler period.
	TickInterval time.Duration

	// TeleportMinDistance is the minimum toroidal distance between the
	// winner's ship and the teleported loser. Zero means WorldWidth/3.
	TeleportMinDistance float64

	// BattleMaxIterations caps how many shots one battle may resolve within
	// a single tick.
	BattleMaxIterations int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Addr:                ":8080",
		DBPath:              "ironstar.db",
		PersistenceInterval: 30 * time.Second,
		AutoPersistence:     true,
		LogStats:            false,
		WorldWidth:          5000,
		WorldHeight:         5000,
		TickInterval:        time.Second,
		BattleMaxIterations: 100,
	}
}

// teleportMinDistance resolves the configured or derived minimum.
func (c Config) teleportMinDistance() float64 {
	if c.TeleportMinDistance > 0 {
		return c.TeleportMinDistance
	}
	return c.WorldWidth / 3
}
