package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Storage   StorageConfig   `json:"storage"`
	Janitor   JanitorConfig   `json:"janitor,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs may always run admin commands, even outside a group
	// where role lookup is possible.
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is an optional chat id (as string) mirroring operator logs.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// BroadcastConfig controls bulk direct-message delivery pacing.
//
// All durations are Go duration strings (e.g. "2s", "1h").
//
// Defaults (when fields are omitted/zero):
//   - message_delay: "2s"
//   - cooldown: "1h"
//   - batch_limit: 75
//   - queue_size: 16
type BroadcastConfig struct {
	Enabled      bool   `json:"enabled"`
	MessageDelay string `json:"message_delay,omitempty"`
	Cooldown     string `json:"cooldown,omitempty"`
	BatchLimit   int    `json:"batch_limit,omitempty"`
	QueueSize    int    `json:"queue_size,omitempty"`
}

// StorageConfig controls the persistence layer backing the member roster
// and the direct-message delivery log.
//
// Driver values: "sqlite" (default) or "memory" (tests, throwaway runs).
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// JanitorConfig controls periodic maintenance (DM log trimming, job
// status pruning). Spec is a cron expression or descriptor ("@hourly").
type JanitorConfig struct {
	Enabled bool   `json:"enabled"`
	Spec    string `json:"spec,omitempty"`
	// HistoryKeep bounds the per-recipient DM log; it should not be set
	// below the duplicate-check window (100).
	HistoryKeep int `json:"history_keep,omitempty"`
}
