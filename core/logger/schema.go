package logger

import "strings"

// Level names written to the level field.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

func normalizeLevel(level string) string {
	switch strings.ToLower(level) {
	case "", "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return strings.ToUpper(level)
}

// knownStatus is the closed vocabulary of the status field.
var knownStatus = map[string]bool{
	"ok":           true,
	"fail":         true,
	"skip":         true,
	"retry":        true,
	"stale":        true,
	"rate_limited": true,
	"cancelled":    true,
}

// normalizeStatus lowercases known statuses and leaves others as written.
func normalizeStatus(status string) string {
	if s := strings.ToLower(strings.TrimSpace(status)); knownStatus[s] {
		return s
	}
	return status
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"update_id",
	"user_id",
	"chat_id",
	"handler",
	"cb_key",
	"session_id",
	"phase",
	"direction_id",
	"pivot",
	"amount",
	"gen",
	"order_id",
	"order_hash",
	"order_status",
	"remaining_s",
	"method",
	"duration_ms",
	"messages",
	"kb",
	"count",
	"mode",
	"listen",
	"public_url",
	"db",
	"host",
	"port",
	"err",
	"err_code",
	"cause",
	"retryable",
	"attempts",
	"backoff_ms",
	"pending_count",
}
