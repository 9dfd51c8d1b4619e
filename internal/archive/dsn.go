package archive

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// DefaultBusyTimeout is how long a writer waits on a locked database.
const DefaultBusyTimeout = 30 * time.Second

// connString builds the SQLite DSN for path with WAL journaling and a busy
// timeout. FORGE_LOCK_TIMEOUT overrides the timeout. A path that is already a
// file: URI keeps its own pragmas and only gains the missing ones.
func connString(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}

	busy := DefaultBusyTimeout
	if v := strings.TrimSpace(os.Getenv("FORGE_LOCK_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			busy = d
		}
	}
	busyMs := int64(busy / time.Millisecond)

	if !strings.HasPrefix(path, "file:") {
		return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_time_format=sqlite", path, busyMs)
	}

	conn := path
	sep := "?"
	if strings.Contains(conn, "?") {
		sep = "&"
	}
	if !strings.Contains(conn, "_pragma=journal_mode") {
		conn += sep + "_pragma=journal_mode(WAL)"
		sep = "&"
	}
	if !strings.Contains(conn, "_pragma=busy_timeout") {
		conn += fmt.Sprintf("%s_pragma=busy_timeout(%d)", sep, busyMs)
		sep = "&"
	}
	if !strings.Contains(conn, "_time_format=") {
		conn += sep + "_time_format=sqlite"
	}
	return conn
}
