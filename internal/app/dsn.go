package app

import (
	"net/url"
	"strconv"
	"strings"
)

// DescribeDSN returns a log-safe summary of a DSN with credentials removed.
func DescribeDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return "none"
	}

	lowered := strings.ToLower(trimmed)
	if strings.HasPrefix(lowered, "file:") {
		pathPart := trimmed[len("file:"):]
		pathPart, _, _ = strings.Cut(pathPart, "?")
		return "sqlite:" + strings.TrimSpace(pathPart)
	}
	if !strings.Contains(trimmed, "://") && strings.HasSuffix(lowered, ".db") {
		return "sqlite:" + trimmed
	}

	u, errParse := url.Parse(trimmed)
	if errParse != nil {
		return "unknown"
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "postgres", "postgresql":
		port := 5432
		if rawPort := strings.TrimSpace(u.Port()); rawPort != "" {
			if parsed, errPort := strconv.Atoi(rawPort); errPort == nil {
				port = parsed
			}
		}
		user := ""
		if u.User != nil {
			user = strings.TrimSpace(u.User.Username()) + "@"
		}
		dbName := strings.TrimPrefix(u.Path, "/")
		return "postgres:" + user + u.Hostname() + ":" + strconv.Itoa(port) + "/" + dbName
	default:
		return "unknown"
	}
}
