package config

import (
	"fmt"
	"strings"
)

const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

func NormalizeLogFormat(raw string) (string, error) {
	format := strings.ToLower(strings.TrimSpace(raw))
	if format == "" {
		format = LogFormatConsole
	}
	switch format {
	case LogFormatConsole, LogFormatJSON:
		return format, nil
	case "text", "pretty":
		return LogFormatConsole, nil
	default:
		return "", fmt.Errorf(
			"invalid log format %q (expected %s|%s)",
			raw,
			LogFormatConsole,
			LogFormatJSON,
		)
	}
}
