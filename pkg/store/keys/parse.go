package keys

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseDeclinedKey extracts the decline timestamp and connection id.
func ParseDeclinedKey(key string) (int64, string, error) {
	rest, ok := strings.CutPrefix(key, DeclinedPrefix)
	if !ok {
		return 0, "", fmt.Errorf("not a declined key: %q", key)
	}
	tsPart, id, ok := strings.Cut(rest, ":")
	if !ok || len(tsPart) != TSPadWidth || id == "" {
		return 0, "", fmt.Errorf("malformed declined key: %q", key)
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed declined timestamp in %q: %w", key, err)
	}
	return ts, id, nil
}

// ParseUserConnectionKey extracts the user and connection ids from a membership key.
func ParseUserConnectionKey(key string) (string, string, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != "idx" || parts[1] != "u" || parts[3] != "c" {
		return "", "", fmt.Errorf("malformed user connection key: %q", key)
	}
	return parts[2], parts[4], nil
}
