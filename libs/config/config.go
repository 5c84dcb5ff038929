package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func String(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func RequiredString(key string) (string, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func Port(key, fallback string) (string, error) {
	v := String(key, fallback)
	p, err := strconv.Atoi(v)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("%s must be a valid TCP port (got %q)", key, v)
	}
	return v, nil
}

// Int returns fallback when key is unset and an error when it is set but not an integer.
func Int(key string, fallback int) (int, error) {
	v := String(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got %q)", key, v)
	}
	return n, nil
}

func Bool(key string, fallback bool) bool {
	switch strings.ToLower(String(key, "")) {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Duration accepts Go duration strings ("30s", "5m").
func Duration(key string, fallback time.Duration) (time.Duration, error) {
	v := String(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a non-negative duration (got %q)", key, v)
	}
	return d, nil
}

func List(key, fallback string) []string {
	var out []string
	for _, part := range strings.Split(String(key, fallback), ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
