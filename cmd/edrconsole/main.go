package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"
)

// queryPresets are the canned osquery statements offered in the console.
var queryPresets = map[string]string{
	"users":     "SELECT * FROM users;",
	"ports":     "SELECT * FROM listening_ports;",
	"startup":   "SELECT * FROM startup_items;",
	"processes": "SELECT * FROM processes;",
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := executeCLI(ctx, os.Args[1:])
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// resolvePayload returns the literal command text. The query is never
// trimmed or rewritten: the signature covers it byte for byte.
func resolvePayload(query string, preset string) (string, error) {
	preset = strings.ToLower(strings.TrimSpace(preset))
	if preset == "" {
		if strings.TrimSpace(query) == "" {
			return "", fmt.Errorf("one of --query or --preset is required")
		}
		return query, nil
	}
	if strings.TrimSpace(query) != "" {
		return "", fmt.Errorf("use either --query or --preset, not both")
	}
	payload, ok := queryPresets[preset]
	if !ok {
		return "", fmt.Errorf("unknown preset %q (available: %s)", preset, strings.Join(presetNames(), ", "))
	}
	return payload, nil
}

func presetNames() []string {
	names := make([]string, 0, len(queryPresets))
	for name := range queryPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeInputTokens(values []string) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			if _, ok := seen[token]; ok {
				continue
			}
			seen[token] = struct{}{}
			out = append(out, token)
		}
	}
	return out
}

// parseWatermark accepts an RFC3339 timestamp. Blank means no watermark.
func parseWatermark(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--since must be RFC3339: %w", err)
	}
	return parsed, nil
}
