// Package session hides already-seen commands from a live terminal view.
//
// Clearing is local to the running process. Nothing is deleted or
// acknowledged remotely, and watermarks are lost on restart.
package session

import (
	"strings"
	"sync"
	"time"

	"edrconsole/internal/model"
)

type Filter struct {
	mu         sync.Mutex
	now        func() time.Time
	watermarks map[string]time.Time
}

func NewFilter() *Filter {
	return &Filter{now: time.Now, watermarks: map[string]time.Time{}}
}

// Clear raises the scope's watermark to now. The watermark never moves
// backwards, even if the clock does.
func (f *Filter) Clear(scope string) time.Time {
	scope = strings.TrimSpace(scope)
	f.mu.Lock()
	defer f.mu.Unlock()
	mark := f.now().UTC()
	if current, ok := f.watermarks[scope]; ok && current.After(mark) {
		mark = current
	}
	f.watermarks[scope] = mark
	return mark
}

func (f *Filter) Watermark(scope string) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watermarks[strings.TrimSpace(scope)]
}

func (f *Filter) Visible(scope string, commands []model.Command) []model.Command {
	return Visible(commands, f.Watermark(scope))
}

// Visible keeps commands created strictly after watermark, preserving order.
// A zero watermark keeps everything.
func Visible(commands []model.Command, watermark time.Time) []model.Command {
	out := make([]model.Command, 0, len(commands))
	for _, command := range commands {
		if watermark.IsZero() || command.CreatedAt.After(watermark) {
			out = append(out, command)
		}
	}
	return out
}
