// Package display turns remote command records into operator-facing text.
//
// Everything under result_output and error_message was produced by an
// endpoint we do not trust. It is stripped of terminal escape sequences and
// markup before it reaches a screen.
package display

import (
	"bytes"
	"encoding/json"
	"html"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/microcosm-cc/bluemonday"

	"edrconsole/internal/model"
)

const shortIDLength = 12

var strictPolicy = bluemonday.StrictPolicy()

// Sanitize returns plain text: ANSI sequences and control characters other
// than newline and tab are dropped, and all markup is stripped. Entities
// are decoded for readability and the result is re-stripped until stable,
// so an escaped tag cannot survive as a literal one.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}
	out := stripControl(ansi.Strip(text))
	for i := 0; i < 4; i++ {
		next := html.UnescapeString(strictPolicy.Sanitize(out))
		if next == out {
			return out
		}
		out = next
	}
	// Still changing after repeated passes: nested entity encoding. Drop the
	// angle brackets outright rather than risk a live tag.
	return strings.NewReplacer("<", "", ">", "").Replace(out)
}

// FormatOutput pretty-prints JSON output. Output that does not parse as
// JSON is shown as-is; a malformed result is still a result.
func FormatOutput(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, []byte(raw), "", "  "); err == nil {
		return Sanitize(indented.String())
	}
	return Sanitize(raw)
}

func ShortID(id string) string {
	runes := []rune(id)
	if len(runes) <= shortIDLength {
		return id
	}
	return string(runes[:shortIDLength]) + "..."
}

func StatusLabel(status model.CommandStatus) string {
	switch status {
	case model.CommandStatusPending:
		return "PENDING"
	case model.CommandStatusSent:
		return "SENT"
	case model.CommandStatusCompleted:
		return "COMPLETED"
	case model.CommandStatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

type CommandView struct {
	ID        string
	ShortID   string
	Status    string
	Type      string
	Payload   string
	Output    string
	Error     string
	CreatedAt string
	Live      bool
}

func NewCommandView(command model.Command, location *time.Location) CommandView {
	if location == nil {
		location = time.Local
	}
	created := ""
	if !command.CreatedAt.IsZero() {
		created = command.CreatedAt.In(location).Format("15:04:05")
	}
	return CommandView{
		ID:        command.ID,
		ShortID:   ShortID(command.ID),
		Status:    StatusLabel(command.Status),
		Type:      string(command.Type),
		Payload:   Sanitize(command.Payload),
		Output:    FormatOutput(command.ResultOutput),
		Error:     Sanitize(command.ErrorMessage),
		CreatedAt: created,
		Live:      command.InFlight(),
	}
}

func stripControl(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r == '\r' {
			return -1
		}
		if r < 0x20 || r == 0x7f || (r >= 0x80 && r < 0xa0) {
			return -1
		}
		return r
	}, text)
}
