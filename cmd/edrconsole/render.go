package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"edrconsole/internal/display"
	"edrconsole/internal/eventbus"
	"edrconsole/internal/model"
)

func writeAgents(w io.Writer, agents []model.Agent) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tHOSTNAME\tOS\tIP\tSTATUS\tLAST SEEN")
	for _, agent := range agents {
		lastSeen := "never"
		if !agent.NeverSeen() {
			lastSeen = agent.LastSeen.Local().Format(time.DateTime)
		}
		osLabel := string(agent.OSType)
		if version := strings.TrimSpace(agent.OSVersion); version != "" {
			osLabel += " " + version
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			display.Sanitize(agent.ID),
			display.Sanitize(agent.Hostname),
			display.Sanitize(osLabel),
			display.Sanitize(agent.IPAddress),
			agent.Status,
			lastSeen,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	counts := model.CountAgents(agents)
	_, err := fmt.Fprintf(w, "Total: %d  Online: %d  Offline: %d\n", counts.Total, counts.Online, counts.Offline)
	return err
}

func writeCommands(w io.Writer, commands []model.Command) error {
	if len(commands) == 0 {
		_, err := fmt.Fprintln(w, "No commands.")
		return err
	}
	for i, command := range commands {
		if i > 0 {
			fmt.Fprintln(w, strings.Repeat("-", 72))
		}
		if err := writeCommand(w, display.NewCommandView(command, time.Local)); err != nil {
			return err
		}
	}
	return nil
}

func writeCommand(w io.Writer, view display.CommandView) error {
	fmt.Fprintf(w, "[%s] %s %s %s\n", view.ShortID, view.Status, view.Type, view.CreatedAt)
	fmt.Fprintf(w, "$ %s\n", view.Payload)
	if view.Output != "" {
		fmt.Fprintln(w, indent(view.Output, "  "))
	}
	if view.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", view.Error)
	}
	if view.Live {
		_, err := fmt.Fprintln(w, "  ... waiting for agent")
		return err
	}
	return nil
}

func writeBulkReport(w io.Writer, report model.BulkReport) error {
	fmt.Fprintf(w, "Operation %s (%s) %q\n", report.OperationID, report.Type, report.Payload)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tOUTCOME\tCOMMAND\tERROR")
	for _, result := range report.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", result.AgentID, result.Outcome, display.ShortID(result.CommandID), display.Sanitize(result.Error))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Sent: %d  Failed: %d  Duration: %s\n", report.Sent(), report.Failed(), report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	return err
}

func writeEnvelope(w io.Writer, envelope eventbus.Envelope) error {
	_, err := fmt.Fprintf(w, "%s %s key=%s %s\n",
		envelope.PublishedAt.Local().Format(time.RFC3339),
		envelope.Topic,
		envelope.Key,
		strings.TrimSpace(string(envelope.Payload)),
	)
	return err
}

func writeFrameHeader(w io.Writer, scope string, interval time.Duration, live bool) {
	fmt.Fprint(w, "\033[H\033[2J")
	state := "idle"
	if live {
		state = "LIVE"
	}
	fmt.Fprintf(w, "edrconsole watch  now=%s  interval=%s  %s\n", time.Now().Format(time.RFC3339), interval, state)
	fmt.Fprintf(w, "scope: %s\n", scope)
	fmt.Fprintln(w, strings.Repeat("=", 72))
}

func indent(text string, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
