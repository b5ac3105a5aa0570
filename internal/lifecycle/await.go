package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"

	"edrconsole/internal/model"
)

var (
	ErrNotTerminal     = errors.New("command has not finished")
	ErrCommandNotFound = errors.New("command not found in agent history")
)

// AwaitTerminal re-fetches an agent's command history until commandID reports
// COMPLETED or ERROR. Fetch failures count as attempts and are retried. On
// giving up it returns the last observed record with the last error.
func AwaitTerminal(ctx context.Context, lister CommandLister, agentID string, commandID string, interval time.Duration, maxAttempts uint) (model.Command, error) {
	commandID = strings.TrimSpace(commandID)
	if lister == nil {
		return model.Command{}, fmt.Errorf("await requires a command repository")
	}
	if commandID == "" {
		return model.Command{}, fmt.Errorf("await requires a command id")
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	var last model.Command
	err := retry.Retry(func(attempt uint) error {
		commands, err := lister.ListCommands(ctx, agentID)
		if err != nil {
			return err
		}
		for _, command := range commands {
			if command.ID != commandID {
				continue
			}
			last = command
			if command.Terminal() {
				return nil
			}
			return fmt.Errorf("%w: status %s", ErrNotTerminal, command.Status)
		}
		return ErrCommandNotFound
	}, strategy.Limit(maxAttempts), waitOrCancel(ctx, interval))
	if err == nil && last.Terminal() {
		return last, nil
	}
	// Retry reports no error when it never made an attempt.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return last, ctxErr
	}
	return last, fmt.Errorf("await command %s: %w", commandID, err)
}

// waitOrCancel sleeps between attempts and stops retrying once ctx is done.
func waitOrCancel(ctx context.Context, interval time.Duration) strategy.Strategy {
	return func(attempt uint) bool {
		if attempt == 0 {
			return ctx.Err() == nil
		}
		timer := time.NewTimer(interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		}
	}
}
