package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"edrconsole/internal/eventbus"
	"edrconsole/internal/model"
)

type scriptedCommands struct {
	mu        sync.Mutex
	responses [][]model.Command
	errs      []error
	calls     int
}

func (s *scriptedCommands) ListCommands(_ context.Context, _ string) ([]model.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	if s.errs != nil && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return append([]model.Command(nil), s.responses[i]...), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, candidate := range p.topics {
		if candidate == topic {
			total++
		}
	}
	return total
}

var base = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func TestPollOrdersNewestFirstWithStableTies(t *testing.T) {
	lister := &scriptedCommands{responses: [][]model.Command{{
		{ID: "old", CreatedAt: base},
		{ID: "tie-1", CreatedAt: base.Add(time.Minute)},
		{ID: "tie-2", CreatedAt: base.Add(time.Minute)},
		{ID: "new", CreatedAt: base.Add(2 * time.Minute)},
	}}}
	poller, err := NewCommandPoller(lister, "a1", Options{})
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	if err := poller.PollOnce(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	got := poller.Items()
	want := []string{"new", "tie-1", "tie-2", "old"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestFailedPollKeepsPreviousSnapshot(t *testing.T) {
	lister := &scriptedCommands{
		responses: [][]model.Command{{{ID: "c1", Status: model.CommandStatusPending, CreatedAt: base}}, nil},
		errs:      []error{nil, errors.New("502 bad gateway")},
	}
	core, logs := observer.New(zapcore.WarnLevel)
	publisher := &recordingPublisher{}
	poller, err := NewCommandPoller(lister, "a1", Options{Logger: zap.New(core), Publisher: publisher})
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	if err := poller.PollOnce(context.Background()); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	err = poller.PollOnce(context.Background())
	var pollErr *PollError
	if !errors.As(err, &pollErr) || pollErr.Scope != "agent:a1" {
		t.Fatalf("expected PollError for agent:a1, got %v", err)
	}
	items := poller.Items()
	if len(items) != 1 || items[0].ID != "c1" {
		t.Fatalf("expected stale snapshot to be kept, got %+v", items)
	}
	stats := poller.Stats()
	if stats.ConsecutiveErrors != 1 || stats.TotalPolls != 2 || stats.LastError != "502 bad gateway" {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if logs.FilterMessage("poll failed; keeping previous snapshot").Len() != 1 {
		t.Fatalf("expected failure to be logged")
	}
	if publisher.count(eventbus.TopicPollFailed) != 1 {
		t.Fatalf("expected poll.failed event, got %v", publisher.topics)
	}
}

func TestPollReplacesSnapshotWholesale(t *testing.T) {
	lister := &scriptedCommands{responses: [][]model.Command{
		{{ID: "c1", CreatedAt: base}, {ID: "c2", CreatedAt: base.Add(time.Second)}},
		{{ID: "c3", CreatedAt: base.Add(2 * time.Second)}},
	}}
	poller, err := NewCommandPoller(lister, "a1", Options{})
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	_ = poller.PollOnce(context.Background())
	_ = poller.PollOnce(context.Background())
	items := poller.Items()
	if len(items) != 1 || items[0].ID != "c3" {
		t.Fatalf("expected snapshot to be replaced, got %+v", items)
	}
}

func TestStatusChangesArePublished(t *testing.T) {
	lister := &scriptedCommands{responses: [][]model.Command{
		{{ID: "c1", Status: model.CommandStatusPending, CreatedAt: base}},
		{{ID: "c1", Status: model.CommandStatusCompleted, CreatedAt: base}},
		{{ID: "c1", Status: model.CommandStatusPending, CreatedAt: base}},
	}}
	core, logs := observer.New(zapcore.WarnLevel)
	publisher := &recordingPublisher{}
	poller, err := NewCommandPoller(lister, "a1", Options{Logger: zap.New(core), Publisher: publisher})
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := poller.PollOnce(context.Background()); err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
	}
	if publisher.count(eventbus.TopicCommandStatusChanged) != 2 {
		t.Fatalf("expected two status change events, got %v", publisher.topics)
	}
	if logs.FilterMessage("unexpected command status change").Len() != 1 {
		t.Fatalf("expected COMPLETED -> PENDING to be flagged")
	}
}

func TestStopDiscardsInFlightPoll(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	calls := 0
	poller, err := NewPoller(Config[string]{
		Scope: "test",
		Fetch: func(ctx context.Context) ([]string, error) {
			calls++
			if calls == 1 {
				return []string{"first"}, nil
			}
			entered <- struct{}{}
			<-release
			return []string{"late"}, nil
		},
	})
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	if err := poller.PollOnce(context.Background()); err != nil {
		t.Fatalf("first poll: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		result <- poller.PollOnce(context.Background())
	}()
	<-entered
	poller.Stop()
	close(release)

	if err := <-result; !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped for late poll, got %v", err)
	}
	items := poller.Items()
	if len(items) != 1 || items[0] != "first" {
		t.Fatalf("expected late result to be discarded, got %v", items)
	}
	if err := poller.PollOnce(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected polls after stop to be rejected, got %v", err)
	}
}

func TestOlderPollCannotOverwriteNewerSnapshot(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	var mu sync.Mutex
	calls := 0
	poller, err := NewPoller(Config[string]{
		Scope: "test",
		Fetch: func(ctx context.Context) ([]string, error) {
			mu.Lock()
			calls++
			call := calls
			mu.Unlock()
			if call == 1 {
				entered <- struct{}{}
				<-release
				return []string{"old"}, nil
			}
			return []string{"old", "new"}, nil
		},
	})
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}

	slow := make(chan error, 1)
	go func() {
		slow <- poller.PollOnce(context.Background())
	}()
	<-entered
	if err := poller.PollOnce(context.Background()); err != nil {
		t.Fatalf("fast poll: %v", err)
	}
	close(release)
	if err := <-slow; err != nil {
		t.Fatalf("slow poll: %v", err)
	}

	items := poller.Items()
	if len(items) != 2 || items[1] != "new" {
		t.Fatalf("expected newer snapshot to survive the older fetch, got %v", items)
	}
	if stats := poller.Stats(); stats.TotalPolls != 1 || stats.Items != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestOlderFailureDoesNotCountAgainstNewerSuccess(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	var mu sync.Mutex
	calls := 0
	poller, err := NewPoller(Config[string]{
		Scope: "test",
		Fetch: func(ctx context.Context) ([]string, error) {
			mu.Lock()
			calls++
			call := calls
			mu.Unlock()
			if call == 1 {
				entered <- struct{}{}
				<-release
				return nil, errors.New("timeout")
			}
			return []string{"fresh"}, nil
		},
	})
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}

	slow := make(chan error, 1)
	go func() {
		slow <- poller.PollOnce(context.Background())
	}()
	<-entered
	if err := poller.PollOnce(context.Background()); err != nil {
		t.Fatalf("fast poll: %v", err)
	}
	close(release)
	if err := <-slow; err != nil {
		t.Fatalf("expected superseded failure to be dropped, got %v", err)
	}
	if stats := poller.Stats(); stats.ConsecutiveErrors != 0 || stats.LastError != "" {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if items := poller.Items(); len(items) != 1 || items[0] != "fresh" {
		t.Fatalf("unexpected snapshot %v", items)
	}
}

func TestStartPollsUntilStopped(t *testing.T) {
	var mu sync.Mutex
	notified := 0
	lister := &scriptedCommands{responses: [][]model.Command{{{ID: "c1", CreatedAt: base}}}}
	poller, err := NewCommandPoller(lister, "a1", Options{
		Interval: 5 * time.Millisecond,
		Notify: func(scope string) {
			mu.Lock()
			defer mu.Unlock()
			notified++
		},
	})
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	poller.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for poller.Stats().TotalPolls < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("poller did not tick, stats %+v", poller.Stats())
		}
		time.Sleep(5 * time.Millisecond)
	}
	poller.Stop()
	if !poller.Wait(time.Second) {
		t.Fatalf("expected poller loop to exit")
	}
	if poller.Stats().Running {
		t.Fatalf("expected poller to report stopped")
	}
	mu.Lock()
	defer mu.Unlock()
	if notified < 3 {
		t.Fatalf("expected a notification per successful poll, got %d", notified)
	}
}

func TestIndependentScopes(t *testing.T) {
	failing := &scriptedCommands{responses: [][]model.Command{nil}, errs: []error{errors.New("down")}}
	healthy := &scriptedCommands{responses: [][]model.Command{{{ID: "c1", CreatedAt: base}}}}
	a, _ := NewCommandPoller(failing, "a1", Options{})
	b, _ := NewCommandPoller(healthy, "a2", Options{})
	_ = a.PollOnce(context.Background())
	if err := b.PollOnce(context.Background()); err != nil {
		t.Fatalf("healthy scope poll: %v", err)
	}
	if len(b.Items()) != 1 || len(a.Items()) != 0 {
		t.Fatalf("expected scopes to be independent")
	}
}

func TestNewCommandPollerValidation(t *testing.T) {
	if _, err := NewCommandPoller(nil, "a1", Options{}); err == nil {
		t.Fatalf("expected error without repository")
	}
	if _, err := NewCommandPoller(&scriptedCommands{}, " ", Options{}); err == nil {
		t.Fatalf("expected error without agent id")
	}
	if _, err := NewPoller(Config[int]{Scope: "x"}); err == nil {
		t.Fatalf("expected error without fetch")
	}
}

type staticAgents struct {
	responses [][]model.Agent
	calls     int
}

func (s *staticAgents) ListAgents(context.Context) ([]model.Agent, error) {
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

func TestRosterPollerLogsStatusChanges(t *testing.T) {
	lister := &staticAgents{responses: [][]model.Agent{
		{{ID: "a1", Hostname: "web-1", Status: model.AgentStatusOnline}},
		{{ID: "a1", Hostname: "web-1", Status: model.AgentStatusOffline}},
	}}
	core, logs := observer.New(zapcore.InfoLevel)
	poller, err := NewRosterPoller(lister, Options{Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("new roster poller: %v", err)
	}
	_ = poller.PollOnce(context.Background())
	_ = poller.PollOnce(context.Background())
	if logs.FilterMessage("agent status changed").Len() != 1 {
		t.Fatalf("expected agent status change to be logged, got %d entries", logs.Len())
	}
	if poller.Scope() != RosterScope {
		t.Fatalf("unexpected scope %q", poller.Scope())
	}
}

func TestSortAgentsByHostname(t *testing.T) {
	agents := []model.Agent{{ID: "2", Hostname: "db"}, {ID: "1", Hostname: "API"}, {ID: "3", Hostname: "cache"}}
	SortAgentsByHostname(agents)
	if agents[0].ID != "1" || agents[1].ID != "3" || agents[2].ID != "2" {
		t.Fatalf("unexpected order %+v", agents)
	}
}
