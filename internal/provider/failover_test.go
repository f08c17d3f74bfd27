package provider

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"standin/internal/domain"
)

type mockProvider struct {
	name    string
	healthy bool
	reply   string
	err     error
	calls   int
	lastReq domain.ChatRequest
}

func (m *mockProvider) Name() string     { return m.name }
func (m *mockProvider) Models() []string { return []string{"test-model"} }

func (m *mockProvider) Healthy(context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *mockProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &domain.ChatResponse{Content: m.reply}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func chain(now func() time.Time, ps ...domain.Provider) *FailoverProvider {
	return NewFailoverProvider(FailoverConfig{Providers: ps, Logger: testLogger(), Now: now, Cooldown: time.Minute})
}

func TestFailover_FirstMemberWins(t *testing.T) {
	p1 := &mockProvider{name: "primary", reply: "from-primary"}
	p2 := &mockProvider{name: "secondary", reply: "from-secondary"}

	resp, err := chain(nil, p1, p2).Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from-primary", resp.Content)
	assert.Zero(t, p2.calls)
}

func TestFailover_FallsThroughErrorsAndEmptyReplies(t *testing.T) {
	p1 := &mockProvider{name: "down", err: errors.New("api error")}
	p2 := &mockProvider{name: "blank", reply: "   "}
	p3 := &mockProvider{name: "ok", reply: "haha yes"}

	resp, err := chain(nil, p1, p2, p3).Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "haha yes", resp.Content)
}

func TestFailover_AllFailJoinsErrors(t *testing.T) {
	p1 := &mockProvider{name: "p1", err: errors.New("fail 1")}
	p2 := &mockProvider{name: "p2", err: errors.New("fail 2")}

	_, err := chain(nil, p1, p2).Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "p1: fail 1")
	assert.Contains(t, err.Error(), "p2: fail 2")
}

func TestFailover_CancelStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p1 := &mockProvider{name: "p1", err: context.Canceled}
	p2 := &mockProvider{name: "p2", reply: "late"}

	_, err := chain(nil, p1, p2).Chat(ctx, domain.ChatRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, p2.calls)
}

func TestFailover_FailedMemberTriedLastUntilCooldownEnds(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	p1 := &mockProvider{name: "flaky", err: errors.New("503")}
	p2 := &mockProvider{name: "steady", reply: "ok"}
	fp := chain(clock, p1, p2)

	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, p1.calls)

	// benched: steady answers without flaky being asked
	_, err = fp.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, p1.calls)

	now = now.Add(61 * time.Second)
	p1.err, p1.reply = nil, "back"
	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "back", resp.Content)
}

func TestFailover_BenchedMemberStillUsedAsLastResort(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p1 := &mockProvider{name: "p1", err: errors.New("boom")}
	p2 := &mockProvider{name: "p2", err: errors.New("boom")}
	fp := chain(func() time.Time { return now }, p1, p2)

	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)

	p2.err, p2.reply = nil, "recovered"
	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
}

func TestFailover_OnResultHook(t *testing.T) {
	p1 := &mockProvider{name: "p1", err: errors.New("boom")}
	p2 := &mockProvider{name: "p2", reply: "ok"}
	fp := chain(nil, p1, p2)

	var seen []string
	fp.OnResult(func(name string, err error) {
		if err != nil {
			seen = append(seen, name+":err")
			return
		}
		seen = append(seen, name+":ok")
	})

	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1:err", "p2:ok"}, seen)
}

func TestFailover_NoMembers(t *testing.T) {
	_, err := chain(nil).Chat(context.Background(), domain.ChatRequest{})
	assert.Error(t, err)
}

func TestFailover_Healthy(t *testing.T) {
	sick := &mockProvider{name: "sick"}
	well := &mockProvider{name: "well", healthy: true}

	assert.NoError(t, chain(nil, sick, well).Healthy(context.Background()))
	err := chain(nil, sick, &mockProvider{name: "sick2"}).Healthy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sick2")
}

func TestFailover_NameAndModels(t *testing.T) {
	fp := chain(nil, &mockProvider{name: "claude"}, &mockProvider{name: "gemini"})
	assert.Equal(t, "failover(claude→gemini)", fp.Name())
	assert.Equal(t, []string{"test-model"}, fp.Models())
}
