package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memorySink records mirror writes so tests can assert deletions.
type memorySink struct {
	mu      sync.Mutex
	puts    int
	deleted []string
}

func (m *memorySink) Put(Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
}

func (m *memorySink) Delete(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, code)
}

func (m *memorySink) deletedCodes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

func TestCreateRejectsEmptyQuiz(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create(QuizSnapshot{Title: "empty"}, CreateParams{IsFreeGame: true})
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestCreatePaidGameValidation(t *testing.T) {
	r := NewRegistry()

	_, err := r.Create(testQuiz(1), CreateParams{PrizePool: decimal.NewFromInt(1)})
	assert.Equal(t, KindValidation, KindOf(err), "paid games need a host wallet")

	_, err = r.Create(testQuiz(1), CreateParams{
		HostWallet: testHost,
		PrizePool:  decimal.RequireFromString("0.0005"),
	})
	assert.Equal(t, KindValidation, KindOf(err), "prize below the minimum")

	_, err = r.Create(testQuiz(1), CreateParams{
		HostWallet: testHost,
		PrizePool:  decimal.NewFromInt(1001),
	})
	assert.Equal(t, KindValidation, KindOf(err), "prize above the maximum")

	s, err := r.Create(testQuiz(1), CreateParams{
		HostWallet: testHost,
		PrizePool:  decimal.RequireFromString("0.001"),
	})
	require.NoError(t, err)
	assert.Len(t, s.Code, 6)
	assert.Equal(t, StatusWaiting, s.Status())
}

func TestCreateDrawsUniqueCodes(t *testing.T) {
	r := NewRegistry()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		s, err := r.Create(testQuiz(1), CreateParams{IsFreeGame: true})
		require.NoError(t, err)
		require.Len(t, s.Code, 6)
		assert.False(t, seen[s.Code], "code %s drawn twice", s.Code)
		seen[s.Code] = true
	}
}

func TestGetAndList(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewRegistry(WithClock(clock))

	_, err := r.Get("000000")
	assert.Equal(t, KindNotFound, KindOf(err))

	first, err := r.Create(testQuiz(1), CreateParams{IsFreeGame: true})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := r.Create(testQuiz(2), CreateParams{IsFreeGame: true})
	require.NoError(t, err)

	got, err := r.Get(first.Code)
	require.NoError(t, err)
	assert.Same(t, first, got)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.Code, list[0].Code, "newest first")
	assert.Equal(t, first.Code, list[1].Code)
	assert.Equal(t, 2, list[0].QuestionCount)
}

func TestRemoveStopsSession(t *testing.T) {
	sink := &memorySink{}
	r := NewRegistry(WithSnapshotSink(sink))

	s, err := r.Create(testQuiz(1), CreateParams{IsFreeGame: true})
	require.NoError(t, err)

	r.Remove(s.Code)
	_, err = r.Get(s.Code)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, []string{s.Code}, sink.deletedCodes())

	// The stopped actor answers every command with not-found.
	_, err = s.Join("walletA", "Alice")
	assert.Equal(t, KindNotFound, KindOf(err))

	// Removing an unknown code is a no-op.
	r.Remove("999999")
}

func TestStoppedSessionKeepsItsLastStatus(t *testing.T) {
	r := NewRegistry()
	s, err := r.Create(testQuiz(1), CreateParams{
		HostWallet: testHost,
		PrizePool:  decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	_, err = s.Join("walletA", "Alice")
	require.NoError(t, err)
	require.NoError(t, s.Cancel(testHost))

	r.Remove(s.Code)
	assert.Equal(t, StatusCancelled, s.Status())
	assert.Equal(t, StatusCancelled, s.Summary().Status)
}

func TestSweepRemovesTerminalAndIdleSessions(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewRegistry(WithClock(clock))

	cancelled, err := r.Create(testQuiz(1), CreateParams{IsFreeGame: true})
	require.NoError(t, err)
	require.NoError(t, cancelled.Cancel(cancelled.HostWallet))

	idle, err := r.Create(testQuiz(1), CreateParams{IsFreeGame: true})
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	fresh, err := r.Create(testQuiz(1), CreateParams{IsFreeGame: true})
	require.NoError(t, err)

	n := r.Sweep(10*time.Minute, 15*time.Minute)
	assert.Equal(t, 2, n)

	_, err = r.Get(cancelled.Code)
	assert.Equal(t, KindNotFound, KindOf(err), "terminal session is kept only inside retention")
	_, err = r.Get(idle.Code)
	assert.Equal(t, KindNotFound, KindOf(err), "stale lobby is reaped")
	_, err = r.Get(fresh.Code)
	assert.NoError(t, err)
}
