package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScoreAnswer(t *testing.T) {
	limit := 10 * time.Second

	tests := map[string]struct {
		correct bool
		elapsed time.Duration
		want    int
	}{
		"wrong answer scores zero":        {false, 0, 0},
		"instant correct gets full bonus": {true, 0, 1500},
		"halfway gets half bonus":         {true, 5 * time.Second, 1250},
		"last moment gets base only":      {true, 10 * time.Second, 1000},
		"past the deadline clamps":        {true, 11 * time.Second, 1000},
		"bonus floors fractional":         {true, 3333 * time.Millisecond, 1333},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, scoreAnswer(tt.correct, tt.elapsed, limit))
		})
	}
}

func TestScoreAnswerZeroLimit(t *testing.T) {
	assert.Equal(t, 1000, scoreAnswer(true, 0, 0))
	assert.Equal(t, 0, scoreAnswer(false, 0, 0))
}

func TestComputeLeaderboardSumsAndSorts(t *testing.T) {
	players := []*Player{
		{ID: "a", Name: "A"},
		{ID: "b", Name: "B"},
		{ID: "c", Name: "C"},
	}
	answers := map[string][]*Answer{
		"a": {{Score: 1000}, nil},
		"b": {{Score: 1200}, {Score: 300}},
		// c never answered
	}

	lb := computeLeaderboard(players, answers)

	assert.Equal(t, []string{"b", "a", "c"}, []string{lb[0].PlayerID, lb[1].PlayerID, lb[2].PlayerID})
	assert.Equal(t, 1500, lb[0].Score)
	assert.Equal(t, 1000, lb[1].Score)
	assert.Equal(t, 0, lb[2].Score)
}

func TestComputeLeaderboardTiesKeepJoinOrder(t *testing.T) {
	players := []*Player{
		{ID: "first", Name: "First"},
		{ID: "second", Name: "Second"},
		{ID: "third", Name: "Third"},
	}
	answers := map[string][]*Answer{
		"first":  {{Score: 500}},
		"second": {{Score: 500}},
		"third":  {{Score: 900}},
	}

	lb := computeLeaderboard(players, answers)

	assert.Equal(t, "third", lb[0].PlayerID)
	assert.Equal(t, "first", lb[1].PlayerID, "equal totals keep join order")
	assert.Equal(t, "second", lb[2].PlayerID)
}

func TestComputeLeaderboardNeverNegative(t *testing.T) {
	players := []*Player{{ID: "a"}}
	answers := map[string][]*Answer{
		"a": {{Score: 0}, {Score: 0}},
	}

	lb := computeLeaderboard(players, answers)
	assert.GreaterOrEqual(t, lb[0].Score, 0)
}
