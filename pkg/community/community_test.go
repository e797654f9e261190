package community

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gombonmongoli/pkg/schema"
	"gombonmongoli/pkg/store"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newBoard(t *testing.T) (*Board, *store.Stores) {
	t.Helper()
	stores := store.NewMemoryStores()
	return New(stores, func() time.Time { return now }), stores
}

func TestSubmitDefaults(t *testing.T) {
	b, _ := newBoard(t)
	ctx := context.Background()

	burn, err := b.Submit(ctx, Submission{Text: "  you are a participation trophy  "})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(burn.ID, "burn_"))
	assert.Equal(t, "you are a participation trophy", burn.Text)
	assert.Equal(t, "general", burn.Category)
	assert.Equal(t, "unknown", burn.Stage)
	assert.Equal(t, "anonymous", burn.SessionID)
	assert.True(t, burn.Approved)
	assert.Zero(t, burn.Votes)
	assert.Equal(t, now, burn.CreatedAt)

	_, err = b.Submit(ctx, Submission{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyBurn)
}

func TestRate(t *testing.T) {
	b, _ := newBoard(t)
	ctx := context.Background()
	burn, err := b.Submit(ctx, Submission{Text: "mid"})
	require.NoError(t, err)

	res, err := b.Rate(ctx, burn.ID, 9)
	require.NoError(t, err)
	assert.Equal(t, 9.0, res.Burn.Rating)
	assert.Equal(t, 1, res.Burn.Votes)
	assert.Equal(t, "Excellent taste in burns!", res.Message)
	require.NotNil(t, res.Burn.LastRated)

	res, err = b.Rate(ctx, burn.ID, 4)
	require.NoError(t, err)
	assert.InDelta(t, 6.5, res.Burn.Rating, 1e-9)
	assert.Equal(t, 2, res.Burn.Votes)
	assert.Equal(t, "Your standards are questionable, but noted.", res.Message)

	_, err = b.Rate(ctx, burn.ID, 11)
	assert.ErrorIs(t, err, ErrInvalidRating)
	_, err = b.Rate(ctx, burn.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidRating)
	_, err = b.Rate(ctx, "burn_missing", 5)
	assert.ErrorIs(t, err, ErrBurnNotFound)
}

func TestHallOfFameIsOneWay(t *testing.T) {
	b, stores := newBoard(t)
	ctx := context.Background()
	burn, err := b.Submit(ctx, Submission{Text: "legend", Category: "legendary"})
	require.NoError(t, err)

	for i := range 4 {
		res, err := b.Rate(ctx, burn.ID, 10)
		require.NoError(t, err)
		assert.False(t, res.Inducted, "vote %d", i+1)
	}
	res, err := b.Rate(ctx, burn.ID, 10)
	require.NoError(t, err)
	assert.True(t, res.Inducted)
	assert.True(t, res.Worthy)

	res, err = b.Rate(ctx, burn.ID, 10)
	require.NoError(t, err)
	assert.False(t, res.Inducted)

	// Dragging the rating down does not remove the entry.
	for range 10 {
		_, err = b.Rate(ctx, burn.ID, 1)
		require.NoError(t, err)
	}
	board, err := stores.Burns.Load(ctx)
	require.NoError(t, err)
	require.Len(t, board.HallOfFame, 1)
	assert.Equal(t, burn.ID, board.HallOfFame[0].ID)
	assert.False(t, Worthy(board.Burns[0]))
}

func TestList(t *testing.T) {
	b, _ := newBoard(t)
	ctx := context.Background()

	empty, err := b.List(ctx, 0, "all")
	require.NoError(t, err)
	assert.Empty(t, empty.Burns)
	assert.NotNil(t, empty.HallOfFame)
	assert.Nil(t, empty.Stats.TopRated)
	assert.Equal(t, Categories, empty.Categories)

	ratings := map[string]float64{"low": 2, "high": 9, "mid": 5}
	for text, r := range ratings {
		category := "savage"
		if text == "mid" {
			category = "clever"
		}
		burn, err := b.Submit(ctx, Submission{Text: text, Category: category})
		require.NoError(t, err)
		_, err = b.Rate(ctx, burn.ID, r)
		require.NoError(t, err)
	}

	all, err := b.List(ctx, 0, "")
	require.NoError(t, err)
	require.Len(t, all.Burns, 3)
	assert.Equal(t, "high", all.Burns[0].Text)
	assert.Equal(t, "mid", all.Burns[1].Text)
	assert.Equal(t, "low", all.Burns[2].Text)
	assert.InDelta(t, 16.0/3, all.Stats.AverageRating, 1e-9)
	require.NotNil(t, all.Stats.TopRated)
	assert.Equal(t, "high", all.Stats.TopRated.Text)

	savage, err := b.List(ctx, 1, "savage")
	require.NoError(t, err)
	require.Len(t, savage.Burns, 1)
	assert.Equal(t, "high", savage.Burns[0].Text)
	assert.Equal(t, 3, savage.Stats.TotalBurns)
}

func TestStats(t *testing.T) {
	b, stores := newBoard(t)
	ctx := context.Background()

	_, err := stores.Global.Update(ctx, func(g *schema.GlobalState) error {
		g.TotalInteractions = 42
		g.DailyStats.TodayInteractions = 7
		return nil
	})
	require.NoError(t, err)
	_, err = stores.Sessions.Update(ctx, func(s *schema.SessionStore) error {
		s.Sessions["a"] = &schema.Session{PersonalityProfile: schema.PersonalityProfile{Topics: []string{"work", "gaming"}}}
		s.Sessions["b"] = &schema.Session{PersonalityProfile: schema.PersonalityProfile{Topics: []string{"work"}}}
		return nil
	})
	require.NoError(t, err)
	_, err = b.Submit(ctx, Submission{Text: "x"})
	require.NoError(t, err)

	s, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, s.Community.TotalInteractions)
	assert.Equal(t, 2, s.Community.TotalSessions)
	assert.Equal(t, "baby", s.Community.CurrentStage)
	assert.Equal(t, 1, s.Burns.Total)
	assert.Equal(t, 7, s.Activity.DailyInteractions)
	assert.Equal(t, []string{"work", "gaming"}, s.Activity.PopularTopics)
	assert.NotNil(t, s.Milestones)
}

func TestEvents(t *testing.T) {
	b, _ := newBoard(t)
	e := b.Events()
	assert.Empty(t, e.Active)
	require.Len(t, e.Upcoming, 2)
	assert.Equal(t, "chaos_mode", e.Upcoming[0].ID)
	assert.Equal(t, "burn_battle", e.Upcoming[1].ID)
}
