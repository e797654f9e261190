package stage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gombonmongoli/pkg/schema"
)

func threeStages() *Calculator {
	return NewCalculator(schema.StageTable{
		Stages: []schema.Stage{
			{ID: "baby", Name: "Baby", MinInteractions: 0, MaxInteractions: 2500},
			{ID: "child", Name: "Child", MinInteractions: 2500, MaxInteractions: 7500},
			{ID: "teen", Name: "Teen", MinInteractions: 7500, MaxInteractions: 20000},
		},
		Celebrations: map[string]string{"child": "WHY is everything so big now?"},
	})
}

func TestForBoundary(t *testing.T) {
	c := threeStages()

	res, err := c.For(2499)
	require.NoError(t, err)
	assert.Equal(t, "baby", res.Current.ID)
	require.NotNil(t, res.Next)
	assert.Equal(t, "child", res.Next.ID)
	assert.Equal(t, 99, res.Progress)

	res, err = c.For(2500)
	require.NoError(t, err)
	assert.Equal(t, "child", res.Current.ID)
	assert.Equal(t, 0, res.Progress)

	res, err = c.For(90000)
	require.NoError(t, err)
	assert.Equal(t, "teen", res.Current.ID)
	assert.Nil(t, res.Next)
	assert.Equal(t, 100, res.Progress)
}

func TestForInvariants(t *testing.T) {
	c := threeStages()
	last := -1
	prevStage := ""
	for total := 0; total < 21000; total += 7 {
		res, err := c.For(total)
		require.NoError(t, err)
		assert.LessOrEqual(t, res.Current.MinInteractions, total)
		if res.Next != nil {
			assert.Less(t, total, res.Next.MinInteractions)
		}
		assert.GreaterOrEqual(t, res.Progress, 0)
		assert.LessOrEqual(t, res.Progress, 100)
		if res.Current.ID == prevStage {
			assert.GreaterOrEqual(t, res.Progress, last, "progress must not drop within %s", prevStage)
		}
		prevStage, last = res.Current.ID, res.Progress
	}
}

func TestForEmptyTable(t *testing.T) {
	c := NewCalculator(schema.StageTable{})

	_, err := c.For(10)
	assert.ErrorIs(t, err, ErrNoStages)

	res := c.BestEffort(10)
	assert.Equal(t, "baby", res.Current.ID)
	assert.Equal(t, 2500, res.Current.MaxInteractions)
	require.NotNil(t, res.Next)
	assert.Equal(t, "child", res.Next.ID)
	assert.Equal(t, 0, res.Progress)
}

func TestCelebration(t *testing.T) {
	c := threeStages()
	child, _ := c.Lookup("child")
	teen, _ := c.Lookup("teen")

	assert.Equal(t, "WHY is everything so big now?", c.Celebration(child))
	assert.Equal(t, "I have evolved to Teen!", c.Celebration(teen))
}

func TestForceEvolve(t *testing.T) {
	c := threeStages()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	state := schema.DefaultGlobalState()
	state.TotalInteractions = 12

	next, err := c.ForceEvolve(&state, now)
	require.NoError(t, err)
	assert.Equal(t, "child", next.ID)
	assert.Equal(t, "child", state.CurrentStage)
	require.Len(t, state.EvolutionMilestones, 1)
	m := state.EvolutionMilestones[0]
	assert.True(t, m.Forced)
	assert.Equal(t, 12, m.InteractionCountAtReach)
	assert.Equal(t, now, m.ReachedAt)

	_, err = c.ForceEvolve(&state, now)
	require.NoError(t, err)

	before := state
	_, err = c.ForceEvolve(&state, now)
	assert.ErrorIs(t, err, ErrMaxStage)
	assert.Equal(t, before.CurrentStage, state.CurrentStage)
	assert.Len(t, state.EvolutionMilestones, 2)
}

func TestForceEvolveProgressUsesStoredStage(t *testing.T) {
	c := threeStages()
	state := schema.DefaultGlobalState()
	state.TotalInteractions = 2000

	_, err := c.ForceEvolve(&state, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "child", state.CurrentStage)
	assert.Zero(t, state.StageProgressPercent)
}

func TestProgressIn(t *testing.T) {
	c := threeStages()
	child, _ := c.Lookup("child")
	teen, _ := c.Lookup("teen")

	assert.Zero(t, c.ProgressIn(2000, child))
	assert.Equal(t, 50, c.ProgressIn(5000, child))
	assert.Equal(t, 100, c.ProgressIn(8000, teen))
	assert.Zero(t, c.ProgressIn(100, teen))
	assert.Equal(t, c.BestEffort(5000).Progress, c.ProgressIn(5000, schema.Stage{ID: "fossil"}))
}

func TestForceEvolveUnknownStage(t *testing.T) {
	state := schema.GlobalState{CurrentStage: "fossil"}
	_, err := threeStages().ForceEvolve(&state, time.Now())
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestRevertAndEffective(t *testing.T) {
	c := threeStages()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	state := schema.GlobalState{CurrentStage: "teen", TotalInteractions: 8000}

	_, err := c.Revert(&state, "dinosaur", time.Minute, "", now)
	assert.ErrorIs(t, err, ErrUnknownStage)
	assert.Nil(t, state.Reversion)

	r, err := c.Revert(&state, "baby", 10*time.Minute, "nostalgia", now)
	require.NoError(t, err)
	assert.Equal(t, "teen", r.OriginalStage)
	assert.Equal(t, now.Add(10*time.Minute), r.RevertAt)

	assert.Equal(t, "baby", Effective(state, now.Add(time.Minute)))
	assert.Equal(t, "teen", Effective(state, now.Add(10*time.Minute)))
	assert.Equal(t, "teen", state.CurrentStage)
	assert.Equal(t, 8000, state.TotalInteractions)
}

func TestTimeToNext(t *testing.T) {
	c := threeStages()

	est := c.TimeToNext(2450)
	assert.True(t, est.HasNext)
	assert.Equal(t, 50, est.InteractionsNeeded)
	assert.Equal(t, "~5 hours", est.EstimatedTime)

	est = c.TimeToNext(0)
	assert.Equal(t, "~11 days", est.EstimatedTime)

	est = c.TimeToNext(30000)
	assert.False(t, est.HasNext)
	assert.Equal(t, "Maximum level reached", est.EstimatedTime)
}

func TestIsEvolutionReady(t *testing.T) {
	c := threeStages()
	assert.True(t, c.IsEvolutionReady(2600, "baby"))
	assert.False(t, c.IsEvolutionReady(2400, "baby"))
	assert.False(t, c.IsEvolutionReady(99999, "teen"))
}
