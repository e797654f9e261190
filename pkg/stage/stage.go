// Package stage maps the global interaction counter onto the ordered stage table.
package stage

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gombonmongoli/pkg/schema"
)

var (
	ErrNoStages     = errors.New("stage table is empty")
	ErrMaxStage     = errors.New("already at maximum evolution stage")
	ErrUnknownStage = errors.New("unknown stage")
)

// interactionsPerHour is the rate assumed by TimeToNext.
const interactionsPerHour = 10

// Result is the position of a counter within the table. Next is nil at the last stage.
type Result struct {
	Current  schema.Stage  `json:"current"`
	Next     *schema.Stage `json:"next"`
	Progress int           `json:"progress"`
}

var baseline = Result{
	Current: schema.Stage{
		ID:              "baby",
		Name:            "Baby Gombonmongoli",
		Emoji:           "👶",
		MinInteractions: 0,
		MaxInteractions: 2500,
		Description:     "Instinctively savage but limited vocabulary",
	},
	Next: &schema.Stage{
		ID:              "child",
		Name:            "Child Gombonmongoli",
		Emoji:           "🧒",
		MinInteractions: 2500,
		MaxInteractions: 7500,
		Description:     "Playground bully discovering psychological warfare",
	},
	Progress: 0,
}

// Baseline is the hardcoded stage used by best-effort callers when the table is unusable.
func Baseline() Result {
	r := baseline
	next := *baseline.Next
	r.Next = &next
	return r
}

type Calculator struct {
	stages       []schema.Stage
	celebrations map[string]string
}

func NewCalculator(table schema.StageTable) *Calculator {
	return &Calculator{
		stages:       table.Stages,
		celebrations: table.Celebrations,
	}
}

func (c *Calculator) Stages() []schema.Stage {
	return c.stages
}

// For finds the stage for total. It fails with ErrNoStages on an empty table.
func (c *Calculator) For(total int) (Result, error) {
	if len(c.stages) == 0 {
		return Result{}, ErrNoStages
	}

	idx := 0
	for i := len(c.stages) - 1; i >= 0; i-- {
		if total >= c.stages[i].MinInteractions {
			idx = i
			break
		}
	}

	res := Result{Current: c.stages[idx]}
	for i := range c.stages {
		if c.stages[i].MinInteractions > total {
			next := c.stages[i]
			res.Next = &next
			break
		}
	}
	res.Progress = Progress(total, res.Current, res.Next)
	return res, nil
}

// BestEffort is For with the Baseline substituted for any failure.
func (c *Calculator) BestEffort(total int) Result {
	res, err := c.For(total)
	if err != nil {
		return Baseline()
	}
	return res
}

// Progress is the integer percentage of the way from current to next, truncated and clamped
// to [0, 100]. It is 100 when there is no next stage.
func Progress(total int, current schema.Stage, next *schema.Stage) int {
	if next == nil {
		return 100
	}
	span := next.MinInteractions - current.MinInteractions
	if span <= 0 {
		return 100
	}
	p := math.Floor(100 * float64(total-current.MinInteractions) / float64(span))
	return int(min(100, max(0, p)))
}

// ProgressIn is the progress of total through the band of s, which ends at the table
// successor of s. A stage ahead of the counter reports 0.
func (c *Calculator) ProgressIn(total int, s schema.Stage) int {
	i := c.index(s.ID)
	if i < 0 {
		return c.BestEffort(total).Progress
	}
	if total < s.MinInteractions {
		return 0
	}
	var next *schema.Stage
	if i+1 < len(c.stages) {
		n := c.stages[i+1]
		next = &n
	}
	return Progress(total, s, next)
}

// Lookup returns the stage with the given id.
func (c *Calculator) Lookup(id string) (schema.Stage, bool) {
	for _, s := range c.stages {
		if s.ID == id {
			return s, true
		}
	}
	return schema.Stage{}, false
}

func (c *Calculator) index(id string) int {
	for i, s := range c.stages {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// Celebration is the line recorded with a milestone for s.
func (c *Calculator) Celebration(s schema.Stage) string {
	if line, ok := c.celebrations[s.ID]; ok && line != "" {
		return line
	}
	return fmt.Sprintf("I have evolved to %s!", s.Name)
}

// IsEvolutionReady reports whether the counter has already passed the stage after currentID,
// meaning the stored stage lags behind.
func (c *Calculator) IsEvolutionReady(total int, currentID string) bool {
	i := c.index(currentID)
	if i < 0 || i+1 >= len(c.stages) {
		return false
	}
	return total >= c.stages[i+1].MinInteractions
}

type Threshold struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Emoji           string `json:"emoji"`
	MinInteractions int    `json:"minInteractions"`
	MaxInteractions int    `json:"maxInteractions"`
	Description     string `json:"description"`
}

func (c *Calculator) Thresholds() []Threshold {
	out := make([]Threshold, 0, len(c.stages))
	for _, s := range c.stages {
		out = append(out, Threshold{
			ID:              s.ID,
			Name:            s.Name,
			Emoji:           s.Emoji,
			MinInteractions: s.MinInteractions,
			MaxInteractions: s.MaxInteractions,
			Description:     s.Description,
		})
	}
	return out
}

type Estimate struct {
	HasNext            bool          `json:"hasNext"`
	NextStage          *schema.Stage `json:"nextStage,omitempty"`
	InteractionsNeeded int           `json:"interactionsNeeded"`
	EstimatedTime      string        `json:"estimatedTime"`
	ProgressPercent    int           `json:"progressPercent"`
}

// TimeToNext estimates how long until the next stage at a fixed interaction rate.
func (c *Calculator) TimeToNext(total int) Estimate {
	res, err := c.For(total)
	if err != nil {
		return Estimate{EstimatedTime: "Unable to calculate"}
	}
	if res.Next == nil {
		return Estimate{EstimatedTime: "Maximum level reached", ProgressPercent: 100}
	}

	needed := res.Next.MinInteractions - total
	hours := (needed + interactionsPerHour - 1) / interactionsPerHour
	estimate := fmt.Sprintf("~%d hours", hours)
	if hours >= 24 {
		estimate = fmt.Sprintf("~%d days", (hours+23)/24)
	}
	return Estimate{
		HasNext:            true,
		NextStage:          res.Next,
		InteractionsNeeded: needed,
		EstimatedTime:      estimate,
		ProgressPercent:    res.Progress,
	}
}

// ForceEvolve moves state to the table successor of its current stage regardless of the
// counter and appends a forced milestone. state is left untouched on error.
func (c *Calculator) ForceEvolve(state *schema.GlobalState, now time.Time) (schema.Stage, error) {
	if len(c.stages) == 0 {
		return schema.Stage{}, ErrNoStages
	}
	i := c.index(state.CurrentStage)
	if i < 0 {
		return schema.Stage{}, fmt.Errorf("%w: %q", ErrUnknownStage, state.CurrentStage)
	}
	if i+1 >= len(c.stages) {
		return schema.Stage{}, ErrMaxStage
	}

	next := c.stages[i+1]
	state.CurrentStage = next.ID
	state.LastUpdated = now
	state.EvolutionMilestones = append(state.EvolutionMilestones, schema.Milestone{
		Stage:                   next.ID,
		ReachedAt:               now,
		InteractionCountAtReach: state.TotalInteractions,
		CelebrationText:         c.Celebration(next),
		Forced:                  true,
	})
	state.StageProgressPercent = c.ProgressIn(state.TotalInteractions, next)
	return next, nil
}

// Revert stores a timed reversion to target. Responses use the temporary stage until the
// reversion expires; the counter and the stored stage are not changed.
func (c *Calculator) Revert(state *schema.GlobalState, target string, d time.Duration, reason string, now time.Time) (*schema.Reversion, error) {
	if _, ok := c.Lookup(target); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, target)
	}
	if d <= 0 {
		d = 5 * time.Minute
	}
	r := &schema.Reversion{
		OriginalStage:  state.CurrentStage,
		TemporaryStage: target,
		StartedAt:      now,
		RevertAt:       now.Add(d),
		Reason:         reason,
	}
	state.Reversion = r
	state.LastUpdated = now
	return r, nil
}

// Effective is the stage id responses should use at now.
func Effective(state schema.GlobalState, now time.Time) string {
	if state.Reversion.Active(now) {
		return state.Reversion.TemporaryStage
	}
	return state.CurrentStage
}
