// Package tracker records chat interactions against the global counter and the per-session
// conversation log.
package tracker

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/segmentio/ksuid"

	"gombonmongoli/pkg/config"
	"gombonmongoli/pkg/schema"
	"gombonmongoli/pkg/stage"
	"gombonmongoli/pkg/store"
	"gombonmongoli/pkg/utils"
)

var (
	ErrInvalidRating = errors.New("rating must be between 1 and 10")
	// ErrSessionNotSaved means the interaction was counted but the session write failed.
	// Record returns the committed counters alongside it.
	ErrSessionNotSaved = errors.New("interaction counted but session not saved")
)

// Options are the retention limits. Zero disables a limit.
type Options struct {
	MaxHistory int
	SessionTTL time.Duration
}

type Tracker struct {
	calc     *stage.Calculator
	keywords config.Keywords
	global   store.Document[schema.GlobalState]
	sessions store.Document[schema.SessionStore]
	opts     Options
}

func New(calc *stage.Calculator, keywords config.Keywords, stores *store.Stores, opts Options) *Tracker {
	return &Tracker{
		calc:     calc,
		keywords: keywords,
		global:   stores.Global,
		sessions: stores.Sessions,
		opts:     opts,
	}
}

type Interaction struct {
	UserID    string
	SessionID string
	Message   string
	Timestamp time.Time
}

type Outcome struct {
	TotalInteractions int               `json:"totalInteractions"`
	CurrentStage      string            `json:"currentStage"`
	EffectiveStage    string            `json:"effectiveStage"`
	StageChanged      bool              `json:"stageChanged"`
	NewStage          *schema.Stage     `json:"newStage,omitempty"`
	Milestone         *schema.Milestone `json:"milestone,omitempty"`
	ProgressPercent   int               `json:"progressPercent"`
	MessageID         string            `json:"messageId"`
	SessionID         string            `json:"sessionId"`
	Session           schema.Session    `json:"session"`
}

// Record counts one interaction. The global document and the session store are each
// changed in a single atomic update. An empty stage table is the only fatal error.
func (t *Tracker) Record(ctx context.Context, in Interaction) (Outcome, error) {
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}
	in.UserID = cmp.Or(in.UserID, "anonymous")
	in.SessionID = cmp.Or(in.SessionID, NewSessionID())

	var out Outcome
	state, err := t.global.Update(ctx, func(g *schema.GlobalState) error {
		out = Outcome{}
		return t.count(g, in.Timestamp, &out)
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("record interaction: %w", err)
	}
	out.TotalInteractions = state.TotalInteractions
	out.CurrentStage = state.CurrentStage
	out.EffectiveStage = stage.Effective(state, in.Timestamp)
	out.ProgressPercent = state.StageProgressPercent

	out.MessageID = ksuid.New().String()
	out.SessionID = in.SessionID
	sessions, err := t.sessions.Update(ctx, func(s *schema.SessionStore) error {
		t.appendEntry(s, in, out.MessageID)
		if n := t.evict(s, in.Timestamp, in.SessionID); n > 0 {
			log.Info("evicted idle sessions", "count", n)
		}
		return nil
	})
	if err != nil {
		log.Error("session write failed after the interaction was counted",
			"session", in.SessionID, "total", out.TotalInteractions, "error", err)
		return out, fmt.Errorf("%w: session %s: %w", ErrSessionNotSaved, in.SessionID, err)
	}
	if sess, ok := sessions.Sessions[in.SessionID]; ok {
		out.Session = *sess
	}

	if out.StageChanged {
		log.Info("stage changed", "stage", out.CurrentStage, "interactions", out.TotalInteractions)
	}
	return out, nil
}

func (t *Tracker) count(g *schema.GlobalState, now time.Time, out *Outcome) error {
	prev := g.CurrentStage
	g.TotalInteractions++

	res, err := t.calc.For(g.TotalInteractions)
	if err != nil {
		return err
	}

	// A forced evolution may have put the stored stage ahead of the counter. The counter
	// never pulls it back.
	next := res.Current
	if stored, ok := t.calc.Lookup(prev); ok && stored.MinInteractions > next.MinInteractions {
		next = stored
	}

	if next.ID != prev {
		g.CurrentStage = next.ID
		m := schema.Milestone{
			Stage:                   next.ID,
			ReachedAt:               now,
			InteractionCountAtReach: g.TotalInteractions,
			CelebrationText:         t.calc.Celebration(next),
		}
		g.EvolutionMilestones = append(g.EvolutionMilestones, m)
		out.StageChanged = true
		out.NewStage = &next
		out.Milestone = &m
	}

	g.StageProgressPercent = t.calc.ProgressIn(g.TotalInteractions, next)

	day := now.Format(time.DateOnly)
	if g.DailyStats.Date != day {
		g.DailyStats = schema.DailyStats{Date: day}
	}
	g.DailyStats.TodayInteractions++

	if g.Reversion != nil && !g.Reversion.Active(now) {
		g.Reversion = nil
	}
	g.LastUpdated = now
	return nil
}

func (t *Tracker) appendEntry(s *schema.SessionStore, in Interaction, messageID string) {
	if s.Sessions == nil {
		s.Sessions = make(map[string]*schema.Session)
	}
	sess, ok := s.Sessions[in.SessionID]
	if !ok || sess == nil {
		sess = &schema.Session{
			UserID:              in.UserID,
			StartTime:           in.Timestamp,
			ConversationHistory: []schema.ConversationEntry{},
			PersonalityProfile:  schema.NewPersonalityProfile(),
		}
		s.Sessions[in.SessionID] = sess
	}

	sess.ConversationHistory = append(sess.ConversationHistory, schema.ConversationEntry{
		Timestamp:     in.Timestamp,
		UserInput:     in.Message,
		UserMessageID: messageID,
	})
	if limit := t.opts.MaxHistory; limit > 0 && len(sess.ConversationHistory) > limit {
		sess.ConversationHistory = slices.Clone(sess.ConversationHistory[len(sess.ConversationHistory)-limit:])
	}
	sess.LastActivity = in.Timestamp
	sess.TotalRoasts++
	Profile(t.keywords, in.Message, &sess.PersonalityProfile)
}

// evict removes sessions idle for longer than SessionTTL, never the one named by keep.
func (t *Tracker) evict(s *schema.SessionStore, now time.Time, keep string) int {
	if t.opts.SessionTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-t.opts.SessionTTL)
	n := 0
	for id, sess := range s.Sessions {
		if id == keep {
			continue
		}
		if sess == nil || sess.LastActivity.Before(cutoff) {
			delete(s.Sessions, id)
			n++
		}
	}
	s.LastCleanup = now
	return n
}

// Sweep evicts idle sessions outside of Record. It returns how many were removed.
func (t *Tracker) Sweep(ctx context.Context, now time.Time) (int, error) {
	if t.opts.SessionTTL <= 0 {
		return 0, nil
	}
	var n int
	_, err := t.sessions.Update(ctx, func(s *schema.SessionStore) error {
		n = t.evict(s, now, "")
		return nil
	})
	return n, err
}

// Profile tags p from the keyword tables. Keywords match as lower-cased substrings; each
// category name is added once, in the order it is first seen.
func Profile(k config.Keywords, message string, p *schema.PersonalityProfile) {
	msg := strings.ToLower(message)
	tag := func(dst *[]string, categories []config.Category) {
		for _, c := range categories {
			if utils.StringContains(msg, false, c.Words...) && !slices.Contains(*dst, c.Name) {
				*dst = append(*dst, c.Name)
			}
		}
	}
	tag(&p.Topics, k.TopicCategories)
	tag(&p.Vulnerabilities, k.PsychologicalKeywords)
	tag(&p.Triggers, k.VulnerabilityIndicators)
}

// State is the current global document.
func (t *Tracker) State(ctx context.Context) (schema.GlobalState, error) {
	return t.global.Load(ctx)
}

// Session returns a copy of the stored session.
func (t *Tracker) Session(ctx context.Context, id string) (schema.Session, error) {
	s, err := t.sessions.Load(ctx)
	if err != nil {
		return schema.Session{}, err
	}
	sess, ok := s.Sessions[id]
	if !ok || sess == nil {
		return schema.Session{}, fmt.Errorf("%w: %s", store.ErrSessionNotFound, id)
	}
	return *sess, nil
}

// Evolve forces the stored stage one step forward.
func (t *Tracker) Evolve(ctx context.Context, now time.Time) (schema.Stage, schema.GlobalState, error) {
	var next schema.Stage
	state, err := t.global.Update(ctx, func(g *schema.GlobalState) error {
		var err error
		next, err = t.calc.ForceEvolve(g, now)
		return err
	})
	if err != nil {
		return schema.Stage{}, state, err
	}
	log.Info("forced evolution", "stage", next.ID, "interactions", state.TotalInteractions)
	return next, state, nil
}

// Revert stores a timed reversion to target.
func (t *Tracker) Revert(ctx context.Context, target string, d time.Duration, reason string, now time.Time) (schema.Reversion, error) {
	var r *schema.Reversion
	_, err := t.global.Update(ctx, func(g *schema.GlobalState) error {
		var err error
		r, err = t.calc.Revert(g, target, d, reason, now)
		return err
	})
	if err != nil {
		return schema.Reversion{}, err
	}
	log.Info("stage reverted", "from", r.OriginalStage, "to", r.TemporaryStage, "until", r.RevertAt)
	return *r, nil
}

// Rate folds a chat rating into today's average.
func (t *Tracker) Rate(ctx context.Context, rating float64, now time.Time) (schema.DailyStats, error) {
	if rating < 1 || rating > 10 {
		return schema.DailyStats{}, ErrInvalidRating
	}
	state, err := t.global.Update(ctx, func(g *schema.GlobalState) error {
		day := now.Format(time.DateOnly)
		if g.DailyStats.Date != day {
			g.DailyStats = schema.DailyStats{Date: day}
		}
		d := &g.DailyStats
		d.AverageRating = (d.AverageRating*float64(d.RatingCount) + rating) / float64(d.RatingCount+1)
		d.RatingCount++
		return nil
	})
	return state.DailyStats, err
}

func NewSessionID() string {
	return "session_" + ksuid.New().String()
}
