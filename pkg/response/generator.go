// Package response turns a chat message into the chatbot's reply for the current stage.
package response

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"gombonmongoli/pkg/config"
	"gombonmongoli/pkg/random"
	"gombonmongoli/pkg/schema"
	"gombonmongoli/pkg/stage"
	"gombonmongoli/pkg/utils"
)

type Request struct {
	Message           string
	UserID            string
	Stage             string
	TotalInteractions int
}

type Reply struct {
	Text            string        `json:"text"`
	Type            string        `json:"type"`
	Trigger         string        `json:"trigger"`
	Mood            string        `json:"mood,omitempty"`
	Stage           string        `json:"stage"`
	StageInfo       *schema.Stage `json:"stageInfo"`
	ProgressPercent int           `json:"progressPercent"`
	Features        []string      `json:"features"`
}

type Options struct {
	// Mode is config.GeneratorAdaptive or config.GeneratorSimple.
	Mode       string
	PatternTTL time.Duration
	Now        func() time.Time
}

// pattern is what the adaptive generator remembers about one user.
type pattern struct {
	Count     int
	AvgLength float64
	Recent    []string
	LastSeen  time.Time
}

type Generator struct {
	content  *config.Content
	calc     *stage.Calculator
	rng      random.Source
	opts     Options
	patterns *utils.SyncMap[map[string]pattern, string, pattern]
}

func New(content *config.Content, calc *stage.Calculator, rng random.Source, opts Options) *Generator {
	if rng == nil {
		rng = random.Global{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Mode == "" {
		opts.Mode = config.GeneratorAdaptive
	}
	return &Generator{
		content:  content,
		calc:     calc,
		rng:      rng,
		opts:     opts,
		patterns: utils.NewSyncMap[map[string]pattern](),
	}
}

func (g *Generator) adaptive() bool {
	return g.opts.Mode != config.GeneratorSimple
}

// Respond never fails. Any error or panic on the way yields the fallback reply.
func (g *Generator) Respond(ctx context.Context, req Request) (reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("response generation panicked", "stage", req.Stage, "panic", r)
			reply = g.Fallback(req.Stage)
		}
	}()

	reply, err := g.respond(ctx, req)
	if err != nil {
		log.Error("response generation failed", "stage", req.Stage, "error", err)
		return g.Fallback(req.Stage)
	}
	return reply
}

func (g *Generator) respond(ctx context.Context, req Request) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	info, ok := g.calc.Lookup(req.Stage)
	if !ok {
		return Reply{}, fmt.Errorf("%w: %q", stage.ErrUnknownStage, req.Stage)
	}

	userID := req.UserID
	if userID == "" {
		userID = "default"
	}
	message := strings.TrimSpace(req.Message)

	var p pattern
	var mood string
	if g.adaptive() {
		p = g.observe(userID, message)
		mood = g.mood(info.ID, req.TotalInteractions)
	}

	mode, pool := g.classify(info.ID, message)
	if g.adaptive() {
		pool = g.adapt(pool, p, mood)
	}
	template := g.choose(pool, p.Recent)
	if g.adaptive() {
		g.remember(userID, template)
	}

	f := &filler{
		responses: &g.content.Responses,
		keywords:  &g.content.Keywords,
		rng:       g.rng,
		vars:      mode.Vars,
		message:   strings.ToLower(message),
		total:     req.TotalInteractions,
		resolved:  make(map[string]string),
	}

	features := info.Features
	if features == nil {
		features = []string{}
	}
	return Reply{
		Text:            f.fill(template),
		Type:            mode.Type,
		Trigger:         mode.Trigger,
		Mood:            mood,
		Stage:           info.ID,
		StageInfo:       &info,
		ProgressPercent: g.calc.BestEffort(req.TotalInteractions).Progress,
		Features:        features,
	}, nil
}

// Fallback is the fixed reply used when generation fails.
func (g *Generator) Fallback(stageID string) Reply {
	if stageID == "" {
		stageID = "baby"
	}
	return Reply{
		Text:     g.content.Responses.Fallback,
		Type:     "fallback",
		Trigger:  "error",
		Stage:    stageID,
		Features: []string{},
	}
}

// classify picks the response mode. Greetings and goodbyes are checked before any stage
// mode, so they never consume a random draw. Keyword lists match as case-insensitive
// substrings: "this" counts as a greeting.
func (g *Generator) classify(stageID, message string) (config.Mode, []string) {
	r := &g.content.Responses
	pools := r.Pools[stageID]

	switch {
	case utils.StringContains(message, false, g.content.Keywords.Greetings...):
		return config.Mode{Type: "greeting", Trigger: "greeting_detected"},
			firstNonEmpty(pools["greeting"], pools["insults"], []string{"hello, disappointment"})
	case utils.StringContains(message, false, g.content.Keywords.Goodbyes...):
		return config.Mode{Type: "goodbye", Trigger: "goodbye_detected"},
			firstNonEmpty(pools["goodbye"], pools["insults"], []string{"finally leaving? smart choice"})
	}

	modes := r.Modes[stageID]
	if len(modes) == 0 {
		modes = []config.Mode{{Type: "default", Trigger: "fallback", Pool: "insults", Fallback: []string{"you confuse me"}}}
	}
	for i, m := range modes {
		if i == len(modes)-1 || g.fires(m, message) {
			return m, firstNonEmpty(pools[m.Pool], m.Fallback)
		}
	}
	return config.Mode{}, nil
}

// fires checks the mode's matcher first; the chance roll only happens when it passes.
func (g *Generator) fires(m config.Mode, message string) bool {
	if m.Match != "" && !g.matches(m.Match, message) {
		return false
	}
	if m.Chance > 0 {
		return g.rng.Float64() < m.Chance
	}
	return true
}

func (g *Generator) matches(name, message string) bool {
	k := &g.content.Keywords
	switch name {
	case "new_word":
		return newWord(k, message) != ""
	case "long_message":
		return len(message) >= k.CopycatMinLength
	case "cringe":
		return utils.StringContains(message, false, k.Cringe...)
	default:
		log.Warn("unknown response matcher", "match", name)
		return false
	}
}

func (g *Generator) mood(stageID string, total int) string {
	r := &g.content.Responses
	moods := r.Moods[stageID]
	if len(moods) == 0 {
		moods = r.Moods[r.DefaultMoods]
	}
	if len(moods) == 0 {
		return ""
	}
	mood := random.Pick(g.rng, moods)
	a := r.Adaptation
	if total > a.EvolvedAfter && g.rng.Float64() < a.EvolvedChance {
		mood += "-evolved"
	}
	return mood
}

// adapt extends pool once the user has sent enough messages.
func (g *Generator) adapt(pool []string, p pattern, mood string) []string {
	a := g.content.Responses.Adaptation
	if p.Count < a.MinMessages {
		return pool
	}
	out := slices.Clone(pool)
	if strings.Contains(mood, "evolved") && a.EvolvedSuffix != "" {
		for _, line := range pool {
			out = append(out, line+a.EvolvedSuffix)
		}
	}
	switch {
	case p.AvgLength > a.LongLength:
		out = append(out, a.Long...)
	case p.AvgLength < a.ShortLength:
		out = append(out, a.Short...)
	}
	return out
}

// choose is the weighted choice. In adaptive mode it skips the most recent responses part
// of the time; simple mode picks uniformly.
func (g *Generator) choose(pool, recent []string) string {
	if len(pool) == 0 {
		return g.content.Responses.Speechless
	}
	if !g.adaptive() {
		return random.Pick(g.rng, pool)
	}

	a := g.content.Responses.Adaptation
	if len(recent) > 0 && g.rng.Float64() < a.AvoidChance {
		last := recent[max(0, len(recent)-a.AvoidRecent):]
		fresh := slices.DeleteFunc(slices.Clone(pool), func(s string) bool {
			return slices.Contains(last, s)
		})
		if len(fresh) > 0 {
			return weighted(g.rng, fresh)
		}
	}
	return weighted(g.rng, pool)
}

// weighted favours the first and last lines (weight 3) and the middle line (weight 2).
func weighted(rng random.Source, items []string) string {
	weights := make([]int, len(items))
	total := 0
	for i := range items {
		switch {
		case i == 0 || i == len(items)-1:
			weights[i] = 3
		case i == len(items)/2:
			weights[i] = 2
		default:
			weights[i] = 1
		}
		total += weights[i]
	}

	r := rng.Float64() * float64(total)
	for i, w := range weights {
		r -= float64(w)
		if r <= 0 {
			return items[i]
		}
	}
	return items[len(items)-1]
}

func (g *Generator) observe(userID, message string) pattern {
	now := g.opts.Now()
	return g.patterns.Update(userID, func(p pattern, _ bool) pattern {
		p.Count++
		p.AvgLength = (p.AvgLength*float64(p.Count-1) + float64(len(message))) / float64(p.Count)
		p.LastSeen = now
		p.Recent = slices.Clone(p.Recent)
		return p
	})
}

func (g *Generator) remember(userID, line string) {
	window := max(g.content.Responses.Adaptation.RecentWindow, 1)
	g.patterns.Update(userID, func(p pattern, _ bool) pattern {
		recent := append(slices.Clone(p.Recent), line)
		if len(recent) > window {
			recent = recent[len(recent)-window:]
		}
		p.Recent = recent
		return p
	})
}

// Prune forgets users not seen within PatternTTL and reports how many were dropped.
func (g *Generator) Prune(now time.Time) int {
	if g.opts.PatternTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-g.opts.PatternTTL)
	return g.patterns.DeleteFunc(func(_ string, p pattern) bool {
		return p.LastSeen.Before(cutoff)
	})
}

// Users is the number of users with adaptive state.
func (g *Generator) Users() int {
	return g.patterns.Len()
}

func firstNonEmpty(lists ...[]string) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return nil
}
