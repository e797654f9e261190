// Package roast builds on-demand roasts that do not depend on the chat session flow.
package roast

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"github.com/segmentio/ksuid"

	"gombonmongoli/pkg/config"
	"gombonmongoli/pkg/flight"
	"gombonmongoli/pkg/inference"
	"gombonmongoli/pkg/random"
	"gombonmongoli/pkg/schema"
	"gombonmongoli/pkg/stage"
	"gombonmongoli/pkg/store"
	"gombonmongoli/pkg/utils"
)

// maxSubjectTokens caps the caller supplied subject of a model roast.
const maxSubjectTokens = 120

type Roast struct {
	ID                  string    `json:"id"`
	Text                string    `json:"text"`
	Category            string    `json:"category"`
	Stage               string    `json:"stage"`
	Topic               string    `json:"topic,omitempty"`
	Keywords            *Keywords `json:"keywords,omitempty"`
	PersonalityEnhanced bool      `json:"personalityEnhanced,omitempty"`
	Backend             string    `json:"backend,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

type Keywords struct {
	Adjectives []string `json:"adjectives,omitempty"`
	Nouns      []string `json:"nouns,omitempty"`
}

type Options struct {
	Now    func() time.Time
	Tokens func(string) int
	// ModelCacheTTL keeps model roasts per stage and subject. Zero only coalesces
	// concurrent identical requests.
	ModelCacheTTL time.Duration
}

type modelKey struct {
	stage   string
	subject string
}

type Generator struct {
	content *config.Content
	calc    *stage.Calculator
	vocab   store.Document[schema.Vocabulary]
	rng     random.Source
	infer   inference.Inferencer
	opts    Options
	models  *flight.Cache[modelKey, Roast]
}

// New builds a roast generator. infer may be nil, in which case Model falls back to Instant.
func New(content *config.Content, calc *stage.Calculator, vocab store.Document[schema.Vocabulary], rng random.Source, infer inference.Inferencer, opts Options) *Generator {
	if rng == nil {
		rng = random.Global{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Tokens == nil {
		opts.Tokens = countTokens
	}
	g := &Generator{content: content, calc: calc, vocab: vocab, rng: rng, infer: infer, opts: opts}
	g.models = flight.NewCache(opts.ModelCacheTTL, func(ctx context.Context, k modelKey) (r Roast, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("model roast panicked: %v", p)
			}
		}()
		return g.model(ctx, k.stage, k.subject)
	})
	return g
}

func countTokens(s string) int {
	n, err := utils.NumTokens(s)
	if err != nil {
		return utils.EstimateTokens(s)
	}
	return n
}

func (g *Generator) HasModel() bool {
	return g.infer != nil
}

// Fallback is the roast returned when generation fails.
func (g *Generator) Fallback() Roast {
	return Roast{
		ID:        "fallback_" + ksuid.New().String(),
		Text:      g.content.Roasts.Fallback,
		Category:  "fallback",
		Stage:     "unknown",
		Timestamp: g.opts.Now(),
	}
}

// guard turns a panic inside fn into the fallback roast.
func (g *Generator) guard(kind string, fn func() Roast) (r Roast) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("roast generation panicked", "kind", kind, "panic", p)
			r = g.Fallback()
		}
	}()
	return fn()
}

// stagePool returns byStage[stageID], or the baby entry for an unknown stage.
func stagePool(byStage map[string][]string, stageID string) []string {
	if pool, ok := byStage[stageID]; ok {
		return pool
	}
	return byStage["baby"]
}

func (g *Generator) stageID(id string) string {
	id = cmp.Or(id, "baby")
	if _, ok := g.calc.Lookup(id); !ok {
		return "baby"
	}
	return id
}

// Instant picks a line for category at stage. Unknown categories use the stage's insults.
func (g *Generator) Instant(stageID, category string) Roast {
	return g.guard("instant", func() Roast {
		stageID := g.stageID(stageID)
		category := cmp.Or(category, "general")

		pool := stagePool(g.content.Roasts.Categories[category], stageID)
		if len(pool) == 0 {
			pools := g.content.Responses.Pools[stageID]
			pool = pools["insults"]
			if len(pool) == 0 {
				pool = pools["greeting"]
			}
		}
		if len(pool) == 0 {
			pool = g.content.Roasts.Generic
		}
		return Roast{
			ID:        "roast_" + ksuid.New().String(),
			Text:      random.Pick(g.rng, pool),
			Category:  category,
			Stage:     stageID,
			Timestamp: g.opts.Now(),
		}
	})
}

// Custom fills the stage's skeleton template from kw, with up to LearnedWordLimit approved
// community words added to the adjectives.
func (g *Generator) Custom(ctx context.Context, kw Keywords, stageID string) Roast {
	return g.guard("custom", func() Roast {
		stageID := g.stageID(stageID)
		r := &g.content.Roasts

		template, ok := r.Templates[stageID]
		if !ok {
			template = r.Templates["baby"]
		}

		placeholders := make(map[string][]string, len(r.Placeholders))
		for k, v := range r.Placeholders {
			placeholders[k] = v
		}
		if len(kw.Adjectives) > 0 {
			placeholders["adjective"] = kw.Adjectives
		}
		if len(kw.Nouns) > 0 {
			placeholders["noun"] = kw.Nouns
		}
		if learned := g.learnedWords(ctx, r.LearnedWordLimit); len(learned) > 0 {
			placeholders["adjective"] = slices.Concat(placeholders["adjective"], learned)
		}

		text := template
		for _, key := range slices.Sorted(maps.Keys(placeholders)) {
			ph, values := "{"+key+"}", placeholders[key]
			if len(values) > 0 && strings.Contains(text, ph) {
				text = strings.ReplaceAll(text, ph, random.Pick(g.rng, values))
			}
		}

		return Roast{
			ID:        "custom_roast_" + ksuid.New().String(),
			Text:      text,
			Category:  "custom",
			Stage:     stageID,
			Keywords:  &kw,
			Timestamp: g.opts.Now(),
		}
	})
}

func (g *Generator) learnedWords(ctx context.Context, limit int) []string {
	if g.vocab == nil || limit <= 0 {
		return nil
	}
	v, err := g.vocab.Load(ctx)
	if err != nil {
		log.Warn("could not load learned words for roast", "error", err)
		return nil
	}
	var words []string
	for _, w := range v.Vocabulary {
		if !w.Approved {
			continue
		}
		words = append(words, w.Word)
		if len(words) == limit {
			break
		}
	}
	return words
}

// Topic picks a line for topic at stage and appends a jab at one of the profile's known
// vulnerabilities. Unknown topics use the intelligence pool.
func (g *Generator) Topic(topic, stageID string, profile *schema.PersonalityProfile) Roast {
	return g.guard("topic", func() Roast {
		stageID := g.stageID(stageID)
		r := &g.content.Roasts

		pool := stagePool(r.Topics[topic], stageID)
		if len(pool) == 0 {
			pool = stagePool(r.Categories["intelligence"], stageID)
		}
		if len(pool) == 0 {
			pool = r.Generic
		}
		text := random.Pick(g.rng, pool)

		enhanced := false
		if profile != nil && len(profile.Vulnerabilities) > 0 {
			enhanced = true
			text += r.Enhancements[random.Pick(g.rng, profile.Vulnerabilities)]
		}

		return Roast{
			ID:                  "topic_roast_" + ksuid.New().String(),
			Text:                text,
			Category:            "topic",
			Topic:               topic,
			Stage:               stageID,
			PersonalityEnhanced: enhanced,
			Timestamp:           g.opts.Now(),
		}
	})
}

var errEmptyRoast = errors.New("model returned an empty roast")

// Model asks the inference backend for a roast in the stage's voice. Without a backend, or
// on any failure, it returns Instant(stage, "general").
func (g *Generator) Model(ctx context.Context, stageID, subject string) Roast {
	stageID = g.stageID(stageID)
	if g.infer == nil {
		return g.Instant(stageID, "general")
	}

	out, err := g.models.Get(ctx, modelKey{stage: stageID, subject: strings.TrimSpace(subject)})
	if err != nil {
		log.Warn("model roast failed, using instant roast", "backend", g.infer.Name(), "error", err)
		return g.Instant(stageID, "general")
	}
	return out
}

// PruneModels drops expired cached model roasts.
func (g *Generator) PruneModels() int {
	return g.models.Prune()
}

func (g *Generator) model(ctx context.Context, stageID, subject string) (Roast, error) {
	info, _ := g.calc.Lookup(stageID)
	if n := g.opts.Tokens(subject); n > maxSubjectTokens {
		subject = utils.LimitStr(subject, maxSubjectTokens*4)
	}

	system := fmt.Sprintf(
		"You are Gombonmongoli, a roast chatbot currently in your %s stage (%s). "+
			"Write exactly one short roast in that voice. Reply only with JSON matching this schema: %s",
		info.Name, info.Description, utils.PrettyJSON(schema.ModelRoastSchema),
	)
	user := cmp.Or(subject, "Roast whoever is reading this.")

	raw, err := g.infer.Infer(ctx, &openai.ChatCompletionNewParams{
		ResponseFormat: schema.ModelRoastResponseFormat(),
	}, system, user)
	if err != nil {
		return Roast{}, err
	}

	var mr schema.ModelRoast
	if err := json.Unmarshal([]byte(raw), &mr); err != nil {
		return Roast{}, fmt.Errorf("decode model roast: %w", err)
	}
	if strings.TrimSpace(mr.Text) == "" {
		return Roast{}, errEmptyRoast
	}
	return Roast{
		ID:        "model_roast_" + ksuid.New().String(),
		Text:      strings.TrimSpace(mr.Text),
		Category:  cmp.Or(mr.Category, "general"),
		Stage:     stageID,
		Topic:     subject,
		Backend:   g.infer.Name(),
		Timestamp: g.opts.Now(),
	}, nil
}
