package config

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"gombonmongoli/pkg/schema"
	"gombonmongoli/pkg/utils"
)

//go:embed defaults/*.json
var defaults embed.FS

// Content holds every data table the chatbot reads. It is loaded once at startup and never
// mutated afterwards.
type Content struct {
	Stages    schema.StageTable
	Responses Responses
	Keywords  Keywords
	Roasts    Roasts
}

// Mode is one row of a stage's response table. Modes are tried in order; Match and Chance
// both have to pass, and a mode with neither always fires.
type Mode struct {
	Type     string            `json:"type"`
	Trigger  string            `json:"trigger"`
	Chance   float64           `json:"chance,omitempty"`
	Match    string            `json:"match,omitempty"`
	Pool     string            `json:"pool,omitempty"`
	Fallback []string          `json:"fallback,omitempty"`
	Vars     map[string]string `json:"vars,omitempty"`
}

type Adaptation struct {
	MinMessages   int      `json:"minMessages"`
	LongLength    float64  `json:"longLength"`
	ShortLength   float64  `json:"shortLength"`
	Long          []string `json:"long"`
	Short         []string `json:"short"`
	EvolvedSuffix string   `json:"evolvedSuffix"`
	EvolvedAfter  int      `json:"evolvedAfter"`
	EvolvedChance float64  `json:"evolvedChance"`
	RecentWindow  int      `json:"recentWindow"`
	AvoidRecent   int      `json:"avoidRecent"`
	AvoidChance   float64  `json:"avoidChance"`
}

type Responses struct {
	// Pools maps stage id -> pool name -> template lines.
	Pools        map[string]map[string][]string `json:"pools"`
	Modes        map[string][]Mode              `json:"modes"`
	Moods        map[string][]string            `json:"moods"`
	DefaultMoods string                         `json:"defaultMoods"`
	// Fillers are the word lists used to fill template placeholders.
	Fillers map[string][]string `json:"fillers"`
	// Defaults maps a placeholder to the filler (or @builtin) used when a mode does not say.
	Defaults       map[string]string `json:"defaults"`
	Insights       map[string]string `json:"insights"`
	DefaultInsight string            `json:"defaultInsight"`
	Adaptation     Adaptation        `json:"adaptation"`
	Speechless     string            `json:"speechless"`
	Fallback       string            `json:"fallback"`
}

// Category is a named keyword list. Lists keep file order so profiling output is stable.
type Category struct {
	Name  string   `json:"name"`
	Words []string `json:"words"`
}

type Keywords struct {
	Greetings               []string   `json:"greetings"`
	Goodbyes                []string   `json:"goodbyes"`
	TopicCategories         []Category `json:"topic_categories"`
	PsychologicalKeywords   []Category `json:"psychological_keywords"`
	VulnerabilityIndicators []Category `json:"vulnerability_indicators"`
	Cringe                  []string   `json:"cringe"`
	Generations             []Category `json:"generations"`
	DefaultGeneration       string     `json:"defaultGeneration"`
	CommonWords             []string   `json:"commonWords"`
	NewWordMinLength        int        `json:"newWordMinLength"`
	CopycatMinLength        int        `json:"copycatMinLength"`
}

type Roasts struct {
	// Categories maps category -> stage id -> lines.
	Categories map[string]map[string][]string `json:"categories"`
	// Topics maps topic -> stage id -> lines.
	Topics           map[string]map[string][]string `json:"topics"`
	Templates        map[string]string              `json:"templates"`
	Placeholders     map[string][]string            `json:"placeholders"`
	Enhancements     map[string]string              `json:"enhancements"`
	LearnedWordLimit int                            `json:"learnedWordLimit"`
	Generic          []string                       `json:"generic"`
	Fallback         string                         `json:"fallback"`
}

var ErrInvalidStages = errors.New("invalid stage table")

// LoadContent reads the four content tables. A file present in dir overrides the embedded
// default; a present but unreadable file is an error.
func LoadContent(dir string) (*Content, error) {
	var c Content
	if err := loadTable(dir, "stages.json", &c.Stages); err != nil {
		return nil, err
	}
	if err := ValidateStages(c.Stages.Stages); err != nil {
		return nil, err
	}
	if err := loadTable(dir, "responses.json", &c.Responses); err != nil {
		return nil, err
	}
	if err := loadTable(dir, "keywords.json", &c.Keywords); err != nil {
		return nil, err
	}
	if err := loadTable(dir, "roasts.json", &c.Roasts); err != nil {
		return nil, err
	}
	return &c, nil
}

// DefaultContent returns the embedded tables. It panics if they do not parse, which can
// only happen with a broken build.
func DefaultContent() *Content {
	c, err := LoadContent("")
	if err != nil {
		panic(err)
	}
	return c
}

func loadTable[T any](dir, name string, dst *T) error {
	if dir != "" {
		path := filepath.Join(dir, name)
		v, err := utils.Load[T](path)
		switch {
		case err == nil:
			*dst = v
			log.Info("loaded content table", "path", path)
			return nil
		case !errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("load %s: %w", path, err)
		}
	}

	b, err := defaults.ReadFile("defaults/" + name)
	if err != nil {
		return fmt.Errorf("read embedded %s: %w", name, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("parse embedded %s: %w", name, err)
	}
	return nil
}

// ValidateStages checks the table is non-empty and strictly ascending by minInteractions,
// starting at zero.
func ValidateStages(stages []schema.Stage) error {
	if len(stages) == 0 {
		return fmt.Errorf("%w: no stages", ErrInvalidStages)
	}
	if stages[0].MinInteractions != 0 {
		return fmt.Errorf("%w: first stage %q starts at %d, not 0", ErrInvalidStages, stages[0].ID, stages[0].MinInteractions)
	}
	seen := make(map[string]struct{}, len(stages))
	for i, s := range stages {
		if s.ID == "" {
			return fmt.Errorf("%w: stage %d has no id", ErrInvalidStages, i)
		}
		if _, ok := seen[s.ID]; ok {
			return fmt.Errorf("%w: duplicate stage %q", ErrInvalidStages, s.ID)
		}
		seen[s.ID] = struct{}{}
		if i > 0 && s.MinInteractions <= stages[i-1].MinInteractions {
			return fmt.Errorf("%w: stage %q does not start after %q", ErrInvalidStages, s.ID, stages[i-1].ID)
		}
	}
	return nil
}
