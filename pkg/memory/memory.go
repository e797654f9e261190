// Package memory exposes what the chatbot remembers: per-session conversation and profile
// data, and the vocabulary taught by the community.
package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"gombonmongoli/pkg/schema"
	"gombonmongoli/pkg/store"
	"gombonmongoli/pkg/utils"
)

const (
	vocabularyLimit = 100
	recentLimit     = 5
)

var ErrEmptyWord = errors.New("word is required")

type Memory struct {
	global   store.Document[schema.GlobalState]
	sessions store.Document[schema.SessionStore]
	vocab    store.Document[schema.Vocabulary]
	// maxVocabulary caps the stored words; zero is unlimited.
	maxVocabulary int
	now           func() time.Time
}

func New(stores *store.Stores, maxVocabulary int, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		global:        stores.Global,
		sessions:      stores.Sessions,
		vocab:         stores.Vocabulary,
		maxVocabulary: maxVocabulary,
		now:           now,
	}
}

type Lesson struct {
	Word      string `json:"word"`
	Context   string `json:"context"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

type Learned struct {
	Word      schema.LearnedWord `json:"word"`
	IsNewWord bool               `json:"isNewWord"`
	WordCount int                `json:"wordCount"`
}

// Teach adds a word, or bumps the frequency of a word already known (compared case
// insensitively).
func (m *Memory) Teach(ctx context.Context, l Lesson) (Learned, error) {
	word := strings.ToLower(strings.TrimSpace(l.Word))
	if word == "" {
		return Learned{}, ErrEmptyWord
	}

	var out Learned
	v, err := m.vocab.Update(ctx, func(v *schema.Vocabulary) error {
		now := m.now()
		out = Learned{}
		i := slices.IndexFunc(v.Vocabulary, func(w schema.LearnedWord) bool {
			return strings.EqualFold(w.Word, word)
		})
		if i >= 0 {
			v.Vocabulary[i].Frequency++
			v.Vocabulary[i].LastUsed = now
			out.Word = v.Vocabulary[i]
		} else {
			out.IsNewWord = true
			out.Word = schema.LearnedWord{
				Word:        word,
				Context:     l.Context,
				LearnedFrom: cmp.Or(l.UserID, "anonymous"),
				SessionID:   cmp.Or(l.SessionID, "unknown"),
				LearnedAt:   now,
				Frequency:   1,
				LastUsed:    now,
				Approved:    true,
			}
			v.Vocabulary = append(v.Vocabulary, out.Word)
		}
		v.LastUpdated = now
		if dropped := trim(v, m.maxVocabulary); dropped > 0 {
			log.Debug("vocabulary trimmed", "dropped", dropped, "limit", m.maxVocabulary)
		}
		return nil
	})
	if err != nil {
		return Learned{}, fmt.Errorf("teach %q: %w", word, err)
	}
	out.WordCount = len(v.Vocabulary)
	if out.IsNewWord {
		log.Info("learned new word", "word", word, "from", out.Word.LearnedFrom)
	}
	return out, nil
}

// trim keeps the limit most frequent words, preferring the most recently used on ties.
func trim(v *schema.Vocabulary, limit int) int {
	if limit <= 0 || len(v.Vocabulary) <= limit {
		return 0
	}
	dropped := len(v.Vocabulary) - limit
	slices.SortStableFunc(v.Vocabulary, func(a, b schema.LearnedWord) int {
		return cmp.Or(cmp.Compare(b.Frequency, a.Frequency), b.LastUsed.Compare(a.LastUsed))
	})
	v.Vocabulary = slices.Clip(v.Vocabulary[:limit])
	return dropped
}

type VocabularyView struct {
	Vocabulary    []schema.LearnedWord `json:"vocabulary"`
	TotalWords    int                  `json:"totalWords"`
	LastUpdated   time.Time            `json:"lastUpdated"`
	MostUsed      string               `json:"mostUsed"`
	RecentlyAdded []string             `json:"recentlyAdded"`
}

func (m *Memory) Vocabulary(ctx context.Context) (VocabularyView, error) {
	v, err := m.vocab.Load(ctx)
	if err != nil {
		return VocabularyView{}, err
	}

	approved := slices.DeleteFunc(slices.Clone(v.Vocabulary), func(w schema.LearnedWord) bool { return !w.Approved })
	slices.SortStableFunc(approved, func(a, b schema.LearnedWord) int { return cmp.Compare(b.Frequency, a.Frequency) })
	approved = approved[:min(vocabularyLimit, len(approved))]

	recent := slices.Clone(v.Vocabulary)
	slices.SortStableFunc(recent, func(a, b schema.LearnedWord) int { return b.LearnedAt.Compare(a.LearnedAt) })
	names := make([]string, 0, recentLimit)
	for _, w := range recent[:min(recentLimit, len(recent))] {
		names = append(names, w.Word)
	}

	view := VocabularyView{
		Vocabulary:    approved,
		TotalWords:    len(v.Vocabulary),
		LastUpdated:   v.LastUpdated,
		MostUsed:      "none",
		RecentlyAdded: names,
	}
	if len(approved) > 0 {
		view.MostUsed = approved[0].Word
	}
	return view, nil
}

type SessionView struct {
	SessionID           string                     `json:"sessionId"`
	PersonalityProfile  schema.PersonalityProfile  `json:"personalityProfile"`
	ConversationHistory []schema.ConversationEntry `json:"conversationHistory"`
	SessionStats        SessionStats               `json:"sessionStats"`
}

type SessionStats struct {
	MessageCount   int       `json:"messageCount"`
	SessionStarted time.Time `json:"sessionStarted"`
	LastActivity   time.Time `json:"lastActivity"`
	TotalRoasts    int       `json:"totalRoasts"`
}

func (m *Memory) Session(ctx context.Context, id string) (SessionView, error) {
	s, err := m.sessions.Load(ctx)
	if err != nil {
		return SessionView{}, err
	}
	sess, ok := s.Sessions[id]
	if !ok || sess == nil {
		return SessionView{}, fmt.Errorf("%w: %s", store.ErrSessionNotFound, id)
	}
	return SessionView{
		SessionID:           id,
		PersonalityProfile:  sess.PersonalityProfile,
		ConversationHistory: utils.NonNil(sess.ConversationHistory),
		SessionStats: SessionStats{
			MessageCount:   len(sess.ConversationHistory),
			SessionStarted: sess.StartTime,
			LastActivity:   sess.LastActivity,
			TotalRoasts:    sess.TotalRoasts,
		},
	}, nil
}

// ProfilePatch replaces the lists that are set and merges Traits into the existing traits.
type ProfilePatch struct {
	Traits          map[string]string `json:"traits"`
	Vulnerabilities []string          `json:"vulnerabilities"`
	Triggers        []string          `json:"triggers"`
	Topics          []string          `json:"topics"`
}

// PatchProfile applies p to the session's profile, creating the session when it does not
// exist yet.
func (m *Memory) PatchProfile(ctx context.Context, id string, p ProfilePatch) (schema.PersonalityProfile, error) {
	var out schema.PersonalityProfile
	_, err := m.sessions.Update(ctx, func(s *schema.SessionStore) error {
		now := m.now()
		if s.Sessions == nil {
			s.Sessions = make(map[string]*schema.Session)
		}
		sess, ok := s.Sessions[id]
		if !ok || sess == nil {
			sess = &schema.Session{
				UserID:              "anonymous",
				StartTime:           now,
				ConversationHistory: []schema.ConversationEntry{},
				PersonalityProfile:  schema.NewPersonalityProfile(),
			}
			s.Sessions[id] = sess
		}

		profile := &sess.PersonalityProfile
		if p.Traits != nil {
			if profile.Traits == nil {
				profile.Traits = make(map[string]string, len(p.Traits))
			}
			maps.Copy(profile.Traits, p.Traits)
		}
		if p.Vulnerabilities != nil {
			profile.Vulnerabilities = p.Vulnerabilities
		}
		if p.Triggers != nil {
			profile.Triggers = p.Triggers
		}
		if p.Topics != nil {
			profile.Topics = p.Topics
		}
		sess.LastActivity = now
		out = *profile
		return nil
	})
	if err != nil {
		return schema.PersonalityProfile{}, fmt.Errorf("patch profile %s: %w", id, err)
	}
	return out, nil
}

type Stats struct {
	TotalSessions        int         `json:"totalSessions"`
	TotalMessages        int         `json:"totalMessages"`
	VocabularySize       int         `json:"vocabularySize"`
	TotalInteractions    int         `json:"totalInteractions"`
	AverageSessionLength float64     `json:"averageSessionLength"`
	MemoryStats          MemoryStats `json:"memoryStats"`
}

type MemoryStats struct {
	OldestSession     *time.Time `json:"oldestSession"`
	NewestSession     *time.Time `json:"newestSession"`
	MostActiveSession *string    `json:"mostActiveSession"`
}

func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	s, err := m.sessions.Load(ctx)
	if err != nil {
		return Stats{}, err
	}
	v, err := m.vocab.Load(ctx)
	if err != nil {
		return Stats{}, err
	}
	g, err := m.global.Load(ctx)
	if err != nil {
		return Stats{}, err
	}

	out := Stats{
		TotalSessions:     len(s.Sessions),
		VocabularySize:    len(v.Vocabulary),
		TotalInteractions: g.TotalInteractions,
	}

	mostActive := -1
	// Sorted ids keep the most active pick stable on ties.
	for _, id := range slices.Sorted(maps.Keys(s.Sessions)) {
		sess := s.Sessions[id]
		if sess == nil {
			continue
		}
		n := len(sess.ConversationHistory)
		out.TotalMessages += n
		if n > mostActive {
			mostActive = n
			out.MemoryStats.MostActiveSession = &id
		}
		start := sess.StartTime
		if out.MemoryStats.OldestSession == nil || start.Before(*out.MemoryStats.OldestSession) {
			out.MemoryStats.OldestSession = &start
		}
		if out.MemoryStats.NewestSession == nil || start.After(*out.MemoryStats.NewestSession) {
			out.MemoryStats.NewestSession = &start
		}
	}
	out.AverageSessionLength = float64(out.TotalMessages) / float64(max(out.TotalSessions, 1))
	return out, nil
}
