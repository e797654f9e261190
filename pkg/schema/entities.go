package schema

import "time"

type Stage struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Emoji           string   `json:"emoji"`
	MinInteractions int      `json:"minInteractions"`
	MaxInteractions int      `json:"maxInteractions"`
	Description     string   `json:"description"`
	Features        []string `json:"features"`
}

type StageTable struct {
	Stages []Stage `json:"stages"`
	// Celebrations maps a stage id to the line recorded when that stage is reached.
	Celebrations map[string]string `json:"celebrations"`
}

type Milestone struct {
	Stage                   string    `json:"stage"`
	ReachedAt               time.Time `json:"reachedAt"`
	InteractionCountAtReach int       `json:"interactionCountAtReach"`
	CelebrationText         string    `json:"celebrationText"`
	Forced                  bool      `json:"forced,omitempty"`
}

type DailyStats struct {
	Date              string  `json:"date"`
	TodayInteractions int     `json:"todayInteractions"`
	AverageRating     float64 `json:"averageRating"`
	RatingCount       int     `json:"ratingCount"`
}

// Reversion temporarily overrides the stage used for responses until RevertAt.
type Reversion struct {
	OriginalStage  string    `json:"originalStage"`
	TemporaryStage string    `json:"temporaryStage"`
	StartedAt      time.Time `json:"startedAt"`
	RevertAt       time.Time `json:"revertAt"`
	Reason         string    `json:"reason"`
}

func (r *Reversion) Active(now time.Time) bool {
	return r != nil && now.Before(r.RevertAt)
}

type GlobalState struct {
	TotalInteractions    int         `json:"totalInteractions"`
	CurrentStage         string      `json:"currentStage"`
	StageProgressPercent int         `json:"stageProgressPercent"`
	EvolutionMilestones  []Milestone `json:"evolutionMilestones"`
	DailyStats           DailyStats  `json:"dailyStats"`
	Reversion            *Reversion  `json:"reversion,omitempty"`
	LastUpdated          time.Time   `json:"lastUpdated"`
}

func DefaultGlobalState() GlobalState {
	return GlobalState{
		CurrentStage:        "baby",
		EvolutionMilestones: []Milestone{},
	}
}

type ConversationEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	UserInput     string    `json:"userInput"`
	UserMessageID string    `json:"userMessageId"`
}

type PersonalityProfile struct {
	Topics          []string          `json:"topics"`
	Vulnerabilities []string          `json:"vulnerabilities"`
	Triggers        []string          `json:"triggers"`
	Traits          map[string]string `json:"traits,omitempty"`
}

func NewPersonalityProfile() PersonalityProfile {
	return PersonalityProfile{
		Topics:          []string{},
		Vulnerabilities: []string{},
		Triggers:        []string{},
	}
}

type Session struct {
	UserID              string              `json:"userId"`
	StartTime           time.Time           `json:"startTime"`
	LastActivity        time.Time           `json:"lastActivity"`
	ConversationHistory []ConversationEntry `json:"conversationHistory"`
	PersonalityProfile  PersonalityProfile  `json:"personalityProfile"`
	TotalRoasts         int                 `json:"totalRoasts"`
}

type SessionStore struct {
	Sessions    map[string]*Session `json:"sessions"`
	LastCleanup time.Time           `json:"lastCleanup"`
}

func DefaultSessionStore() SessionStore {
	return SessionStore{Sessions: make(map[string]*Session)}
}

type LearnedWord struct {
	Word        string    `json:"word"`
	Context     string    `json:"context"`
	LearnedFrom string    `json:"learnedFrom"`
	SessionID   string    `json:"sessionId"`
	LearnedAt   time.Time `json:"learnedAt"`
	Frequency   int       `json:"frequency"`
	LastUsed    time.Time `json:"lastUsed"`
	Approved    bool      `json:"approved"`
}

type Vocabulary struct {
	Vocabulary  []LearnedWord `json:"vocabulary"`
	LastUpdated time.Time     `json:"lastUpdated"`
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{Vocabulary: []LearnedWord{}}
}

type Burn struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Category  string     `json:"category"`
	Stage     string     `json:"stage"`
	SessionID string     `json:"sessionId"`
	Context   string     `json:"context"`
	Rating    float64    `json:"rating"`
	Votes     int        `json:"votes"`
	Approved  bool       `json:"approved"`
	CreatedAt time.Time  `json:"createdAt"`
	LastRated *time.Time `json:"lastRated,omitempty"`
}

type HallOfFameEntry struct {
	Burn
	InductedAt time.Time `json:"inductedAt"`
}

type BurnBoard struct {
	Burns      []Burn            `json:"burns"`
	HallOfFame []HallOfFameEntry `json:"hallOfFame"`
}

func DefaultBurnBoard() BurnBoard {
	return BurnBoard{Burns: []Burn{}, HallOfFame: []HallOfFameEntry{}}
}
