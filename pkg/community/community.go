// Package community keeps the user submitted burns, their ratings and the hall of fame.
package community

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

	"gombonmongoli/pkg/schema"
	"gombonmongoli/pkg/store"
	"gombonmongoli/pkg/utils"
)

const (
	DefaultLimit = 20

	// A burn is inducted once its rating is above HallOfFameRating with at least
	// HallOfFameVotes votes. Inductions are never undone.
	HallOfFameRating = 8.5
	HallOfFameVotes  = 5
)

var (
	ErrBurnNotFound  = errors.New("burn not found")
	ErrInvalidRating = errors.New("rating must be between 1 and 10")
	ErrEmptyBurn     = errors.New("burn text is required")
)

// Categories are the burn categories offered to submitters.
var Categories = []string{"savage", "clever", "psychological", "philosophical", "legendary"}

type Board struct {
	burns    store.Document[schema.BurnBoard]
	global   store.Document[schema.GlobalState]
	sessions store.Document[schema.SessionStore]
	vocab    store.Document[schema.Vocabulary]
	now      func() time.Time
}

func New(stores *store.Stores, now func() time.Time) *Board {
	if now == nil {
		now = time.Now
	}
	return &Board{
		burns:    stores.Burns,
		global:   stores.Global,
		sessions: stores.Sessions,
		vocab:    stores.Vocabulary,
		now:      now,
	}
}

type Listing struct {
	Burns      []schema.Burn            `json:"burns"`
	Categories []string                 `json:"categories"`
	HallOfFame []schema.HallOfFameEntry `json:"hallOfFame"`
	Stats      ListingStats             `json:"stats"`
}

type ListingStats struct {
	TotalBurns    int          `json:"totalBurns"`
	AverageRating float64      `json:"averageRating"`
	TopRated      *schema.Burn `json:"topRated"`
}

// List returns up to limit burns of category ("" or "all" for every category), best rated
// first.
func (b *Board) List(ctx context.Context, limit int, category string) (Listing, error) {
	board, err := b.burns.Load(ctx)
	if err != nil {
		return Listing{}, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	burns := make([]schema.Burn, 0, len(board.Burns))
	for _, burn := range board.Burns {
		if category == "" || category == "all" || burn.Category == category {
			burns = append(burns, burn)
		}
	}
	sortByRating(burns)
	burns = burns[:min(limit, len(burns))]

	out := Listing{
		Burns:      burns,
		Categories: Categories,
		HallOfFame: utils.NonNil(board.HallOfFame),
		Stats:      ListingStats{TotalBurns: len(board.Burns)},
	}
	if len(burns) > 0 {
		out.Stats.AverageRating = averageRating(burns)
		out.Stats.TopRated = &burns[0]
	}
	return out, nil
}

type Submission struct {
	Text      string `json:"text"`
	Category  string `json:"category"`
	Stage     string `json:"stage"`
	SessionID string `json:"sessionId"`
	Context   string `json:"context"`
}

func (b *Board) Submit(ctx context.Context, s Submission) (schema.Burn, error) {
	text := strings.TrimSpace(s.Text)
	if text == "" {
		return schema.Burn{}, ErrEmptyBurn
	}
	burn := schema.Burn{
		ID:        "burn_" + ksuid.New().String(),
		Text:      text,
		Category:  cmp.Or(s.Category, "general"),
		Stage:     cmp.Or(s.Stage, "unknown"),
		SessionID: cmp.Or(s.SessionID, "anonymous"),
		Context:   s.Context,
		Approved:  true,
		CreatedAt: b.now(),
	}
	_, err := b.burns.Update(ctx, func(board *schema.BurnBoard) error {
		board.Burns = append(board.Burns, burn)
		return nil
	})
	if err != nil {
		return schema.Burn{}, fmt.Errorf("submit burn: %w", err)
	}
	log.Info("burn submitted", "id", burn.ID, "category", burn.Category)
	return burn, nil
}

type RateResult struct {
	Burn     schema.Burn `json:"burn"`
	Inducted bool        `json:"inducted"`
	Worthy   bool        `json:"hallOfFameWorthy"`
	Message  string      `json:"message"`
}

// Rate adds one vote. The stored rating is the exact running mean of every vote.
func (b *Board) Rate(ctx context.Context, id string, rating float64) (RateResult, error) {
	if rating < 1 || rating > 10 {
		return RateResult{}, ErrInvalidRating
	}

	var res RateResult
	_, err := b.burns.Update(ctx, func(board *schema.BurnBoard) error {
		res = RateResult{}
		i := slices.IndexFunc(board.Burns, func(burn schema.Burn) bool { return burn.ID == id })
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrBurnNotFound, id)
		}

		now := b.now()
		burn := &board.Burns[i]
		burn.Rating = (burn.Rating*float64(burn.Votes) + rating) / float64(burn.Votes+1)
		burn.Votes++
		burn.LastRated = &now

		res.Worthy = Worthy(*burn)
		inducted := slices.ContainsFunc(board.HallOfFame, func(e schema.HallOfFameEntry) bool { return e.ID == id })
		if res.Worthy && !inducted {
			board.HallOfFame = append(board.HallOfFame, schema.HallOfFameEntry{Burn: *burn, InductedAt: now})
			res.Inducted = true
		}
		res.Burn = *burn
		res.Message = "Your standards are questionable, but noted."
		if rating > 7 {
			res.Message = "Excellent taste in burns!"
		}
		return nil
	})
	if err != nil {
		return RateResult{}, err
	}
	if res.Inducted {
		log.Info("burn inducted into hall of fame", "id", id, "rating", res.Burn.Rating, "votes", res.Burn.Votes)
	}
	return res, nil
}

func Worthy(burn schema.Burn) bool {
	return burn.Rating > HallOfFameRating && burn.Votes >= HallOfFameVotes
}

type Stats struct {
	Community struct {
		TotalInteractions int    `json:"totalInteractions"`
		TotalSessions     int    `json:"totalSessions"`
		CurrentStage      string `json:"currentStage"`
		VocabularySize    int    `json:"vocabularySize"`
	} `json:"community"`
	Burns struct {
		Total         int          `json:"total"`
		HallOfFame    int          `json:"hallOfFame"`
		AverageRating float64      `json:"averageRating"`
		TopRated      *schema.Burn `json:"topRated"`
	} `json:"burns"`
	Milestones []schema.Milestone `json:"milestones"`
	Activity   struct {
		DailyInteractions int      `json:"dailyInteractions"`
		PopularTopics     []string `json:"popularTopics"`
	} `json:"activity"`
}

// Stats aggregates across every document.
func (b *Board) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	global, err := b.global.Load(ctx)
	if err != nil {
		return s, err
	}
	board, err := b.burns.Load(ctx)
	if err != nil {
		return s, err
	}
	sessions, err := b.sessions.Load(ctx)
	if err != nil {
		return s, err
	}
	vocab, err := b.vocab.Load(ctx)
	if err != nil {
		return s, err
	}

	s.Community.TotalInteractions = global.TotalInteractions
	s.Community.TotalSessions = len(sessions.Sessions)
	s.Community.CurrentStage = global.CurrentStage
	s.Community.VocabularySize = len(vocab.Vocabulary)

	s.Burns.Total = len(board.Burns)
	s.Burns.HallOfFame = len(board.HallOfFame)
	if len(board.Burns) > 0 {
		burns := slices.Clone(board.Burns)
		sortByRating(burns)
		s.Burns.AverageRating = averageRating(burns)
		s.Burns.TopRated = &burns[0]
	}

	s.Milestones = utils.NonNil(global.EvolutionMilestones)
	s.Activity.DailyInteractions = global.DailyStats.TodayInteractions
	s.Activity.PopularTopics = popularTopics(sessions, 5)
	return s, nil
}

// popularTopics ranks profile topics by how many sessions mention them.
func popularTopics(s schema.SessionStore, n int) []string {
	counts := make(map[string]int)
	for _, sess := range s.Sessions {
		if sess == nil {
			continue
		}
		for _, t := range sess.PersonalityProfile.Topics {
			counts[t]++
		}
	}
	topics := make([]string, 0, len(counts))
	for t := range counts {
		topics = append(topics, t)
	}
	slices.SortFunc(topics, func(a, b string) int {
		return cmp.Or(cmp.Compare(counts[b], counts[a]), strings.Compare(a, b))
	})
	return topics[:min(n, len(topics))]
}

type Event struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Status      string `json:"status"`
}

type Events struct {
	Active   []Event `json:"activeEvents"`
	Upcoming []Event `json:"upcomingEvents"`
	Past     []Event `json:"pastEvents"`
}

// Events is a fixed list; there is no event engine behind it.
func (b *Board) Events() Events {
	return Events{
		Active: []Event{},
		Upcoming: []Event{
			{
				ID:          "chaos_mode",
				Name:        "Community Chaos Mode",
				Description: "Vote to temporarily revert Gombonmongoli to baby stage",
				Type:        "voting",
				Status:      "planned",
			},
			{
				ID:          "burn_battle",
				Name:        "Ultimate Burn Battle",
				Description: "Community vs Gombonmongoli roast competition",
				Type:        "competition",
				Status:      "planned",
			},
		},
		Past: []Event{},
	}
}

func sortByRating(burns []schema.Burn) {
	slices.SortStableFunc(burns, func(a, b schema.Burn) int {
		return cmp.Compare(b.Rating, a.Rating)
	})
}

func averageRating(burns []schema.Burn) float64 {
	var sum float64
	for _, b := range burns {
		sum += b.Rating
	}
	return sum / float64(max(len(burns), 1))
}
