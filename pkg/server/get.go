package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"

	"gombonmongoli/pkg/schema"
	"gombonmongoli/pkg/stage"
	"gombonmongoli/pkg/store"
	"gombonmongoli/pkg/utils"
)

// GET /ping
func (s *Server) handleGetPing(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "alive",
		"timestamp": s.Now(),
		"uptime":    int(time.Since(s.started).Seconds()),
	})
}

// GET /keep-alive
func (s *Server) handleGetKeepAlive(c echo.Context) error {
	log.Debug("keep-alive ping received")
	return c.String(http.StatusOK, "OK")
}

// GET /api/health
func (s *Server) handleGetHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": s.Now(),
		"uptime":    time.Since(s.started).Seconds(),
		"store":     s.Stores.Backend,
		"model":     s.Roasts.HasModel(),
	})
}

// GET /api/status
func (s *Server) handleGetStatus(c echo.Context) error {
	state, err := s.Tracker.State(c.Request().Context())
	if err != nil {
		log.Error("status failed", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("Failed to get status"))
	}
	info, _ := s.Stages.Lookup(state.CurrentStage)
	return c.JSON(http.StatusOK, map[string]any{
		"totalInteractions": state.TotalInteractions,
		"currentStage":      state.CurrentStage,
		"effectiveStage":    stage.Effective(state, s.Now()),
		"stageInfo":         info,
		"progressPercent":   state.StageProgressPercent,
		"dailyStats":        state.DailyStats,
	})
}

// GET /api/chat/history/:sessionId
func (s *Server) handleGetHistory(c echo.Context) error {
	sess, err := s.Tracker.Session(c.Request().Context(), c.Param("sessionId"))
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Session not found")
	case err != nil:
		log.Error("history failed", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("Failed to get conversation history"))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"conversationHistory": utils.NonNil(sess.ConversationHistory),
		"personalityProfile":  sess.PersonalityProfile,
		"sessionStats": map[string]any{
			"messageCount":   len(sess.ConversationHistory),
			"sessionStarted": sess.StartTime,
			"lastActivity":   sess.LastActivity,
		},
	})
}

// GET /api/evolution/status
func (s *Server) handleGetEvolutionStatus(c echo.Context) error {
	state, err := s.Tracker.State(c.Request().Context())
	if err != nil {
		log.Error("evolution status failed", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("Failed to get evolution status"))
	}
	info, _ := s.Stages.Lookup(state.CurrentStage)
	est := s.Stages.TimeToNext(state.TotalInteractions)
	return c.JSON(http.StatusOK, map[string]any{
		"totalInteractions": state.TotalInteractions,
		"currentStage":      state.CurrentStage,
		"effectiveStage":    stage.Effective(state, s.Now()),
		"stageInfo":         info,
		"nextStage":         est.NextStage,
		"progressPercent":   state.StageProgressPercent,
		"milestones":        utils.NonNil(state.EvolutionMilestones),
		"reversion":         state.Reversion,
		"timeToNext":        est,
		"isEvolutionReady":  s.Stages.IsEvolutionReady(state.TotalInteractions, state.CurrentStage),
	})
}

// GET /api/evolution/stages
func (s *Server) handleGetStages(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"stages":     s.Stages.Stages(),
		"thresholds": s.Stages.Thresholds(),
	})
}

type timelineEntry struct {
	Stage            string    `json:"stage"`
	Reached          time.Time `json:"reached"`
	InteractionCount int       `json:"interactionCount"`
	CelebrationBurn  string    `json:"celebrationBurn"`
	Forced           bool      `json:"forced"`
}

// GET /api/evolution/history
func (s *Server) handleGetEvolutionHistory(c echo.Context) error {
	state, err := s.Tracker.State(c.Request().Context())
	if err != nil {
		log.Error("evolution history failed", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("Failed to get evolution history"))
	}
	timeline := make([]timelineEntry, 0, len(state.EvolutionMilestones))
	for _, m := range state.EvolutionMilestones {
		timeline = append(timeline, timelineEntry{
			Stage:            m.Stage,
			Reached:          m.ReachedAt,
			InteractionCount: m.InteractionCountAtReach,
			CelebrationBurn:  m.CelebrationText,
			Forced:           m.Forced,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"milestones":        utils.NonNil(state.EvolutionMilestones),
		"totalInteractions": state.TotalInteractions,
		"evolutionTimeline": timeline,
	})
}

// GET /api/community/burns?limit=&category=
func (s *Server) handleGetBurns(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	listing, err := s.Community.List(c.Request().Context(), limit, c.QueryParam("category"))
	if err != nil {
		log.Error("list burns failed", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("Failed to get community burns"))
	}
	return c.JSON(http.StatusOK, listing)
}

// GET /api/community/stats
func (s *Server) handleGetCommunityStats(c echo.Context) error {
	stats, err := s.Community.Stats(c.Request().Context())
	if err != nil {
		log.Error("community stats failed", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("Failed to get community stats"))
	}
	return c.JSON(http.StatusOK, stats)
}

// GET /api/community/events
func (s *Server) handleGetEvents(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Community.Events())
}

// GET /api/memory/session/:sessionId
func (s *Server) handleGetMemorySession(c echo.Context) error {
	view, err := s.Memory.Session(c.Request().Context(), c.Param("sessionId"))
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Session not found")
	case err != nil:
		log.Error("session memory failed", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("Failed to get session memory"))
	}
	return c.JSON(http.StatusOK, view)
}

// GET /api/memory/vocabulary
func (s *Server) handleGetVocabulary(c echo.Context) error {
	view, err := s.Memory.Vocabulary(c.Request().Context())
	if err != nil {
		log.Error("vocabulary failed", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("Failed to get vocabulary"))
	}
	return c.JSON(http.StatusOK, view)
}

// GET /api/memory/stats
func (s *Server) handleGetMemoryStats(c echo.Context) error {
	stats, err := s.Memory.Stats(c.Request().Context())
	if err != nil {
		log.Error("memory stats failed", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("Failed to get memory stats"))
	}
	return c.JSON(http.StatusOK, stats)
}

// GET /api/roast/instant?stage=&category=
func (s *Server) handleGetInstantRoast(c echo.Context) error {
	stageID := c.QueryParam("stage")
	if stageID == "" {
		stageID = s.currentStage(c)
	}
	return c.JSON(http.StatusOK, s.Roasts.Instant(stageID, c.QueryParam("category")))
}

// currentStage is the effective stage, or "" when the state cannot be read.
func (s *Server) currentStage(c echo.Context) string {
	state, err := s.Tracker.State(c.Request().Context())
	if err != nil {
		log.Warn("could not read stage for roast", "error", err)
		return ""
	}
	return stage.Effective(state, s.Now())
}

// profileFor returns the stored profile of sessionID, or nil.
func (s *Server) profileFor(c echo.Context, sessionID string) *schema.PersonalityProfile {
	if sessionID == "" {
		return nil
	}
	sess, err := s.Tracker.Session(c.Request().Context(), sessionID)
	if err != nil {
		return nil
	}
	return &sess.PersonalityProfile
}
