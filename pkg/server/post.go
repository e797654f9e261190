package server

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/segmentio/ksuid"

	"gombonmongoli/pkg/community"
	"gombonmongoli/pkg/memory"
	"gombonmongoli/pkg/response"
	"gombonmongoli/pkg/roast"
	"gombonmongoli/pkg/schema"
	"gombonmongoli/pkg/stage"
	"gombonmongoli/pkg/tracker"
	"gombonmongoli/pkg/utils"
)

type chatReq struct {
	Message   string `json:"message"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

type chatMetadata struct {
	ResponseType string    `json:"responseType"`
	Trigger      string    `json:"trigger"`
	Mood         string    `json:"mood,omitempty"`
	StageChanged bool      `json:"stageChanged"`
	MessageID    string    `json:"messageId"`
	Timestamp    time.Time `json:"timestamp"`
}

type ChatResponse struct {
	Response          string        `json:"response"`
	Stage             string        `json:"stage"`
	StageInfo         *schema.Stage `json:"stageInfo"`
	SessionID         string        `json:"sessionId"`
	TotalInteractions int           `json:"totalInteractions"`
	ProgressPercent   int           `json:"progressPercent"`
	Features          []string      `json:"features"`
	Metadata          chatMetadata  `json:"metadata"`
}

// POST /api/chat
func (s *Server) handlePostChat(c echo.Context) error {
	var req chatReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Message is required")
	}
	if req.UserID == "" {
		req.UserID = "user_" + ksuid.New().String()
	}

	ctx := c.Request().Context()
	now := s.Now()
	out, err := s.Tracker.Record(ctx, tracker.Interaction{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Message:   req.Message,
		Timestamp: now,
	})
	if err != nil {
		log.Error("chat interaction failed", "error", err)
		body := utils.ErrJSON("Failed to generate response")
		body["fallback"] = s.Content.Responses.Fallback
		if errors.Is(err, tracker.ErrSessionNotSaved) {
			body["counted"] = true
			body["totalInteractions"] = out.TotalInteractions
		}
		return c.JSON(http.StatusInternalServerError, body)
	}

	reply := s.Responses.Respond(ctx, response.Request{
		Message:           req.Message,
		UserID:            req.UserID,
		Stage:             out.EffectiveStage,
		TotalInteractions: out.TotalInteractions,
	})

	return c.JSON(http.StatusOK, ChatResponse{
		Response:          reply.Text,
		Stage:             reply.Stage,
		StageInfo:         reply.StageInfo,
		SessionID:         out.SessionID,
		TotalInteractions: out.TotalInteractions,
		ProgressPercent:   reply.ProgressPercent,
		Features:          reply.Features,
		Metadata: chatMetadata{
			ResponseType: reply.Type,
			Trigger:      reply.Trigger,
			Mood:         reply.Mood,
			StageChanged: out.StageChanged,
			MessageID:    out.MessageID,
			Timestamp:    now,
		},
	})
}

type chatRateReq struct {
	SessionID string   `json:"sessionId"`
	MessageID string   `json:"messageId"`
	Rating    *float64 `json:"rating"`
	Feedback  string   `json:"feedback"`
}

// POST /api/chat/rate
func (s *Server) handlePostChatRate(c echo.Context) error {
	var req chatRateReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	if req.SessionID == "" || req.MessageID == "" || req.Rating == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Session ID, message ID, and rating are required")
	}

	rating := *req.Rating
	stats, err := s.Tracker.Rate(c.Request().Context(), rating, s.Now())
	switch {
	case errors.Is(err, tracker.ErrInvalidRating):
		return echo.NewHTTPError(http.StatusBadRequest, "Rating must be between 1 and 10")
	case err != nil:
		log.Error("chat rating failed", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("Failed to save rating"))
	}
	log.Info("rating received", "session", req.SessionID, "message", req.MessageID, "rating", rating, "feedback", utils.LimitStr(req.Feedback, 80))

	msg := "Noted. I'll try to be more devastating next time."
	if rating > 7 {
		msg = "Thanks for the feedback!"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":    true,
		"message":    msg,
		"dailyStats": stats,
	})
}

// POST /api/evolution/evolve
func (s *Server) handlePostEvolve(c echo.Context) error {
	next, _, err := s.Tracker.Evolve(c.Request().Context(), s.Now())
	switch {
	case errors.Is(err, stage.ErrMaxStage), errors.Is(err, stage.ErrUnknownStage):
		return c.JSON(http.StatusOK, map[string]any{
			"success": false,
			"message": err.Error(),
		})
	case err != nil:
		log.Error("evolution failed", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("Failed to evolve"))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":            true,
		"message":            fmt.Sprintf("Evolution successful! Gombonmongoli is now %s", next.Name),
		"newStage":           next,
		"celebrationMessage": s.Stages.Celebration(next),
	})
}

type revertReq struct {
	TargetStage string `json:"targetStage"`
	// Duration is in milliseconds; zero means the default.
	Duration int64  `json:"duration"`
	Reason   string `json:"reason"`
}

// POST /api/evolution/revert
func (s *Server) handlePostRevert(c echo.Context) error {
	var req revertReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	if req.TargetStage == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Target stage is required")
	}
	if req.Duration < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "duration must not be negative")
	}

	reason := req.Reason
	if reason == "" {
		reason = "Community request"
	}
	r, err := s.Tracker.Revert(c.Request().Context(), req.TargetStage, time.Duration(req.Duration)*time.Millisecond, reason, s.Now())
	switch {
	case errors.Is(err, stage.ErrUnknownStage):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid stage")
	case err != nil:
		log.Error("revert failed", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("Failed to revert stage"))
	}

	info, _ := s.Stages.Lookup(r.TemporaryStage)
	return c.JSON(http.StatusOK, map[string]any{
		"success":    true,
		"message":    fmt.Sprintf("Temporarily reverted to %s", info.Name),
		"revertData": r,
		"stageInfo":  info,
	})
}

// POST /api/community/burns
func (s *Server) handlePostBurn(c echo.Context) error {
	var req community.Submission
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	burn, err := s.Community.Submit(c.Request().Context(), req)
	switch {
	case errors.Is(err, community.ErrEmptyBurn):
		return echo.NewHTTPError(http.StatusBadRequest, "Burn text is required")
	case err != nil:
		log.Error("submit burn failed", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("Failed to submit burn"))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Your burn has been submitted to the community for judgment.",
		"burnId":  burn.ID,
		"burn":    burn,
	})
}

type burnRateReq struct {
	Rating float64 `json:"rating"`
	UserID string  `json:"userId"`
}

// POST /api/community/burns/:burnId/rate
func (s *Server) handlePostBurnRate(c echo.Context) error {
	var req burnRateReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	res, err := s.Community.Rate(c.Request().Context(), c.Param("burnId"), req.Rating)
	switch {
	case errors.Is(err, community.ErrInvalidRating):
		return echo.NewHTTPError(http.StatusBadRequest, "Rating must be between 1 and 10")
	case errors.Is(err, community.ErrBurnNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Burn not found")
	case err != nil:
		log.Error("rate burn failed", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("Failed to rate burn"))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":          true,
		"message":          res.Message,
		"newRating":        math.Round(res.Burn.Rating*10) / 10,
		"totalVotes":       res.Burn.Votes,
		"hallOfFameWorthy": res.Worthy,
		"inducted":         res.Inducted,
	})
}

// POST /api/memory/learn
func (s *Server) handlePostLearn(c echo.Context) error {
	var req memory.Lesson
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	learned, err := s.Memory.Teach(c.Request().Context(), req)
	switch {
	case errors.Is(err, memory.ErrEmptyWord):
		return echo.NewHTTPError(http.StatusBadRequest, "Word is required")
	case err != nil:
		log.Error("learn word failed", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("Failed to learn new vocabulary"))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"message":   fmt.Sprintf("%q has been added to my vocabulary. I'll use it to roast people more effectively.", learned.Word.Word),
		"wordCount": learned.WordCount,
		"isNewWord": learned.IsNewWord,
	})
}

// POST /api/memory/profile/:sessionId
func (s *Server) handlePostProfile(c echo.Context) error {
	var req memory.ProfilePatch
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	profile, err := s.Memory.PatchProfile(c.Request().Context(), c.Param("sessionId"), req)
	if err != nil {
		log.Error("profile update failed", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("Failed to update personality profile"))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":        true,
		"message":        "Personality profile updated. I now know exactly how to destroy you.",
		"updatedProfile": profile,
	})
}

type customRoastReq struct {
	Keywords roast.Keywords `json:"keywords"`
	Stage    string         `json:"stage"`
}

// POST /api/roast/custom
func (s *Server) handlePostCustomRoast(c echo.Context) error {
	var req customRoastReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	if req.Stage == "" {
		req.Stage = s.currentStage(c)
	}
	return c.JSON(http.StatusOK, s.Roasts.Custom(c.Request().Context(), req.Keywords, req.Stage))
}

type topicRoastReq struct {
	Topic     string `json:"topic"`
	Stage     string `json:"stage"`
	SessionID string `json:"sessionId"`
}

// POST /api/roast/topic
func (s *Server) handlePostTopicRoast(c echo.Context) error {
	var req topicRoastReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	req.Topic = strings.ToLower(strings.TrimSpace(req.Topic))
	if req.Topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Topic is required")
	}
	if req.Stage == "" {
		req.Stage = s.currentStage(c)
	}
	return c.JSON(http.StatusOK, s.Roasts.Topic(req.Topic, req.Stage, s.profileFor(c, req.SessionID)))
}

type modelRoastReq struct {
	Subject string `json:"subject"`
	Stage   string `json:"stage"`
}

// POST /api/roast/model
func (s *Server) handlePostModelRoast(c echo.Context) error {
	var req modelRoastReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	if req.Stage == "" {
		req.Stage = s.currentStage(c)
	}
	return c.JSON(http.StatusOK, s.Roasts.Model(c.Request().Context(), req.Stage, req.Subject))
}
