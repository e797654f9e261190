package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"gombonmongoli/pkg/community"
	"gombonmongoli/pkg/config"
	"gombonmongoli/pkg/inference"
	"gombonmongoli/pkg/memory"
	"gombonmongoli/pkg/random"
	"gombonmongoli/pkg/response"
	"gombonmongoli/pkg/roast"
	"gombonmongoli/pkg/stage"
	"gombonmongoli/pkg/store"
	"gombonmongoli/pkg/tracker"
	"gombonmongoli/pkg/utils"
)

type Server struct {
	Echo *echo.Echo
	Ctx  context.Context

	Content   *config.Content
	Stages    *stage.Calculator
	Stores    *store.Stores
	Tracker   *tracker.Tracker
	Responses *response.Generator
	Roasts    *roast.Generator
	Community *community.Board
	Memory    *memory.Memory

	// Now is the clock used by every handler.
	Now func() time.Time

	cfg     config.Config
	started time.Time
}

// NewServer wires the components over stores. inf may be nil; rng may be nil for the
// default source.
func NewServer(ctx context.Context, cfg config.Config, content *config.Content, stores *store.Stores, inf inference.Inferencer, rng random.Source) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	calc := stage.NewCalculator(content.Stages)
	s := &Server{
		Echo:    e,
		Ctx:     ctx,
		Content: content,
		Stages:  calc,
		Stores:  stores,
		Tracker: tracker.New(calc, content.Keywords, stores, tracker.Options{
			MaxHistory: cfg.MaxHistory,
			SessionTTL: cfg.SessionTTL,
		}),
		Responses: response.New(content, calc, rng, response.Options{
			Mode:       cfg.GeneratorMode,
			PatternTTL: cfg.PatternTTL,
		}),
		Roasts:  roast.New(content, calc, stores.Vocabulary, rng, inf, roast.Options{ModelCacheTTL: cfg.ModelCacheTTL}),
		Now:     time.Now,
		cfg:     cfg,
		started: time.Now(),
	}
	clock := func() time.Time { return s.Now() }
	s.Community = community.New(stores, clock)
	s.Memory = memory.New(stores, cfg.MaxVocabulary, clock)
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.Echo.GET("/ping", s.handleGetPing)
	s.Echo.GET("/keep-alive", s.handleGetKeepAlive)

	api := s.Echo.Group("/api")
	api.GET("/health", s.handleGetHealth)
	api.GET("/status", s.handleGetStatus)

	chat := api.Group("/chat")
	chat.POST("", s.handlePostChat)
	chat.GET("/history/:sessionId", s.handleGetHistory)
	chat.POST("/rate", s.handlePostChatRate)

	evo := api.Group("/evolution")
	evo.GET("/status", s.handleGetEvolutionStatus)
	evo.GET("/stages", s.handleGetStages)
	evo.GET("/history", s.handleGetEvolutionHistory)
	evo.POST("/evolve", s.handlePostEvolve)
	evo.POST("/revert", s.handlePostRevert)

	com := api.Group("/community")
	com.GET("/burns", s.handleGetBurns)
	com.POST("/burns", s.handlePostBurn)
	com.POST("/burns/:burnId/rate", s.handlePostBurnRate)
	com.GET("/stats", s.handleGetCommunityStats)
	com.GET("/events", s.handleGetEvents)

	mem := api.Group("/memory")
	mem.GET("/session/:sessionId", s.handleGetMemorySession)
	mem.POST("/learn", s.handlePostLearn)
	mem.GET("/vocabulary", s.handleGetVocabulary)
	mem.POST("/profile/:sessionId", s.handlePostProfile)
	mem.GET("/stats", s.handleGetMemoryStats)

	rst := api.Group("/roast")
	rst.GET("/instant", s.handleGetInstantRoast)
	rst.POST("/custom", s.handlePostCustomRoast)
	rst.POST("/topic", s.handlePostTopicRoast)
	rst.POST("/model", s.handlePostModelRoast)

	if s.cfg.StaticDir != "" {
		s.Echo.Use(middleware.StaticWithConfig(middleware.StaticConfig{
			Root:  s.cfg.StaticDir,
			HTML5: true,
			Skipper: func(c echo.Context) bool {
				p := c.Request().URL.Path
				return p == "/api" || strings.HasPrefix(p, "/api/")
			},
		}))
	}
}

func (s *Server) Start(addr string) error {
	utils.Logf("Server listening at %s", addr)
	return s.Echo.Start(addr)
}

// Sweep runs one retention pass over sessions, adaptive user patterns and cached model roasts.
func (s *Server) Sweep(ctx context.Context) {
	now := s.Now()
	n, err := s.Tracker.Sweep(ctx, now)
	if err != nil {
		log.Error("session sweep failed", "error", err)
	}
	pruned := s.Responses.Prune(now)
	roasts := s.Roasts.PruneModels()
	if n > 0 || pruned > 0 || roasts > 0 {
		log.Info("retention sweep", "sessions", n, "patterns", pruned, "model_roasts", roasts)
	}
}

// RunSweeper calls Sweep every interval until ctx is done. A zero interval disables it.
func (s *Server) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	utils.Logf("Shutting down server...")

	shutDownErr := s.Echo.Shutdown(ctx)
	closeErr := s.Stores.Close()
	return errors.Join(shutDownErr, closeErr)
}
