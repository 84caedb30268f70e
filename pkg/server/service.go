package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/search"
)

// ValidationError marks a malformed or out-of-range request, rejected before
// any session is created.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// CreateSessionRequest is the boundary input for starting a research session.
// Zero-valued fields fall back to environment defaults, which in turn fall
// back to hardcoded defaults.
type CreateSessionRequest struct {
	Query             string               `json:"query"`
	Breadth           int                  `json:"breadth"`
	Depth             int                  `json:"depth"`
	Concurrency       int                  `json:"concurrency"`
	FollowUpQuestions int                  `json:"followUpQuestions"`
	Model             *clients.ModelConfig `json:"modelConfig,omitempty"`
	AdditionalNotes   string               `json:"additionalNotes,omitempty"`
	MainPromptNotes   string               `json:"mainPromptNotes,omitempty"`
}

// Components bundles the research collaborators of one session.
type Components struct {
	Planner     research.Planner
	Fetcher     research.Fetcher
	Extractor   research.Extractor
	Synthesizer research.Synthesizer
}

type Service struct {
	Registry    *Registry
	Broadcaster *Broadcaster
	Defaults    *config.Config
	Logger      *slog.Logger

	// NewComponents builds the per-session research collaborators. Tests
	// replace it with fakes.
	NewComponents func(params SessionParams, logger *slog.Logger) (*Components, error)
}

func NewService(cfg *config.Config, registry *Registry, broadcaster *Broadcaster) *Service {
	s := &Service{
		Registry:    registry,
		Broadcaster: broadcaster,
		Defaults:    cfg,
		Logger:      slog.Default(),
	}
	s.NewComponents = s.buildComponents
	return s
}

func (s *Service) buildComponents(params SessionParams, logger *slog.Logger) (*Components, error) {
	llm, err := clients.OpenAI(params.Model)
	if err != nil {
		return nil, err
	}
	contextSize := params.Model.ContextSize
	return &Components{
		Planner:     research.NewLLMPlanner(llm, contextSize, logger),
		Fetcher:     search.NewClient(s.Defaults.SearchBaseURL, s.Defaults.SearchAPIKey, logger),
		Extractor:   research.NewLLMExtractor(llm, contextSize, logger),
		Synthesizer: research.NewLLMSynthesizer(llm, contextSize, logger),
	}, nil
}

// CreateSession validates the request, resolves configuration (request value
// > environment default > hardcoded default, fixed once here), registers a
// pending session and launches its background worker.
func (s *Service) CreateSession(req CreateSessionRequest) (Session, error) {
	params, err := s.resolveParams(req)
	if err != nil {
		return Session{}, err
	}

	session := s.Registry.Create(params)
	s.Logger.Info("Research session created", "session_id", session.ID, "query", params.Query)

	go s.runWorker(session.ID, params)

	return session, nil
}

func (s *Service) resolveParams(req CreateSessionRequest) (SessionParams, error) {
	if strings.TrimSpace(req.Query) == "" {
		return SessionParams{}, &ValidationError{Reason: "query is required"}
	}

	breadth, err := resolveRange("breadth", req.Breadth, 4, 1, 10)
	if err != nil {
		return SessionParams{}, err
	}
	depth, err := resolveRange("depth", req.Depth, 2, 1, 5)
	if err != nil {
		return SessionParams{}, err
	}
	concurrency, err := resolveRange("concurrency", req.Concurrency, s.Defaults.Concurrency, 1, 10)
	if err != nil {
		return SessionParams{}, err
	}
	followUps, err := resolveRange("followUpQuestions", req.FollowUpQuestions, s.Defaults.FollowUpQuestions, 1, 10)
	if err != nil {
		return SessionParams{}, err
	}

	model := clients.ModelConfig{
		Name:        s.Defaults.ModelName,
		Endpoint:    s.Defaults.ModelEndpoint,
		ContextSize: s.Defaults.ContextSize,
	}
	if req.Model != nil {
		if req.Model.Name != "" {
			model.Name = req.Model.Name
		}
		if req.Model.Endpoint != "" {
			model.Endpoint = req.Model.Endpoint
		}
		if req.Model.ContextSize > 0 {
			model.ContextSize = req.Model.ContextSize
		}
	}

	return SessionParams{
		Query:             req.Query,
		Breadth:           breadth,
		Depth:             depth,
		Concurrency:       concurrency,
		FollowUpQuestions: followUps,
		Model:             model,
		AdditionalNotes:   req.AdditionalNotes,
		MainPromptNotes:   req.MainPromptNotes,
	}, nil
}

func resolveRange(name string, value, defaultValue, min, max int) (int, error) {
	if value == 0 {
		value = defaultValue
	}
	if value < min || value > max {
		return 0, &ValidationError{Reason: fmt.Sprintf("%s must be between %d and %d", name, min, max)}
	}
	return value, nil
}

// runWorker drives one session from pending to a terminal state. It is the
// session's single writer: the registry and broadcaster only ever see its
// updates for this id.
func (s *Service) runWorker(sessionID string, params SessionParams) {
	ctx := context.Background()
	logger := slog.New(NewSessionLogHandler(s.Registry, sessionID))

	components, err := s.NewComponents(params, logger)
	if err != nil {
		logger.Error("Failed to init research engine", "error", err)
		s.failSession(sessionID, internalErrorMessage(err))
		return
	}

	if err := s.Registry.MarkRunning(sessionID); err != nil {
		s.Logger.Error("Failed to mark session running", "session_id", sessionID, "error", err)
		return
	}

	tracker := research.NewTracker(params.Depth, params.Breadth, func(snap research.Snapshot) {
		if err := s.Registry.UpdateProgress(sessionID, snap); err != nil {
			return
		}
		s.Broadcaster.Publish(sessionID, ProgressEvent(snap))
	})

	goal := params.Query
	if params.MainPromptNotes != "" {
		goal = params.Query + "\n\n" + params.MainPromptNotes
	}

	tree := &research.Tree{
		Planner:           components.Planner,
		Fetcher:           components.Fetcher,
		Extractor:         components.Extractor,
		Tracker:           tracker,
		Logger:            logger,
		Concurrency:       params.Concurrency,
		FollowUpQuestions: params.FollowUpQuestions,
	}

	logger.Info("Starting research", "query", params.Query, "breadth", params.Breadth, "depth", params.Depth)

	treeResult, err := tree.Run(ctx, goal, params.Breadth, params.Depth, nil)
	if err != nil {
		logger.Error("Research failed", "error", err)
		s.failSession(sessionID, fmt.Sprintf("research failed: %v", err))
		return
	}

	result := &Result{
		Findings:    treeResult.Findings,
		VisitedURLs: treeResult.VisitedURLs,
	}

	// Research already succeeded: a synthesis failure surfaces as partial
	// success with reportError set, not as a session error.
	report, err := components.Synthesizer.Synthesize(ctx, goal, result.Findings, result.VisitedURLs, params.AdditionalNotes)
	if err != nil {
		logger.Warn("Report synthesis failed, completing without report", "error", err)
		result.ReportError = err.Error()
	} else {
		result.Report = report
	}

	if err := s.Registry.Complete(sessionID, result); err != nil {
		s.Logger.Error("Failed to complete session", "session_id", sessionID, "error", err)
		return
	}
	s.Broadcaster.Publish(sessionID, CompletedEvent(result))
	logger.Info("Research completed", "findings", len(result.Findings), "urls", len(result.VisitedURLs))
}

func (s *Service) failSession(sessionID, message string) {
	if err := s.Registry.Fail(sessionID, message); err != nil {
		s.Logger.Error("Failed to fail session", "session_id", sessionID, "error", err)
		return
	}
	s.Broadcaster.Publish(sessionID, ErrorEvent(message))
}

// internalErrorMessage hides unexpected fault details outside of development.
func internalErrorMessage(err error) string {
	if gin.Mode() == gin.ReleaseMode {
		return "internal error"
	}
	return err.Error()
}
