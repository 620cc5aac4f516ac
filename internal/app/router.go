package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"examforge/internal/ai"
	"examforge/internal/app/observability"
	"examforge/internal/attempt"
	"examforge/internal/catalog"
	"examforge/internal/exam"
	"examforge/internal/question"
	"examforge/internal/report"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter wires every service onto the HTTP surface. pg holds the
// authored content and attempt records; local is the sqlite database
// backing save-for-later.
func NewRouter(cfg Config, pg *sql.DB, local *sql.DB, logger *log.Logger) (http.Handler, error) {
	if logger == nil {
		logger = log.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", csrfHeaderName},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	collector := observability.NewCollector(pg)
	r.Use(collector.Middleware)
	r.Use(CSRFMiddleware(cfg.CSRFEnforced))

	bridge, err := attempt.NewBridge(context.Background(), local, logger)
	if err != nil {
		return nil, fmt.Errorf("init attempt bridge: %w", err)
	}

	examSvc := exam.NewService(pg)
	examHandler := exam.NewHandler(examSvc)

	questionSvc := question.NewService(pg)
	questionHandler := question.NewHandler(questionSvc)

	aiClient := ai.NewClient(ai.ClientConfig{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
	aiHandler := ai.NewHandler(aiClient)

	recorder := attempt.NewRecorder(pg)
	recordHandler := attempt.NewRecordHandler(recorder)

	registry := attempt.NewRegistry()
	registry.StartSweeper(time.Minute)
	sessionHandler := attempt.NewHandler(attempt.HandlerDeps{
		Exams:     examSvc,
		Questions: questionSvc,
		Grader:    aiClient,
		Recorder:  recorder,
		Bridge:    bridge,
		Logger:    logger,
	}, registry)

	reportHandler := report.NewHandler(report.NewService(pg))
	catalogHandler := catalog.NewHandler(catalog.NewService(pg))

	aiLimiter := NewIPRateLimiter(cfg.AIRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api", func(api chi.Router) {
		api.Route("/exams", func(exams chi.Router) {
			exams.Post("/", examHandler.Create)
			exams.Get("/", examHandler.List)
			exams.Get("/{examID}", examHandler.Get)
			exams.Put("/{examID}", examHandler.Update)
			exams.Delete("/{examID}", examHandler.Delete)

			exams.Post("/{examID}/questions", questionHandler.Create)
			exams.Post("/{examID}/questions/bulk", questionHandler.BulkCreate)
			exams.Get("/{examID}/questions", questionHandler.ListByExam)
			exams.Post("/{examID}/questions/reorder", questionHandler.Reorder)

			exams.Get("/{examID}/attempts", recordHandler.ListByExam)

			exams.Get("/{examID}/report", reportHandler.Summary)
			exams.Get("/{examID}/report/export", reportHandler.Export)
		})

		api.Route("/attempts", func(attempts chi.Router) {
			attempts.Get("/{attemptID}", recordHandler.Get)
		})

		api.Route("/questions", func(questions chi.Router) {
			questions.Get("/{questionID}", questionHandler.Get)
			questions.Put("/{questionID}", questionHandler.Update)
			questions.Delete("/{questionID}", questionHandler.Delete)
		})

		api.Route("/sessions", func(sessions chi.Router) {
			sessions.Post("/", sessionHandler.Start)
			sessions.Get("/{sessionID}", sessionHandler.Get)
			sessions.Delete("/{sessionID}", sessionHandler.Close)
			sessions.Put("/{sessionID}/answers/{questionID}", sessionHandler.SaveAnswer)
			sessions.Post("/{sessionID}/questions/{questionID}/evaluate", sessionHandler.Evaluate)
			sessions.Post("/{sessionID}/save", sessionHandler.Save)
			sessions.Post("/{sessionID}/submit", sessionHandler.Submit)
		})

		api.Group(func(limited chi.Router) {
			limited.Use(RateLimitMiddleware(aiLimiter))
			limited.Post("/ai/questions/generate", aiHandler.GenerateQuestions)
		})

		api.Route("/catalog", func(cat chi.Router) {
			cat.Post("/import", catalogHandler.ImportCSV)
			cat.Get("/{kind}", catalogHandler.List)
			cat.Post("/{kind}", catalogHandler.Create)
			cat.Put("/options/{optionID}", catalogHandler.Update)
			cat.Delete("/options/{optionID}", catalogHandler.Deactivate)
		})
	})

	return r, nil
}
