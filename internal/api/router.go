package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func NewRouter(apiHandler *APIHandler, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
		r.Get("/languages", apiHandler.LanguagesHandler)
		r.Get("/dashboard", apiHandler.DashboardHandler)
		r.Get("/views/{view}", apiHandler.ViewHandler)
		r.Get("/advisories", apiHandler.AdvisoriesHandler)
		r.Get("/gov-queries/{queryID}", apiHandler.GetGovQueryHandler)

		// Shell sessions
		r.Post("/sessions", apiHandler.CreateSessionHandler)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", apiHandler.GetSessionHandler)
			r.Delete("/", apiHandler.DeleteSessionHandler)
			r.Put("/language", apiHandler.SetLanguageHandler)
			r.Put("/view", apiHandler.SetViewHandler)
			r.Post("/conversations", apiHandler.OpenConversationHandler)
			r.Post("/gov-queries", apiHandler.SubmitGovQueryHandler)
			r.Get("/gov-queries", apiHandler.ListGovQueriesHandler)
			r.Get("/voice", apiHandler.VoiceHandler)
		})

		// Chat
		r.Get("/conversations/{conversationID}", apiHandler.GetConversationHandler)
		r.Delete("/conversations/{conversationID}", apiHandler.CloseConversationHandler)
		r.Post("/conversations/{conversationID}/messages", apiHandler.PostMessageHandler)
	})

	return r
}

// requestLogger logs one line per request once it completes.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("Request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
