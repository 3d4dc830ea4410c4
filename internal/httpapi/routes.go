package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/snake-relay/internal/ws"
)

func SetupRoutes(inbox ws.Inbox, logger *zap.Logger, wsOpts ws.Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz(inbox))
	r.Get("/stats", Stats(inbox))
	r.Get("/ws", ws.Handler(inbox, logger, wsOpts))
	return r
}
