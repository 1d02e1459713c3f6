package router

import (
	"database/sql"
	"net/http"

	"coedit/internal/collab"
	"coedit/internal/collab/repository"
	"coedit/internal/collab/service"
	"coedit/internal/collab/session"
	"coedit/middleware"
	"coedit/socket"
)

func Setup(db *sql.DB, registry *session.Registry) http.Handler {
	mux := http.NewServeMux()

	// WebSocket
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := middleware.IdentityFrom(r.Context())
		socket.ServeWs(registry, w, r, user)
	})
	mux.Handle("/ws", middleware.AuthMiddleware(wsHandler))

	// REST API
	repo := repository.NewRepository(db)
	svc := service.NewSessionService(registry, repo)
	handler := collab.NewSessionHandler(svc)
	auth := middleware.AuthMiddleware

	mux.Handle("/api/sessions/open", auth(http.HandlerFunc(handler.OpenSession)))
	mux.Handle("/api/sessions/info", auth(http.HandlerFunc(handler.GetSessionInfo)))
	mux.Handle("/api/sessions", auth(http.HandlerFunc(handler.GetSessions)))

	return middleware.CORSMiddleware(middleware.TracingMiddleware(mux))
}
