package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-voicechat/internal/config"
	"github.com/npezzotti/go-voicechat/internal/database"
	"github.com/npezzotti/go-voicechat/internal/server"
	"github.com/npezzotti/go-voicechat/internal/session"
)

type GoVoiceChatApp struct {
	log            *log.Logger
	db             database.GoVoiceChatRepository
	srv            *http.Server
	lm             *server.LifecycleManager
	sessions       session.Registry
	signingKey     []byte
	allowedOrigins []string
}

func NewGoVoiceChatApp(mux *http.ServeMux, logger *log.Logger, lm *server.LifecycleManager, db database.GoVoiceChatRepository, sessions session.Registry, cfg *config.Config) *GoVoiceChatApp {
	s := &GoVoiceChatApp{
		log:            logger,
		db:             db,
		lm:             lm,
		sessions:       sessions,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /api/health", s.healthCheck)
	mux.Handle("GET /api/presence", s.authMiddleware(s.presence))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *GoVoiceChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *GoVoiceChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
