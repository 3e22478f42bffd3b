package api

import (
	"net/http"

	"github.com/Rrens/classroom-live/internal/api/handler"
	customMiddleware "github.com/Rrens/classroom-live/internal/api/middleware"
	"github.com/Rrens/classroom-live/internal/config"
	"github.com/Rrens/classroom-live/internal/repository/postgres"
	"github.com/Rrens/classroom-live/internal/repository/redis"
	"github.com/Rrens/classroom-live/internal/roomhub"
	"github.com/Rrens/classroom-live/internal/security"
	"github.com/Rrens/classroom-live/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, db *postgres.DB, redisClient *redis.Client) http.Handler {
	r := chi.NewRouter()

	// Global middleware. Timeout is applied per group so websocket routes
	// are not cut off.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize security components
	jwtManager := security.NewJWTManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)
	roomSigner := security.NewRoomTokenSigner(
		cfg.LiveKit.APIKey,
		cfg.LiveKit.APISecret,
		cfg.LiveKit.TokenTTL,
		nil,
	)

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	classroomRepo := postgres.NewClassroomRepository(db)
	sessionRepo := postgres.NewSessionRepository(db)
	messageRepo := postgres.NewMessageRepository(db)
	attachmentRepo := postgres.NewAttachmentRepository(db)

	// Redis backed components
	rateLimiter := redis.NewRateLimiter(
		redisClient,
		cfg.Security.RateLimit.RequestsPerMinute,
		cfg.Security.RateLimit.Burst,
	)
	tokenCache := redis.NewTokenCache(redisClient, cfg.LiveKit.CacheTTL)
	chatBus := redis.NewChatBus(redisClient)

	// Initialize services
	authService := service.NewAuthService(userRepo, jwtManager)
	classroomService := service.NewClassroomService(classroomRepo)
	// Development room hub. Ending a session closes its room here.
	sessionOpts := []service.SessionOption{service.WithCredentialFlusher(tokenCache)}
	var hub *roomhub.Hub
	if cfg.LiveKit.DevHub {
		hub = roomhub.NewHub(roomSigner)
		sessionOpts = append(sessionOpts, service.WithRoomCloser(hub))
	}

	sessionService := service.NewSessionService(sessionRepo, classroomService, cfg.Lifecycle.MaxLiveDuration, sessionOpts...)
	tokenService := service.NewTokenService(classroomService, sessionRepo, userRepo, roomSigner, tokenCache, cfg.LiveKit.URL)
	chatService := service.NewChatService(classroomService, sessionRepo, messageRepo, attachmentRepo, userRepo, chatBus)
	attachmentService := service.NewAttachmentService(
		classroomService,
		attachmentRepo,
		cfg.Storage.UploadDir,
		cfg.Storage.MaxUploadSize,
		cfg.Storage.PublicBaseURL,
	)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(authService)
	classroomHandler := handler.NewClassroomHandler(classroomService)
	sessionHandler := handler.NewSessionHandler(sessionService)
	tokenHandler := handler.NewTokenHandler(tokenService)
	chatHandler := handler.NewChatHandler(chatService)
	attachmentHandler := handler.NewAttachmentHandler(attachmentService, cfg.Storage.MaxUploadSize)

	// Auth middleware
	authMiddleware := customMiddleware.NewAuthMiddleware(jwtManager)
	rateLimitMiddleware := customMiddleware.NewRateLimitMiddleware(rateLimiter)
	timeout := middleware.Timeout(cfg.Server.MiddlewareTimeout)

	if hub != nil {
		log.Info().Str("url", cfg.LiveKit.URL).Msg("Serving development room hub on /rtc")
		r.Handle("/rtc", hub)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.With(timeout).Get("/health", handler.HealthCheck)
		r.With(timeout).Get("/ready", handler.ReadyCheck(map[string]handler.Pinger{
			"database": db,
			"redis":    redisClient,
		}))

		// Auth routes (public)
		r.Route("/auth", func(r chi.Router) {
			r.Use(timeout)
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Use(rateLimitMiddleware.Limit)

			r.With(timeout).Get("/me", authHandler.Me)

			r.Route("/classrooms", func(r chi.Router) {
				r.With(timeout).Get("/", classroomHandler.List)
				r.With(timeout).Post("/", classroomHandler.Create)

				r.Route("/{slug}", func(r chi.Router) {
					r.Use(customMiddleware.ClassroomContext)

					rest := r.With(timeout)
					rest.Get("/", classroomHandler.Get)
					rest.Post("/members", classroomHandler.AddMember)

					// Session routes
					r.Route("/sessions", func(r chi.Router) {
						rest := r.With(timeout)
						rest.Get("/", sessionHandler.List)
						rest.Post("/", sessionHandler.Create)
						rest.Post("/sync", sessionHandler.Sync)

						r.Route("/{sessionID}", func(r chi.Router) {
							rest := r.With(timeout)
							rest.Get("/", sessionHandler.Get)
							rest.Patch("/", sessionHandler.Update)
							rest.Delete("/", sessionHandler.Delete)

							rest.Post("/token", tokenHandler.Issue)
							rest.Put("/token", tokenHandler.Refresh)

							rest.Get("/messages", chatHandler.History)
							rest.Post("/messages", chatHandler.Send)

							// Realtime chat feed, long lived
							r.Get("/feed", chatHandler.Feed)
						})
					})

					// Attachment routes
					r.Route("/attachments", func(r chi.Router) {
						r.Use(timeout)
						r.Get("/", attachmentHandler.List)
						r.Post("/", attachmentHandler.Upload)
						r.Get("/{attachmentID}", attachmentHandler.Get)
						r.Get("/{attachmentID}/content", attachmentHandler.Content)
					})
				})
			})
		})
	})

	return r
}
