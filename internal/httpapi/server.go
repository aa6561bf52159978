// Package httpapi - REST API платформы поверх chi.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/UkralStul/technews/graph"
	"github.com/UkralStul/technews/internal/auth"
	"github.com/UkralStul/technews/internal/dataloader"
	"github.com/UkralStul/technews/internal/metrics"
	"github.com/UkralStul/technews/internal/moderation"
	"github.com/UkralStul/technews/internal/observer"
	"github.com/UkralStul/technews/internal/service"
	"github.com/UkralStul/technews/internal/storage"
)

// Deps - всё, из чего собирается API.
type Deps struct {
	Store      storage.Storage
	Posts      *service.Posts
	Comments   *service.Comments
	Users      *service.Users
	Moderation *moderation.Service
	Observer   *observer.CommentObserver
	Issuer     *auth.Issuer
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

type Server struct {
	posts      *service.Posts
	comments   *service.Comments
	users      *service.Users
	moderation *moderation.Service
	observer   *observer.CommentObserver
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	pingPeriod time.Duration
}

// NewRouter собирает маршруты и middleware.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		posts:      d.Posts,
		comments:   d.Comments,
		users:      d.Users,
		moderation: d.Moderation,
		observer:   d.Observer,
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pingPeriod: 10 * time.Second,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger, d.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(d.Issuer.Authenticate)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}
	r.Get("/ws/posts/{id}/comments", s.streamComments)

	// GraphQL поверх тех же сервисов: запросы, мутации и подписка на комментарии
	r.With(dataloader.Middleware(d.Store)).Handle("/query", graph.NewHandler(&graph.Resolver{
		Posts:      d.Posts,
		Comments:   d.Comments,
		Moderation: d.Moderation,
		Observer:   d.Observer,
		Issuer:     d.Issuer,
		Logger:     logger,
	}))
	r.Handle("/playground", graph.PlaygroundHandler("/query"))

	r.Route("/api", func(r chi.Router) {
		r.Use(dataloader.Middleware(d.Store))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.register)
			r.Post("/login", s.login)
			r.With(auth.RequireAuth).Get("/me", s.me)
		})

		r.Route("/posts", func(r chi.Router) {
			r.Get("/", s.listPosts)
			r.With(auth.RequireAuth).Post("/", s.createPost)
			r.With(auth.RequireAuth).Get("/feed", s.feed)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getPost)
				r.With(auth.RequireAuth).Delete("/", s.deletePost)
				r.With(auth.RequireAuth).Post("/like", s.toggleLike)

				r.Get("/comments", s.commentTree)
				r.With(auth.RequireAuth).Post("/comments", s.addComment)
				r.With(auth.RequireAuth).Delete("/comments/{commentID}", s.deleteComment)
			})
		})

		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/", s.profile)
			r.Get("/posts", s.authorPosts)
			r.Get("/followers", s.followers)
			r.With(auth.RequireAuth).Patch("/", s.updateProfile)
			r.With(auth.RequireAuth).Post("/subscribe", s.subscribe)
			r.With(auth.RequireAuth).Delete("/subscribe", s.unsubscribe)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)
			r.Get("/notifications", s.notifications)
			r.Post("/notifications/read", s.markNotificationsRead)

			r.Route("/admin/posts", func(r chi.Router) {
				r.Get("/", s.adminListPosts)
				r.Post("/{id}/publish", s.publishPost)
				r.Post("/{id}/reject", s.rejectPost)
			})
		})
	})

	return r
}
