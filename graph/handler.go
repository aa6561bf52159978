package graph

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/extension"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/gorilla/websocket"

	"github.com/UkralStul/technews/internal/auth"
	"github.com/UkralStul/technews/internal/domain"
)

const complexityLimit = 2000

// NewHandler собирает сервер GraphQL: запросы по HTTP и подписки по websocket.
func NewHandler(res *Resolver) http.Handler {
	srv := handler.New(NewExecutableSchema(res))
	srv.AddTransport(&transport.Websocket{
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		KeepAlivePingInterval: 10 * time.Second,
		InitFunc:              res.websocketInit,
	})
	srv.AddTransport(transport.Options{})
	srv.AddTransport(transport.GET{})
	srv.AddTransport(transport.POST{})
	srv.Use(extension.FixedComplexityLimit(complexityLimit))
	return srv
}

// PlaygroundHandler - страница GraphQL playground для endpoint.
func PlaygroundHandler(endpoint string) http.Handler {
	return playground.Handler("TechNews GraphQL", endpoint)
}

// websocketInit проверяет токен из connection_init. Подписка без токена
// остаётся анонимной, с неверным токеном соединение закрывается.
func (r *Resolver) websocketInit(ctx context.Context, payload transport.InitPayload) (context.Context, *transport.InitPayload, error) {
	token := strings.TrimSpace(payload.Authorization())
	if token == "" {
		return ctx, nil, nil
	}
	if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	p, err := r.Issuer.Verify(token)
	if err != nil {
		return ctx, nil, fmt.Errorf("%w: invalid token", domain.ErrUnauthenticated)
	}
	return auth.WithPrincipal(ctx, p), nil, nil
}
