package graph

import (
	_ "embed"
	"log/slog"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/UkralStul/technews/internal/auth"
	"github.com/UkralStul/technews/internal/moderation"
	"github.com/UkralStul/technews/internal/observer"
	"github.com/UkralStul/technews/internal/service"
)

//go:embed schema.graphqls
var schemaSDL string

var parsedSchema = gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphqls", Input: schemaSDL})

// Resolver - это корневая структура резолвера.
// Она содержит все зависимости, которые нужны для выполнения запросов.
type Resolver struct {
	Posts      *service.Posts
	Comments   *service.Comments
	Moderation *moderation.Service
	Observer   *observer.CommentObserver
	Issuer     *auth.Issuer
	Logger     *slog.Logger
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
