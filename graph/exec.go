package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/UkralStul/technews/internal/auth"
	"github.com/UkralStul/technews/internal/domain"
	"github.com/UkralStul/technews/internal/service"
)

// Коды ошибок в extensions.code.
const (
	codeBadInput        = "BAD_USER_INPUT"
	codeUnauthenticated = "UNAUTHENTICATED"
	codeForbidden       = "FORBIDDEN"
	codeNotFound        = "NOT_FOUND"
	codeConflict        = "CONFLICT"
	codeInternal        = "INTERNAL_SERVER_ERROR"
)

const defaultPageComplexity = 20

type executableSchema struct {
	resolver *Resolver
}

// NewExecutableSchema связывает схему из schema.graphqls с сервисами платформы.
func NewExecutableSchema(r *Resolver) graphql.ExecutableSchema {
	return &executableSchema{resolver: r}
}

func (e *executableSchema) Schema() *ast.Schema {
	return parsedSchema
}

// Complexity оценивает поля, которые разворачиваются в списки: страницы статей
// умножают стоимость элемента на limit, дерево комментариев считается дорогим.
func (e *executableSchema) Complexity(typeName, field string, childComplexity int, args map[string]interface{}) (int, bool) {
	switch typeName + "." + field {
	case "Query.posts", "Query.feed", "Query.authorPosts":
		limit, err := toInt(args["limit"])
		if err != nil || limit <= 0 {
			limit = defaultPageComplexity
		}
		return 1 + limit*childComplexity, true
	case "Query.moderationQueue":
		return 1 + defaultPageComplexity*childComplexity, true
	case "Post.comments":
		return 5 * (childComplexity + 1), true
	}
	return 0, false
}

func (e *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	oc := graphql.GetOperationContext(ctx)
	actor, _ := auth.PrincipalFrom(ctx)
	ex := &execution{Resolver: e.resolver, oc: oc, actor: actor}

	switch oc.Operation.Operation {
	case ast.Query:
		return graphql.OneShot(ex.execRoot(ctx, "Query", ex.query))
	case ast.Mutation:
		return graphql.OneShot(ex.execRoot(ctx, "Mutation", ex.mutation))
	case ast.Subscription:
		return ex.subscribe(ctx)
	default:
		return graphql.OneShot(graphql.ErrorResponse(ctx, "unsupported GraphQL operation"))
	}
}

// execution - состояние одной операции: контекст разбора и автор запроса.
type execution struct {
	*Resolver
	oc    *graphql.OperationContext
	actor domain.Principal
}

type fieldResolver func(ctx context.Context, f graphql.CollectedField) (any, error)

func (ex *execution) collect(sel ast.SelectionSet, typeName string) []graphql.CollectedField {
	return graphql.CollectFields(ex.oc, sel, []string{typeName})
}

func (ex *execution) args(f graphql.CollectedField) map[string]interface{} {
	return f.ArgumentMap(ex.oc.Variables)
}

// execRoot выполняет корневые поля по порядку. Все они не допускают null,
// поэтому ошибка любого поля обнуляет data целиком.
func (ex *execution) execRoot(ctx context.Context, typeName string, resolve fieldResolver) *graphql.Response {
	data := &object{}
	var errs gqlerror.List
	for _, f := range ex.collect(ex.oc.Operation.SelectionSet, typeName) {
		if f.Name == "__typename" {
			data.set(f.Alias, typeName)
			continue
		}
		v, err := resolve(ctx, f)
		if err != nil {
			errs = append(errs, ex.fieldError(ctx, f, err))
			continue
		}
		data.set(f.Alias, v)
	}
	if len(errs) > 0 {
		return &graphql.Response{Errors: errs, Data: json.RawMessage("null")}
	}
	return ex.response(ctx, data)
}

func (ex *execution) response(ctx context.Context, data *object) *graphql.Response {
	b, err := json.Marshal(data)
	if err != nil {
		ex.logger().ErrorContext(ctx, "failed to encode graphql response", "err", err)
		return graphql.ErrorResponse(ctx, "internal server error")
	}
	return &graphql.Response{Data: b}
}

// subscribe оформляет подписку на новые комментарии статьи. Канал наблюдателя
// закрывается вместе с контекстом подписки.
func (ex *execution) subscribe(ctx context.Context) graphql.ResponseHandler {
	fields := ex.collect(ex.oc.Operation.SelectionSet, "Subscription")
	if len(fields) != 1 || fields[0].Name != "commentAdded" {
		return graphql.OneShot(graphql.ErrorResponse(ctx, "subscription must select exactly one field"))
	}
	f := fields[0]

	postID, err := argString(ex.args(f), "postId")
	if err == nil {
		_, err = ex.Posts.Get(ctx, ex.actor, postID)
	}
	if err != nil {
		return graphql.OneShot(&graphql.Response{Errors: gqlerror.List{ex.fieldError(ctx, f, err)}})
	}
	events := ex.Observer.Subscribe(ctx, postID)

	return func(ctx context.Context) *graphql.Response {
		c, ok := <-events
		if !ok {
			return nil
		}
		v, err := ex.marshalComment(ctx, f.Selections, ex.Comments.Node(c, ex.actor))
		if err != nil {
			return &graphql.Response{Errors: gqlerror.List{ex.fieldError(ctx, f, err)}, Data: json.RawMessage("null")}
		}
		data := &object{}
		data.set(f.Alias, v)
		return ex.response(ctx, data)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return codeBadInput
	case errors.Is(err, domain.ErrUnauthenticated):
		return codeUnauthenticated
	case errors.Is(err, domain.ErrPermissionDenied):
		return codeForbidden
	case errors.Is(err, domain.ErrNotFound):
		return codeNotFound
	case errors.Is(err, domain.ErrConflict):
		return codeConflict
	default:
		return codeInternal
	}
}

// fieldError превращает ошибку сервиса в ошибку GraphQL. Текст внутренних
// ошибок наружу не уходит, только в лог.
func (ex *execution) fieldError(ctx context.Context, f graphql.CollectedField, err error) *gqlerror.Error {
	code := errorCode(err)
	msg := err.Error()
	if code == codeInternal {
		ex.logger().ErrorContext(ctx, "graphql field failed", "field", f.Name, "err", err)
		msg = "internal server error"
	}
	gerr := &gqlerror.Error{
		Message:    msg,
		Path:       ast.Path{ast.PathName(f.Alias)},
		Extensions: map[string]interface{}{"code": code},
	}
	if f.Position != nil {
		gerr.Locations = []gqlerror.Location{{Line: f.Position.Line, Column: f.Position.Column}}
	}
	return gerr
}

func unknownField(typeName, field string) error {
	return fmt.Errorf("graph: unknown field %s.%s", typeName, field)
}

// object - JSON-объект, сохраняющий порядок полей из запроса.
type object struct {
	keys []string
	vals []any
}

func (o *object) set(key string, v any) {
	o.keys = append(o.keys, key)
	o.vals = append(o.vals, v)
}

func (o *object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(o.vals[i])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// resolveObject собирает объект typeName из выбранных полей.
func (ex *execution) resolveObject(ctx context.Context, sel ast.SelectionSet, typeName string, resolve fieldResolver) (*object, error) {
	out := &object{}
	for _, f := range ex.collect(sel, typeName) {
		if f.Name == "__typename" {
			out.set(f.Alias, typeName)
			continue
		}
		v, err := resolve(ctx, f)
		if err != nil {
			return nil, err
		}
		out.set(f.Alias, v)
	}
	return out, nil
}

func marshalList[T any](items []T, one func(T) (*object, error)) ([]any, error) {
	out := make([]any, 0, len(items))
	for _, item := range items {
		v, err := one(item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Аргументы

func argString(args map[string]interface{}, name string) (string, error) {
	s, err := argOptString(args, name)
	if err != nil || s == nil {
		return "", err
	}
	return *s, nil
}

func argOptString(args map[string]interface{}, name string) (*string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a string", domain.ErrValidation, name)
	}
	return &s, nil
}

func argInt(args map[string]interface{}, name string) (int, error) {
	n, err := toInt(args[name])
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrValidation, name, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrValidation, name)
	}
	return n, nil
}

// toInt приводит значение аргумента Int к int. Литералы приходят как int64,
// переменные из JSON - как json.Number или float64.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, err
		}
		return int(i), nil
	}
	return 0, fmt.Errorf("unexpected type %T", v)
}

func listQuery(args map[string]interface{}) (service.ListQuery, error) {
	var q service.ListQuery
	var err error
	if q.Category, err = argString(args, "category"); err != nil {
		return q, err
	}
	if q.Limit, err = argInt(args, "limit"); err != nil {
		return q, err
	}
	if q.Offset, err = argInt(args, "offset"); err != nil {
		return q, err
	}
	return q, nil
}
