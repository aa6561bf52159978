package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/UkralStul/technews/internal/domain"
	"github.com/UkralStul/technews/internal/moderation"
	"github.com/UkralStul/technews/internal/service"
)

// === Query Resolvers ===

func (ex *execution) query(ctx context.Context, f graphql.CollectedField) (any, error) {
	args := ex.args(f)
	switch f.Name {
	case "posts":
		q, err := listQuery(args)
		if err != nil {
			return nil, err
		}
		page, err := ex.Posts.ListPublished(ctx, q)
		if err != nil {
			return nil, err
		}
		return ex.marshalPostPage(ctx, f.Selections, page)

	case "post":
		id, err := argString(args, "id")
		if err != nil {
			return nil, err
		}
		post, err := ex.Posts.Get(ctx, ex.actor, id)
		if err != nil {
			return nil, err
		}
		return ex.marshalPost(ctx, f.Selections, post)

	case "authorPosts":
		authorID, err := argString(args, "authorId")
		if err != nil {
			return nil, err
		}
		q, err := listQuery(args)
		if err != nil {
			return nil, err
		}
		page, err := ex.Posts.ListByAuthor(ctx, ex.actor, authorID, q)
		if err != nil {
			return nil, err
		}
		return ex.marshalPostPage(ctx, f.Selections, page)

	case "feed":
		if err := ex.requireActor(); err != nil {
			return nil, err
		}
		q, err := listQuery(args)
		if err != nil {
			return nil, err
		}
		page, err := ex.Posts.Feed(ctx, ex.actor, q)
		if err != nil {
			return nil, err
		}
		return ex.marshalPostPage(ctx, f.Selections, page)

	case "moderationQueue":
		if err := ex.requireActor(); err != nil {
			return nil, err
		}
		raw, err := argString(args, "status")
		if err != nil {
			return nil, err
		}
		filter, err := moderation.ParseStatusFilter(raw)
		if err != nil {
			return nil, err
		}
		posts, err := ex.Moderation.List(ctx, ex.actor, filter)
		if err != nil {
			return nil, err
		}
		return marshalList(posts, func(p *domain.Post) (*object, error) {
			return ex.marshalPost(ctx, f.Selections, p)
		})

	case "__schema", "__type":
		return nil, fmt.Errorf("%w: introspection is not supported", domain.ErrValidation)
	}
	return nil, unknownField("Query", f.Name)
}

// === Mutation Resolvers ===

func (ex *execution) mutation(ctx context.Context, f graphql.CollectedField) (any, error) {
	if err := ex.requireActor(); err != nil {
		return nil, err
	}
	args := ex.args(f)
	switch f.Name {
	case "createPost":
		in, err := newPostInput(args["input"])
		if err != nil {
			return nil, err
		}
		post, err := ex.Posts.Create(ctx, ex.actor, in)
		if err != nil {
			return nil, err
		}
		return ex.marshalPost(ctx, f.Selections, post)

	case "deletePost":
		id, err := argString(args, "id")
		if err != nil {
			return nil, err
		}
		if err := ex.Posts.Delete(ctx, ex.actor, id); err != nil {
			return nil, err
		}
		return true, nil

	case "toggleLike":
		postID, err := argString(args, "postId")
		if err != nil {
			return nil, err
		}
		res, err := ex.Posts.ToggleLike(ctx, ex.actor, postID)
		if err != nil {
			return nil, err
		}
		return ex.resolveObject(ctx, f.Selections, "LikeResult", func(_ context.Context, f graphql.CollectedField) (any, error) {
			switch f.Name {
			case "liked":
				return res.Liked, nil
			case "likeCount":
				return res.LikeCount, nil
			}
			return nil, unknownField("LikeResult", f.Name)
		})

	case "addComment":
		postID, err := argString(args, "postId")
		if err != nil {
			return nil, err
		}
		text, err := argString(args, "text")
		if err != nil {
			return nil, err
		}
		parentID, err := argOptString(args, "parentId")
		if err != nil {
			return nil, err
		}
		c, err := ex.Comments.Add(ctx, ex.actor, postID, service.CommentInput{Text: text, ParentID: parentID})
		if err != nil {
			return nil, err
		}
		return ex.marshalComment(ctx, f.Selections, ex.Comments.Node(c, ex.actor))

	case "deleteComment":
		postID, err := argString(args, "postId")
		if err != nil {
			return nil, err
		}
		id, err := argString(args, "id")
		if err != nil {
			return nil, err
		}
		ids, err := ex.Comments.Delete(ctx, ex.actor, postID, id)
		if err != nil {
			return nil, err
		}
		if ids == nil {
			ids = []string{}
		}
		return ids, nil

	case "publishPost":
		id, err := argString(args, "id")
		if err != nil {
			return nil, err
		}
		post, err := ex.Moderation.Publish(ctx, id, ex.actor)
		if err != nil {
			return nil, err
		}
		return ex.marshalPost(ctx, f.Selections, post)

	case "rejectPost":
		id, err := argString(args, "id")
		if err != nil {
			return nil, err
		}
		reason, err := argString(args, "reason")
		if err != nil {
			return nil, err
		}
		post, err := ex.Moderation.Reject(ctx, id, ex.actor, reason)
		if err != nil {
			return nil, err
		}
		return ex.marshalPost(ctx, f.Selections, post)
	}
	return nil, unknownField("Mutation", f.Name)
}

func (ex *execution) requireActor() error {
	if ex.actor.UserID == "" {
		return fmt.Errorf("%w: authentication required", domain.ErrUnauthenticated)
	}
	return nil
}

func newPostInput(v any) (service.PostInput, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return service.PostInput{}, fmt.Errorf("%w: input must be an object", domain.ErrValidation)
	}
	var in service.PostInput
	var err error
	for name, dst := range map[string]*string{
		"title":       &in.Title,
		"description": &in.Description,
		"body":        &in.Body,
		"category":    &in.Category,
		"image":       &in.Image,
	} {
		if *dst, err = argString(m, name); err != nil {
			return service.PostInput{}, err
		}
	}
	return in, nil
}

// === Object Resolvers ===

func (ex *execution) marshalPost(ctx context.Context, sel ast.SelectionSet, p *domain.Post) (*object, error) {
	return ex.resolveObject(ctx, sel, "Post", func(ctx context.Context, f graphql.CollectedField) (any, error) {
		switch f.Name {
		case "id":
			return p.ID, nil
		case "title":
			return p.Title, nil
		case "description":
			return p.Description, nil
		case "body":
			return p.Body, nil
		case "category":
			return p.Category, nil
		case "image":
			return optional(p.Image), nil
		case "authorId":
			return p.AuthorID, nil
		case "status":
			return string(p.Status), nil
		case "rejectionReason":
			return optional(p.RejectionReason), nil
		case "likeCount":
			return p.LikeCount, nil
		case "createdAt":
			return formatTime(p.CreatedAt), nil
		case "commentCount":
			return len(p.Comments), nil
		case "liked":
			return ex.Posts.Liked(ctx, ex.actor, p.ID)
		case "comments":
			tree, err := ex.Comments.Tree(ctx, ex.actor, p.ID)
			if err != nil {
				return nil, err
			}
			return ex.marshalTree(ctx, f.Selections, tree)
		}
		return nil, unknownField("Post", f.Name)
	})
}

func (ex *execution) marshalPostPage(ctx context.Context, sel ast.SelectionSet, page service.Page[*domain.Post]) (*object, error) {
	return ex.resolveObject(ctx, sel, "PostPage", func(ctx context.Context, f graphql.CollectedField) (any, error) {
		switch f.Name {
		case "total":
			return page.Total, nil
		case "items":
			return marshalList(page.Items, func(p *domain.Post) (*object, error) {
				return ex.marshalPost(ctx, f.Selections, p)
			})
		}
		return nil, unknownField("PostPage", f.Name)
	})
}

func (ex *execution) marshalTree(ctx context.Context, sel ast.SelectionSet, tree *service.CommentTree) (*object, error) {
	return ex.resolveObject(ctx, sel, "CommentTree", func(ctx context.Context, f graphql.CollectedField) (any, error) {
		switch f.Name {
		case "total":
			return tree.Total, nil
		case "roots":
			return tree.Roots, nil
		case "maxLevel":
			return tree.MaxLevel, nil
		case "comments":
			return marshalList(tree.Comments, func(n *service.CommentNode) (*object, error) {
				return ex.marshalComment(ctx, f.Selections, n)
			})
		}
		return nil, unknownField("CommentTree", f.Name)
	})
}

func (ex *execution) marshalComment(ctx context.Context, sel ast.SelectionSet, n *service.CommentNode) (*object, error) {
	return ex.resolveObject(ctx, sel, "Comment", func(ctx context.Context, f graphql.CollectedField) (any, error) {
		switch f.Name {
		case "id":
			return n.ID, nil
		case "postId":
			return n.PostID, nil
		case "parentId":
			return n.ParentID, nil
		case "authorId":
			return n.AuthorID, nil
		case "authorAvatar":
			return n.AuthorAvatar, nil
		case "text":
			return n.Text, nil
		case "level":
			return n.Level, nil
		case "createdAt":
			return formatTime(n.CreatedAt), nil
		case "canReply":
			return n.CanReply, nil
		case "canDelete":
			return n.CanDelete, nil
		case "replies":
			return marshalList(n.Replies, func(r *service.CommentNode) (*object, error) {
				return ex.marshalComment(ctx, f.Selections, r)
			})
		}
		return nil, unknownField("Comment", f.Name)
	})
}

// optional отдаёт null вместо пустой строки для необязательных полей.
func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
