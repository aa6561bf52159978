package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/UkralStul/technews/internal/auth"
	"github.com/UkralStul/technews/internal/domain"
	"github.com/UkralStul/technews/internal/moderation"
	"github.com/UkralStul/technews/internal/service"
)

// postView - статья в ответах API. Комментарии отдаются деревом через /comments.
type postView struct {
	*domain.Post
	Comments     []*domain.Comment `json:"comments,omitempty"`
	CommentCount int               `json:"commentCount"`
	Liked        bool              `json:"liked"`
}

func newPostView(p *domain.Post) postView {
	return postView{Post: p, CommentCount: len(p.Comments)}
}

func newPostViews(posts []*domain.Post) []postView {
	out := make([]postView, 0, len(posts))
	for _, p := range posts {
		out = append(out, newPostView(p))
	}
	return out
}

func principal(r *http.Request) domain.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

// === Auth ===

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.users.Register(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in service.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.users.Login(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	u, err := s.users.Me(r.Context(), principal(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// === Posts ===

func (s *Server) listPosts(w http.ResponseWriter, r *http.Request) {
	q, err := listQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.posts.ListPublished(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, service.Page[postView]{Items: newPostViews(page.Items), Total: page.Total})
}

func (s *Server) feed(w http.ResponseWriter, r *http.Request) {
	q, err := listQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.posts.Feed(r.Context(), principal(r), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, service.Page[postView]{Items: newPostViews(page.Items), Total: page.Total})
}

func (s *Server) createPost(w http.ResponseWriter, r *http.Request) {
	var in service.PostInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	post, err := s.posts.Create(r.Context(), principal(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPostView(post))
}

func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	actor := principal(r)
	id := chi.URLParam(r, "id")
	post, err := s.posts.Get(r.Context(), actor, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := newPostView(post)
	if view.Liked, err = s.posts.Liked(r.Context(), actor, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) deletePost(w http.ResponseWriter, r *http.Request) {
	if err := s.posts.Delete(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleLike(w http.ResponseWriter, r *http.Request) {
	res, err := s.posts.ToggleLike(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// === Comments ===

func (s *Server) commentTree(w http.ResponseWriter, r *http.Request) {
	tree, err := s.comments.Tree(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) addComment(w http.ResponseWriter, r *http.Request) {
	var in service.CommentInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.comments.Add(r.Context(), principal(r), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) deleteComment(w http.ResponseWriter, r *http.Request) {
	removed, err := s.comments.Delete(r.Context(), principal(r), chi.URLParam(r, "id"), chi.URLParam(r, "commentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"removed": removed})
}

// === Users ===

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	p, err := s.users.Profile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) authorPosts(w http.ResponseWriter, r *http.Request) {
	q, err := listQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.posts.ListByAuthor(r.Context(), principal(r), chi.URLParam(r, "id"), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, service.Page[postView]{Items: newPostViews(page.Items), Total: page.Total})
}

func (s *Server) followers(w http.ResponseWriter, r *http.Request) {
	list, err := s.users.Followers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var in service.ProfileInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.users.UpdateProfile(r.Context(), principal(r), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	changed, err := s.users.Subscribe(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"subscribed": true, "changed": changed})
}

func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request) {
	changed, err := s.users.Unsubscribe(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"subscribed": false, "changed": changed})
}

func (s *Server) notifications(w http.ResponseWriter, r *http.Request) {
	list, err := s.users.Notifications(r.Context(), principal(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) markNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if err := s.users.MarkNotificationsRead(r.Context(), principal(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// === Admin ===

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) adminListPosts(w http.ResponseWriter, r *http.Request) {
	filter, err := moderation.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	posts, err := s.moderation.List(r.Context(), principal(r), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPostViews(posts))
}

func (s *Server) publishPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.moderation.Publish(r.Context(), chi.URLParam(r, "id"), principal(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPostView(post))
}

func (s *Server) rejectPost(w http.ResponseWriter, r *http.Request) {
	var in rejectRequest
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	post, err := s.moderation.Reject(r.Context(), chi.URLParam(r, "id"), principal(r), in.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPostView(post))
}
