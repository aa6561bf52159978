// Package ranking задаёт единый порядок статей для всех списков.
package ranking

import (
	"sort"

	"github.com/UkralStul/technews/internal/domain"
)

// Less сравнивает статьи: больше отметок, затем больше комментариев, затем новее.
func Less(a, b *domain.Post) bool {
	if a.LikeCount != b.LikeCount {
		return a.LikeCount > b.LikeCount
	}
	if len(a.Comments) != len(b.Comments) {
		return len(a.Comments) > len(b.Comments)
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// Sort упорядочивает статьи на месте.
func Sort(posts []*domain.Post) {
	sort.SliceStable(posts, func(i, j int) bool { return Less(posts[i], posts[j]) })
}

// Page возвращает срез [offset, offset+limit). limit <= 0 означает "без ограничения".
func Page(posts []*domain.Post, limit, offset int) []*domain.Post {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(posts) {
		return []*domain.Post{}
	}
	end := len(posts)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return posts[offset:end]
}
