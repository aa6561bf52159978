// Package commenttree строит дерево ответов из плоского списка комментариев
// статьи и выполняет каскадное удаление. Все функции чистые: входные данные
// не изменяются, результат собирается из копий.
package commenttree

import (
	"sort"

	"github.com/UkralStul/technews/internal/domain"
)

// DefaultMaxLevel - глубина, начиная с которой ответы больше не предлагаются.
const DefaultMaxLevel = 3

// Organize превращает плоский список комментариев одной статьи в дерево.
//
// Комментарий, чей родитель отсутствует в списке, становится корневым.
// Если данные содержат цикл по parentId, цикл разрывается на узле, который
// встретился раньше всех во входном списке: он становится корнем.
// Повторяющиеся id учитываются один раз, по первому вхождению.
// Соседи на каждом уровне упорядочены по CreatedAt от новых к старым.
func Organize(flat []*domain.Comment) []*domain.Comment {
	nodes := make(map[string]*domain.Comment, len(flat))
	order := make(map[string]int, len(flat))
	ids := make([]string, 0, len(flat))

	for _, c := range flat {
		if c == nil {
			continue
		}
		if _, dup := nodes[c.ID]; dup {
			continue
		}
		cp := *c
		cp.Replies = []*domain.Comment{}
		cp.Level = 0
		nodes[c.ID] = &cp
		order[c.ID] = len(ids)
		ids = append(ids, c.ID)
	}

	parent := effectiveParents(nodes, order, ids)

	roots := make([]*domain.Comment, 0)
	for _, id := range ids {
		node := nodes[id]
		if p := parent[id]; p != "" {
			nodes[p].Replies = append(nodes[p].Replies, node)
			continue
		}
		roots = append(roots, node)
	}

	arrange(roots, 0)
	return roots
}

// effectiveParents возвращает для каждого узла id родителя, под которым он
// окажется в дереве ("" - корень), с учётом сирот и разрыва циклов.
func effectiveParents(nodes map[string]*domain.Comment, order map[string]int, ids []string) map[string]string {
	parent := make(map[string]string, len(ids))
	for _, id := range ids {
		if p := nodes[id].ParentID; p != nil {
			if _, ok := nodes[*p]; ok && *p != id {
				parent[id] = *p
			}
		}
	}

	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(ids))

	for _, id := range ids {
		var path []string
		cur := id
		cycle := false
		for {
			if st := state[cur]; st == done {
				break
			} else if st == inProgress {
				cycle = true
				break
			}
			state[cur] = inProgress
			path = append(path, cur)
			p := parent[cur]
			if p == "" {
				break
			}
			cur = p
		}

		if cycle {
			start := 0
			for i, n := range path {
				if n == cur {
					start = i
					break
				}
			}
			breakAt := path[start]
			for _, n := range path[start:] {
				if order[n] < order[breakAt] {
					breakAt = n
				}
			}
			delete(parent, breakAt)
		}

		for _, n := range path {
			state[n] = done
		}
	}
	return parent
}

// arrange сортирует уровень и проставляет глубину рекурсивно.
func arrange(level []*domain.Comment, depth int) {
	sortNewestFirst(level)
	for _, c := range level {
		c.Level = depth
		arrange(c.Replies, depth+1)
	}
}

func sortNewestFirst(list []*domain.Comment) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}

// CountAll считает все узлы дерева на любой глубине.
func CountAll(tree []*domain.Comment) int {
	n := 0
	for _, c := range tree {
		n += 1 + CountAll(c.Replies)
	}
	return n
}

// Flatten обходит дерево в прямом порядке и возвращает копии узлов без Replies.
func Flatten(tree []*domain.Comment) []*domain.Comment {
	out := make([]*domain.Comment, 0, CountAll(tree))
	var walk func([]*domain.Comment)
	walk = func(level []*domain.Comment) {
		for _, c := range level {
			cp := *c
			cp.Replies = nil
			out = append(out, &cp)
			walk(c.Replies)
		}
	}
	walk(tree)
	return out
}

// RemoveFromTree удаляет из дерева узел targetID вместе со всеми его ответами.
// Исходное дерево не изменяется.
func RemoveFromTree(tree []*domain.Comment, targetID string) []*domain.Comment {
	out := make([]*domain.Comment, 0, len(tree))
	for _, c := range tree {
		if c.ID == targetID {
			continue
		}
		cp := *c
		cp.Replies = RemoveFromTree(c.Replies, targetID)
		out = append(out, &cp)
	}
	return out
}

// RemoveFromFlat удаляет из плоского списка targetID и всех его потомков на любой глубине.
func RemoveFromFlat(flat []*domain.Comment, targetID string) []*domain.Comment {
	drop := make(map[string]struct{})
	for _, id := range DescendantIDs(flat, targetID) {
		drop[id] = struct{}{}
	}
	out := make([]*domain.Comment, 0, len(flat))
	for _, c := range flat {
		if _, ok := drop[c.ID]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}

// DescendantIDs возвращает targetID и id всех его потомков на любой глубине.
// Если targetID нет в списке, результат пуст.
func DescendantIDs(flat []*domain.Comment, targetID string) []string {
	children := make(map[string][]string, len(flat))
	found := false
	for _, c := range flat {
		if c.ID == targetID {
			found = true
		}
		if c.ParentID != nil {
			children[*c.ParentID] = append(children[*c.ParentID], c.ID)
		}
	}
	if !found {
		return nil
	}

	seen := map[string]struct{}{targetID: {}}
	result := []string{targetID}
	queue := []string{targetID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range children[id] {
			if _, ok := seen[child]; ok {
				continue
			}
			seen[child] = struct{}{}
			result = append(result, child)
			queue = append(queue, child)
		}
	}
	return result
}

// Find ищет узел по id на любой глубине.
func Find(tree []*domain.Comment, id string) *domain.Comment {
	for _, c := range tree {
		if c.ID == id {
			return c
		}
		if found := Find(c.Replies, id); found != nil {
			return found
		}
	}
	return nil
}

// CanReply - политика отображения: ответ на узел предлагается, пока его
// глубина меньше maxLevel. Движок сам по себе глубину не ограничивает.
func CanReply(c *domain.Comment, maxLevel int) bool {
	if maxLevel <= 0 {
		maxLevel = DefaultMaxLevel
	}
	return c.Level < maxLevel
}

// CanDelete - удалять комментарий может его автор или администратор.
func CanDelete(c *domain.Comment, p domain.Principal) bool {
	return p.IsAdmin() || (p.UserID != "" && p.UserID == c.AuthorID)
}
