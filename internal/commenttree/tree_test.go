package commenttree

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/technews/internal/domain"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func c(id string, parent string, minutes int) *domain.Comment {
	cm := &domain.Comment{ID: id, AuthorID: "user-" + id, Text: "text " + id, CreatedAt: base.Add(time.Duration(minutes) * time.Minute)}
	if parent != "" {
		p := parent
		cm.ParentID = &p
	}
	return cm
}

func ids(list []*domain.Comment) []string {
	out := make([]string, len(list))
	for i, cm := range list {
		out[i] = cm.ID
	}
	return out
}

// randomFlat строит случайный лес без висячих ссылок.
func randomFlat(r *rand.Rand, n int) []*domain.Comment {
	flat := make([]*domain.Comment, 0, n)
	for i := 0; i < n; i++ {
		parent := ""
		if i > 0 && r.Intn(3) != 0 {
			parent = flat[r.Intn(i)].ID
		}
		flat = append(flat, c(fmt.Sprintf("c%03d", i), parent, r.Intn(50)))
	}
	r.Shuffle(len(flat), func(i, j int) { flat[i], flat[j] = flat[j], flat[i] })
	return flat
}

func assertSorted(t *testing.T, level []*domain.Comment) {
	t.Helper()
	for i := 1; i < len(level); i++ {
		assert.False(t, level[i].CreatedAt.After(level[i-1].CreatedAt), "siblings must be newest first")
	}
	for _, cm := range level {
		assertSorted(t, cm.Replies)
	}
}

func TestOrganize_Chain(t *testing.T) {
	flat := []*domain.Comment{c("1", "", 1), c("2", "1", 2), c("3", "2", 3)}

	tree := Organize(flat)

	require.Len(t, tree, 1)
	assert.Equal(t, "1", tree[0].ID)
	require.Len(t, tree[0].Replies, 1)
	assert.Equal(t, "2", tree[0].Replies[0].ID)
	require.Len(t, tree[0].Replies[0].Replies, 1)
	assert.Equal(t, "3", tree[0].Replies[0].Replies[0].ID)
	assert.Equal(t, 2, tree[0].Replies[0].Replies[0].Level)
	assert.Equal(t, 3, CountAll(tree))
}

func TestOrganize_SortsNewestFirst(t *testing.T) {
	flat := []*domain.Comment{
		c("a", "", 1), c("b", "", 5), c("c", "", 3),
		c("a1", "a", 2), c("a2", "a", 9), c("a3", "a", 4),
	}

	tree := Organize(flat)

	assert.Equal(t, []string{"b", "c", "a"}, ids(tree))
	assert.Equal(t, []string{"a2", "a3", "a1"}, ids(tree[2].Replies))
}

func TestOrganize_DoesNotMutateInput(t *testing.T) {
	flat := []*domain.Comment{c("1", "", 1), c("2", "1", 2)}

	_ = Organize(flat)

	assert.Nil(t, flat[0].Replies)
	assert.Equal(t, 0, flat[1].Level)
}

func TestOrganize_OrphanPromotedToRoot(t *testing.T) {
	flat := []*domain.Comment{c("1", "", 1), c("2", "missing", 2)}

	tree := Organize(flat)

	assert.ElementsMatch(t, []string{"1", "2"}, ids(tree))
	assert.Equal(t, 2, CountAll(tree))
}

func TestOrganize_BreaksCycles(t *testing.T) {
	flat := []*domain.Comment{c("x", "y", 1), c("y", "x", 2), c("z", "z", 3)}

	tree := Organize(flat)

	assert.Equal(t, 3, CountAll(tree))
	assert.ElementsMatch(t, []string{"x", "y", "z"}, ids(Flatten(tree)))
	root := Find(tree, "x")
	require.NotNil(t, root)
	assert.Equal(t, 0, root.Level)
	assert.Equal(t, []string{"y"}, ids(root.Replies))
}

func TestOrganize_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		flat := randomFlat(r, 1+r.Intn(40))

		tree := Organize(flat)

		assert.Equal(t, len(flat), CountAll(tree))

		got := ids(Flatten(tree))
		want := ids(flat)
		sort.Strings(got)
		sort.Strings(want)
		assert.Equal(t, want, got, "flatten must return every id exactly once")

		assertSorted(t, tree)

		again := Organize(Flatten(tree))
		assert.Equal(t, tree, again, "organize must be idempotent")
	}
}

func TestRemoveFromTree_Cascades(t *testing.T) {
	flat := []*domain.Comment{c("1", "", 1), c("2", "1", 2), c("3", "2", 3), c("4", "", 4)}
	tree := Organize(flat)

	result := RemoveFromTree(tree, "1")

	assert.Equal(t, []string{"4"}, ids(Flatten(result)))
	assert.Equal(t, 4, CountAll(tree), "source tree must stay intact")
}

func TestRemoveFromTree_NoDescendantSurvives(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for round := 0; round < 30; round++ {
		flat := randomFlat(r, 2+r.Intn(30))
		target := flat[r.Intn(len(flat))].ID

		result := RemoveFromTree(Organize(flat), target)

		removed := DescendantIDs(flat, target)
		left := ids(Flatten(result))
		for _, id := range removed {
			assert.NotContains(t, left, id)
		}
		assert.Equal(t, len(flat)-len(removed), len(left))
	}
}

func TestRemoveFromFlat_MatchesTreeMode(t *testing.T) {
	flat := []*domain.Comment{c("1", "", 1), c("2", "1", 2), c("3", "2", 3), c("4", "1", 4), c("5", "", 5)}

	fromFlat := ids(RemoveFromFlat(flat, "1"))
	fromTree := ids(Flatten(RemoveFromTree(Organize(flat), "1")))

	assert.Equal(t, []string{"5"}, fromFlat)
	assert.ElementsMatch(t, fromFlat, fromTree)
}

func TestDescendantIDs_UnknownTarget(t *testing.T) {
	flat := []*domain.Comment{c("1", "", 1)}
	assert.Empty(t, DescendantIDs(flat, "nope"))
}

func TestCanReply(t *testing.T) {
	assert.True(t, CanReply(&domain.Comment{Level: 2}, DefaultMaxLevel))
	assert.False(t, CanReply(&domain.Comment{Level: 3}, DefaultMaxLevel))
	assert.False(t, CanReply(&domain.Comment{Level: 3}, 0), "zero falls back to default")
	assert.True(t, CanReply(&domain.Comment{Level: 5}, 10))
}

func TestCanDelete(t *testing.T) {
	cm := &domain.Comment{AuthorID: "u1"}

	assert.True(t, CanDelete(cm, domain.Principal{UserID: "u1", Role: domain.RoleUser}))
	assert.True(t, CanDelete(cm, domain.Principal{UserID: "admin", Role: domain.RoleAdmin}))
	assert.False(t, CanDelete(cm, domain.Principal{UserID: "u2", Role: domain.RoleUser}))
	assert.False(t, CanDelete(&domain.Comment{}, domain.Principal{}))
}
