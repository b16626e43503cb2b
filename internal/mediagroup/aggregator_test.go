package mediagroup

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorFlushesOnceAfterDebounce(t *testing.T) {
	var mu sync.Mutex
	var flushed []Group

	a := New(Options{
		Debounce: 20 * time.Millisecond,
		OnFlush: func(g Group) {
			mu.Lock()
			flushed = append(flushed, g)
			mu.Unlock()
		},
	})

	a.Add(Item{ChatID: 1, UserID: 7, MediaGroupID: "g1", FileID: "f1", Caption: "sneaker"})
	a.Add(Item{ChatID: 1, UserID: 7, MediaGroupID: "g1", FileID: "f2"})
	a.Add(Item{ChatID: 1, UserID: 7, MediaGroupID: "g1", FileID: "f3"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(flushed) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	g := flushed[0]
	assert.Equal(t, int64(1), g.ChatID)
	assert.Equal(t, "sneaker", g.Caption)
	assert.Equal(t, []string{"f1", "f2", "f3"}, g.FileIDs)
}

func TestAggregatorKeepsGroupsApart(t *testing.T) {
	var mu sync.Mutex
	flushed := make(map[int64][]string)

	a := New(Options{
		Debounce: 20 * time.Millisecond,
		OnFlush: func(g Group) {
			mu.Lock()
			flushed[g.ChatID] = g.FileIDs
			mu.Unlock()
		},
	})

	a.Add(Item{ChatID: 1, MediaGroupID: "g1", FileID: "a1"})
	a.Add(Item{ChatID: 2, MediaGroupID: "g1", FileID: "b1"})
	a.Add(Item{ChatID: 1, MediaGroupID: "g1", FileID: "a2"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(flushed) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a1", "a2"}, flushed[1])
	assert.Equal(t, []string{"b1"}, flushed[2])
}

func TestAggregatorIgnoresIncompleteItems(t *testing.T) {
	a := New(Options{
		Debounce: time.Millisecond,
		OnFlush:  func(Group) { t.Fatal("nothing should flush") },
	})

	a.Add(Item{ChatID: 1, FileID: "f1"})
	a.Add(Item{ChatID: 1, MediaGroupID: "g1"})

	time.Sleep(20 * time.Millisecond)
}
