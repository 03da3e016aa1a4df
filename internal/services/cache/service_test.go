package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/authrelay/internal/models"
)

func testCookies(name string) []models.Cookie {
	return []models.Cookie{
		{Name: name, Value: "value-" + name, Domain: "example.com", Path: "/"},
	}
}

func TestGetMiss(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	entry, ok := svc.Get("sso_a", "user1")
	assert.False(t, ok)
	assert.Nil(t, entry)
}

func TestPutAndGet(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	svc.Put("sso_a", "user1", testCookies("session"))

	entry, ok := svc.Get("sso_a", "user1")
	require.True(t, ok)
	require.Len(t, entry.Cookies, 1)
	assert.Equal(t, "session", entry.Cookies[0].Name)
	assert.Equal(t, 0, entry.ValidationCount)
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestGetReturnsCopy(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	svc.Put("sso_a", "user1", testCookies("session"))

	first, ok := svc.Get("sso_a", "user1")
	require.True(t, ok)
	first.Cookies[0].Value = "tampered"

	second, ok := svc.Get("sso_a", "user1")
	require.True(t, ok)
	assert.Equal(t, "value-session", second.Cookies[0].Value)
}

func TestPutReplacesEntry(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	svc.Put("sso_a", "user1", testCookies("old"))
	require.True(t, svc.MarkValidated("sso_a", "user1"))

	svc.Put("sso_a", "user1", testCookies("new"))

	entry, ok := svc.Get("sso_a", "user1")
	require.True(t, ok)
	assert.Equal(t, "new", entry.Cookies[0].Name)
	assert.Equal(t, 0, entry.ValidationCount, "replacement resets validation metadata")
}

func TestMarkValidated(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	svc.Put("sso_a", "user1", testCookies("session"))

	before, _ := svc.Get("sso_a", "user1")

	require.True(t, svc.MarkValidated("sso_a", "user1"))
	require.True(t, svc.MarkValidated("sso_a", "user1"))

	after, ok := svc.Get("sso_a", "user1")
	require.True(t, ok)
	assert.Equal(t, 2, after.ValidationCount)
	assert.Equal(t, before.Cookies, after.Cookies, "validation must not touch cookies")
	assert.False(t, after.LastValidatedAt.Before(before.LastValidatedAt))
}

func TestMarkValidatedMissing(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	assert.False(t, svc.MarkValidated("sso_a", "nobody"))
}

func TestInvalidate(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	svc.Put("sso_a", "user1", testCookies("session"))

	assert.True(t, svc.Invalidate("sso_a", "user1"))
	assert.False(t, svc.Invalidate("sso_a", "user1"))

	_, ok := svc.Get("sso_a", "user1")
	assert.False(t, ok)
}

func TestInvalidatePlatformIsolation(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	svc.Put("sso_a", "user1", testCookies("a1"))
	svc.Put("sso_a", "user2", testCookies("a2"))
	svc.Put("sso_b", "user1", testCookies("b1"))

	removed := svc.InvalidatePlatform("sso_a")
	assert.Equal(t, 2, removed)

	_, ok := svc.Get("sso_a", "user1")
	assert.False(t, ok)
	_, ok = svc.Get("sso_a", "user2")
	assert.False(t, ok)

	entry, ok := svc.Get("sso_b", "user1")
	require.True(t, ok)
	assert.Equal(t, "b1", entry.Cookies[0].Name)
}

func TestClear(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	svc.Put("sso_a", "user1", testCookies("a1"))
	svc.Put("sso_b", "user1", testCookies("b1"))

	assert.Equal(t, 2, svc.Clear())
	assert.Equal(t, 0, svc.Stats().TotalEntries)
	assert.Equal(t, 0, svc.Clear())
}

func TestStatsSnapshot(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	svc.Put("sso_a", "user1", testCookies("a1"))
	svc.Put("sso_a", "user2", testCookies("a2"))
	svc.Put("sso_b", "user1", testCookies("b1"))
	svc.MarkValidated("sso_a", "user1")

	stats := svc.Stats()
	assert.Equal(t, 3, stats.TotalEntries)
	require.Contains(t, stats.Platforms, "sso_a")
	assert.Equal(t, 2, stats.Platforms["sso_a"].Count)
	assert.Equal(t, 1, stats.Platforms["sso_b"].Count)

	// Mutating the cache after the snapshot must not change it
	svc.Clear()
	assert.Equal(t, 3, stats.TotalEntries)
}

func TestConcurrentAccess(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("user%d", n%5)
			svc.Put("sso_a", key, testCookies("session"))
			svc.Get("sso_a", key)
			svc.MarkValidated("sso_a", key)
			svc.Stats()
			if n%7 == 0 {
				svc.Invalidate("sso_a", key)
			}
		}(i)
	}
	wg.Wait()

	stats := svc.Stats()
	assert.LessOrEqual(t, stats.TotalEntries, 5)
}
