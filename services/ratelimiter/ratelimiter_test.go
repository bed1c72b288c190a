package ratelimiter

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

// fakeRedis is a minimal in-memory sorted-set double satisfying redisClient,
// grounded on the teacher's hand-rolled in-memory store idiom applied to a
// Redis sorted set instead of a map.
type fakeRedis struct {
	mu   sync.Mutex
	sets map[string]map[string]float64
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{sets: make(map[string]map[string]float64)}
}

func (f *fakeRedis) ZAdd(ctx context.Context, key string, members ...*redis.Z) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]float64)
	}
	for _, m := range members {
		f.sets[key][m.Member.(string)] = m.Score
	}
	cmd.SetVal(int64(len(members)))
	return cmd
}

func (f *fakeRedis) ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	minScore, _ := strconv.ParseFloat(min, 64)
	if min == "-inf" {
		minScore = -1 << 62
	}
	removed := int64(0)
	for member, score := range f.sets[key] {
		if score < minScore {
			delete(f.sets[key], member)
			removed++
		}
	}
	_ = max
	cmd.SetVal(removed)
	return cmd
}

func (f *fakeRedis) ZCard(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(f.sets[key])))
	return cmd
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	cmd.SetVal(true)
	return cmd
}

func TestIsAllowedRejectsOverMax(t *testing.T) {
	client := newFakeRedis()
	limiter := New(client, nil)

	key := ScanKey("proj-1")
	admitted := 0
	for i := 0; i < 5; i++ {
		if limiter.IsAllowed(context.Background(), key, 2, time.Second) {
			admitted++
		}
	}
	require.Equal(t, 2, admitted, "at most max_requests may be admitted per window")
}

func TestScanAndRatelimitKeysAreDisjoint(t *testing.T) {
	require.NotEqual(t, ScanKey("p"), RatelimitKey("p"))
}

func TestWaitIfNeededTimesOut(t *testing.T) {
	client := newFakeRedis()
	limiter := New(client, nil)
	key := ScanKey("proj-2")

	require.True(t, limiter.IsAllowed(context.Background(), key, 1, time.Minute))
	ok := limiter.WaitIfNeeded(context.Background(), key, 1, time.Minute, 250*time.Millisecond)
	require.False(t, ok, "wait must time out once the window stays full")
}
