package cache

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis, *bytes.Buffer) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return New(rdb, logger, DefaultConfig()), mr, &buf
}

func TestCache_PutThenGet(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	fp := Fingerprint("summary", "some article text")
	assert.True(t, c.Put(ctx, fp, "a short summary", time.Minute))

	l := c.Get(ctx, fp)
	assert.True(t, l.Hit)
	assert.Equal(t, "a short summary", l.Value)
	assert.Equal(t, ReasonNone, l.Reason)
}

func TestCache_MissAfterTTL(t *testing.T) {
	c, mr, _ := newTestCache(t)
	ctx := context.Background()

	fp := Fingerprint("sentiment", "text")
	require.True(t, c.Put(ctx, fp, "positive", 10*time.Second))

	mr.FastForward(9 * time.Second)
	assert.True(t, c.Get(ctx, fp).Hit, "TTL前はヒットすること")

	mr.FastForward(2 * time.Second)
	l := c.Get(ctx, fp)
	assert.False(t, l.Hit, "TTL経過後はミスになること")
	assert.Equal(t, ReasonNotFound, l.Reason)
}

func TestCache_PutUsesDefaultTTL(t *testing.T) {
	c, mr, _ := newTestCache(t)
	ctx := context.Background()

	fp := Fingerprint("keywords", "text")
	require.True(t, c.Put(ctx, fp, `["go"]`, 0))

	assert.Equal(t, DefaultTTL, mr.TTL(keyPrefix+fp))
}

func TestCache_StoreUnavailableIsMiss(t *testing.T) {
	c, mr, buf := newTestCache(t)
	ctx := context.Background()
	mr.Close()

	fp := Fingerprint("summary", "text")
	assert.False(t, c.Put(ctx, fp, "value", time.Minute), "Redis停止時の保存は失敗として報告されること")

	l := c.Get(ctx, fp)
	assert.False(t, l.Hit)
	assert.Equal(t, ReasonStoreError, l.Reason)
	assert.Contains(t, buf.String(), "キャッシュの取得に失敗しました")
}

func TestCache_JSONRoundTripAndDecodeError(t *testing.T) {
	c, mr, _ := newTestCache(t)
	ctx := context.Background()

	fp := Fingerprint("questions", "text")
	require.True(t, c.PutJSON(ctx, fp, []string{"Why?", "How?"}, time.Minute))

	var got []string
	l := c.GetJSON(ctx, fp, &got)
	assert.True(t, l.Hit)
	assert.Equal(t, []string{"Why?", "How?"}, got)

	require.NoError(t, mr.Set(keyPrefix+fp, "{not json"))
	l = c.GetJSON(ctx, fp, &got)
	assert.False(t, l.Hit)
	assert.Equal(t, ReasonDecodeError, l.Reason)
}

func TestFingerprint_DeterministicAndKindScoped(t *testing.T) {
	a := Fingerprint("summary", "same input")
	b := Fingerprint("summary", "same input")
	c := Fingerprint("sentiment", "same input")
	d := Fingerprint("summary", "other input")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c, "処理種別が異なれば衝突しないこと")
	assert.NotEqual(t, a, d)
	assert.Contains(t, a, "summary:")
}

func TestCache_Clear(t *testing.T) {
	c, mr, _ := newTestCache(t)
	ctx := context.Background()

	require.True(t, c.Put(ctx, Fingerprint("summary", "a"), "x", time.Minute))
	require.True(t, c.Put(ctx, Fingerprint("summary", "b"), "y", time.Minute))
	require.True(t, c.Put(ctx, Fingerprint("sentiment", "a"), "neutral", time.Minute))
	require.NoError(t, mr.Set("other:key", "untouched"))

	n, err := c.Clear(ctx, "summary:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, c.Get(ctx, Fingerprint("sentiment", "a")).Hit)

	n, err = c.Clear(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, mr.Exists("other:key"), "接頭辞の異なるキーは削除しないこと")

	n, err = c.Clear(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCache_StatsCountsKeysAndLookups(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	fp := Fingerprint("summary", "a")
	require.True(t, c.Put(ctx, fp, "x", time.Minute))
	c.Get(ctx, fp)
	c.Get(ctx, Fingerprint("summary", "missing"))

	s, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Keys)
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 0.5, s.HitRate(), 0.0001)
}

func TestParseInfo(t *testing.T) {
	info := "# Stats\r\nkeyspace_hits:42\r\nkeyspace_misses:7\r\n\r\n# Memory\r\nused_memory_human:1.05M\r\n"
	fields := parseInfo(info)
	assert.Equal(t, "42", fields["keyspace_hits"])
	assert.Equal(t, "7", fields["keyspace_misses"])
	assert.Equal(t, "1.05M", fields["used_memory_human"])
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient("not-a-redis-url")
	assert.Error(t, err)
}
