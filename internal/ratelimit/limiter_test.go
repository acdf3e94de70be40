package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLimiter_BackToBackCallsAreSpacedByInterval(t *testing.T) {
	l := New(Config{DefaultInterval: 200 * time.Millisecond})
	ctx := context.Background()

	if err := l.Acquire(ctx, "rss"); err != nil {
		t.Fatalf("1回目のAcquireがエラーを返した: %v", err)
	}
	first := time.Now()

	if err := l.Acquire(ctx, "rss"); err != nil {
		t.Fatalf("2回目のAcquireがエラーを返した: %v", err)
	}
	elapsed := time.Since(first)

	// x/time/rateのトークン補充は微小な誤差を含むため少し余裕を持たせる
	if elapsed < 190*time.Millisecond {
		t.Errorf("2回目の呼び出しまでの間隔 = %v, want >= 200ms", elapsed)
	}
}

func TestLimiter_DifferentKeysDoNotBlockEachOther(t *testing.T) {
	l := New(Config{DefaultInterval: time.Second})
	ctx := context.Background()

	start := time.Now()
	for _, key := range []string{"a", "b", "c"} {
		if err := l.Acquire(ctx, key); err != nil {
			t.Fatalf("Acquire(%s)がエラーを返した: %v", key, err)
		}
	}

	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("異なるキーの初回Acquireに %v かかった、ブロックしてはならない", elapsed)
	}
	if l.Count() != 3 {
		t.Errorf("Count() = %d, want 3", l.Count())
	}
}

func TestLimiter_ConcurrentCallersSerialize(t *testing.T) {
	interval := 100 * time.Millisecond
	l := New(Config{DefaultInterval: interval})
	ctx := context.Background()

	var mu sync.Mutex
	var times []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx, "same"); err != nil {
				t.Errorf("Acquireがエラーを返した: %v", err)
				return
			}
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	earliest, latest := times[0], times[0]
	for _, ts := range times {
		if ts.Before(earliest) {
			earliest = ts
		}
		if ts.After(latest) {
			latest = ts
		}
	}
	if spread := latest.Sub(earliest); spread < 2*interval-20*time.Millisecond {
		t.Errorf("3呼び出しの開始時刻の幅 = %v, want >= %v", spread, 2*interval)
	}
}

func TestLimiter_PerEndpointInterval(t *testing.T) {
	l := New(Config{
		DefaultInterval: time.Second,
		Intervals:       map[string]time.Duration{"newsapi": 50 * time.Millisecond},
	})

	if got := l.Interval("newsapi"); got != 50*time.Millisecond {
		t.Errorf("Interval(newsapi) = %v, want 50ms", got)
	}
	if got := l.Interval("other"); got != time.Second {
		t.Errorf("Interval(other) = %v, want 1s", got)
	}
}

func TestLimiter_AcquireHonorsCancellation(t *testing.T) {
	l := New(Config{DefaultInterval: 10 * time.Second})

	if err := l.Acquire(context.Background(), "slow"); err != nil {
		t.Fatalf("初回Acquireがエラーを返した: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Acquire(ctx, "slow")
	if err == nil {
		t.Fatal("キャンセル済みコンテキストではエラーを返すこと")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestNew_ZeroIntervalFallsBackToDefault(t *testing.T) {
	l := New(Config{})
	if got := l.Interval("x"); got != DefaultInterval {
		t.Errorf("Interval = %v, want %v", got, DefaultInterval)
	}
}
