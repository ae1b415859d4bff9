package main

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/goAccount/store/memory"
	storeredis "github.com/MrEthical07/goAccount/store/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(samples, 50); got != 5 {
		t.Fatalf("p50 = %v, want 5", got)
	}
	if got := percentile(samples, 100); got != 10 {
		t.Fatalf("p100 = %v, want 10", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("empty p50 = %v, want 0", got)
	}
}

func TestPhasesRunAgainstMiniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	users := memory.NewDirectory()
	engine, err := newEngine(users, storeredis.NewTokens(client, "galt"))
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	defer engine.Close()

	states, err := seed(ctx, engine, users, 3)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if s := runAuthenticatePhase(ctx, engine, states, 20, 4); s.failures != 0 || s.ops != 20 {
		t.Fatalf("authenticate stats = %+v", s)
	}
	if s := runRefreshPhase(ctx, engine, states, 20, 4); s.failures != 0 || s.ops != 20 {
		t.Fatalf("refresh stats = %+v", s)
	}
}
