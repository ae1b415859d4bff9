package goAccount_test

import (
	"context"
	"testing"
	"time"

	goAccount "github.com/MrEthical07/goAccount"
	storeredis "github.com/MrEthical07/goAccount/store/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisTokensReportExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var f *fixture
	f = newFixture(t, func(b *goAccount.Builder, _ *goAccount.Config) {
		b.WithTokenRepository(storeredis.NewTokens(client, "gacc", storeredis.WithClock(func() time.Time {
			return f.clock.Now()
		})))
	})

	_, err := f.engine.Signup(ctx, goAccount.Signup{Name: "Ann", Email: "ann@x.com", Password: "pw"})
	require.NoError(t, err)
	value := linkParams(t, f.lastMailTo(t, "ann@x.com")).Get("token")

	f.clock.Advance(31 * time.Minute)
	mr.FastForward(31 * time.Minute)

	_, err = f.engine.ActivateAccount(ctx, value)
	assert.ErrorIs(t, err, goAccount.ErrTokenExpired)
}
