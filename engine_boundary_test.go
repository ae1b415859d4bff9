package goAccount_test

import (
	"context"
	"errors"
	"testing"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/mail"
	"github.com/MrEthical07/goAccount/metrics"
	"github.com/MrEthical07/goAccount/store/memory"
	"github.com/MrEthical07/goAccount/user"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type brokenDirectory struct {
	*memory.Directory
	err error
}

func (d brokenDirectory) FindByEmail(context.Context, string) (*user.User, error) {
	return nil, d.err
}

func TestEngineHidesInternalErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Cache.Size = 0
	e, err := goAccount.New().
		WithConfig(cfg).
		WithDirectory(brokenDirectory{Directory: memory.NewDirectory(), err: errors.New("connection refused")}).
		WithTokenRepository(memory.NewTokens()).
		WithRecoveryCodes(memory.NewRecoveryCodes()).
		WithMailer(&mail.RecordingSender{}).
		WithHasher(plainHasher{}).
		WithLogger(zap.New(core)).
		WithMetrics(m).
		Build()
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Login(context.Background(), goAccount.NewRequestContext(), goAccount.Credentials{Email: "a@x.com", Password: "pw"})
	require.ErrorIs(t, err, goAccount.ErrInternal)
	assert.NotContains(t, err.Error(), "connection refused")

	entries := logs.FilterMessage("internal error").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "login password", fields["op"])
	assert.Equal(t, "USER_DIRECTORY_UNAVAILABLE", fields["code"])

	n, err := testutil.GatherAndCount(reg, "goaccount_internal_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, counterValue(t, reg, "goaccount_logins_total"))
}

// counterValue sums every series of the counter family name.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestEngineMailFailureIsCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	f := newFixture(t, func(b *goAccount.Builder, _ *goAccount.Config) {
		b.WithMetrics(m)
	})
	f.mails.Err = errors.New("smtp down")

	_, err = f.engine.Signup(context.Background(), goAccount.Signup{Name: "Ann", Email: "ann@x.com", Password: "pw"})
	require.NoError(t, err)

	assert.Equal(t, 1.0, counterValue(t, reg, "goaccount_mail_failures_total"))
}
