package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailpost/billing/pkg/logger"
	"github.com/trailpost/billing/svc/lifecycle"
)

func memoryConfig() appConfig {
	return appConfig{
		Store:   storeMemory,
		Locker:  lockerMemory,
		Gateway: gatewayMock,
		Log:     logger.Config{Level: "error", Format: "json"},
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(context.Background(), memoryConfig(), io.Discard)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNewApp(t *testing.T) {
	t.Parallel()

	t.Run("wires memory backends", func(t *testing.T) {
		t.Parallel()
		a := newTestApp(t)
		assert.NotNil(t, a.manager)
		assert.NotNil(t, a.reporter)
		assert.NotNil(t, a.parser)
		assert.Empty(t, a.checks)
		assert.Equal(t, "USD", a.catalog.Currency())
	})

	t.Run("rejects unknown backends", func(t *testing.T) {
		t.Parallel()
		for _, mutate := range []func(*appConfig){
			func(c *appConfig) { c.Store = "sqlite" },
			func(c *appConfig) { c.Locker = "zookeeper" },
			func(c *appConfig) { c.Gateway = "paypal" },
		} {
			cfg := memoryConfig()
			mutate(&cfg)
			_, err := newApp(context.Background(), cfg, io.Discard)
			assert.ErrorIs(t, err, ErrUnknownBackend)
		}
	})

	t.Run("rejects an unknown points transport", func(t *testing.T) {
		t.Parallel()
		cfg := memoryConfig()
		cfg.Points.Transport = "carrier-pigeon"
		_, err := newApp(context.Background(), cfg, io.Discard)
		assert.Error(t, err)
	})

	t.Run("fails on a missing catalog file", func(t *testing.T) {
		t.Parallel()
		cfg := memoryConfig()
		cfg.CatalogFile = t.TempDir() + "/plans.yaml"
		_, err := newApp(context.Background(), cfg, io.Discard)
		assert.Error(t, err)
	})
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter(t *testing.T) {
	t.Parallel()

	t.Run("health and metrics", func(t *testing.T) {
		t.Parallel()
		a := newTestApp(t)
		h := newRouter(a)

		rec := serve(h, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

		rec = serve(h, http.MethodGet, "/readyz", "")
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = serve(h, http.MethodGet, "/metrics", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "go_goroutines")
	})

	t.Run("readiness reports failing dependencies", func(t *testing.T) {
		t.Parallel()
		a := newTestApp(t)
		a.checks["postgres"] = func(context.Context) error { return errors.New("connection refused") }

		rec := serve(newRouter(a), http.MethodGet, "/readyz", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.JSONEq(t, `{"status":"unavailable","checks":{"postgres":"failing"}}`, rec.Body.String())
	})

	t.Run("webhooks reach the manager", func(t *testing.T) {
		t.Parallel()
		h := newRouter(newTestApp(t))

		rec := serve(h, http.MethodPost, "/webhooks/payments",
			`{"id":"evt_1","type":"payment.succeeded","user_id":"nobody","transaction_id":"txn_1"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp["status"])

		rec = serve(h, http.MethodPost, "/webhooks/payments", `{"id":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = serve(h, http.MethodGet, "/webhooks/payments", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

type fakeSweeper struct {
	report     lifecycle.RenewReport
	renewErr   error
	expired    int
	expireErr  error
	reset      int
	expireRuns int
}

func (f *fakeSweeper) RenewDue(context.Context) (lifecycle.RenewReport, error) {
	return f.report, f.renewErr
}

func (f *fakeSweeper) ExpireDue(context.Context) (int, error) {
	f.expireRuns++
	return f.expired, f.expireErr
}

func (f *fakeSweeper) ResetStaleUsage(context.Context) (int, error) {
	return f.reset, nil
}

func TestRunSweep(t *testing.T) {
	t.Parallel()
	l := slog.New(slog.DiscardHandler)

	t.Run("renews then expires", func(t *testing.T) {
		t.Parallel()
		s := &fakeSweeper{report: lifecycle.RenewReport{Renewed: 2, Declined: 1}, expired: 3}
		res, err := runSweep(context.Background(), s, l)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Renewal.Renewed)
		assert.Equal(t, 1, res.Renewal.Declined)
		assert.Equal(t, 3, res.Expired)
	})

	t.Run("expires even when renewal fails", func(t *testing.T) {
		t.Parallel()
		renewErr := errors.New("store unavailable")
		expireErr := errors.New("list failed")
		s := &fakeSweeper{renewErr: renewErr, expireErr: expireErr}
		_, err := runSweep(context.Background(), s, l)
		assert.ErrorIs(t, err, renewErr)
		assert.ErrorIs(t, err, expireErr)
		assert.Equal(t, 1, s.expireRuns)
	})
}

func TestNewScheduler(t *testing.T) {
	t.Parallel()
	l := slog.New(slog.DiscardHandler)

	c, err := newScheduler(context.Background(), &fakeSweeper{}, l, "@every 15m", "@daily")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 2)

	c, err = newScheduler(context.Background(), &fakeSweeper{}, l, "@every 1h", "")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	_, err = newScheduler(context.Background(), &fakeSweeper{}, l, "every tuesday", "")
	assert.ErrorContains(t, err, "invalid sweep schedule")

	_, err = newScheduler(context.Background(), &fakeSweeper{}, l, "", "61 * * * *")
	assert.ErrorContains(t, err, "invalid usage reset schedule")
}

func TestReportRange(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name       string
		from, to   string
		start, end time.Time
		err        string
	}{
		{name: "previous month by default", start: day(2025, 2, 1), end: day(2025, 3, 1)},
		{name: "one month from start", from: "2025-01-15", start: day(2025, 1, 15), end: day(2025, 2, 15)},
		{name: "explicit range", from: "2025-01-01", to: "2025-04-01", start: day(2025, 1, 1), end: day(2025, 4, 1)},
		{name: "bad from", from: "01/01/2025", err: "invalid --from"},
		{name: "bad to", from: "2025-01-01", to: "tomorrow", err: "invalid --to"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			start, end, err := reportRange(tt.from, tt.to, now)
			if tt.err != "" {
				assert.ErrorContains(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}

	t.Run("january reports december", func(t *testing.T) {
		t.Parallel()
		start, end, err := reportRange("", "", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, day(2024, 12, 1), start)
		assert.Equal(t, day(2025, 1, 1), end)
	})
}

func TestPrintOutput(t *testing.T) {
	t.Parallel()

	run := func(format string) (string, error) {
		cmd := &cobra.Command{}
		cmd.Flags().String("output", format, "")
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		err := printOutput(cmd, map[string]int{"reset": 3})
		return buf.String(), err
	}

	out, err := run(formatJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"reset":3}`, out)

	out, err = run(formatYAML)
	require.NoError(t, err)
	assert.Equal(t, "reset: 3\n", out)

	_, err = run("xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestRootCommand(t *testing.T) {
	t.Run("validates arguments before wiring", func(t *testing.T) {
		root := newRootCmd()
		root.SetOut(io.Discard)
		root.SetErr(io.Discard)

		root.SetArgs([]string{"status"})
		assert.Error(t, root.Execute())

		root.SetArgs([]string{"report", "--from", "yesterday"})
		assert.ErrorContains(t, root.Execute(), "invalid --from")
	})

	t.Run("sweeps an empty memory store", func(t *testing.T) {
		t.Setenv("BILLING_STORE", storeMemory)
		t.Setenv("BILLING_LOCKER", lockerMemory)
		t.Setenv("BILLING_GATEWAY", gatewayMock)
		t.Setenv("LOG_LEVEL", "error")

		root := newRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(io.Discard)
		root.SetArgs([]string{"sweep"})
		require.NoError(t, root.Execute())

		var res sweepResult
		require.NoError(t, json.Unmarshal(out.Bytes(), &res))
		assert.Zero(t, res.Expired)
		assert.Zero(t, res.Renewal.Renewed)
	})
}
