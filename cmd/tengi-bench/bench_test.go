package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/tengi/pkg/server"
	"github.com/vango-dev/tengi/pkg/transport"
)

func runtimeMemStats() runtime.MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("tengi-bench", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig(newFlagSet(), []string{"-profile", "fast", "-transport", "websocket", "-clients", "3", "-mem-limit", "1GiB"})
	require.NoError(t, err)

	assert.Equal(t, "fast", cfg.Profile)
	assert.Equal(t, transport.WebSocket, cfg.Transport)
	assert.Equal(t, 3, cfg.Clients)
	assert.Equal(t, 10*time.Second, cfg.Duration)
	assert.Equal(t, gib, cfg.MemLimitBytes)
	assert.Equal(t, "-", cfg.JSONOutput)
	assert.Equal(t, 5*time.Second, cfg.EventTimeout)
}

func TestParseConfigErrors(t *testing.T) {
	tests := [][]string{
		{"-profile", "huge"},
		{"-transport", "udp"},
		{"-clients", "0"},
		{"-duration", "soon"},
		{"-rps", "0"},
		{"-payload-bytes", "0"},
		{"-mem-limit", "2 parsecs"},
	}
	for _, args := range tests {
		_, err := parseConfig(newFlagSet(), args)
		assert.Error(t, err, "%v", args)
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"512", 512},
		{"1kb", 1000},
		{"1.5KiB", 1536},
		{"2GiB", 2 * gib},
	}
	for _, tt := range tests {
		got, err := parseBytes(tt.in)
		require.NoError(t, err, tt.in)
		if got != tt.want {
			t.Errorf("parseBytes(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"", "GiB", "1zb"} {
		_, err := parseBytes(bad)
		assert.Error(t, err, bad)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tests := []struct {
		p    float64
		want time.Duration
	}{
		{0, 1},
		{0.5, 5},
		{0.95, 10},
		{1, 10},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.p); got != tt.want {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	assert.Zero(t, percentile(nil, 0.5))
}

func TestMakeToken(t *testing.T) {
	assert.Len(t, makeToken(1, 2, 24), 24)
	assert.Equal(t, "12:345:", makeToken(12, 345, 3))
	assert.NotEqual(t, makeToken(1, 2, 24), makeToken(1, 3, 24))
}

func TestPending(t *testing.T) {
	p := &pending{tokens: make(map[string]time.Time)}
	now := time.Now()
	p.add("old", now.Add(-time.Minute))
	p.add("new", now)

	assert.Equal(t, 1, p.expire(now.Add(-time.Second)))
	_, ok := p.take("new")
	assert.True(t, ok)
	_, ok = p.take("new")
	assert.False(t, ok)
	assert.Zero(t, p.len())
}

func TestRunClient(t *testing.T) {
	for _, tr := range []transport.Transport{transport.TCP, transport.HTTPLongPolling} {
		t.Run(tr.Name(), func(t *testing.T) {
			srv, err := server.New(
				server.WithHost("127.0.0.1"),
				server.WithTransports(tr),
				server.WithPort(tr, 0),
				server.WithConnectionListener(echoListener),
			)
			require.NoError(t, err)
			bg := context.Background()
			_, err = srv.Start(bg).Get(bg)
			require.NoError(t, err)
			defer func() { _, _ = srv.Stop(bg).Get(bg) }()

			cfg := benchConfig{Transport: tr, Clients: 1, RPS: 50, PayloadBytes: 16, EventTimeout: 2 * time.Second}
			ctx, cancel := context.WithTimeout(bg, 500*time.Millisecond)
			defer cancel()

			var counters benchCounters
			var errs benchErrors
			samples := make(chan time.Duration, 1024)
			require.NoError(t, runClient(ctx, srv.Addr(tr).String(), 0, cfg, &counters, &errs, samples))

			assert.Positive(t, counters.messagesSent.Load())
			assert.Positive(t, counters.messagesComplete.Load())
			assert.Zero(t, errs.connectFailures.Load())
			assert.NotEmpty(t, samples)

			report := buildReport(benchConfig{Transport: tr, Clients: 1, RPS: 50}, time.Second, nil, &counters, &errs,
				runtimeMemStats(), runtimeMemStats(), readRuntimeMetrics(), readRuntimeMetrics())
			var buf bytes.Buffer
			writeSummary(&buf, report)
			assert.Contains(t, buf.String(), "Transport: "+tr.Name())
		})
	}
}
