// Command tengi-bench measures echo round trips against an in-process
// server over one transport.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/client"
	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/protocol"
	"github.com/vango-dev/tengi/pkg/server"
	"github.com/vango-dev/tengi/pkg/transport"
)

const (
	gib = int64(1024 * 1024 * 1024)
)

type profile struct {
	Name          string
	Clients       int
	Duration      time.Duration
	RPS           float64
	PayloadBytes  int
	MaxProcs      int
	MemLimitBytes int64
}

var profiles = map[string]profile{
	"fast": {
		Name:         "fast",
		Clients:      50,
		Duration:     10 * time.Second,
		RPS:          2,
		PayloadBytes: 24,
	},
	"standard": {
		Name:         "standard",
		Clients:      200,
		Duration:     30 * time.Second,
		RPS:          5,
		PayloadBytes: 24,
	},
	"stress": {
		Name:          "stress",
		Clients:       500,
		Duration:      60 * time.Second,
		RPS:           10,
		PayloadBytes:  256,
		MaxProcs:      4,
		MemLimitBytes: 2 * gib,
	},
}

type benchConfig struct {
	Profile       string
	Transport     transport.Transport
	Clients       int
	Duration      time.Duration
	RPS           float64
	PayloadBytes  int
	MaxProcs      int
	MemLimitBytes int64
	JSONOutput    string
	EventTimeout  time.Duration
}

type benchCounters struct {
	messagesSent     atomic.Uint64
	messagesComplete atomic.Uint64
	bytesSent        atomic.Uint64
	frameBytes       atomic.Uint64
	frames           atomic.Uint64
}

type benchErrors struct {
	connectFailures  atomic.Uint64
	writeFailures    atomic.Uint64
	exceptions       atomic.Uint64
	unexpectedBodies atomic.Uint64
	tokenMissing     atomic.Uint64
	totalErrors      atomic.Uint64
}

func main() {
	log.SetFlags(0)

	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}
	if cfg.MemLimitBytes > 0 {
		debug.SetMemoryLimit(cfg.MemLimitBytes)
	}

	debug.SetGCPercent(100)

	srv, err := server.New(
		server.WithHost("127.0.0.1"),
		server.WithTransports(cfg.Transport),
		server.WithPort(cfg.Transport, 0),
		server.WithAllowedOrigins("*"),
		server.WithConnectionListener(echoListener),
	)
	if err != nil {
		log.Fatalf("server: %v", err)
	}
	startCtx := context.Background()
	if _, err := srv.Start(startCtx).Get(startCtx); err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = srv.Stop(stopCtx).Get(stopCtx)
	}()
	addr := srv.Addr(cfg.Transport).String()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	samplesCh := make(chan time.Duration, sampleBuffer(cfg.Clients))
	var samples []time.Duration
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for rtt := range samplesCh {
			samples = append(samples, rtt)
		}
	}()

	var counters benchCounters
	var errCounts benchErrors

	var before runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	beforeMetrics := readRuntimeMetrics()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(cfg.Clients)
	for i := 0; i < cfg.Clients; i++ {
		clientID := i
		go func() {
			defer wg.Done()
			if err := runClient(ctx, addr, clientID, cfg, &counters, &errCounts, samplesCh); err != nil {
				errCounts.totalErrors.Add(1)
			}
		}()
	}

	wg.Wait()
	close(samplesCh)
	<-collectorDone

	elapsed := time.Since(start)

	var after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&after)
	afterMetrics := readRuntimeMetrics()

	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	report := buildReport(cfg, elapsed, samples, &counters, &errCounts, before, after, beforeMetrics, afterMetrics)

	writeSummary(os.Stderr, report)
	if err := writeJSON(cfg.JSONOutput, report); err != nil {
		log.Fatalf("write json: %v", err)
	}
}

// echoListener answers every message with its own body.
var echoListener = connection.ConnectionListenerFuncs{
	Connect: func(c *connection.Connection) {
		_, _ = c.AddMessageListener(connection.MessageListenerFunc(func(c *connection.Connection, msg *protocol.Message) {
			if _, err := c.WriteObject(context.Background(), msg.Body); err != nil {
				c.ReportException(err)
			}
		}))
	},
}

func sampleBuffer(clients int) int {
	if clients < 1 {
		return 1024
	}
	return max(clients*4, 1024)
}

func parseConfig(fs *flag.FlagSet, args []string) (benchConfig, error) {
	profileFlag := fs.String("profile", "standard", "profile: fast|standard|stress")
	transportFlag := fs.String("transport", "tcp", "transport: tcp|websocket|http|http-long")
	clientsFlag := fs.Int("clients", -1, "number of concurrent clients")
	durationFlag := fs.String("duration", "", "benchmark duration, e.g. 30s")
	rpsFlag := fs.Float64("rps", -1, "target messages/sec per client")
	payloadFlag := fs.Int("payload-bytes", -1, "bytes of token payload per message")
	maxProcsFlag := fs.Int("max-procs", -1, "GOMAXPROCS cap (0 to leave unchanged)")
	memLimitFlag := fs.String("mem-limit", "", "GOMEMLIMIT (e.g. 2GiB)")
	jsonFlag := fs.String("json", "-", "JSON output path ('-' for stdout)")
	if err := fs.Parse(args); err != nil {
		return benchConfig{}, err
	}

	name := strings.ToLower(strings.TrimSpace(*profileFlag))
	if name == "" {
		name = "standard"
	}

	base, ok := profiles[name]
	if !ok {
		return benchConfig{}, fmt.Errorf("unknown profile %q", name)
	}

	tr, ok := transport.Lookup(strings.TrimSpace(*transportFlag))
	if !ok || !tr.Supported() {
		return benchConfig{}, fmt.Errorf("unknown transport %q", *transportFlag)
	}

	cfg := benchConfig{
		Profile:       base.Name,
		Transport:     tr,
		Clients:       base.Clients,
		Duration:      base.Duration,
		RPS:           base.RPS,
		PayloadBytes:  base.PayloadBytes,
		MaxProcs:      base.MaxProcs,
		MemLimitBytes: base.MemLimitBytes,
		JSONOutput:    strings.TrimSpace(*jsonFlag),
	}

	if *clientsFlag != -1 {
		cfg.Clients = *clientsFlag
	}
	if *durationFlag != "" {
		d, err := time.ParseDuration(*durationFlag)
		if err != nil {
			return benchConfig{}, fmt.Errorf("invalid -duration: %w", err)
		}
		cfg.Duration = d
	}
	if *rpsFlag != -1 {
		cfg.RPS = *rpsFlag
	}
	if *payloadFlag != -1 {
		cfg.PayloadBytes = *payloadFlag
	}
	if *maxProcsFlag != -1 {
		cfg.MaxProcs = *maxProcsFlag
	}
	if *memLimitFlag != "" {
		limit, err := parseBytes(*memLimitFlag)
		if err != nil {
			return benchConfig{}, fmt.Errorf("invalid -mem-limit: %w", err)
		}
		cfg.MemLimitBytes = limit
	}
	if cfg.JSONOutput == "" {
		cfg.JSONOutput = "-"
	}

	if cfg.Clients <= 0 {
		return benchConfig{}, errors.New("-clients must be > 0")
	}
	if cfg.Duration <= 0 {
		return benchConfig{}, errors.New("-duration must be > 0")
	}
	if cfg.RPS <= 0 {
		return benchConfig{}, errors.New("-rps must be > 0")
	}
	if cfg.PayloadBytes <= 0 {
		return benchConfig{}, errors.New("-payload-bytes must be > 0")
	}
	if cfg.MaxProcs < 0 {
		return benchConfig{}, errors.New("-max-procs must be >= 0")
	}
	if cfg.MemLimitBytes < 0 {
		return benchConfig{}, errors.New("-mem-limit must be >= 0")
	}

	cfg.EventTimeout = eventTimeout(cfg.RPS)
	return cfg, nil
}

func eventTimeout(rps float64) time.Duration {
	if rps <= 0 {
		return 0
	}
	period := time.Duration(float64(time.Second) / rps)
	return max(period*10, 2*time.Second)
}

func parseBytes(input string) (int64, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, errors.New("empty size")
	}

	var i int
	for i < len(s) {
		c := s[i]
		if (c >= '0' && c <= '9') || c == '.' {
			i++
			continue
		}
		break
	}
	if i == 0 {
		return 0, fmt.Errorf("invalid size %q", input)
	}

	numPart := strings.TrimSpace(s[:i])
	suffix := strings.ToLower(strings.TrimSpace(s[i:]))

	value, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, err
	}

	multiplier := float64(1)
	switch suffix {
	case "", "b":
		multiplier = 1
	case "kb":
		multiplier = 1e3
	case "mb":
		multiplier = 1e6
	case "gb":
		multiplier = 1e9
	case "kib":
		multiplier = 1024
	case "mib":
		multiplier = 1024 * 1024
	case "gib":
		multiplier = 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("unknown size suffix %q", suffix)
	}

	return int64(value*multiplier + 0.5), nil
}

// pending tracks the tokens a client is waiting to see echoed.
type pending struct {
	mu     sync.Mutex
	tokens map[string]time.Time
}

func (p *pending) add(token string, at time.Time) {
	p.mu.Lock()
	p.tokens[token] = at
	p.mu.Unlock()
}

// take removes token and returns when it was sent.
func (p *pending) take(token string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.tokens[token]
	if ok {
		delete(p.tokens, token)
	}
	return at, ok
}

// expire drops tokens sent before cutoff and returns how many.
func (p *pending) expire(cutoff time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for token, at := range p.tokens {
		if at.Before(cutoff) {
			delete(p.tokens, token)
			n++
		}
	}
	return n
}

func (p *pending) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tokens)
}

func runClient(
	ctx context.Context,
	addr string,
	clientID int,
	cfg benchConfig,
	counters *benchCounters,
	errCounts *benchErrors,
	samples chan<- time.Duration,
) error {
	waiting := &pending{tokens: make(map[string]time.Time)}

	onMessage := connection.MessageListenerFunc(func(_ *connection.Connection, msg *protocol.Message) {
		token, ok := msg.Body.(string)
		if !ok {
			errCounts.unexpectedBodies.Add(1)
			return
		}
		sent, ok := waiting.take(token)
		if !ok {
			return
		}
		counters.messagesComplete.Add(1)
		select {
		case samples <- time.Since(sent):
		default:
		}
	})
	onException := connection.ExceptionListenerFunc(func(*connection.Connection, error) {
		errCounts.exceptions.Add(1)
	})

	c, err := client.New(
		client.WithTransports(cfg.Transport),
		client.WithMessageListener(onMessage),
		client.WithExceptionListener(onException),
		client.WithPollInterval(10*time.Millisecond),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	conn, err := c.ConnectTransport(ctx, cfg.Transport, addr).Get(ctx)
	if err != nil {
		errCounts.connectFailures.Add(1)
		return err
	}
	_, _ = conn.AddFrameListener(connection.FrameListenerFunc(func(_ *connection.Connection, frame *buffer.MemoryBuffer) {
		counters.frames.Add(1)
		counters.frameBytes.Add(uint64(frame.ReadableBytes()))
	}))

	period := time.Duration(float64(time.Second) / cfg.RPS)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			// Give in-flight tokens one timeout to come back.
			deadline := time.Now().Add(cfg.EventTimeout)
			for waiting.len() > 0 && time.Now().Before(deadline) && conn.State() != connection.Closed {
				time.Sleep(10 * time.Millisecond)
			}
			errCounts.tokenMissing.Add(uint64(waiting.expire(time.Now().Add(time.Second))))
			return nil
		case now := <-ticker.C:
			seq++
			token := makeToken(clientID, seq, cfg.PayloadBytes)
			waiting.add(token, now)
			writeCtx, cancel := context.WithTimeout(context.Background(), cfg.EventTimeout)
			_, err := conn.WriteObject(writeCtx, token)
			cancel()
			if err != nil {
				waiting.take(token)
				errCounts.writeFailures.Add(1)
				if conn.State() == connection.Closed {
					return err
				}
				continue
			}
			counters.messagesSent.Add(1)
			counters.bytesSent.Add(uint64(len(token)))
			errCounts.tokenMissing.Add(uint64(waiting.expire(now.Add(-cfg.EventTimeout))))
		}
	}
}

// makeToken returns a unique string of exactly payloadBytes bytes when
// payloadBytes is large enough to hold the id.
func makeToken(clientID int, seq uint64, payloadBytes int) string {
	id := fmt.Sprintf("%d:%d:", clientID, seq)
	if len(id) >= payloadBytes {
		return id
	}
	return id + strings.Repeat("x", payloadBytes-len(id))
}
