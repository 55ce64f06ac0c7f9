package loadgen

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config drives one synthetic traffic run against a live engine. Used by the
// dev tooling to light up metrics and exercise the claim path end to end.
type Config struct {
	BaseURL      string
	ServiceToken string
	Profile      string
	Duration     time.Duration
	RPS          int
	Concurrency  int
	Seed         int64
}

type Result struct {
	TotalRequests int64
	Failures      int64
	StatusClasses map[string]int64
}

type request struct {
	method string
	path   string
	body   string
}

func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.BaseURL == "" {
		return Result{}, fmt.Errorf("base URL is required")
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	profile := normalizeProfile(cfg.Profile)

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var total, failures int64
	classes := make(map[string]int64)
	var classMu sync.Mutex

	client := &http.Client{Timeout: 10 * time.Second}
	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()
	work := make(chan request)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Concurrency; i++ {
		g.Go(func() error {
			for req := range work {
				status, err := do(gctx, client, cfg, req)
				atomic.AddInt64(&total, 1)
				if err != nil || status >= 500 {
					atomic.AddInt64(&failures, 1)
				}
				class := "error"
				if err == nil {
					class = classifyStatusClass(status)
				}
				classMu.Lock()
				classes[class]++
				classMu.Unlock()
			}
			return nil
		})
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	var rngMu sync.Mutex
feed:
	for {
		select {
		case <-ctx.Done():
			break feed
		case <-ticker.C:
			rngMu.Lock()
			req := nextRequest(rng, profile)
			rngMu.Unlock()
			select {
			case work <- req:
			case <-ctx.Done():
				break feed
			}
		}
	}
	close(work)
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{
		TotalRequests: atomic.LoadInt64(&total),
		Failures:      atomic.LoadInt64(&failures),
		StatusClasses: classes,
	}, nil
}

func do(ctx context.Context, client *http.Client, cfg Config, req request) (int, error) {
	var body *bytes.Reader
	if req.body != "" {
		body = bytes.NewReader([]byte(req.body))
	} else {
		body = bytes.NewReader(nil)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, cfg.BaseURL+req.path, body)
	if err != nil {
		return 0, err
	}
	if req.body != "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if cfg.ServiceToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.ServiceToken)
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func nextRequest(rng *rand.Rand, profile string) request {
	user := fmt.Sprintf("load-user-%d", rng.Intn(50))
	claim := request{
		method: http.MethodPost,
		path:   "/api/v1/claims",
		body:   fmt.Sprintf(`{"user_id":%q,"alias":"general"}`, user),
	}
	status := request{
		method: http.MethodGet,
		path:   "/api/v1/status?user_id=" + user + "&alias=general",
	}
	health := request{method: http.MethodGet, path: "/health/live"}

	switch profile {
	case "claim":
		return claim
	case "status":
		return status
	case "health":
		return health
	default:
		switch rng.Intn(4) {
		case 0:
			return claim
		case 1:
			return health
		default:
			return status
		}
	}
}

func normalizeProfile(profile string) string {
	v := strings.TrimSpace(strings.ToLower(profile))
	if v == "" {
		return "mixed"
	}
	return v
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}
