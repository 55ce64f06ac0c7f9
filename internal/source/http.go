package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tokengate/tokengate/internal/domain"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPSource mirrors one alias to a remotely hosted JSON document, fetched
// with GET and replaced with PUT. All calls carry a bounded timeout so a slow
// remote surfaces as ErrSourceUnavailable instead of hanging the claim path.
type HTTPSource struct {
	alias  string
	url    string
	client *http.Client
}

func NewHTTPSource(alias, url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPSource{
		alias:  alias,
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) Alias() string           { return s.alias }
func (s *HTTPSource) Kind() domain.SourceKind { return domain.SourceKindHTTP }
func (s *HTTPSource) Location() string        { return s.url }

func (s *HTTPSource) Load(ctx context.Context) ([]domain.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build source request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", domain.ErrSourceUnavailable, s.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: get %s: status %d", domain.ErrSourceUnavailable, s.url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrSourceUnavailable, s.url, err)
	}
	return decodeDocument(data, s.alias, time.Now().UTC())
}

func (s *HTTPSource) Store(ctx context.Context, tokens []domain.Token) error {
	data, err := encodeDocument(tokens)
	if err != nil {
		return fmt.Errorf("encode token document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build source request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: put %s: %w", domain.ErrSourceUnavailable, s.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: put %s: status %d", domain.ErrSourceUnavailable, s.url, resp.StatusCode)
	}
	return nil
}
