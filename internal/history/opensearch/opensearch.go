package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/keepalive/internal/history"
)

const defaultTimeout = 5 * time.Second

// Options carries credentials and limits parsed from an opensearch:// DSN.
type Options struct {
	Username string
	Password string
	Timeout  time.Duration
}

// Sink indexes sweep events as documents under baseURL/index. Each event gets
// a stable document id, so a resent event overwrites instead of duplicating.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
	opts    Options
}

func New(baseURL, index string, opts Options) *Sink {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Sink{
		client:  &http.Client{Timeout: opts.Timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
		opts:    opts,
	}
}

// DocumentID is the id an event is indexed under: the sweep id for sweep
// events, sweep id and resource id for resource events.
func DocumentID(e history.Event) string {
	if e.Type == history.EventResource && e.ResourceID != "" {
		return e.SweepID + ":" + e.ResourceID
	}
	return e.SweepID
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	method, target := http.MethodPost, fmt.Sprintf("%s/%s/_doc", s.baseURL, url.PathEscape(s.index))
	if id := DocumentID(e); id != "" {
		method, target = http.MethodPut, target+"/"+url.PathEscape(id)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.Username != "" {
		req.SetBasicAuth(s.opts.Username, s.opts.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	}
	return nil
}

func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
