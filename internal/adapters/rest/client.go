// Package rest calls the session functions of the mentor backend.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	"github.com/dkeye/mentor/internal/core"
	"github.com/dkeye/mentor/internal/domain"
)

const (
	fnLiveSession   = "geova-live-session"
	fnYouTubeStream = "geova-youtube-stream"

	maxErrorBody = 4 << 10
)

// StatusError is a non-2xx answer from a function.
type StatusError struct {
	Function string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Function, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Function, e.Code, e.Body)
}

type Options struct {
	HTTPClient  *http.Client
	MaxAttempts uint64
	BaseDelay   time.Duration
}

// Client implements core.SessionAPI over HTTPS function calls.
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
	retries uint64
	delay   time.Duration
}

var _ core.SessionAPI = (*Client)(nil)

func NewClient(functionsURL, anonKey string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = newDefaultHTTPClient()
	}
	attempts := opts.MaxAttempts
	if attempts == 0 {
		attempts = 3
	}
	delay := opts.BaseDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	return &Client{
		baseURL: strings.TrimRight(functionsURL, "/"),
		anonKey: anonKey,
		http:    hc,
		retries: attempts - 1,
		delay:   delay,
	}
}

func newDefaultHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &http.Client{Transport: transport}
}

type sessionWire struct {
	ID           domain.SessionID     `json:"id"`
	Title        string               `json:"title"`
	Description  string               `json:"description"`
	SessionType  domain.SessionType   `json:"sessionType"`
	Status       domain.SessionStatus `json:"status"`
	Participants int                  `json:"participants"`
	YouTubeURL   string               `json:"youtubeUrl"`
}

func (c *Client) CreateSession(ctx context.Context, req core.CreateSessionRequest) (*domain.Session, error) {
	body := struct {
		Action string `json:"action"`
		core.CreateSessionRequest
	}{Action: "create", CreateSessionRequest: req}

	var out struct {
		Session *sessionWire `json:"session"`
	}
	if err := c.call(ctx, fnLiveSession, body, &out); err != nil {
		return nil, err
	}
	if out.Session == nil || out.Session.ID == "" {
		return nil, errors.New("create session: response has no session")
	}

	w := out.Session
	sess := &domain.Session{
		ID:               w.ID,
		Title:            w.Title,
		Description:      w.Description,
		Type:             w.SessionType,
		Status:           w.Status,
		ParticipantCount: w.Participants,
		StreamURL:        w.YouTubeURL,
		Config:           req.Config,
	}
	if sess.Type == "" {
		sess.Type = req.SessionType
	}
	if sess.Status == "" {
		sess.Status = domain.StatusStarting
	}
	log.Info().Str("module", "adapters.rest").Str("session", string(sess.ID)).Msg("session created")
	return sess, nil
}

func (c *Client) EndSession(ctx context.Context, id domain.SessionID) error {
	body := map[string]any{"action": "end", "sessionId": id}
	return c.call(ctx, fnLiveSession, body, nil)
}

func (c *Client) StartBroadcast(ctx context.Context, req core.BroadcastRequest) error {
	body := struct {
		Action string `json:"action"`
		core.BroadcastRequest
	}{Action: "start", BroadcastRequest: req}
	return c.call(ctx, fnYouTubeStream, body, nil)
}

// call POSTs body to the named function, retrying 5xx answers and transport
// failures with exponential backoff.
func (c *Client) call(ctx context.Context, fn string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", fn, err)
	}
	logger := log.With().Str("module", "adapters.rest").Str("function", fn).Logger()

	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(c.delay))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.post(ctx, fn, payload, out)
		if err == nil {
			return nil
		}
		var se *StatusError
		if errors.As(err, &se) && se.Code < http.StatusInternalServerError {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("retrying")
		return retry.RetryableError(err)
	})
}

func (c *Client) post(ctx context.Context, fn string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+fn, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.anonKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.anonKey)
		req.Header.Set("apikey", c.anonKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Function: fn, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", fn, err)
	}
	return nil
}
