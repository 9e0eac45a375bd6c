package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"ridechat/internal/models"
)

const (
	DefaultTimeout   = 10 * time.Second
	defaultRideCache = 128
	maxErrorBody     = 512
)

var ErrNotFound = models.ErrNotFound

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code int
	Path string
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Path, e.Code, e.Body)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Path, e.Code)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// HTTPClient overrides the default client; Timeout is ignored then.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the ride-sharing REST API on behalf of one user.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	rides   *lru.Cache[string, models.Ride]
	logger  *slog.Logger
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	rides, err := lru.New[string, models.Ride](defaultRideCache)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL: base,
		token:   cfg.Token,
		http:    httpClient,
		rides:   rides,
		logger:  cfg.Logger,
	}, nil
}

// Conversations lists the user's conversations with the server's unread
// flags.
func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var conversations []models.Conversation
	if err := c.getJSON(ctx, "/api/chat/conversations", &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// RideHistory returns the ride's chat history, oldest first.
func (c *Client) RideHistory(ctx context.Context, rideID string) ([]models.Message, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/chat/ride/"+url.PathEscape(rideID))
	if err != nil {
		return nil, err
	}
	return models.DecodeMessages(body)
}

// MarkRead marks every message of the ride addressed to the user as read.
func (c *Client) MarkRead(ctx context.Context, rideID string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/chat/mark-read/"+url.PathEscape(rideID))
	return err
}

// Ride fetches ride details. Results are cached per client.
func (c *Client) Ride(ctx context.Context, rideID string) (models.Ride, error) {
	if ride, ok := c.rides.Get(rideID); ok {
		return ride, nil
	}

	var ride models.Ride
	if err := c.getJSON(ctx, "/api/rides/"+url.PathEscape(rideID), &ride); err != nil {
		return models.Ride{}, err
	}
	if ride.ID == "" {
		ride.ID = models.ID(rideID)
	}
	c.rides.Add(rideID, ride)
	return ride, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	body, err := c.do(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	u := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", method, path, err)
	}
	c.logger.Debug("api request", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Path: path, Body: truncate(string(body), maxErrorBody)}
	}
	return body, nil
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
