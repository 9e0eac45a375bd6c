package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerURL string
	WSPath    string
	Token     string
	DBFile    string

	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration

	UnreadReconnectDelay time.Duration
	UnreadMaxReconnects  int
	ChatRetryDelay       time.Duration
	ChatMaxRetries       int

	// UnreadRefreshInterval paces the periodic conversation reload that
	// resyncs unread flags; zero turns it off.
	UnreadRefreshInterval time.Duration

	WebPush WebPush
}

// WebPush is optional; forwarding is enabled when Endpoint is set.
type WebPush struct {
	Endpoint        string
	P256dh          string
	Auth            string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
}

func (w WebPush) Enabled() bool {
	return w.Endpoint != ""
}

// Load reads the configuration from the environment, after loading the
// given .env files if they exist. Offline mode does not need a token.
func Load(offline bool, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	var errs []error
	duration := func(key, fallback string) time.Duration {
		d, err := time.ParseDuration(getEnv(key, fallback))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}
	integer := func(key, fallback string) int {
		n, err := strconv.Atoi(getEnv(key, fallback))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return n
	}

	cfg := &Config{
		ServerURL:             getEnv("RIDECHAT_SERVER", "http://localhost:8081"),
		WSPath:                getEnv("RIDECHAT_WS_PATH", "/ws"),
		Token:                 os.Getenv("RIDECHAT_TOKEN"),
		DBFile:                getEnv("RIDECHAT_DB", "ridechat.db"),
		HandshakeTimeout:      duration("HANDSHAKE_TIMEOUT", "10s"),
		RequestTimeout:        duration("REQUEST_TIMEOUT", "10s"),
		UnreadReconnectDelay:  duration("UNREAD_RECONNECT_DELAY", "5s"),
		UnreadMaxReconnects:   integer("UNREAD_MAX_RECONNECTS", "5"),
		ChatRetryDelay:        duration("CHAT_RETRY_DELAY", "3s"),
		ChatMaxRetries:        integer("CHAT_MAX_RETRIES", "5"),
		UnreadRefreshInterval: duration("UNREAD_REFRESH_INTERVAL", "30s"),
		WebPush: WebPush{
			Endpoint:        os.Getenv("WEBPUSH_ENDPOINT"),
			P256dh:          os.Getenv("WEBPUSH_P256DH"),
			Auth:            os.Getenv("WEBPUSH_AUTH"),
			VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
			VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
			Subscriber:      getEnv("VAPID_SUBSCRIBER", "mailto:admin@localhost"),
		},
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := cfg.Validate(offline); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(offline bool) error {
	if c.DBFile == "" {
		return fmt.Errorf("RIDECHAT_DB is required")
	}
	if offline {
		return nil
	}

	if c.Token == "" {
		return fmt.Errorf("RIDECHAT_TOKEN is required")
	}

	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("RIDECHAT_SERVER must be an http(s) URL, got %q", c.ServerURL)
	}

	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("HANDSHAKE_TIMEOUT must be greater than 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be greater than 0")
	}
	if c.UnreadReconnectDelay <= 0 || c.ChatRetryDelay <= 0 {
		return fmt.Errorf("reconnect delays must be greater than 0")
	}
	if c.UnreadMaxReconnects < 0 || c.ChatMaxRetries < 0 {
		return fmt.Errorf("reconnect attempt limits cannot be negative")
	}
	if c.UnreadRefreshInterval < 0 {
		return fmt.Errorf("UNREAD_REFRESH_INTERVAL cannot be negative")
	}

	if c.WebPush.Enabled() {
		w := c.WebPush
		if w.P256dh == "" || w.Auth == "" || w.VAPIDPublicKey == "" || w.VAPIDPrivateKey == "" {
			return fmt.Errorf("WEBPUSH_ENDPOINT requires WEBPUSH_P256DH, WEBPUSH_AUTH, VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY")
		}
	}

	return nil
}

func loadEnvFiles(files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	// Variables already set in the environment take precedence.
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
