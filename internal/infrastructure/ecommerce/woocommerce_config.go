package ecommerce

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// WooCommerceConfig holds configuration for the WooCommerce REST API
type WooCommerceConfig struct {
	// SiteURL is the store root, e.g. https://shop.example.com
	SiteURL string
	// ConsumerKey is the REST API key
	ConsumerKey string
	// ConsumerSecret is the REST API secret
	ConsumerSecret string
	// UserAgent is sent verbatim when set; otherwise a browser user agent is rotated per request
	UserAgent string
	// Timeout bounds every single attempt
	Timeout time.Duration
	// MaxAttempts is the total number of attempts for retriable failures
	MaxAttempts int
	// RetryWaitMin is the first backoff delay; each further delay doubles
	RetryWaitMin time.Duration
	// RetryWaitMax caps the backoff delay
	RetryWaitMax time.Duration
	// RateLimitQPS throttles outgoing requests; zero disables throttling
	RateLimitQPS float64
	// RateLimitBurst is the token bucket size
	RateLimitBurst int
	// MaxResponseBytes bounds how much of a response body is read
	MaxResponseBytes int64
}

const (
	// WooCommerceAPIPath is appended to the site url to form the API base
	WooCommerceAPIPath = "/wp-json/wc/v3/"

	defaultWooTimeout          = 300 * time.Second
	defaultWooMaxAttempts      = 5
	defaultWooRetryWaitMin     = 2 * time.Second
	defaultWooRetryWaitMax     = 60 * time.Second
	defaultWooMaxResponseBytes = 32 << 20
)

// Errors for WooCommerce configuration
var (
	ErrWooConfigMissingSiteURL        = errors.New("woocommerce: site url is required")
	ErrWooConfigInvalidSiteURL        = errors.New("woocommerce: site url is invalid")
	ErrWooConfigMissingConsumerKey    = errors.New("woocommerce: consumer key is required")
	ErrWooConfigMissingConsumerSecret = errors.New("woocommerce: consumer secret is required")
)

// NewWooCommerceConfig creates a new WooCommerce configuration with defaults
func NewWooCommerceConfig(siteURL, consumerKey, consumerSecret string) *WooCommerceConfig {
	return &WooCommerceConfig{
		SiteURL:          siteURL,
		ConsumerKey:      consumerKey,
		ConsumerSecret:   consumerSecret,
		Timeout:          defaultWooTimeout,
		MaxAttempts:      defaultWooMaxAttempts,
		RetryWaitMin:     defaultWooRetryWaitMin,
		RetryWaitMax:     defaultWooRetryWaitMax,
		MaxResponseBytes: defaultWooMaxResponseBytes,
	}
}

// Validate validates the configuration and fills in defaults
func (c *WooCommerceConfig) Validate() error {
	if strings.TrimSpace(c.SiteURL) == "" {
		return ErrWooConfigMissingSiteURL
	}
	u, err := url.Parse(strings.TrimSpace(c.SiteURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrWooConfigInvalidSiteURL, c.SiteURL)
	}
	if c.ConsumerKey == "" {
		return ErrWooConfigMissingConsumerKey
	}
	if c.ConsumerSecret == "" {
		return ErrWooConfigMissingConsumerSecret
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultWooTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultWooMaxAttempts
	}
	if c.RetryWaitMin <= 0 {
		c.RetryWaitMin = defaultWooRetryWaitMin
	}
	if c.RetryWaitMax < c.RetryWaitMin {
		c.RetryWaitMax = defaultWooRetryWaitMax
		if c.RetryWaitMax < c.RetryWaitMin {
			c.RetryWaitMax = c.RetryWaitMin
		}
	}
	if c.RateLimitQPS > 0 && c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 1
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = defaultWooMaxResponseBytes
	}
	return nil
}

// BaseURL returns the API base with a trailing slash
func (c *WooCommerceConfig) BaseURL() string {
	return strings.TrimRight(strings.TrimSpace(c.SiteURL), "/") + WooCommerceAPIPath
}
