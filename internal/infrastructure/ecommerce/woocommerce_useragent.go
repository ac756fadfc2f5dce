package ecommerce

import (
	"fmt"
	"math/rand/v2"
)

// chromePlatforms and chromeVersions expand into the pool of Chrome user
// agents rotated across requests.
var (
	chromePlatforms = []string{
		"Windows NT 10.0; Win64; x64",
		"Macintosh; Intel Mac OS X 10_15_7",
		"X11; Linux x86_64",
		"Windows NT 11.0; Win64; x64",
	}
	chromeVersions = []string{
		"124.0.6367.207",
		"125.0.6422.142",
		"126.0.6478.127",
		"127.0.6533.120",
		"128.0.6613.138",
		"129.0.6668.101",
		"130.0.6723.117",
		"131.0.6778.140",
	}
)

// UserAgentSource yields the User-Agent header for each attempt.
type UserAgentSource struct {
	fixed string
	pool  []string
}

// NewUserAgentSource returns a source that always yields fixed when it is
// non-empty and otherwise picks a random Chrome user agent per call.
func NewUserAgentSource(fixed string) *UserAgentSource {
	src := &UserAgentSource{fixed: fixed}
	if fixed != "" {
		return src
	}
	for _, platform := range chromePlatforms {
		for _, version := range chromeVersions {
			src.pool = append(src.pool, fmt.Sprintf(
				"Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36",
				platform, version,
			))
		}
	}
	return src
}

// Next returns the user agent for the next attempt
func (s *UserAgentSource) Next() string {
	if s.fixed != "" {
		return s.fixed
	}
	return s.pool[rand.IntN(len(s.pool))]
}
