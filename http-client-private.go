package sessionhttp

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/RassulYunussov/sessionhttp/internal/cb"
	"github.com/RassulYunussov/sessionhttp/internal/credentials"
	"github.com/RassulYunussov/sessionhttp/internal/requestkey"
	"github.com/RassulYunussov/sessionhttp/internal/resilient"
	"github.com/rs/zerolog"
)

type clientCreationParameters struct {
	timeout                  time.Duration
	httpClient               *http.Client
	logger                   zerolog.Logger
	pathProvider             func() string
	durable                  credentials.Backend
	session                  credentials.Backend
	refreshPath              string
	refreshThreshold         time.Duration
	refreshInterval          time.Duration
	onLoadingChange          func(int64)
	retryParameters          *resilient.RetryParameters
	circuitBreakerParameters *cb.CircuitBreakerParameters
}

func defaultCreationParameters() *clientCreationParameters {
	return &clientCreationParameters{
		timeout:         DefaultTimeout,
		logger:          zerolog.Nop(),
		refreshPath:     DefaultRefreshPath,
		refreshInterval: DefaultRefreshInterval,
		retryParameters: resilient.DefaultRetryParameters(),
	}
}

// normalizeBaseURL makes sure the base path ends with a separator so
// relative paths resolve below it.
func normalizeBaseURL(raw string) (*url.URL, error) {
	base, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base, nil
}

// resolvePath joins path to base. A leading segment repeating the base path
// ("/api/orders" on ".../api/") is not doubled.
func resolvePath(base *url.URL, path string) (*url.URL, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return url.Parse(path)
	}
	rel := strings.TrimLeft(path, "/")
	if prefix := strings.Trim(base.Path, "/"); prefix != "" {
		if rel == prefix {
			rel = ""
		} else if strings.HasPrefix(rel, prefix+"/") {
			rel = strings.TrimPrefix(rel, prefix+"/")
		}
	}
	ref, err := url.Parse(rel)
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(ref), nil
}

// withParams appends params to the query of u.
func withParams(u *url.URL, params map[string]any) *url.URL {
	query := requestkey.Query(params)
	if query == "" {
		return u
	}
	c := *u
	if c.RawQuery != "" {
		c.RawQuery += "&" + query
	} else {
		c.RawQuery = query
	}
	return &c
}
