package diag

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const redacted = "[REDACTED]"

var sensitive = []string{"authorization", "cookie", "token", "refresh", "access", "password", "secret", "otp"}

// IsSensitive reports whether a header, query or body field name may carry a
// credential.
func IsSensitive(name string) bool {
	name = strings.ToLower(name)
	for _, s := range sensitive {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}

// RedactURL masks sensitive query values.
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	if u.RawQuery == "" && u.User == nil {
		return u.String()
	}
	c := *u
	c.User = nil
	q := c.Query()
	for k := range q {
		if IsSensitive(k) {
			q[k] = []string{redacted}
		}
	}
	c.RawQuery = q.Encode()
	return c.String()
}

// RedactHeader returns a copy of h with sensitive values masked.
func RedactHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		if IsSensitive(k) {
			out[k] = []string{redacted}
			continue
		}
		out[k] = v
	}
	return out
}

// Trace logs the lifecycle of one pipeline call.
type Trace struct {
	logger zerolog.Logger
	id     string
	start  time.Time
}

// NewTrace starts a trace for r, tagging every event with a request id.
func NewTrace(logger zerolog.Logger, r *http.Request, namespace, key string) *Trace {
	id := uuid.NewString()
	l := logger.With().
		Str("request_id", id).
		Str("method", r.Method).
		Str("url", RedactURL(r.URL)).
		Str("namespace", namespace).
		Logger()
	l.Debug().Str("key", key).Msg("request started")
	return &Trace{logger: l, id: id, start: time.Now()}
}

func (t *Trace) ID() string {
	return t.id
}

func (t *Trace) CacheHit() {
	t.logger.Debug().Msg("served from cache")
}

func (t *Trace) Attempt(n int, header http.Header) {
	t.logger.Trace().Int("attempt", n).Interface("header", RedactHeader(header)).Msg("sending")
}

func (t *Trace) Retry(n int, delay time.Duration, status int, err error) {
	e := t.logger.Debug().Int("retry", n).Dur("delay", delay)
	if status != 0 {
		e = e.Int("status", status)
	}
	e.AnErr("cause", err).Msg("transient failure, retrying")
}

func (t *Trace) AuthReplay() {
	t.logger.Debug().Msg("access token rejected, replaying with refreshed token")
}

func (t *Trace) Superseded() {
	t.logger.Debug().Dur("elapsed", time.Since(t.start)).Msg("superseded by a newer identical request")
}

// Done logs the outcome. Errors are logged at warn, except client errors
// which are routine for a storefront.
func (t *Trace) Done(status int, err error) {
	e := t.logger.Debug()
	if err != nil && (status == 0 || status >= http.StatusInternalServerError) {
		e = t.logger.Warn()
	}
	if status != 0 {
		e = e.Int("status", status)
	}
	e.Err(err).Dur("elapsed", time.Since(t.start)).Msg("request finished")
}
