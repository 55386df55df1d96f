package requestkey

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrSerializationFallback = errors.New("request params not serializable, using coarse key")

// volatile params only bust caches, they never change the resource
var volatile = map[string]struct{}{
	"_":         {},
	"_t":        {},
	"_ts":       {},
	"_cb":       {},
	"t":         {},
	"ts":        {},
	"timestamp": {},
	"cacheBust": {},
	"cachebust": {},
	"nocache":   {},
}

// IsVolatile reports whether name is ignored when building keys.
func IsVolatile(name string) bool {
	_, ok := volatile[name]
	return ok
}

// Canonicalize builds the cache and de-duplication key of a request. Equal
// requests produce equal keys whatever the insertion order of their params.
func Canonicalize(method, rawURL string, params map[string]any) string {
	key, _ := CanonicalizeE(method, rawURL, params)
	return key
}

// CanonicalizeE is Canonicalize reporting ErrSerializationFallback when
// params could not be serialized and the coarse method:url key was used.
func CanonicalizeE(method, rawURL string, params map[string]any) (string, error) {
	method = strings.ToLower(method)
	coarse := method + ":" + rawURL
	filtered := make(map[string]any, len(params))
	for k, v := range params {
		if !IsVolatile(k) {
			filtered[k] = v
		}
	}
	b, err := json.Marshal(normalize(filtered))
	if err != nil {
		return coarse, fmt.Errorf("%w: %w", ErrSerializationFallback, err)
	}
	return coarse + ":" + string(b), nil
}

// normalize turns v into ordered values so serialization is stable.
// encoding/json sorts map[string]any keys, other map shapes are converted.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out
	case url.Values:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	}
	return v
}

// Query encodes params as a query string sorted by key. Volatile params are
// sent, only keys ignore them.
func Query(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	values := url.Values{}
	for k, v := range params {
		switch t := v.(type) {
		case []string:
			for _, e := range t {
				values.Add(k, e)
			}
		case []any:
			for _, e := range t {
				values.Add(k, fmt.Sprint(e))
			}
		case nil:
		default:
			values.Add(k, fmt.Sprint(t))
		}
	}
	return values.Encode()
}
