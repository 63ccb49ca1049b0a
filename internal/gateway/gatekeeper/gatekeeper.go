package gatekeeper

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/northbay/ragchat-gateway/internal/gateway/apierror"
	"github.com/northbay/ragchat-gateway/internal/gateway/ratelimit"
)

// Outcome is the result of passing a request through the gatekeeper
type Outcome int

const (
	// OutcomeAdmitted means the key is valid and a token was consumed
	OutcomeAdmitted Outcome = iota
	// OutcomeBypassed means the path is public; no key check and no bucket access happened
	OutcomeBypassed
	// OutcomeUnauthenticated means the key header was missing, empty or unknown
	OutcomeUnauthenticated
	// OutcomeRateLimited means the key's bucket had no token left
	OutcomeRateLimited
	// OutcomeError means the key was valid but its bucket could not be resolved
	OutcomeError
)

// String returns the outcome label used in logs and statistics
func (o Outcome) String() string {
	switch o {
	case OutcomeAdmitted:
		return "admitted"
	case OutcomeBypassed:
		return "bypassed"
	case OutcomeUnauthenticated:
		return "unauthenticated"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Decision carries the outcome plus the bucket state observed during admission
type Decision struct {
	Outcome   Outcome
	Key       string           // Authenticated key; empty unless authentication succeeded
	RateLimit ratelimit.Result // Zero unless admission control ran
	Err       error            // Set when the bucket store failed
}

// Recorder receives one event per gatekeeper decision
type Recorder interface {
	RecordAdmission(ctx context.Context, outcome, method, path string, at time.Time) error
}

// Options configures a Gatekeeper
type Options struct {
	Header      string   // Header carrying the API key (default X-API-KEY)
	PublicPaths []string // Path prefixes that skip authentication and rate limiting
	Recorder    Recorder // Optional admission statistics sink
}

// Gatekeeper runs the ordered filter chain: public-path bypass, authentication, admission control
type Gatekeeper struct {
	registry    *KeyRegistry
	buckets     ratelimit.BucketStore
	header      string
	publicPaths []string
	recorder    Recorder
}

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// New creates a gatekeeper over the key registry and bucket store
func New(registry *KeyRegistry, buckets ratelimit.BucketStore, opts Options) *Gatekeeper {
	header := opts.Header
	if header == "" {
		header = "X-API-KEY"
	}
	return &Gatekeeper{
		registry:    registry,
		buckets:     buckets,
		header:      header,
		publicPaths: append([]string(nil), opts.PublicPaths...),
		recorder:    opts.Recorder,
	}
}

// Evaluate runs the chain for r. Stages short-circuit on rejection, and no bucket
// is created or consumed unless authentication succeeded.
func (g *Gatekeeper) Evaluate(r *http.Request) Decision {
	if g.isPublic(r.URL.Path) {
		return Decision{Outcome: OutcomeBypassed}
	}

	key, ok := g.authenticate(r)
	if !ok {
		return Decision{Outcome: OutcomeUnauthenticated}
	}

	return g.admit(key)
}

func (g *Gatekeeper) isPublic(path string) bool {
	for _, prefix := range g.publicPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *Gatekeeper) authenticate(r *http.Request) (string, bool) {
	key := r.Header.Get(g.header)
	if key == "" || !g.registry.IsValid(key) {
		return "", false
	}
	return key, true
}

func (g *Gatekeeper) admit(key string) Decision {
	bucket, err := g.buckets.GetOrCreate(key)
	if err != nil {
		return Decision{Outcome: OutcomeError, Key: key, Err: fmt.Errorf("resolve bucket: %w", err)}
	}

	res := bucket.TryConsume(1)
	if !res.Allowed {
		return Decision{Outcome: OutcomeRateLimited, Key: key, RateLimit: res}
	}
	return Decision{Outcome: OutcomeAdmitted, Key: key, RateLimit: res}
}

// Middleware enforces Evaluate's decision: 401 and 429 terminate the request,
// admitted and bypassed requests continue to next.
func (g *Gatekeeper) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dec := g.Evaluate(r)
		g.record(r, dec.Outcome)

		switch dec.Outcome {
		case OutcomeBypassed:
			next.ServeHTTP(w, r)
			return

		case OutcomeUnauthenticated:
			log.Printf("gatekeeper: unauthenticated request %s %s (request_id=%s)", r.Method, r.URL.Path, RequestIDFromContext(r.Context()))
			apierror.Write(w, r, http.StatusUnauthorized, apierror.CodeUnauthorized, "Unauthorized - invalid API key")
			return

		case OutcomeError:
			log.Printf("gatekeeper: %v (request_id=%s)", dec.Err, RequestIDFromContext(r.Context()))
			apierror.Write(w, r, http.StatusInternalServerError, apierror.CodeInternal, apierror.GenericMessage)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", dec.RateLimit.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", dec.RateLimit.Remaining))

		if dec.Outcome == OutcomeRateLimited {
			log.Printf("gatekeeper: rate limit exceeded for key %s on %s (request_id=%s)", MaskKey(dec.Key), r.URL.Path, RequestIDFromContext(r.Context()))
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds(dec.RateLimit.RetryAfter)))
			apierror.Write(w, r, http.StatusTooManyRequests, apierror.CodeRateLimited, "Too many requests")
			return
		}

		ctx := context.WithValue(r.Context(), apiKeyContextKey, dec.Key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// APIKeyFromContext returns the key admitted for this request
func APIKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(apiKeyContextKey).(string)
	return key, ok
}

// record forwards the outcome to the recorder without delaying the request
func (g *Gatekeeper) record(r *http.Request, outcome Outcome) {
	if g.recorder == nil || outcome == OutcomeBypassed {
		return
	}
	method, path, at := r.Method, r.URL.Path, time.Now()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := g.recorder.RecordAdmission(ctx, outcome.String(), method, path, at); err != nil {
			log.Printf("gatekeeper: failed to record admission stats: %v", err)
		}
	}()
}

func retryAfterSeconds(d time.Duration) int64 {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
