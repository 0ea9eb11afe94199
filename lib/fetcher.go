package lib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultTimeout is the per-request timeout, covering connect, headers and body.
const DefaultTimeout = 20 * time.Second

// DefaultMaxRedirects bounds how many Location hops a single fetch follows.
const DefaultMaxRedirects = 5

// DefaultUserAgent is the browser-like User-Agent sent with every request.
const DefaultUserAgent = "Mozilla/5.0"

// defaultMaxElapsedTime caps the total time spent retrying a single URL.
const defaultMaxElapsedTime = 2 * time.Minute

// defaultMaxInterval caps the wait between two retries.
const defaultMaxInterval = 30 * time.Second

// Fetcher downloads assets over HTTP(S), following redirects by hand so the
// final URL is known. Requests are made one at a time by the caller.
type Fetcher struct {
	Client       *http.Client
	RateLimiter  *rate.Limiter
	BackoffCfg   backoff.BackOff
	MaxRetries   int
	MaxRedirects int
	UserAgent    string
	Referer      string

	timeout  time.Duration
	proxyURL *url.URL
	logger   *zap.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.timeout = d
	}
}

// WithProxyURL routes every request through the given proxy.
func WithProxyURL(u *url.URL) FetcherOption {
	return func(f *Fetcher) {
		f.proxyURL = u
	}
}

// WithHTTPClient replaces the client built from the timeout and proxy options.
// The client's CheckRedirect is overridden so redirects stay visible to the Fetcher.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.Client = c
	}
}

// WithRatePerSecond limits how many requests are sent per second. Zero means no limit.
func WithRatePerSecond(r float64) FetcherOption {
	return func(f *Fetcher) {
		if r > 0 {
			f.RateLimiter = rate.NewLimiter(rate.Limit(r), 1)
		}
	}
}

// WithMaxRetries sets how many extra attempts a transient failure gets.
func WithMaxRetries(n int) FetcherOption {
	return func(f *Fetcher) {
		f.MaxRetries = n
	}
}

// WithBackOffConfig sets the wait policy between retries.
func WithBackOffConfig(b backoff.BackOff) FetcherOption {
	return func(f *Fetcher) {
		f.BackoffCfg = b
	}
}

// WithMaxRedirects sets the redirect limit.
func WithMaxRedirects(n int) FetcherOption {
	return func(f *Fetcher) {
		f.MaxRedirects = n
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		f.UserAgent = ua
	}
}

// WithReferer sets the Referer header. An empty value sends no Referer.
func WithReferer(ref string) FetcherOption {
	return func(f *Fetcher) {
		f.Referer = ref
	}
}

// WithFetcherLogger attaches a logger for retry notifications.
func WithFetcherLogger(l *zap.Logger) FetcherOption {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFetcher creates a Fetcher with the given options applied over the defaults.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		RateLimiter:  rate.NewLimiter(rate.Inf, 1),
		BackoffCfg:   makeDefaultBackoff(),
		MaxRedirects: DefaultMaxRedirects,
		UserAgent:    DefaultUserAgent,
		timeout:      DefaultTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.Client == nil {
		transport := http.DefaultTransport
		if f.proxyURL != nil {
			transport = &http.Transport{Proxy: http.ProxyURL(f.proxyURL)}
		}
		f.Client = &http.Client{Transport: transport, Timeout: f.timeout}
	}
	f.Client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return f
}

// Response is a fully read asset body.
type Response struct {
	Body        []byte
	ContentType string
	FinalURL    string // URL that actually served the body, after redirects
}

// Fetch downloads rawURL, following up to MaxRedirects redirects. Transient
// failures are retried MaxRetries times; HTTP client errors and redirect loops
// are not retried.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	var res *Response
	var attempt int

	operation := func() error {
		attempt++
		var err error
		res, err = f.fetchFollowingRedirects(ctx, rawURL)
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, d time.Duration) {
		f.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("wait", d),
			zap.Error(err),
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(f.BackoffCfg, uint64(max(f.MaxRetries, 0))), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return res, nil
}

func (f *Fetcher) fetchFollowingRedirects(ctx context.Context, rawURL string) (*Response, error) {
	current := rawURL
	for i := 0; i <= f.MaxRedirects; i++ {
		res, location, err := f.fetchOnce(ctx, current)
		if err != nil {
			return nil, err
		}
		if location != "" {
			next, ok := NormalizeURL(location, current)
			if !ok {
				return nil, &FetchError{Kind: KindInvalidURL, URL: location}
			}
			current = next
			continue
		}
		res.FinalURL = current
		return res, nil
	}
	return nil, &FetchError{Kind: KindTooManyRedirects, URL: rawURL}
}

// fetchOnce performs a single GET. A 3xx answer with a Location header is
// reported through location instead of a Response.
func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (*Response, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", &FetchError{Kind: KindInvalidURL, URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.UserAgent)
	if f.Referer != "" {
		req.Header.Set("Referer", f.Referer)
	}

	if err := f.RateLimiter.Wait(ctx); err != nil {
		return nil, "", classifyTransportError(rawURL, err)
	}

	res, err := f.Client.Do(req)
	if err != nil {
		return nil, "", classifyTransportError(rawURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 && res.StatusCode < 400 {
		if location := res.Header.Get("Location"); location != "" {
			_, _ = io.Copy(io.Discard, res.Body)
			return nil, location, nil
		}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, "", &FetchError{Kind: KindHTTPStatus, URL: rawURL, StatusCode: res.StatusCode}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", classifyTransportError(rawURL, err)
	}

	return &Response{Body: body, ContentType: res.Header.Get("Content-Type")}, "", nil
}

func classifyTransportError(rawURL string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &FetchError{Kind: KindTimeout, URL: rawURL, Err: err}
	}
	return &FetchError{Kind: KindNetwork, URL: rawURL, Err: err}
}

// isTransient reports whether a failed fetch is worth another attempt.
func isTransient(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	switch fe.Kind {
	case KindNetwork, KindTimeout:
		return true
	case KindHTTPStatus:
		return fe.StatusCode >= 500 || fe.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// makeDefaultBackoff creates and returns the default exponential backoff configuration.
func makeDefaultBackoff() backoff.BackOff {
	backOffCfg := backoff.NewExponentialBackOff()
	backOffCfg.MaxElapsedTime = defaultMaxElapsedTime
	backOffCfg.MaxInterval = defaultMaxInterval
	backOffCfg.Multiplier = 2.0

	return backOffCfg
}

// FetchErrorKind classifies why a fetch failed.
type FetchErrorKind int

const (
	KindNetwork FetchErrorKind = iota
	KindTimeout
	KindHTTPStatus
	KindTooManyRedirects
	KindInvalidURL
)

func (k FetchErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindHTTPStatus:
		return "http status"
	case KindTooManyRedirects:
		return "too many redirects"
	case KindInvalidURL:
		return "invalid url"
	default:
		return fmt.Sprintf("FetchErrorKind(%d)", int(k))
	}
}

// Sentinels matched by FetchError through errors.Is.
var (
	ErrNetwork          = errors.New("network error")
	ErrTimeout          = errors.New("timeout")
	ErrHTTPStatus       = errors.New("unexpected http status")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrInvalidURL       = errors.New("invalid url")
)

// FetchError describes a failed fetch of URL.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int // set for KindHTTPStatus
	Err        error
}

// Error returns the error message for the FetchError.
func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("HTTP %d %s", e.StatusCode, e.URL)
	case KindTooManyRedirects:
		return fmt.Sprintf("too many redirects %s", e.URL)
	case KindTimeout:
		return fmt.Sprintf("timeout %s: %v", e.URL, e.Err)
	case KindInvalidURL:
		if e.Err != nil {
			return fmt.Sprintf("invalid url %q: %v", e.URL, e.Err)
		}
		return fmt.Sprintf("invalid url %q", e.URL)
	default:
		return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match a FetchError against the sentinel of its kind.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrHTTPStatus:
		return e.Kind == KindHTTPStatus
	case ErrTooManyRedirects:
		return e.Kind == KindTooManyRedirects
	case ErrInvalidURL:
		return e.Kind == KindInvalidURL
	}
	return false
}
