// Package linkresolver resolves a URL to its real destination: known wrapper
// transformations are unwound, and when the target warrants it an HTTP
// request is issued and its redirect chain followed to the end.
package linkresolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mozilla-rally/web-science-sub001/pkg/config"
	"github.com/mozilla-rally/web-science-sub001/pkg/logging"
	"github.com/mozilla-rally/web-science-sub001/pkg/matching"
	"github.com/mozilla-rally/web-science-sub001/pkg/telemetry"
	"github.com/mozilla-rally/web-science-sub001/pkg/urlrewrite"
)

// TokenHeader carries the resolution token on the first leg of an outbound
// request. The engine strips it before the request reaches the wire.
const TokenHeader = "X-Link-Resolution-Token"

// RequestMode controls when a resolution issues a network request.
type RequestMode int

const (
	// RequestAlways issues a request for every resolution.
	RequestAlways RequestMode = iota
	// RequestKnownShortenersOnly issues a request only when the rewritten URL
	// matches the known-shortener set.
	RequestKnownShortenersOnly
	// RequestNever resolves with the rewritten URL alone.
	RequestNever
)

// ModeFromString maps a config request mode string to a RequestMode.
func ModeFromString(s string) (RequestMode, error) {
	switch s {
	case config.RequestModeAlways:
		return RequestAlways, nil
	case config.RequestModeKnownShorteners:
		return RequestKnownShortenersOnly, nil
	case config.RequestModeNever:
		return RequestNever, nil
	default:
		return 0, fmt.Errorf("unknown request mode %q", s)
	}
}

// Options controls one resolution.
type Options struct {
	UnwrapCache     bool
	UnwrapShim      bool
	StripDecoration bool
	Request         RequestMode
}

// ShortenerSource supplies the current known-shortener pattern set.
type ShortenerSource interface {
	Set() *matching.Set
}

// Engine owns the pending-resolution table and the correlation index from
// host request ids to resolution tokens. Many resolutions may be pending
// concurrently; each is tracked by its own token and completes exactly once.
type Engine struct {
	cfg        *config.ResolutionConfig
	logger     *logging.Logger
	metrics    *telemetry.Metrics
	shorteners ShortenerSource
	requester  Requester
	breakers   *BreakerGroup

	mu        sync.Mutex
	byToken   map[string]*pendingResolution
	byRequest map[RequestID]string
}

// NewEngine creates a resolution engine. The engine is safe for concurrent
// use; multiple independent engines may coexist.
func NewEngine(cfg *config.ResolutionConfig, logger *logging.Logger, metrics *telemetry.Metrics, shorteners ShortenerSource, requester Requester) *Engine {
	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		shorteners: shorteners,
		requester:  requester,
		byToken:    make(map[string]*pendingResolution),
		byRequest:  make(map[RequestID]string),
	}
	if cfg.Breaker.FailureThreshold > 0 {
		e.breakers = NewBreakerGroup(&cfg.Breaker)
	}
	return e
}

// DefaultOptions derives per-resolution options from the engine configuration.
func (e *Engine) DefaultOptions() Options {
	mode, err := ModeFromString(e.cfg.RequestMode)
	if err != nil {
		mode = RequestKnownShortenersOnly
	}
	return Options{
		UnwrapCache:     !e.cfg.Rewriters.DisableCacheUnwrap,
		UnwrapShim:      !e.cfg.Rewriters.DisableShimUnwrap,
		StripDecoration: !e.cfg.Rewriters.DisableDecorationStrip,
		Request:         mode,
	}
}

// Result describes a finished resolution.
type Result struct {
	FinalURL string

	// Redirects is the number of redirect hops followed.
	Redirects int

	// Immediate is true when the rewriters alone answered the resolution.
	Immediate bool
}

// Resolve resolves one URL and returns its final destination.
func (e *Engine) Resolve(ctx context.Context, rawURL string, opts Options) (string, error) {
	res, err := e.ResolveDetailed(ctx, rawURL, opts)
	return res.FinalURL, err
}

// ResolveDetailed resolves one URL. With RequestNever, or with
// RequestKnownShortenersOnly and a target outside the shortener set, the
// rewritten URL is returned immediately with no network activity. Otherwise a
// request is issued and its redirect chain followed until completion, the
// redirect bound, the timeout, or ctx cancellation, whichever comes first.
func (e *Engine) ResolveDetailed(ctx context.Context, rawURL string, opts Options) (Result, error) {
	start := time.Now()

	rewritten := applyRewriters(rawURL, opts)

	if opts.Request == RequestNever ||
		(opts.Request == RequestKnownShortenersOnly && !e.shortenerSet().Matches(rewritten)) {
		e.metrics.AddImmediate(ctx)
		e.metrics.RecordResolution(ctx, "immediate", time.Since(start))
		return Result{FinalURL: rewritten, Immediate: true}, nil
	}

	host := hostOf(rewritten)
	if e.breakers != nil && !e.breakers.Allow(host) {
		err := fmt.Errorf("%w: %s: destination circuit open", ErrTransport, host)
		e.recordFailure(ctx, err, start)
		return Result{}, err
	}

	p, err := newPendingResolution(opts)
	if err != nil {
		return Result{}, fmt.Errorf("creating resolution token: %w", err)
	}

	e.mu.Lock()
	e.byToken[p.token] = p
	e.mu.Unlock()
	defer e.release(p)

	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel() // aborts the outstanding request on every exit path

	targetURL, header := prepareRequest(rewritten)
	header.Set(TokenHeader, p.token)

	go func() {
		if reqErr := e.requester.Do(reqCtx, targetURL, header); reqErr != nil {
			// Failures the sink already heard about complete the record
			// first, making this a no-op; it covers requests that died
			// before any event fired.
			p.complete("", fmt.Errorf("%w: %v", ErrTransport, reqErr))
		}
	}()

	select {
	case <-p.done:
	case <-reqCtx.Done():
		cause := error(ErrTimeout)
		if errors.Is(reqCtx.Err(), context.Canceled) {
			cause = ErrAborted
		}
		p.complete("", cause)
	}

	finalURL, resErr := p.result()
	if resErr != nil {
		// When the deadline and the transport's cancellation error race, the
		// transport error may settle the record first. The deadline is the
		// real cause either way.
		if errors.Is(resErr, ErrTransport) {
			switch {
			case errors.Is(reqCtx.Err(), context.Canceled):
				resErr = ErrAborted
			case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
				resErr = ErrTimeout
			}
		}
		if e.breakers != nil && (errors.Is(resErr, ErrTransport) || errors.Is(resErr, ErrTimeout)) {
			e.breakers.RecordFailure(host)
		}
		e.recordFailure(ctx, resErr, start)
		e.logger.Debug("Link resolution failed", "url", rawURL, "error", resErr)
		return Result{}, resErr
	}

	if e.breakers != nil {
		e.breakers.RecordSuccess(host)
	}

	e.mu.Lock()
	redirects := p.redirectCount
	e.mu.Unlock()

	// A redirect target may itself be a cache or shim URL.
	finalURL = applyRewriters(finalURL, opts)

	e.metrics.RecordResolution(ctx, "resolved", time.Since(start))
	e.logger.Debug("Link resolved", "url", rawURL, "final", finalURL, "redirects", redirects)
	return Result{FinalURL: finalURL, Redirects: redirects}, nil
}

// HandleBeforeSend binds a marker token to the host's request id on first
// sight and strips the marker from the outbound headers. On redirect legs it
// enforces the shortener restriction and the redirect bound.
func (e *Engine) HandleBeforeSend(ev BeforeSendEvent) BeforeSendResult {
	e.mu.Lock()

	token, bound := e.byRequest[ev.RequestID]
	if !bound {
		marker := ev.Header.Get(TokenHeader)
		if marker == "" {
			e.mu.Unlock()
			return BeforeSendResult{}
		}
		p, ok := e.byToken[marker]
		if !ok {
			e.mu.Unlock()
			return BeforeSendResult{}
		}
		p.requestID = ev.RequestID
		e.byRequest[ev.RequestID] = marker
		e.mu.Unlock()

		stripped := ev.Header.Clone()
		stripped.Del(TokenHeader)
		return BeforeSendResult{Header: stripped}
	}

	p := e.byToken[token]
	var redirects int
	if p != nil {
		redirects = p.redirectCount
	}
	e.mu.Unlock()

	if p == nil {
		return BeforeSendResult{}
	}

	// A redirect target outside the shortener set is treated as the final
	// destination; following further would spend a round trip on a URL the
	// caller already considers resolved.
	if p.opts.Request == RequestKnownShortenersOnly && !e.shortenerSet().Matches(ev.URL) {
		p.complete(ev.URL, nil)
		return BeforeSendResult{Cancel: true}
	}

	if redirects > e.cfg.RedirectLimit {
		p.complete("", fmt.Errorf("%w: %d hops", ErrRedirectLimit, redirects))
		return BeforeSendResult{Cancel: true}
	}

	return BeforeSendResult{}
}

// HandleRedirect counts one redirect hop and fails the resolution once the
// bound is exceeded.
func (e *Engine) HandleRedirect(ev RedirectEvent) {
	e.mu.Lock()
	p := e.pendingForRequestLocked(ev.RequestID)
	var redirects int
	if p != nil {
		p.redirectCount++
		redirects = p.redirectCount
	}
	e.mu.Unlock()

	if p == nil {
		return
	}

	e.metrics.AddRedirect(context.Background())

	if redirects > e.cfg.RedirectLimit {
		p.complete("", fmt.Errorf("%w: %d hops", ErrRedirectLimit, redirects))
	}
}

// HandleCompleted resolves the correlated resolution with the final URL.
func (e *Engine) HandleCompleted(ev CompletedEvent) {
	e.mu.Lock()
	p := e.pendingForRequestLocked(ev.RequestID)
	e.mu.Unlock()

	if p == nil {
		return
	}
	if !p.complete(ev.FinalURL, nil) {
		e.logger.Debug("Completion for already-settled resolution", "request_id", ev.RequestID)
	}
}

// HandleError fails the correlated resolution with a transport error.
func (e *Engine) HandleError(ev ErrorEvent) {
	e.mu.Lock()
	p := e.pendingForRequestLocked(ev.RequestID)
	e.mu.Unlock()

	if p == nil {
		return
	}
	p.complete("", fmt.Errorf("%w: %v", ErrTransport, ev.Err))
}

// PendingCount reports the number of in-flight resolutions.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.byToken)
}

func (e *Engine) pendingForRequestLocked(id RequestID) *pendingResolution {
	token, ok := e.byRequest[id]
	if !ok {
		return nil
	}
	return e.byToken[token]
}

// release drops the correlation entries for a settled resolution. It runs on
// every exit path of Resolve, success or failure.
func (e *Engine) release(p *pendingResolution) {
	e.mu.Lock()
	delete(e.byToken, p.token)
	if p.requestID != "" {
		delete(e.byRequest, p.requestID)
	}
	e.mu.Unlock()
}

func (e *Engine) shortenerSet() *matching.Set {
	if e.shorteners == nil {
		return emptySet
	}
	if s := e.shorteners.Set(); s != nil {
		return s
	}
	return emptySet
}

var emptySet = func() *matching.Set {
	s, err := matching.BuildSet(nil)
	if err != nil {
		panic(err)
	}
	return s
}()

func (e *Engine) recordFailure(ctx context.Context, err error, start time.Time) {
	e.metrics.RecordFailure(ctx, FailureReason(err))
	e.metrics.RecordResolution(ctx, "failed", time.Since(start))
}

// FailureReason maps a resolution error to its metric/log label.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrRedirectLimit):
		return "redirect_limit"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrAborted):
		return "aborted"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "other"
	}
}

func applyRewriters(rawURL string, opts Options) string {
	if opts.UnwrapShim {
		rawURL = urlrewrite.UnwrapShim(rawURL)
	}
	if opts.UnwrapCache {
		rawURL = urlrewrite.UnwrapCache(rawURL)
	}
	if opts.StripDecoration {
		rawURL = urlrewrite.StripDecoration(rawURL)
	}
	return rawURL
}

// requestTweak adjusts the outbound request for destinations that would
// otherwise answer with a script-driven redirect page instead of a genuine
// HTTP redirect.
type requestTweak struct {
	userAgent  string
	stripParam string
}

var destinationTweaks = map[string]requestTweak{
	// t.co returns a real 301 to non-browser clients but a meta-refresh page
	// to browser user agents.
	"t.co": {userAgent: "curl/8.5.0"},
	// youtu.be share links carry a per-share identifier that is not part of
	// the destination.
	"youtu.be": {stripParam: "si"},
}

func prepareRequest(rawURL string) (string, http.Header) {
	header := http.Header{}
	tweak, ok := destinationTweaks[hostOf(rawURL)]
	if !ok {
		return rawURL, header
	}

	if tweak.userAgent != "" {
		header.Set("User-Agent", tweak.userAgent)
	}
	if tweak.stripParam != "" {
		if u, err := url.Parse(rawURL); err == nil {
			q := u.Query()
			if q.Has(tweak.stripParam) {
				q.Del(tweak.stripParam)
				u.RawQuery = q.Encode()
				rawURL = u.String()
			}
		}
	}
	return rawURL, header
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
