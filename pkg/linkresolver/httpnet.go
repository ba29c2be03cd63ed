package linkresolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mozilla-rally/web-science-sub001/pkg/logging"
)

// maxHops bounds the adapter's own redirect loop. The sink cancels chains at
// its configured limit well before this; the cap only matters when no sink
// enforces one.
const maxHops = 64

// HTTPNetwork implements Requester over net/http, reporting each request leg,
// redirect, completion, and transport error to the attached EventSink. It
// follows redirects itself (one RoundTrip per leg) so the sink observes every
// hop, sends no credentials or cookies, and honors hard aborts via ctx.
type HTTPNetwork struct {
	transport http.RoundTripper
	logger    *logging.Logger
	sink      EventSink
	nextID    atomic.Uint64
}

// NewHTTPNetwork creates a network adapter. A nil transport uses a dedicated
// default transport with sane connection limits.
func NewHTTPNetwork(logger *logging.Logger, transport http.RoundTripper) *HTTPNetwork {
	if transport == nil {
		transport = &http.Transport{
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}
	return &HTTPNetwork{
		transport: transport,
		logger:    logger,
	}
}

// Bind attaches the event sink. Must be called before Do.
func (n *HTTPNetwork) Bind(sink EventSink) {
	n.sink = sink
}

// Do issues a request chain for rawURL and follows its redirects, reporting
// lifecycle events to the sink as it goes.
func (n *HTTPNetwork) Do(ctx context.Context, rawURL string, header http.Header) error {
	if n.sink == nil {
		return fmt.Errorf("http network: no event sink bound")
	}

	id := RequestID("req-" + strconv.FormatUint(n.nextID.Add(1), 10))
	current := rawURL
	hdr := header.Clone()
	if hdr == nil {
		hdr = http.Header{}
	}

	for hop := 0; hop < maxHops; hop++ {
		verdict := n.sink.HandleBeforeSend(BeforeSendEvent{RequestID: id, URL: current, Header: hdr})
		if verdict.Cancel {
			return nil
		}
		if verdict.Header != nil {
			hdr = verdict.Header
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			n.sink.HandleError(ErrorEvent{RequestID: id, Err: err})
			return err
		}
		req.Header = hdr.Clone()

		resp, err := n.transport.RoundTrip(req)
		if err != nil {
			n.sink.HandleError(ErrorEvent{RequestID: id, Err: err})
			return err
		}

		location := resp.Header.Get("Location")
		drainBody(resp.Body)

		if isRedirect(resp.StatusCode) && location != "" {
			next, err := req.URL.Parse(location)
			if err != nil {
				n.sink.HandleError(ErrorEvent{RequestID: id, Err: fmt.Errorf("bad redirect location %q: %w", location, err)})
				return err
			}
			n.sink.HandleRedirect(RedirectEvent{RequestID: id, From: current, To: next.String()})
			current = next.String()
			continue
		}

		n.sink.HandleCompleted(CompletedEvent{RequestID: id, FinalURL: req.URL.String()})
		return nil
	}

	err := fmt.Errorf("http network: %d hops without completion", maxHops)
	n.sink.HandleError(ErrorEvent{RequestID: id, Err: err})
	return err
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

// drainBody discards a bounded amount of the body so the connection can be
// reused, then closes it.
func drainBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}

// NewHTTPClient builds a plain HTTP client sharing the adapter's transport,
// for components (list downloads) that need ordinary requests.
func (n *HTTPNetwork) NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: n.transport,
		Timeout:   timeout,
	}
}

var _ Requester = (*HTTPNetwork)(nil)
var _ EventSink = (*Engine)(nil)
