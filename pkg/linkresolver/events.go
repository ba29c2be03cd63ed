package linkresolver

import (
	"context"
	"net/http"
)

// RequestID identifies one in-flight request chain in the host network layer.
// It is assigned by the network layer, not by the engine.
type RequestID string

// BeforeSendEvent reports an outbound request (the first leg or any redirect
// leg) before its headers hit the wire. The sink may cancel it or replace the
// outbound headers.
type BeforeSendEvent struct {
	RequestID RequestID
	URL       string
	Header    http.Header
}

// BeforeSendResult is the sink's verdict on a BeforeSendEvent.
type BeforeSendResult struct {
	// Cancel aborts the request chain without treating it as an error.
	Cancel bool

	// Header, when non-nil, replaces the outbound headers.
	Header http.Header
}

// RedirectEvent reports one redirect hop within a request chain.
type RedirectEvent struct {
	RequestID RequestID
	From      string
	To        string
}

// CompletedEvent reports successful completion with the final URL.
type CompletedEvent struct {
	RequestID RequestID
	FinalURL  string
}

// ErrorEvent reports a transport-level failure of a request chain.
type ErrorEvent struct {
	RequestID RequestID
	Err       error
}

// EventSink receives network lifecycle events. The resolution engine is the
// canonical implementation; the network layer depends only on this interface,
// so hosts can be swapped or mocked.
type EventSink interface {
	HandleBeforeSend(ev BeforeSendEvent) BeforeSendResult
	HandleRedirect(ev RedirectEvent)
	HandleCompleted(ev CompletedEvent)
	HandleError(ev ErrorEvent)
}

// Requester issues an outbound request whose lifecycle is reported to the
// attached EventSink. Do blocks until the chain completes, errors, is
// cancelled by the sink, or ctx is done; its error reports only failures the
// sink has already been told about (or failures to start at all).
type Requester interface {
	Do(ctx context.Context, rawURL string, header http.Header) error
}
