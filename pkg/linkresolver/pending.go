package linkresolver

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
)

// resolutionState is the lifecycle of one pending resolution. The only legal
// transitions are pending -> resolved and pending -> failed; a second
// completion attempt is rejected, never silently absorbed.
type resolutionState int

const (
	statePending resolutionState = iota
	stateResolved
	stateFailed
)

// pendingResolution tracks one in-flight link resolution. The engine's mutex
// guards the correlation fields (requestID, redirectCount); the record's own
// mutex guards the completion state.
type pendingResolution struct {
	token string
	opts  Options

	// Correlation with the host network layer; set once on first sight of
	// the token, guarded by the engine mutex.
	requestID     RequestID
	redirectCount int

	done chan struct{}

	mu       sync.Mutex
	state    resolutionState
	finalURL string
	err      error
}

func newPendingResolution(opts Options) (*pendingResolution, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	return &pendingResolution{
		token: token,
		opts:  opts,
		done:  make(chan struct{}),
	}, nil
}

// complete moves the resolution out of the pending state exactly once.
// It reports whether this call was the one that completed it.
func (p *pendingResolution) complete(finalURL string, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != statePending {
		return false
	}
	if err != nil {
		p.state = stateFailed
		p.err = err
	} else {
		p.state = stateResolved
		p.finalURL = finalURL
	}
	close(p.done)
	return true
}

func (p *pendingResolution) result() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finalURL, p.err
}

// newToken returns an unguessable resolution token. 16 random bytes keep
// collisions among concurrently pending resolutions out of the question.
func newToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
