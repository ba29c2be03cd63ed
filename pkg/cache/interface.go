package cache

// Interface defines the operations the rest of the service relies on, so a
// sharded or external cache can be dropped in later without touching callers.
type Interface interface {
	// Get returns the cached final URL for a source URL under a request mode
	Get(sourceURL, mode string) (string, bool)

	// Set stores a successfully resolved link
	Set(sourceURL, mode, finalURL string)

	// Stats returns current cache statistics
	Stats() Stats

	// Clear removes all entries from the cache
	Clear()

	// Close stops the cache and cleanup goroutine
	Close() error
}

var _ Interface = (*Cache)(nil)
