package transfer

import (
	"os"
	"sync"
)

// Artifact is a completed incoming file on disk. Exactly one artifact is
// kept live at a time; completing a new transfer releases the prior one.
type Artifact struct {
	Meta Metadata

	mu       sync.Mutex
	path     string
	released bool
}

// Path returns the on-disk location, or "" after Release.
func (a *Artifact) Path() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return ""
	}
	return a.path
}

// Release deletes the backing file. Calling it more than once is safe.
func (a *Artifact) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil
	}
	a.released = true
	path := a.path
	a.path = ""
	return os.Remove(path)
}
