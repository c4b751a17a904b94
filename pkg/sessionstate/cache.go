package sessionstate

import (
	"encoding/json"
	"os"
	"sync"
)

// Cache persists the last known state across restarts so the UI can
// render optimistically before re-validation finishes. It stands in
// for the browser's local storage.
type Cache interface {
	Load() (State, bool)
	Store(State)
	Clear()
}

type memoryCache struct {
	mu    sync.Mutex
	state State
	ok    bool
}

func NewMemoryCache() Cache {
	return &memoryCache{}
}

func (c *memoryCache) Load() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.ok
}

func (c *memoryCache) Store(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state, c.ok = state, true
}

func (c *memoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state, c.ok = State{}, false
}

type fileCache struct {
	mu   sync.Mutex
	path string
}

// NewFileCache persists the state as JSON at path. Load failures of
// any kind read as "no cache"; the state is re-validated anyway.
func NewFileCache(path string) Cache {
	return &fileCache{path: path}
}

func (c *fileCache) Load() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		return State{}, false
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, false
	}
	return state, true
}

func (c *fileCache) Store(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	_ = os.WriteFile(c.path, data, 0o600)
}

func (c *fileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = os.Remove(c.path)
}
