package bridge

import "sync"

// FileCache holds the last known content of files the client has read or
// written through the bridge, keyed by absolute path. It lets tool titles and
// diffs reflect client-side edits the engine has not seen on disk yet.
type FileCache struct {
	mu    sync.RWMutex
	files map[string]string
}

func NewFileCache() *FileCache {
	return &FileCache{files: make(map[string]string)}
}

func (c *FileCache) Put(path, content string) {
	c.mu.Lock()
	c.files[path] = content
	c.mu.Unlock()
}

func (c *FileCache) Get(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	content, ok := c.files[path]
	return content, ok
}

func (c *FileCache) Delete(path string) {
	c.mu.Lock()
	delete(c.files, path)
	c.mu.Unlock()
}

func (c *FileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.files)
}
