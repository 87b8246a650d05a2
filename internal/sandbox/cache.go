package sandbox

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/golang/groupcache/lru"
)

const (
	routinePrefix = "(async function(page, util) {\n"
	routineSuffix = "\n})"
)

// Hasher digests routine sources into cache keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// programCache keeps compiled routines keyed by source digest. Programs are
// immutable and can be run by any number of runtimes.
type programCache struct {
	mu     sync.Mutex
	hasher Hasher
	lru    *lru.Cache
}

func newProgramCache(size int, hasher Hasher) *programCache {
	var cache *lru.Cache
	if size > 0 {
		cache = lru.New(size)
	}
	return &programCache{hasher: hasher, lru: cache}
}

func (c *programCache) program(domain, source string) (*goja.Program, error) {
	if c.lru == nil {
		return compile(domain, source)
	}
	key, err := c.hasher.Hash([]byte(source))
	if err != nil {
		return nil, fmt.Errorf("hash routine: %w", err)
	}

	c.mu.Lock()
	cached, ok := c.lru.Get(key)
	c.mu.Unlock()
	if ok {
		return cached.(*goja.Program), nil
	}

	prog, err := compile(domain, source)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.lru.Add(key, prog)
	c.mu.Unlock()
	return prog, nil
}

func (c *programCache) len() int {
	if c.lru == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func compile(domain, source string) (*goja.Program, error) {
	prog, err := goja.Compile(domain+".js", routinePrefix+source+routineSuffix, false)
	if err != nil {
		return nil, fmt.Errorf("compile routine: %w", err)
	}
	return prog, nil
}
