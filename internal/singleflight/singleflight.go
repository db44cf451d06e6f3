// Package singleflight merges concurrent calls for the same key so that only
// one execution is in flight at a time; duplicate callers block and receive
// the owner's result. The client uses it to serialize token acquisition.
package singleflight

import "sync"

// Group tracks in-flight calls by key.
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

type call struct {
	wg  sync.WaitGroup
	val interface{}
	err error
}

// New creates an empty Group.
func New() *Group {
	return &Group{m: make(map[string]*call)}
}

// Do executes fn, ensuring a single execution per key at a time. Callers that
// arrive while an execution is in flight wait for it and share its result.
// The key is forgotten once the execution completes, so a later Do runs fn
// again; an expiring credential needs exactly that.
func (g *Group) Do(key string, fn func() (interface{}, error)) (interface{}, error) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err
	}

	c := &call{}
	c.wg.Add(1)
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()

	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	g.mu.Unlock()
	c.wg.Done()

	return c.val, c.err
}

// Forget drops any in-flight record for key, letting the next Do start a new
// execution immediately.
func (g *Group) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}
