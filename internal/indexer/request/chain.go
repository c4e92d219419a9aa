package request

import (
	"iter"
	"sync"
)

// Chain is a finite, lazily produced sequence of requests making up one
// logical search. Requests are built only as the chain is consumed, and a
// consumed request is never produced again.
type Chain struct {
	mu   sync.Mutex
	next func() (*Request, bool)
	done bool
}

// NewChain creates a chain from a generator. The generator is called once per
// Next until it reports false.
func NewChain(next func() (*Request, bool)) *Chain {
	return &Chain{next: next}
}

// Empty returns a chain with no requests.
func Empty() *Chain {
	return &Chain{done: true}
}

// Of returns a chain over prebuilt requests.
func Of(reqs ...*Request) *Chain {
	i := 0
	return NewChain(func() (*Request, bool) {
		if i >= len(reqs) {
			return nil, false
		}
		r := reqs[i]
		i++
		return r, true
	})
}

// Paged returns a chain of up to pages requests, building page n only when
// it is reached. build may stop early by returning nil.
func Paged(pages int, build func(page int) *Request) *Chain {
	page := 0
	return NewChain(func() (*Request, bool) {
		if page >= pages {
			return nil, false
		}
		r := build(page)
		page++
		if r == nil {
			page = pages
			return nil, false
		}
		return r, true
	})
}

// Concat joins chains end to end.
func Concat(chains ...*Chain) *Chain {
	i := 0
	return NewChain(func() (*Request, bool) {
		for i < len(chains) {
			if r, ok := chains[i].Next(); ok {
				return r, true
			}
			i++
		}
		return nil, false
	})
}

// Next returns the next request, or false once the chain is exhausted.
func (c *Chain) Next() (*Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return nil, false
	}
	r, ok := c.next()
	if !ok {
		c.done = true
		c.next = nil
		return nil, false
	}
	return r, true
}

// All ranges over the remaining requests.
func (c *Chain) All() iter.Seq[*Request] {
	return func(yield func(*Request) bool) {
		for {
			r, ok := c.Next()
			if !ok || !yield(r) {
				return
			}
		}
	}
}

// Exhausted reports whether the chain is known to have no further requests.
func (c *Chain) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}
