// Package portalloc hands out TCP ports for application instances.
package portalloc

import (
	"fmt"
	"net"
	"strconv"
	"sync"
)

// Allocator hands out free TCP ports from a range. Each test run constructs
// its own Allocator; ports are probed with a listen before being handed out,
// so two runs on the same host skip each other's ports.
type Allocator struct {
	host  string
	start int
	end   int

	mu     sync.Mutex
	next   int
	inUse  map[int]bool
	listen func(network, addr string) (net.Listener, error)
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithHost sets the host ports are probed on. Defaults to 127.0.0.1.
func WithHost(host string) Option {
	return func(a *Allocator) { a.host = host }
}

// New creates an Allocator over the inclusive range [start, end].
func New(start, end int, opts ...Option) (*Allocator, error) {
	if start <= 0 || end > 65535 || start > end {
		return nil, fmt.Errorf("portalloc: invalid range %d-%d", start, end)
	}
	a := &Allocator{
		host:   "127.0.0.1",
		start:  start,
		end:    end,
		next:   start,
		inUse:  make(map[int]bool),
		listen: net.Listen,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Next returns the next free port. Ports already handed out are skipped
// until released.
func (a *Allocator) Next() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := a.end - a.start + 1
	for i := 0; i < size; i++ {
		port := a.next
		a.next++
		if a.next > a.end {
			a.next = a.start
		}
		if a.inUse[port] || !a.free(port) {
			continue
		}
		a.inUse[port] = true
		return port, nil
	}
	return 0, fmt.Errorf("portalloc: no free port in %d-%d", a.start, a.end)
}

// Release returns a port to the pool.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, port)
}

// InUse returns the number of ports currently handed out.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}

func (a *Allocator) free(port int) bool {
	l, err := a.listen("tcp", net.JoinHostPort(a.host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
