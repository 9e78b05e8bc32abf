package pool

import (
	"errors"
	"sync"

	"github.com/NimbusTA/oracle-service/internal/logger"
)

// ErrNoHealthyEndpoint is returned by Current when every configured endpoint
// for the chain has been marked failed. It fails the current cycle, not the
// process; the orchestrator resets the pool after its retry timeout.
var ErrNoHealthyEndpoint = errors.New("no healthy endpoint")

type State int

const (
	Untried State = iota
	Healthy
	Failed
)

func (s State) String() string {
	switch s {
	case Untried:
		return "UNTRIED"
	case Healthy:
		return "HEALTHY"
	case Failed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Pool holds the ordered endpoint list for one chain. Endpoints are tried in
// configured order; a failed endpoint stays failed until Reset. The health
// state never leaves this package.
type Pool struct {
	chain  string
	mu     sync.Mutex
	urls   []string
	states []State
	cur    int
}

func New(chain string, urls []string) *Pool {
	return &Pool{
		chain:  chain,
		urls:   urls,
		states: make([]State, len(urls)),
	}
}

// Current returns the endpoint the next call should use: the first
// non-failed endpoint at or after the cursor, wrapping around the list.
// Each endpoint is considered exactly once per call.
func (p *Pool) Current() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < len(p.urls); i++ {
		idx := (p.cur + i) % len(p.urls)
		if p.states[idx] != Failed {
			p.cur = idx
			return p.urls[idx], nil
		}
	}
	return "", ErrNoHealthyEndpoint
}

// MarkHealthy records a successful call against the endpoint.
func (p *Pool) MarkHealthy(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, u := range p.urls {
		if u == url && p.states[i] != Healthy {
			p.states[i] = Healthy
		}
	}
}

// MarkFailed takes the endpoint out of rotation and advances the cursor so
// the next Current call starts from the following entry.
func (p *Pool) MarkFailed(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, u := range p.urls {
		if u != url {
			continue
		}
		if p.states[i] != Failed {
			p.states[i] = Failed
			logger.Warn("POOL", "[%s] endpoint %s marked FAILED", p.chain, url)
		}
		if p.cur == i {
			p.cur = (i + 1) % len(p.urls)
		}
	}
}

// Reset returns every endpoint to UNTRIED and rewinds to the configured
// order. Called by the orchestrator after the retry timeout once the whole
// pool has been exhausted.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.states {
		p.states[i] = Untried
	}
	p.cur = 0
	logger.Info("POOL", "[%s] all endpoints reset to UNTRIED", p.chain)
}

// Size returns the number of configured endpoints.
func (p *Pool) Size() int {
	return len(p.urls)
}
