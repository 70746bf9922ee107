package forward

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// relayBufferSize is the fixed size of each streaming relay buffer. A
// slow reader stalls the copy loop instead of growing memory with the
// body.
const relayBufferSize = 32 * 1024

// Factory hands out upstream transports keyed by their timeout pair, so
// routes sharing timeouts share connection pools. The connect timeout
// bounds dialing (unreachable backend, fails fast); the response timeout
// bounds the wait for response headers once connected (slow backend).
type Factory struct {
	mu    sync.Mutex
	store map[timeouts]*http.Transport
}

type timeouts struct {
	connect  time.Duration
	response time.Duration
}

func NewFactory() *Factory {
	return &Factory{store: make(map[timeouts]*http.Transport)}
}

// Get returns the shared transport for the given timeout pair, building
// it on first use.
func (f *Factory) Get(connect, response time.Duration) *http.Transport {
	key := timeouts{connect: connect, response: response}

	f.mu.Lock()
	defer f.mu.Unlock()

	if t, ok := f.store[key]; ok {
		return t
	}

	dialer := &net.Dialer{
		Timeout:   connect,
		KeepAlive: 60 * time.Second,
	}
	t := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     false,
		MaxIdleConns:          512,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: response,
		ExpectContinueTimeout: 1 * time.Second,
	}
	f.store[key] = t
	return t
}

// CloseIdle closes idle connections on every transport the factory has
// handed out.
func (f *Factory) CloseIdle() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.store {
		t.CloseIdleConnections()
	}
}

// BufferPool recycles fixed-size relay buffers for streamed bodies. It
// satisfies httputil.BufferPool.
type BufferPool struct {
	pool sync.Pool
}

func NewBufferPool() *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, relayBufferSize)
			},
		},
	}
}

func (p *BufferPool) Get() []byte {
	return p.pool.Get().([]byte)
}

func (p *BufferPool) Put(b []byte) {
	p.pool.Put(b)
}
