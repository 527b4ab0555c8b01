package embed

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolOverloaded is returned when a job is submitted while the queue is
// already at capacity; the RPC layer maps this onto -32003 (§5).
var ErrPoolOverloaded = errors.New("embed: worker pool overloaded")

// Pool wraps an Embedder with a bounded queue served by a small number of
// workers, so CPU-bound embedding calls never block the accept loop or
// other connections' I/O (§5). Grounded on the fan-out/WaitGroup pattern
// in skalibog-bfma's analysis aggregator, adapted from "fan out over N
// symbols and collect" to "bounded job queue with N persistent workers".
type Pool struct {
	embedder Embedder
	jobs     chan job
	wg       sync.WaitGroup
}

type job struct {
	ctx   context.Context
	texts []string
	resp  chan poolResult
}

type poolResult struct {
	vectors [][]float32
	err     error
}

// NewPool starts workers goroutines pulling from a queue of the given
// depth. Call Close to stop the workers once no more jobs will be
// submitted.
func NewPool(embedder Embedder, workers, queueDepth int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	p := &Pool{
		embedder: embedder,
		jobs:     make(chan job, queueDepth),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		vectors, err := p.embedder.EmbedBatch(j.ctx, j.texts)
		j.resp <- poolResult{vectors: vectors, err: err}
	}
}

// EmbedBatch submits texts to the pool and blocks until a worker
// processes them or ctx is cancelled. Returns ErrPoolOverloaded
// immediately, without blocking, if the queue is full.
func (p *Pool) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp := make(chan poolResult, 1)
	select {
	case p.jobs <- job{ctx: ctx, texts: texts, resp: resp}:
	default:
		return nil, ErrPoolOverloaded
	}

	select {
	case r := <-resp:
		return r.vectors, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) Dim() int { return p.embedder.Dim() }

func (p *Pool) ModelName() string { return p.embedder.ModelName() }

// Close stops accepting new jobs and waits for in-flight workers to drain.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}
