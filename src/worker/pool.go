package worker

import (
	"context"
	"log"
	"runtime"
	"sync"

	"askshot/src/chat"
)

// AskFunc answers one question. It runs on a worker goroutine.
type AskFunc func(ctx context.Context, question string) (chat.Result, error)

// ResultCallback is invoked on completion (from a worker goroutine).
// The event loop should pass a closure that posts back into the event loop safely.
type ResultCallback func(res chat.Result, err error)

// Pool is a fixed-size analysis worker pool with a 1-slot input queue (strict back-pressure).
type Pool struct {
	ask  AskFunc
	jobs chan job
	wg   sync.WaitGroup
	once sync.Once
}

type job struct {
	ctx      context.Context
	question string
	cb       ResultCallback
}

// New creates a worker pool. Size defaults to NumCPU when size<=0. Queue is 1 slot.
func New(size int, ask AskFunc) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{ask: ask, jobs: make(chan job, 1)}
	p.start(size)
	return p
}

func (p *Pool) start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				log.Printf("Worker: asking %d-character question", len(j.question))
				res, err := p.ask(j.ctx, j.question)
				log.Printf("Worker: answer length=%d, err=%v", len(res.Answer), err)
				j.cb(res, err)
			}
		}()
	}
}

// Submit enqueues a question if the single-slot queue is free. Returns false if dropped.
func (p *Pool) Submit(ctx context.Context, question string, cb ResultCallback) bool {
	select {
	case p.jobs <- job{ctx: ctx, question: question, cb: cb}:
		return true
	default:
		return false
	}
}

// Close stops the pool after draining current work.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.jobs) })
	p.wg.Wait()
}
