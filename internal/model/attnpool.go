package model

import (
	"runtime"
	"sync"

	"github.com/samcharles93/qsweep/internal/tensor"
)

// attnTask asks a worker to run attention for a range of heads.
type attnTask struct {
	ctx    *attnContext
	hs, he int
	done   chan struct{}
}

// attnContext carries one encoder block's attention inputs. q, k, v and
// out are position-major seqLen*[nHeads*headDim] slices; every position
// attends to every other position.
type attnContext struct {
	q, k, v []float32
	out     []float32

	seqLen  int
	headDim int
	nHeads  int
	scale   float32
}

type attnPool struct {
	size      int
	tasks     chan attnTask
	doneSlots chan chan struct{}
}

var (
	attnWorkPool *attnPool
	attnPoolOnce sync.Once
)

func getAttnPool() *attnPool {
	attnPoolOnce.Do(func() {
		attnWorkPool = newAttnPool(runtime.GOMAXPROCS(0))
	})
	return attnWorkPool
}

func newAttnPool(workers int) *attnPool {
	if workers < 1 {
		workers = 1
	}
	p := &attnPool{
		size:      workers,
		tasks:     make(chan attnTask, workers*2),
		doneSlots: make(chan chan struct{}, workers),
	}
	for range workers {
		p.doneSlots <- make(chan struct{}, 1)
	}
	for range workers {
		go func() {
			var scores []float32
			for task := range p.tasks {
				if n := task.ctx.seqLen; cap(scores) < n {
					scores = make([]float32, n)
				}
				runAttnHeads(task.ctx, scores[:task.ctx.seqLen], task.hs, task.he)
				task.done <- struct{}{}
			}
		}()
	}
	return p
}

// attendAll computes full-sequence attention, splitting the heads across
// the worker pool.
func attendAll(ctx *attnContext) {
	if ctx.seqLen <= 0 || ctx.nHeads <= 0 {
		return
	}

	pool := getAttnPool()
	workers := pool.size
	if workers > ctx.nHeads {
		workers = ctx.nHeads
	}
	chunk := (ctx.nHeads + workers - 1) / workers

	done := <-pool.doneSlots
	issued := 0
	for hs := 0; hs < ctx.nHeads; hs += chunk {
		he := hs + chunk
		if he > ctx.nHeads {
			he = ctx.nHeads
		}
		pool.tasks <- attnTask{ctx: ctx, hs: hs, he: he, done: done}
		issued++
	}
	for range issued {
		<-done
	}
	pool.doneSlots <- done
}

func runAttnHeads(ctx *attnContext, scores []float32, hs, he int) {
	if ctx == nil || hs >= he {
		return
	}
	if ctx.seqLen > len(scores) {
		panic("attention scores buffer too small")
	}
	dim := ctx.nHeads * ctx.headDim
	for h := hs; h < he; h++ {
		base := h * ctx.headDim
		for t := range ctx.seqLen {
			qt := ctx.q[t*dim+base : t*dim+base+ctx.headDim]
			for u := range ctx.seqLen {
				ku := ctx.k[u*dim+base : u*dim+base+ctx.headDim]
				scores[u] = tensor.Dot(qt, ku) * ctx.scale
			}
			tensor.Softmax(scores[:ctx.seqLen])
			out := ctx.out[t*dim+base : t*dim+base+ctx.headDim]
			for d := range ctx.headDim {
				var sum float32
				for u := range ctx.seqLen {
					sum += scores[u] * ctx.v[u*dim+base+d]
				}
				out[d] = sum
			}
		}
	}
}
