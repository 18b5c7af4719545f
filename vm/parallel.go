package vm

import (
	"sync"
	"sync/atomic"

	"github.com/mindw/numexpr/axes"
)

// taskFactor scales the chunk size handed to each worker: the iteration
// space is split so that roughly 16 chunks per thread exist, rounded to
// whole blocks.
const taskFactor = 16

// ---------------------------------------------------------------------------
// Barrier
// ---------------------------------------------------------------------------

// barrier is a reusable rendezvous for a fixed party count. The last
// arrival releases everyone and resets the barrier for the next cycle.
type barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	parties int
	count   int
	gen     uint64
}

func newBarrier(parties int) *barrier {
	b := &barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) await() {
	b.mu.Lock()
	defer b.mu.Unlock()
	gen := b.gen
	b.count++
	if b.count == b.parties {
		b.count = 0
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}

// ---------------------------------------------------------------------------
// Worker pool
// ---------------------------------------------------------------------------

// parJob is the shared state of one parallel run. Chunks are claimed with
// an atomic counter. The error triple is written without synchronization:
// concurrent failures race and one of them wins, which is acceptable
// because any failure aborts the whole run with a genuine error from one
// of the workers.
type parJob struct {
	params        *vmParams
	iters         []*axes.Iter
	blockSize     int
	chunk         int
	start, stop   int
	mode          execMode
	needBuffering bool
	next          atomic.Int64

	retCode int
	pcError int
	errMsg  string
}

func (j *parJob) fail(code, pc int, msg string) {
	j.retCode = code
	j.pcError = pc
	j.errMsg = msg
}

// pool is a set of workers living as long as the engine. Runs are
// dispatched through a two-phase barrier: the first rendezvous publishes
// the job to all workers, the second collects them after the chunk queue
// drains. Both barriers count the dispatcher as a party.
type pool struct {
	nthreads int
	startB   *barrier
	endB     *barrier
	job      *parJob
	quitting bool
}

func newPool(n int) *pool {
	p := &pool{
		nthreads: n,
		startB:   newBarrier(n + 1),
		endB:     newBarrier(n + 1),
	}
	for i := 0; i < n; i++ {
		go p.worker(i)
	}
	return p
}

// shutdown releases the workers with the quit flag set. The start barrier
// gives the flag write a happens-before edge to every worker.
func (p *pool) shutdown() {
	p.quitting = true
	p.startB.await()
}

func (p *pool) worker(tid int) {
	for {
		p.startB.await()
		if p.quitting {
			return
		}
		job := p.job
		p.runChunks(job, tid)
		p.endB.await()
	}
}

// runChunks is one worker's share of a job: claim chunk indices until the
// queue is exhausted, running each through a private copy of the iterator
// and register file.
func (p *pool) runChunks(job *parJob, tid int) {
	wp := job.params.clone()
	if err := wp.allocTemps(job.blockSize); err != nil {
		job.fail(codeEngine, -1, err.Error())
		return
	}
	defer wp.freeTemps()
	if job.needBuffering {
		wp.outBuffer = make([]byte, job.blockSize*wp.memSizes[0])
	}

	it := job.iters[tid]
	for {
		n := int(job.next.Add(1) - 1)
		lo := job.start + n*job.chunk
		if lo >= job.stop {
			return
		}
		hi := lo + job.chunk
		if hi > job.stop {
			hi = job.stop
		}
		if err := it.SetRange(lo, hi); err != nil {
			job.fail(codeEngine, -1, err.Error())
			return
		}
		it.Reset()
		if code, pc := runIterTask(it, wp, job.mode); code != codeOK {
			job.fail(code, pc, "")
			return
		}
	}
}

// runParallel splits the iteration space into whole-block chunks and hands
// them to the pool. The dispatcher itself does no block work; it waits at
// both barriers.
func (e *Engine) runParallel(params *vmParams, plan *runPlan) error {
	vlen := plan.iterSize
	span := taskFactor * e.blockSize * e.threads
	numBlocks := (vlen + span - 1) / span
	chunk := numBlocks * e.blockSize

	job := &parJob{
		params:        params,
		iters:         make([]*axes.Iter, e.threads),
		blockSize:     e.blockSize,
		chunk:         chunk,
		start:         0,
		stop:          vlen,
		mode:          plan.mode,
		needBuffering: plan.needBuffering,
		pcError:       -1,
	}
	job.iters[0] = plan.iter
	for i := 1; i < e.threads; i++ {
		job.iters[i] = plan.iter.Copy()
	}

	log.Debugf("parallel run over %d elements, %d threads, chunk %d", vlen, e.threads, chunk)

	e.pool.job = job
	e.pool.startB.await()
	e.pool.endB.await()
	e.pool.job = nil

	if job.retCode != codeOK {
		log.Errorf("parallel run failed: code=%d pc=%d %s", job.retCode, job.pcError, job.errMsg)
	}
	return runErr(job.retCode, job.pcError, job.errMsg)
}
