package mesh

import (
	"sync"
)

// lanes runs submitted work on a fixed set of FIFO workers. Work with the
// same key always lands on the same worker, so it runs in submission order,
// while different keys proceed in parallel.
type lanes struct {
	mu     sync.RWMutex
	closed bool
	queues []chan func()
	wg     sync.WaitGroup
}

func newLanes(n, depth int) *lanes {
	if n <= 0 {
		n = 1
	}
	l := &lanes{queues: make([]chan func(), n)}
	for i := range l.queues {
		q := make(chan func(), depth)
		l.queues[i] = q
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			for fn := range q {
				fn()
			}
		}()
	}
	return l
}

// submit queues fn on the lane for key. It blocks while that lane is full
// and returns false once the lanes are closed.
func (l *lanes) submit(key uint64, fn func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	l.queues[key%uint64(len(l.queues))] <- fn
	return true
}

// close stops intake and waits for queued work to finish.
func (l *lanes) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	for _, q := range l.queues {
		close(q)
	}
	l.mu.Unlock()
	l.wg.Wait()
}
