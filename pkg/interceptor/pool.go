package interceptor

import "sync"

// pool 固定并发的任务池
type pool struct {
	mu      sync.RWMutex
	tasks   chan func()
	stopped bool
}

func newPool(workers, capacity int) *pool {
	if capacity < workers {
		capacity = workers
	}
	p := &pool{tasks: make(chan func(), capacity)}
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *pool) work() {
	for fn := range p.tasks {
		fn()
	}
}

// submit 队列已满或已停止时返回 false
func (p *pool) submit(fn func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	select {
	case p.tasks <- fn:
		return true
	default:
		return false
	}
}

// stop 不再接受新任务，已排队的任务执行完后工作协程退出
func (p *pool) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.tasks)
}
