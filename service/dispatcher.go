package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/TIANLI0/SegKit/config"
	"github.com/TIANLI0/SegKit/model"
	"github.com/TIANLI0/SegKit/utils"
	"go.uber.org/zap"
)

// Dispatcher 固定数量的worker执行阻塞的模型调用，队列有上限
type Dispatcher struct {
	jobs    chan func()
	workers int

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	running atomic.Int64
}

func NewDispatcher(cfg *config.DispatcherConfig) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	depth := cfg.QueueDepth
	if depth < 0 {
		depth = 0
	}

	d := &Dispatcher{
		jobs:    make(chan func(), depth),
		workers: workers,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	return d
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	utils.Logger.Debug("dispatcher worker started", zap.Int("worker", id))
	for job := range d.jobs {
		d.running.Add(1)
		job()
		d.running.Add(-1)
	}
	utils.Logger.Debug("dispatcher worker stopped", zap.Int("worker", id))
}

// Future 提交任务的结果句柄
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done 任务完成时关闭
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await 等待结果。ctx先结束时返回ctx错误，任务继续执行，结果被丢弃
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit 提交任务；队列已满或已关闭时立即返回 ErrOverloaded
func Submit[T any](d *Dispatcher, work func() (T, error)) (*Future[T], error) {
	f := &Future[T]{done: make(chan struct{})}
	job := func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("dispatched job panicked: %v", r)
				utils.Logger.Error("dispatched job panicked", zap.Any("panic", r))
			}
		}()
		f.value, f.err = work()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, newError(KindOverloaded, "dispatcher is shutting down", errors.New("dispatcher closed"))
	}

	// 有空闲worker或队列未满时立即成功，不阻塞请求
	select {
	case d.jobs <- job:
		return f, nil
	default:
		return nil, ErrOverloaded
	}
}

// Stats 当前队列状态
func (d *Dispatcher) Stats() model.DispatcherStats {
	return model.DispatcherStats{
		Workers: d.workers,
		Queued:  len(d.jobs),
		Running: int(d.running.Load()),
	}
}

// Close 停止接收任务，等待已入队的任务执行完
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
	return nil
}
