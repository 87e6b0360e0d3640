package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TIANLI0/SegKit/model"
	"github.com/TIANLI0/SegKit/predictor"
	"github.com/TIANLI0/SegKit/utils"
	"go.uber.org/zap"
)

// ModelManager 持有唯一的模型实例及其加载状态。
// 状态只在 mu 保护下变化：Unloaded→Loading→Ready|Failed，Failed 可重新进入 Loading
type ModelManager struct {
	predictor  predictor.Predictor
	dispatcher *Dispatcher

	mu      sync.Mutex
	state   model.ModelState
	settled chan struct{} // 当前加载尝试结束时关闭
}

func NewModelManager(p predictor.Predictor, d *Dispatcher) *ModelManager {
	settled := make(chan struct{})
	return &ModelManager{
		predictor:  p,
		dispatcher: d,
		state:      model.ModelState{Phase: model.PhaseUnloaded},
		settled:    settled,
	}
}

// State 返回当前状态快照
func (m *ModelManager) State() model.ModelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RequestLoad 幂等：Loading/Ready 时直接返回；并发调用只会触发一次底层加载
func (m *ModelManager) RequestLoad() model.ModelState {
	m.mu.Lock()
	switch m.state.Phase {
	case model.PhaseLoading, model.PhaseReady:
		s := m.state
		m.mu.Unlock()
		return s
	}

	m.state = model.ModelState{
		Phase:    model.PhaseLoading,
		Attempts: m.state.Attempts + 1,
	}
	if isClosed(m.settled) {
		m.settled = make(chan struct{})
	}
	settled := m.settled
	attempt := m.state.Attempts
	s := m.state
	m.mu.Unlock()

	utils.Logger.Info("model load requested", zap.Int("attempt", attempt))

	_, err := Submit(m.dispatcher, func() (struct{}, error) {
		m.load(attempt, settled)
		return struct{}{}, nil
	})
	if err != nil {
		m.finish(attempt, settled, err)
		return m.State()
	}
	return s
}

func (m *ModelManager) load(attempt int, settled chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			m.finish(attempt, settled, fmt.Errorf("model load panicked: %v", r))
		}
	}()

	start := time.Now()
	err := m.predictor.Load(context.Background())
	if err == nil {
		utils.Logger.Info("model loaded",
			zap.Int("attempt", attempt),
			zap.String("device", m.predictor.Device()),
			zap.Duration("duration", time.Since(start)))
	}
	m.finish(attempt, settled, err)
}

// finish 结束一次加载尝试，失败不会影响进程
func (m *ModelManager) finish(attempt int, settled chan struct{}, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Attempts != attempt || m.state.Phase != model.PhaseLoading {
		return
	}
	if err != nil {
		utils.Logger.Error("failed to load model",
			zap.Int("attempt", attempt),
			zap.Error(err))
		m.state.Phase = model.PhaseFailed
		m.state.Reason = err.Error()
	} else {
		m.state.Phase = model.PhaseReady
		m.state.Device = m.predictor.Device()
	}
	close(settled)
}

// Wait 等待当前加载尝试结束或ctx结束
func (m *ModelManager) Wait(ctx context.Context) model.ModelState {
	m.mu.Lock()
	if m.state.Phase != model.PhaseLoading {
		s := m.state
		m.mu.Unlock()
		return s
	}
	settled := m.settled
	m.mu.Unlock()

	select {
	case <-settled:
	case <-ctx.Done():
	}
	return m.State()
}

// Predictor 仅在Ready时返回模型句柄
func (m *ModelManager) Predictor() (predictor.Predictor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Phase != model.PhaseReady {
		return nil, ErrModelNotReady
	}
	return m.predictor, nil
}

// Device 模型运行设备，未加载时为 unknown
func (m *ModelManager) Device() string {
	s := m.State()
	if s.Device != "" {
		return s.Device
	}
	if s.Phase == model.PhaseReady {
		return m.predictor.Device()
	}
	return "unknown"
}

// Close 释放模型资源
func (m *ModelManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Phase == model.PhaseLoading && !isClosed(m.settled) {
		close(m.settled)
	}
	m.state = model.ModelState{Phase: model.PhaseUnloaded, Attempts: m.state.Attempts}
	return m.predictor.Close()
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
