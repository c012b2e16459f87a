package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"quantpilot/internal/backtest"
	"quantpilot/internal/logger"
	"quantpilot/internal/strategy"
)

// Service 管理异步回测任务：提交即返回任务号，执行在后台进行，
// 用信号量限制并发，完成后结果可反复查询。
type Service struct {
	mu    sync.RWMutex
	tasks map[string]*job

	ctrl  *Controller
	store *Store // 可为 nil（纯内存模式）
	sem   chan struct{}
	wg    sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
	closed  bool
}

type job struct {
	snap   Snapshot
	cancel context.CancelFunc
}

// NewService store 传 nil 时任务只存在于内存。
func NewService(ctrl *Controller, store *Store, maxConcurrent int) *Service {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		tasks:   make(map[string]*job),
		ctrl:    ctrl,
		store:   store,
		sem:     make(chan struct{}, maxConcurrent),
		baseCtx: ctx,
		cancel:  cancel,
	}
	s.restore()
	return s
}

// restore 把落盘的历史任务读回内存；上次进程退出时仍在跑的任务标记为失败。
func (s *Service) restore() {
	if s.store == nil {
		return
	}
	snaps, err := s.store.Recent(context.Background(), 200)
	if err != nil {
		logger.Warnf("[task] 恢复历史任务失败: %v", err)
		return
	}
	now := time.Now().Unix()
	for _, snap := range snaps {
		if snap.Status == StatusPending || snap.Status == StatusRunning {
			snap.Status = StatusFailed
			snap.Error = "服务重启，任务中断"
			snap.UpdatedAt = now
			_ = s.store.Save(context.Background(), snap)
		}
		s.tasks[snap.ID] = &job{snap: snap}
	}
	if len(snaps) > 0 {
		logger.Infof("[task] 已恢复 %d 条历史任务", len(snaps))
	}
}

// Submit 登记任务并异步执行，立即返回任务号。
func (s *Service) Submit(src strategy.Source, req backtest.Request) (string, error) {
	id := uuid.New().String()
	now := time.Now().Unix()
	snap := Snapshot{
		ID:         id,
		Status:     StatusPending,
		Symbol:     req.Symbol,
		UserIntent: req.UserIntent,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	jctx, jcancel := context.WithCancel(s.baseCtx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		jcancel()
		return "", context.Canceled
	}
	s.tasks[id] = &job{snap: snap, cancel: jcancel}
	s.mu.Unlock()
	s.persist(snap)

	s.wg.Add(1)
	go s.run(jctx, id, src, req)
	logger.Infof("[task] 已提交任务 %s, symbol=%s", id, req.Symbol)
	return id, nil
}

func (s *Service) run(ctx context.Context, id string, src strategy.Source, req backtest.Request) {
	defer s.wg.Done()

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		s.update(id, func(snap *Snapshot) {
			snap.Status = StatusFailed
			snap.Error = "任务在排队时被取消"
		})
		return
	}

	s.update(id, func(snap *Snapshot) { snap.Status = StatusRunning })

	out, err := s.ctrl.Execute(ctx, src, req)
	s.update(id, func(snap *Snapshot) {
		if out != nil {
			snap.Attempts = out.Attempts
			snap.Failures = out.Failures
		}
		if err != nil {
			snap.Status = StatusFailed
			snap.Error = err.Error()
			return
		}
		snap.Status = StatusComplete
		snap.Result = out.Result
	})
}

func (s *Service) update(id string, fn func(*Snapshot)) {
	s.mu.Lock()
	j, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	fn(&j.snap)
	j.snap.UpdatedAt = time.Now().Unix()
	snap := j.snap
	s.mu.Unlock()
	s.persist(snap)
}

func (s *Service) persist(snap Snapshot) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(context.Background(), snap); err != nil {
		logger.Warnf("[task] 持久化任务 %s 失败: %v", snap.ID, err)
	}
}

// Snapshot 查询单个任务。
func (s *Service) Snapshot(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.tasks[id]
	if !ok {
		return Snapshot{}, false
	}
	return j.snap, true
}

// Snapshots 全部任务，按创建时间倒序。
func (s *Service) Snapshots() []Snapshot {
	s.mu.RLock()
	out := make([]Snapshot, 0, len(s.tasks))
	for _, j := range s.tasks {
		out = append(out, j.snap)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt != out[k].CreatedAt {
			return out[i].CreatedAt > out[k].CreatedAt
		}
		return out[i].ID > out[k].ID
	})
	return out
}

// Cancel 取消一个未完成的任务。对已终态任务无效，返回 false。
func (s *Service) Cancel(id string) bool {
	// 状态读取必须与 update 的写入同锁，取到 cancel 后再在锁外执行
	s.mu.RLock()
	j, ok := s.tasks[id]
	var cancel context.CancelFunc
	if ok && j.cancel != nil && j.snap.Status != StatusComplete && j.snap.Status != StatusFailed {
		cancel = j.cancel
	}
	s.mu.RUnlock()
	if cancel == nil {
		return false
	}
	cancel()
	logger.Infof("[task] 已请求取消任务 %s", id)
	return true
}

// Close 取消全部在跑任务并等待收尾。
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
