package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	qpcfg "quantpilot/internal/config"
	"quantpilot/internal/logger"
	"quantpilot/internal/strategy"
	"quantpilot/internal/task"
	chathttp "quantpilot/internal/transport/http/chat"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 服务与后台清理。
type App struct {
	cfg       *qpcfg.Config
	http      *chathttp.Server
	tasks     *task.Service
	taskStore *task.Store
	artifacts *strategy.ArtifactStore
	retention time.Duration
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *qpcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return NewAppBuilder(cfg).Build()
}

// Run 启动 HTTP 服务与策略工件清理，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	logger.Infof("✓ quantpilot 启动，HTTP 监听 %s", a.http.Addr())

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		a.sweepLoop(ctx)
		return nil
	})

	err := group.Wait()
	a.tasks.Close()
	if a.taskStore != nil {
		_ = a.taskStore.Close()
	}
	return err
}

// sweepLoop 周期清理超过保留期的策略工件。retention<=0 表示永久保留。
func (a *App) sweepLoop(ctx context.Context) {
	if a.retention <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.artifacts.Sweep(a.retention)
			if err != nil {
				logger.Warnf("[app] 策略工件清理失败: %v", err)
				continue
			}
			if removed > 0 {
				logger.Infof("[app] 已清理 %d 个过期策略工件", removed)
			}
		}
	}
}

// Tasks 暴露任务服务（测试/脚本用）。
func (a *App) Tasks() *task.Service {
	if a == nil {
		return nil
	}
	return a.tasks
}
