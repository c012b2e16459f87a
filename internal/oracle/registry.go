package oracle

import (
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"quantpilot/internal/logger"
)

// Registry 管理提示词模板：无配置文件时用内置默认值，
// 配置了 prompt_file 则从 YAML 加载并热更新。
type Registry struct {
	mu        sync.RWMutex
	templates Templates
}

// NewRegistry path 为空时仅使用内置模板。
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{templates: defaultTemplates()}
	path = strings.TrimSpace(path)
	if path == "" {
		return r, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := r.reload(v); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := r.reload(v); err != nil {
			logger.Warnf("[oracle] 提示词热更新失败: %v", err)
			return
		}
		logger.Infof("[oracle] 提示词已热更新: %s", e.Name)
	})
	v.WatchConfig()
	return r, nil
}

func (r *Registry) reload(v *viper.Viper) error {
	// 未配置的键保留内置默认值
	loaded := defaultTemplates()
	if err := v.Unmarshal(&loaded); err != nil {
		return err
	}
	r.mu.Lock()
	r.templates = loaded
	r.mu.Unlock()
	return nil
}

// Current 返回当前模板快照。
func (r *Registry) Current() Templates {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.templates
}
