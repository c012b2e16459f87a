package strategy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"quantpilot/internal/logger"
)

// ArtifactStore 以追加方式保存每次尝试的策略文本。
// 文件名带随机唯一 ID，并发写入互不可见，无需加锁。
type ArtifactStore struct {
	dir string
}

func NewArtifactStore(dir string) (*ArtifactStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("strategies 目录不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &ArtifactStore{dir: dir}, nil
}

// Save 持久化策略文本，返回物化单元 ID 与文件路径。
func (s *ArtifactStore) Save(src Source) (string, string, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	path := filepath.Join(s.dir, fmt.Sprintf("strategy_%s.json", id))
	if err := os.WriteFile(path, []byte(src.Text), 0o644); err != nil {
		return "", "", fmt.Errorf("写入策略文件失败: %w", err)
	}
	return id, path, nil
}

// Sweep 删除超过 maxAge 的旧产物；maxAge<=0 表示无限保留。
func (s *ArtifactStore) Sweep(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasPrefix(ent.Name(), "strategy_") {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, ent.Name())); err != nil {
				logger.Warnf("[strategy] 清理旧产物失败 %s: %v", ent.Name(), err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		logger.Infof("[strategy] 清理过期策略产物 %d 个", removed)
	}
	return removed, nil
}
