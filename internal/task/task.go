package task

import (
	"quantpilot/internal/backtest"
)

// Status 对外暴露的任务状态。
// 修复循环内部的“尝试中/修复中”只体现在日志与 Attempts 里，不单独成态。
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Attempt 单次回测尝试的失败记录。
type Attempt struct {
	Seq     int                  `json:"seq"`
	Kind    backtest.FailureKind `json:"kind"`
	Message string               `json:"message"`
}

// Snapshot 任务的对外快照，轮询接口直接返回它。
type Snapshot struct {
	ID         string           `json:"task_id"`
	Status     Status           `json:"status"`
	Symbol     string           `json:"symbol"`
	UserIntent string           `json:"user_intent,omitempty"`
	Attempts   int              `json:"attempts"`
	Failures   []Attempt        `json:"failures,omitempty"`
	Result     *backtest.Result `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}
