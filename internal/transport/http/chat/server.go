package chathttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"quantpilot/internal/backtest"
	"quantpilot/internal/logger"
	"quantpilot/internal/oracle"
	"quantpilot/internal/strategy"
	"quantpilot/internal/task"
)

// Server 提供对话入口与任务查询 API。
// /api/chat 负责一轮“模型决定是否回测”的工具调用流程；
// 回测本身永远异步执行，接口只返回任务号。
type Server struct {
	addr   string
	llm    *oracle.Service
	tasks  *task.Service
	router *gin.Engine
}

// Config 描述 HTTP 服务依赖。
type Config struct {
	Addr   string
	Oracle *oracle.Service
	Tasks  *task.Service
}

const backtestToolName = "run_strategy_backtest"

func backtestTool() oracle.Tool {
	return oracle.Tool{
		Name:        backtestToolName,
		Description: "Generate a trading strategy from the user's natural-language description, then run a historical backtest. Returns a task id; the backtest runs asynchronously.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_prompt": map[string]any{
					"type":        "string",
					"description": "The user's complete natural-language strategy description, including symbol and date range if given.",
				},
			},
			"required": []string{"user_prompt"},
		},
	}
}

// NewServer 构建 HTTP server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Oracle == nil {
		return nil, errors.New("oracle service 不能为空")
	}
	if cfg.Tasks == nil {
		return nil, errors.New("task service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{addr: cfg.Addr, llm: cfg.Oracle, tasks: cfg.Tasks, router: router}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := s.router.Group("/api")
	api.POST("/chat", s.handleChat)
	api.GET("/tasks", s.handleTaskList)
	api.GET("/tasks/:id", s.handleTaskStatus)
	api.POST("/tasks/:id/cancel", s.handleTaskCancel)
}

// Handler 暴露底层 handler，测试用。
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleChat(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	res, err := s.llm.Chat(ctx, req.Message, []oracle.Tool{backtestTool()})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if len(res.ToolCalls) == 0 {
		// 纯聊天：模型没有请求回测
		c.JSON(http.StatusOK, gin.H{"reply": res.Content})
		return
	}

	results := make([]submitOutcome, 0, len(res.ToolCalls))
	toolMessages := make([]any, 0, len(res.ToolCalls))
	for _, call := range res.ToolCalls {
		tr := s.executeToolCall(ctx, call, req.Message)
		results = append(results, tr)
		content, _ := json.Marshal(tr)
		toolMessages = append(toolMessages, map[string]any{
			"role":         "tool",
			"tool_call_id": call.ID,
			"content":      string(content),
		})
	}

	// 把工具结果带回模型，换一句面向用户的答复
	msgs := []any{
		map[string]any{"role": "system", "content": s.llm.Templates().ChatSystem},
		map[string]any{"role": "user", "content": req.Message},
		res.AssistantRaw,
	}
	msgs = append(msgs, toolMessages...)
	reply, err := s.llm.FollowUp(ctx, msgs)
	if err != nil {
		// 任务已经提交了，答复失败时降级为固定文案
		logger.Warnf("[http] 工具结果回传失败: %v", err)
		reply = "回测任务已提交，请稍后通过任务接口查询结果。"
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply, "tool_result": results})
}

type submitOutcome struct {
	TaskID string `json:"task_id,omitempty"`
	Symbol string `json:"symbol,omitempty"`
	Error  string `json:"error,omitempty"`
}

// executeToolCall 生成策略并提交回测任务。单个工具调用失败不拖垮整轮对话。
func (s *Server) executeToolCall(ctx context.Context, call oracle.ToolCall, fallbackPrompt string) submitOutcome {
	if call.Name != backtestToolName {
		return submitOutcome{Error: fmt.Sprintf("未知工具 %q", call.Name)}
	}
	userPrompt := strings.TrimSpace(gjson.Get(call.Arguments, "user_prompt").String())
	if userPrompt == "" {
		userPrompt = fallbackPrompt
	}

	gen, err := s.llm.GenerateStrategy(ctx, userPrompt)
	if err != nil {
		logger.Warnf("[http] 策略生成失败: %v", err)
		return submitOutcome{Error: err.Error()}
	}
	startTS, endTS, err := parseDateRange(gen.StartDate, gen.EndDate)
	if err != nil {
		return submitOutcome{Symbol: gen.Symbol, Error: err.Error()}
	}
	id, err := s.tasks.Submit(strategy.NewSource(gen.Code), backtest.Request{
		Symbol:     gen.Symbol,
		StartTS:    startTS,
		EndTS:      endTS,
		UserIntent: userPrompt,
	})
	if err != nil {
		return submitOutcome{Symbol: gen.Symbol, Error: err.Error()}
	}
	return submitOutcome{TaskID: id, Symbol: gen.Symbol}
}

// parseDateRange 把 YYYY-MM-DD 转成毫秒时间戳；结束日取当天末尾。
// end 为空表示回测到最新行情，返回 endTS=0。
func parseDateRange(start, end string) (int64, int64, error) {
	const layout = "2006-01-02"
	st, err := time.ParseInLocation(layout, strings.TrimSpace(start), time.UTC)
	if err != nil {
		return 0, 0, fmt.Errorf("start_date 无法解析: %q", start)
	}
	if strings.TrimSpace(end) == "" {
		return st.UnixMilli(), 0, nil
	}
	et, err := time.ParseInLocation(layout, strings.TrimSpace(end), time.UTC)
	if err != nil {
		return 0, 0, fmt.Errorf("end_date 无法解析: %q", end)
	}
	endTS := et.Add(24*time.Hour - time.Millisecond)
	if !endTS.After(st) {
		return 0, 0, fmt.Errorf("日期范围无效: %s ~ %s", start, end)
	}
	return st.UnixMilli(), endTS.UnixMilli(), nil
}

func (s *Server) handleTaskStatus(c *gin.Context) {
	id := c.Param("id")
	snap, ok := s.tasks.Snapshot(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleTaskList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": s.tasks.Snapshots()})
}

func (s *Server) handleTaskCancel(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.tasks.Snapshot(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在"})
		return
	}
	if !s.tasks.Cancel(id) {
		c.JSON(http.StatusConflict, gin.H{"error": "任务已结束，无法取消"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "canceling"})
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}
