package backtest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// Reporter 为成功的回测生成资金曲线 HTML 报告。
type Reporter struct {
	dir string
}

func NewReporter(dir string) (*Reporter, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("report 目录不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Reporter{dir: dir}, nil
}

// Render 输出单次回测的资金曲线图，返回报告路径。
func (r *Reporter) Render(runID, symbol string, out *runOutput, result *Result) (string, error) {
	if out == nil || len(out.equity) == 0 {
		return "", nil
	}
	line := charts.NewLine()
	sharpe := "n/a"
	if result.Sharpe != nil {
		sharpe = fmt.Sprintf("%.2f", *result.Sharpe)
	}
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("%s 资金曲线", symbol),
			Subtitle: fmt.Sprintf("收益 %.2f%%  最大回撤 %.2f%%  Sharpe %s  成交 %d 笔",
				(result.EndValue/result.StartValue-1)*100, result.MaxDrawdown, sharpe, result.ClosedTrades),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
	)
	xAxis := make([]string, len(out.equity))
	data := make([]opts.LineData, len(out.equity))
	for i, eq := range out.equity {
		xAxis[i] = fmt.Sprintf("%d", i)
		data[i] = opts.LineData{Value: eq}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", data)

	path := filepath.Join(r.dir, fmt.Sprintf("run_%s_%d.html", runID, time.Now().Unix()))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := line.Render(f); err != nil {
		return "", err
	}
	return path, nil
}
