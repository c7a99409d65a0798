package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"perp-panel/internal/execution"
	"perp-panel/internal/position"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#10B981")).
		Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// Balance 渲染余额行。
func Balance(b position.Balance) string {
	line := fmt.Sprintf("💰 %s 余额: %.2f", b.Currency, b.Amount)
	if b.Fallback {
		return line + " " + warnStyle.Render("(查询失败，默认值)")
	}
	return line
}

// Positions 渲染持仓表。
func Positions(positions []position.Position) string {
	if len(positions) == 0 {
		return mutedStyle.Render("暂无持仓")
	}
	t := newTable("合约", "方向", "数量", "均价", "标记价", "未实现盈亏", "盈亏%")
	for _, p := range positions {
		side := okStyle.Render("多")
		if p.Side == string(execution.DirectionShort) {
			side = failStyle.Render("空")
		}
		t.Row(
			p.Symbol,
			side,
			fmt.Sprintf("%.4f", p.Size),
			fmt.Sprintf("%.4f", p.EntryPrice),
			fmt.Sprintf("%.4f", p.MarkPrice),
			fmt.Sprintf("%.2f", p.UnrealizedPnL),
			fmt.Sprintf("%.2f%%", p.PnLPercent),
		)
	}
	return t.String()
}

// Orders 渲染未成交委托表。
func Orders(orders []position.OpenOrder) string {
	if len(orders) == 0 {
		return mutedStyle.Render("暂无未成交委托")
	}
	t := newTable("订单ID", "合约", "方向", "类型", "数量", "价格", "状态")
	for _, o := range orders {
		t.Row(
			shortID(o.OrderID),
			o.Symbol,
			o.Side,
			o.Type,
			fmt.Sprintf("%.4f", o.Quantity),
			fmt.Sprintf("%.4f", o.Price),
			o.Status,
		)
	}
	return t.String()
}

// Snapshot 渲染完整面板。
func Snapshot(s position.Snapshot, leverage float64) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("📊 账户概览"))
	b.WriteString("\n")
	b.WriteString(Balance(s.Balance))
	fmt.Fprintf(&b, "\n持仓 %d | 委托 %d | 未实现盈亏 %.2f | 杠杆 %gx\n",
		len(s.Positions), len(s.Orders), s.TotalUnrealizedPnL, leverage)
	for _, w := range s.Warnings {
		b.WriteString(warnStyle.Render("⚠ " + w))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(Positions(s.Positions))
	b.WriteString("\n\n")
	b.WriteString(Orders(s.Orders))
	if !s.RefreshedAt.IsZero() {
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("更新时间 " + s.RefreshedAt.Format("2006-01-02 15:04:05")))
	}
	return b.String()
}

// Plan 渲染计划执行结果。
func Plan(r execution.PlanResult) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("[%s] %s %s", r.Symbol, r.Direction, r.Action)))
	b.WriteString("\n")

	t := newTable("#", "类型", "方向", "比例%", "价格", "结果")
	for _, o := range r.Outcomes {
		price := "-"
		if o.RequestedPrice.IsPositive() {
			price = o.RequestedPrice.String()
		}
		pct := "-"
		if o.AllocationPct.IsPositive() {
			pct = o.AllocationPct.String()
		}
		t.Row(
			fmt.Sprintf("%d", o.Index),
			string(o.Kind),
			string(o.Side),
			pct,
			price,
			outcomeText(o),
		)
	}
	b.WriteString(t.String())
	fmt.Fprintf(&b, "\n成功 %d/%d，已提交委托 %d", r.Succeeded(), len(r.Outcomes), r.Orders())
	return b.String()
}

// Cancel 渲染全量撤单结果。
func Cancel(report position.CancelReport) string {
	if len(report.Cancelled) == 0 && len(report.Failed) == 0 {
		return mutedStyle.Render("没有需要撤销的委托")
	}
	var b strings.Builder
	if len(report.Cancelled) > 0 {
		b.WriteString(okStyle.Render("✅ 已撤销: " + strings.Join(report.Cancelled, ", ")))
	}
	if len(report.Failed) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(failStyle.Render("❌ 撤销失败: " + strings.Join(report.Failed, ", ")))
	}
	return b.String()
}

// Result 渲染单行成功/失败信息。
func Result(ok bool, message string) string {
	if ok {
		return okStyle.Render("✅ " + message)
	}
	return failStyle.Render("❌ " + message)
}

func outcomeText(o execution.TierOutcome) string {
	switch {
	case o.Skipped:
		return mutedStyle.Render(o.Message)
	case o.Success:
		return okStyle.Render(o.Message)
	default:
		return failStyle.Render(o.Message)
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
