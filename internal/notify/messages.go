package notify

import "fmt"

// TestMessage 为连接测试消息。
const TestMessage = "🚀 perp-panel 通知连接测试"

// EntryComplete 返回开仓计划完成通知。
func EntryComplete(symbol string, long bool, succeeded, total int) string {
	if long {
		return fmt.Sprintf("🟢 [%s] 多单开仓完成 (%d/%d)", symbol, succeeded, total)
	}
	return fmt.Sprintf("🔴 [%s] 空单开仓完成 (%d/%d)", symbol, succeeded, total)
}

// ExitComplete 返回平仓计划完成通知。
func ExitComplete(symbol string, long bool, succeeded, total int) string {
	side := "空单"
	if long {
		side = "多单"
	}
	return fmt.Sprintf("📤 [%s] %s平仓完成 (%d/%d)", symbol, side, succeeded, total)
}
