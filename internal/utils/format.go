// Package utils 提供日志与Web层共用的格式化工具函数
package utils

import (
	"fmt"
	"time"
)

// FormatResponseTime 友好格式化一次尝试的耗时显示
func FormatResponseTime(duration time.Duration) string {
	if duration == 0 {
		return "0ms"
	}

	ms := float64(duration.Nanoseconds()) / 1e6
	switch {
	case ms < 1:
		us := float64(duration.Nanoseconds()) / 1e3
		if us < 1 {
			return "< 1μs"
		}
		return fmt.Sprintf("%.0fμs", us)
	case ms < 1000:
		return fmt.Sprintf("%.0fms", ms)
	case ms < 60000:
		seconds := ms / 1000
		if seconds < 10 {
			return fmt.Sprintf("%.1fs", seconds)
		}
		return fmt.Sprintf("%.0fs", seconds)
	default:
		minutes := int(ms / 60000)
		seconds := (ms - float64(minutes*60000)) / 1000
		return fmt.Sprintf("%dm%.0fs", minutes, seconds)
	}
}

// FormatUptime 格式化运行时长显示（Web状态页使用）
func FormatUptime(duration time.Duration) string {
	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	}
	if duration < time.Hour {
		return fmt.Sprintf("%dm%ds", int(duration.Minutes()), int(duration.Seconds())%60)
	}
	hours := int(duration.Hours())
	if hours < 24 {
		return fmt.Sprintf("%dh%dm", hours, int(duration.Minutes())%60)
	}
	return fmt.Sprintf("%dd%dh", hours/24, hours%24)
}

// FormatPercentage 格式化百分比显示
func FormatPercentage(value, total int64) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(value)/float64(total)*100)
}
