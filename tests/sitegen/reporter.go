package main

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), units[exp])
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	s := fmt.Sprintf("%d", n)
	result := ""
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result += ","
		}
		result += string(c)
	}
	return result
}

func formatPercent(part, total int64) string {
	if total == 0 {
		return "0.0"
	}
	return fmt.Sprintf("%.1f", float64(part)*100.0/float64(total))
}

func formatGap(ms int64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.2fs", float64(ms)/1000.0)
	}
	return fmt.Sprintf("%dms", ms)
}

func drawTableRow(columns []string, widths []int, border string) string {
	var row strings.Builder
	row.WriteString(border)
	for i, col := range columns {
		colLen := len(col)
		width := widths[i]

		if colLen > width {
			row.WriteString(col[:width])
		} else {
			padding := width - colLen
			leftPad := padding / 2
			rightPad := padding - leftPad
			row.WriteString(strings.Repeat(" ", leftPad))
			row.WriteString(col)
			row.WriteString(strings.Repeat(" ", rightPad))
		}

		if i < len(columns)-1 {
			row.WriteString("│")
		}
	}
	row.WriteString(border)
	return row.String()
}

func drawTableDivider(widths []int, left, mid, right, fill string) string {
	var divider strings.Builder
	divider.WriteString(left)
	for i, width := range widths {
		divider.WriteString(strings.Repeat(fill, width))
		if i < len(widths)-1 {
			divider.WriteString(mid)
		}
	}
	divider.WriteString(right)
	return divider.String()
}

func realTimeReporter(ctx context.Context, stats *GlobalStats) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats.UpdateRPS()
			printRealTimeStats(stats)
		}
	}
}

func printRealTimeStats(stats *GlobalStats) {
	elapsed := time.Since(stats.startTime)
	total := atomic.LoadInt64(&stats.TotalRequests)
	listPages := atomic.LoadInt64(&stats.ListPages)
	detailPages := atomic.LoadInt64(&stats.DetailPages)
	imageHits := atomic.LoadInt64(&stats.ImageHits)
	notModified := atomic.LoadInt64(&stats.NotModified)
	notFound := atomic.LoadInt64(&stats.NotFound)
	injected := atomic.LoadInt64(&stats.Injected503)
	totalBytes := atomic.LoadInt64(&stats.TotalBytes)
	churned := atomic.LoadInt64(&stats.ChurnEvents)

	fmt.Print("\033[H\033[J")

	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Synthetic Listing Site - %s elapsed | RPS: %.1f | In flight: %d\n",
		formatDuration(elapsed), stats.GetCurrentRPS(), stats.GetInFlight())
	fmt.Println(strings.Repeat("=", 80))

	if total > 0 {
		fmt.Println("\nREQUESTS SERVED")
		widths := []int{14, 14, 14, 12, 10, 10}
		fmt.Println(drawTableDivider(widths, "┌", "┬", "┐", "─"))
		fmt.Println(drawTableRow([]string{"List", "Detail", "Image", "304", "404", "503"}, widths, "│"))
		fmt.Println(drawTableDivider(widths, "├", "┼", "┤", "─"))
		fmt.Println(drawTableRow([]string{
			fmt.Sprintf("%s (%s%%)", formatNumber(listPages), formatPercent(listPages, total)),
			fmt.Sprintf("%s (%s%%)", formatNumber(detailPages), formatPercent(detailPages, total)),
			fmt.Sprintf("%s (%s%%)", formatNumber(imageHits), formatPercent(imageHits, total)),
			fmt.Sprintf("%s (%s%%)", formatNumber(notModified), formatPercent(notModified, total)),
			formatNumber(notFound),
			formatNumber(injected),
		}, widths, "│"))
		fmt.Println(drawTableDivider(widths, "└", "┴", "┘", "─"))
	}

	printGapTable(stats)

	if total > 0 {
		fmt.Println("\nBANDWIDTH")
		fmt.Printf("  Total served: %s\n", formatBytes(totalBytes))

		if churned > 0 {
			fmt.Printf("\nCHURN\n  Listings changed: %s\n", formatNumber(churned))
		}

		if notFound > 0 {
			fmt.Println("\nWARNINGS")
			fmt.Printf("  404s: %s requests for URLs the site never linked\n", formatNumber(notFound))
		}
	}

	fmt.Println(strings.Repeat("=", 80))
}

// printGapTable shows percentiles of the time between consecutive
// requests. A crawler honoring its budget produces a tight band around
// period divided by request count.
func printGapTable(stats *GlobalStats) {
	stats.histogramMu.Lock()
	hasGaps := stats.RequestGaps.TotalCount() > 1
	var gapMin, gapP50, gapP95, gapP99, gapMax int64
	if hasGaps {
		gapMin = stats.RequestGaps.Min()
		gapP50 = stats.RequestGaps.ValueAtQuantile(50)
		gapP95 = stats.RequestGaps.ValueAtQuantile(95)
		gapP99 = stats.RequestGaps.ValueAtQuantile(99)
		gapMax = stats.RequestGaps.Max()
	}
	stats.histogramMu.Unlock()

	if !hasGaps {
		return
	}

	fmt.Println("\nGAPS BETWEEN REQUESTS")
	widths := []int{12, 12, 12, 12, 12}
	fmt.Println(drawTableDivider(widths, "┌", "┬", "┐", "─"))
	fmt.Println(drawTableRow([]string{"Min", "P50", "P95", "P99", "Max"}, widths, "│"))
	fmt.Println(drawTableDivider(widths, "├", "┼", "┤", "─"))
	fmt.Println(drawTableRow([]string{
		formatGap(gapMin),
		formatGap(gapP50),
		formatGap(gapP95),
		formatGap(gapP99),
		formatGap(gapMax),
	}, widths, "│"))
	fmt.Println(drawTableDivider(widths, "└", "┴", "┘", "─"))
}

func printFinalReport(stats *GlobalStats, duration time.Duration) {
	total := atomic.LoadInt64(&stats.TotalRequests)
	listPages := atomic.LoadInt64(&stats.ListPages)
	detailPages := atomic.LoadInt64(&stats.DetailPages)
	imageHits := atomic.LoadInt64(&stats.ImageHits)
	notModified := atomic.LoadInt64(&stats.NotModified)
	notFound := atomic.LoadInt64(&stats.NotFound)
	injected := atomic.LoadInt64(&stats.Injected503)
	otherPages := atomic.LoadInt64(&stats.OtherPages)
	totalBytes := atomic.LoadInt64(&stats.TotalBytes)
	churned := atomic.LoadInt64(&stats.ChurnEvents)

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("                      SYNTHETIC SITE FINAL REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Serving Time:   %s\n", formatDuration(duration))
	fmt.Printf("Started:        %s\n", stats.startTime.Format("2006-01-02 15:04:05"))
	fmt.Printf("Ended:          %s\n", stats.startTime.Add(duration).Format("2006-01-02 15:04:05"))
	fmt.Printf("Total Requests: %s\n", formatNumber(total))
	if total == 0 {
		fmt.Println("\nNo requests arrived. Nothing to report.")
		fmt.Println(strings.Repeat("=", 80))
		return
	}

	fmt.Println("\nREQUEST DISTRIBUTION")
	widths := []int{24, 10, 14}
	fmt.Println(drawTableDivider(widths, "┌", "┬", "┐", "─"))
	fmt.Println(drawTableRow([]string{"Category", "Count", "Percentage"}, widths, "│"))
	fmt.Println(drawTableDivider(widths, "├", "┼", "┤", "─"))
	fmt.Println(drawTableRow([]string{"List pages", formatNumber(listPages), formatPercent(listPages, total) + "%"}, widths, "│"))
	fmt.Println(drawTableRow([]string{"Detail pages", formatNumber(detailPages), formatPercent(detailPages, total) + "%"}, widths, "│"))
	fmt.Println(drawTableRow([]string{"Images", formatNumber(imageHits), formatPercent(imageHits, total) + "%"}, widths, "│"))
	fmt.Println(drawTableRow([]string{"304 Not Modified", formatNumber(notModified), formatPercent(notModified, total) + "%"}, widths, "│"))
	fmt.Println(drawTableRow([]string{"404 Not Found", formatNumber(notFound), formatPercent(notFound, total) + "%"}, widths, "│"))
	fmt.Println(drawTableRow([]string{"503 Injected", formatNumber(injected), formatPercent(injected, total) + "%"}, widths, "│"))
	fmt.Println(drawTableRow([]string{"Other", formatNumber(otherPages), formatPercent(otherPages, total) + "%"}, widths, "│"))
	fmt.Println(drawTableDivider(widths, "└", "┴", "┘", "─"))

	printGapTable(stats)

	fmt.Println("\nTHROUGHPUT")
	avgRPS := float64(total) / duration.Seconds()
	avgBW := float64(totalBytes) / duration.Seconds()
	widths = []int{22, 26}
	fmt.Println(drawTableDivider(widths, "┌", "┬", "┐", "─"))
	fmt.Println(drawTableRow([]string{"Metric", "Value"}, widths, "│"))
	fmt.Println(drawTableDivider(widths, "├", "┼", "┤", "─"))
	fmt.Println(drawTableRow([]string{"Average RPS", fmt.Sprintf("%.2f requests/sec", avgRPS)}, widths, "│"))
	fmt.Println(drawTableRow([]string{"Total Bandwidth", formatBytes(totalBytes)}, widths, "│"))
	fmt.Println(drawTableRow([]string{"Average Bandwidth", fmt.Sprintf("%.1f KB/sec", avgBW/1024)}, widths, "│"))
	fmt.Println(drawTableDivider(widths, "└", "┴", "┘", "─"))

	if churned > 0 {
		fmt.Printf("\nCHURN\nListings changed during the run: %s\n", formatNumber(churned))
	}

	agents := stats.TopAgents(5)
	if len(agents) > 0 {
		fmt.Println("\nUSER AGENTS")
		for _, a := range agents {
			agent := a.agent
			if len(agent) > 60 {
				agent = agent[:57] + "..."
			}
			fmt.Printf("  %8s  %s\n", formatNumber(a.count), agent)
		}
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("REPORT COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
}
