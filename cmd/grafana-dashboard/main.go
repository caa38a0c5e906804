package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/grafana/grafana-foundation-sdk/go/common"
	"github.com/grafana/grafana-foundation-sdk/go/dashboard"
	"github.com/grafana/grafana-foundation-sdk/go/prometheus"
	"github.com/grafana/grafana-foundation-sdk/go/timeseries"
)

func query(expr, legend string) *prometheus.DataqueryBuilder {
	return prometheus.NewDataqueryBuilder().Expr(expr).LegendFormat(legend)
}

func buildDashboard() *dashboard.DashboardBuilder {
	builder := dashboard.NewDashboardBuilder("vperfetto").
		Uid("vperfetto").
		Tags([]string{"vperfetto", "perfetto", "tracing", "prometheus"}).
		Refresh("30s").
		Time("now-1h", "now").
		Timezone(common.TimeZoneBrowser)

	builder = builder.WithRow(dashboard.NewRowBuilder("Guest time sync"))
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Clock sync ticks").
			WithTarget(query(`sum by (instance) (rate(vperfetto_clock_sync_ticks_total[5m]))`, "{{instance}}")),
	)
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Guest time reports").
			WithTarget(query(`sum by (reporter) (rate(vperfetto_guest_time_reports_total[5m]))`, "{{reporter}}")).
			WithTarget(query(`sum by (reporter) (rate(vperfetto_guest_time_report_errors_total[5m]))`, "{{reporter}} errors")),
	)
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Guest samples received by host").
			WithTarget(query(`sum by (outcome) (rate(vperfetto_guest_samples_received_total[5m]))`, "{{outcome}}")),
	)

	builder = builder.WithRow(dashboard.NewRowBuilder("Host tracing"))
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Tracing enabled").
			WithTarget(query(`max(vperfetto_tracing_enabled)`, "enabled")),
	)
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Packets per trace (p50 / p95)").
			WithTarget(query(`histogram_quantile(0.5, sum by (le) (rate(vperfetto_trace_packets_written_bucket[1h])))`, "p50")).
			WithTarget(query(`histogram_quantile(0.95, sum by (le) (rate(vperfetto_trace_packets_written_bucket[1h])))`, "p95")),
	)
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Trace saves").
			WithTarget(query(`sum by (outcome) (increase(vperfetto_trace_saves_total[1h]))`, "{{outcome}}")),
	)

	builder = builder.WithRow(dashboard.NewRowBuilder("Merges"))
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Merges by time diff mode").
			WithTarget(query(`sum by (mode) (increase(vperfetto_merges_total[1h]))`, "{{mode}}")).
			WithTarget(query(`sum(increase(vperfetto_merge_errors_total[1h]))`, "errors")),
	)
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Merge duration avg").
			WithTarget(query(`sum(rate(vperfetto_merge_duration_seconds_sum[5m])) / sum(rate(vperfetto_merge_duration_seconds_count[5m]))`, "avg")),
	)

	builder = builder.WithRow(dashboard.NewRowBuilder("Notifications"))
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Foreground notification posts").
			WithTarget(query(`sum by (poster) (rate(vperfetto_notify_publishes_total[5m]))`, "{{poster}}")).
			WithTarget(query(`sum by (poster) (rate(vperfetto_notify_errors_total[5m]))`, "{{poster}} errors")),
	)
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Notification post duration avg").
			WithTarget(query(`sum(rate(vperfetto_notify_duration_seconds_sum[5m])) / sum(rate(vperfetto_notify_duration_seconds_count[5m]))`, "avg")),
	)
	return builder
}

func main() {
	dashboardJSON, err := buildDashboard().Build()
	if err != nil {
		panic(err)
	}

	outputPath := os.Getenv("DASHBOARD_OUT")
	if outputPath == "" {
		outputPath = "dashboard.json"
	}

	payload, err := json.MarshalIndent(dashboardJSON, "", "  ")
	if err != nil {
		panic(err)
	}

	if err := os.WriteFile(outputPath, payload, 0o600); err != nil {
		panic(err)
	}

	fmt.Printf("dashboard written to %s\n", outputPath)
}
