package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/cartouche/internal/logger"
	"github.com/cartouche/internal/policy"
	"github.com/cartouche/internal/probe"
	"github.com/cartouche/internal/tui"
	"github.com/cartouche/pkg/gemini"
)

var watchNoMetrics bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Probe the configured capsules and export metrics",
	Long: `Request every capsule listed under watch.capsules on an interval and
serve Prometheus metrics until interrupted.

The trust prompt is never shown; a prompt policy rejects unknown
certificates instead.

Example:
  cartouche watch --config cartouche.yaml`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchNoMetrics, "no-metrics", false, "Do not serve metrics")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.cfg.Watch.Validate(); err != nil {
		return fmt.Errorf("invalid watch configuration: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := probe.NewMetrics(reg)

	delegate, err := a.delegate(cmd.Context(), a.cfg.Trust.Policy, false)
	if err != nil {
		return err
	}
	delegate = policy.Observe(delegate, func(_ string, issue gemini.VerificationIssue, d gemini.TrustDecision) {
		metrics.RecordTrustDecision(issue.Kind.String(), d.String())
	})

	checker := probe.NewChecker(a.cfg.Watch, a.client(delegate), metrics, probe.WithLogger(a.logger))

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s watching %d capsules every %s\n", tui.MiniLogo(), len(a.cfg.Watch.Capsules), a.cfg.Watch.Interval)

	var server *probe.Server
	serveErr := make(chan error, 1)
	if a.cfg.Metrics.Enabled && !watchNoMetrics {
		server = probe.NewServer(a.cfg.Metrics, reg, checker.Ready, a.logger)
		fmt.Fprintln(out, tui.DimStyle.Render(fmt.Sprintf("  metrics on %s%s", a.cfg.Metrics.Address, a.cfg.Metrics.Path)))
		go func() { serveErr <- server.Start() }()
	}

	checker.Start(cmd.Context())

	select {
	case <-cmd.Context().Done():
	case err = <-serveErr:
		if err != nil {
			err = fmt.Errorf("metrics server: %w", err)
		}
	}

	fmt.Fprintln(out, tui.DimStyle.Render("\nshutting down..."))
	checker.Stop()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if stopErr := server.Stop(shutdownCtx); stopErr != nil {
			a.logger.Warn("metrics server shutdown", logger.Error(stopErr))
		}
	}

	printResults(out, checker.Results(), checker.Summaries())
	return err
}

func printResults(w io.Writer, results []probe.Result, summaries []probe.Summary) {
	latency := make(map[string]probe.Summary, len(summaries))
	for _, s := range summaries {
		latency[s.Capsule] = s
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, tui.TitleStyle.Render(" capsules "))
	fmt.Fprintln(w, tui.Divider(50))
	for _, r := range results {
		mark := tui.SuccessStyle.Render(tui.CheckMark)
		if !r.Up() {
			mark = tui.ErrorStyle.Render(tui.CrossMark)
		}
		s := latency[r.Capsule]
		fmt.Fprintf(w, "%s %s %s\n", mark, tui.LabelStyle.Render(r.Capsule),
			tui.DimStyle.Render(fmt.Sprintf("%s  p50 %s  p99 %s  (%d probes)",
				r.Category, s.P50, s.P99, s.Count)))
	}
	fmt.Fprintln(w)
}
