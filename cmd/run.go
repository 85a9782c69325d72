package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nais/hahaha/internal/actions"
	"github.com/nais/hahaha/internal/dispatch"
	"github.com/nais/hahaha/internal/kube"
	"github.com/nais/hahaha/internal/logging"
	"github.com/nais/hahaha/internal/metrics"
	"github.com/nais/hahaha/internal/reconcile"
	"github.com/nais/hahaha/internal/report"
	"github.com/nais/hahaha/internal/watch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	flagNamespace       string
	flagLabelSelector   string
	flagMetricsPort     int
	flagDispatchTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sidecar shutdown controller",
	Long: `Run hahaha as a controller. It runs two tasks until one of them fails or
the process receives SIGINT/SIGTERM:
  1. Reconcile loop: list + watch labelled pods and shut down their sidecars
  2. Metrics server: Prometheus exposition on --metrics-port`,
	Args: cobra.NoArgs,
	RunE: runController,
}

func init() {
	runCmd.Flags().StringVar(&flagNamespace, "namespace", "", "Only watch this namespace (default: all, env: HAHAHA_NAMESPACE)")
	runCmd.Flags().StringVar(&flagLabelSelector, "label-selector", "", "Pods to watch (default: nais.io/ginuudan=enabled, env: HAHAHA_LABEL_SELECTOR)")
	runCmd.Flags().IntVar(&flagMetricsPort, "metrics-port", 0, "Metrics listen port (default: 8999, env: HAHAHA_METRICS_PORT)")
	runCmd.Flags().DurationVar(&flagDispatchTimeout, "dispatch-timeout", 0, "Deadline for one shutdown attempt (default: 30s, env: HAHAHA_DISPATCH_TIMEOUT)")
	rootCmd.AddCommand(runCmd)
}

func runController(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	log := slog.Default().With("component", "main")

	restCfg, err := kube.RESTConfig(cfg.Kubeconfig)
	if err != nil {
		return fmt.Errorf("kubernetes config: %w", err)
	}
	client, err := kube.NewClient(restCfg)
	if err != nil {
		return err
	}

	hostname, err := os.Hostname()
	if err != nil {
		log.Warn("could not resolve hostname, using controller name as reporting instance", "error", err)
		hostname = controllerName
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	rec := reconcile.New(
		actions.Default(),
		dispatch.New(client, client, cfg.DispatchTimeout),
		report.NewReporter(kube.NewEventPublisher(client.Clientset(), controllerName, hostname), m),
	)
	src := watch.New(client.Clientset(), cfg.Namespace, cfg.LabelSelector)

	ln, err := net.Listen("tcp", cfg.MetricsAddr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.MetricsAddr(), err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("hahaha starting",
		"version", rootCmd.Version,
		"namespace", cfg.Namespace,
		"selector", cfg.LabelSelector,
		"instance", hostname,
	)
	return serve(ctx, rec, src, metrics.NewServer(cfg.MetricsAddr(), reg), ln)
}

// serve runs the reconcile loop and the metrics server until either fails or
// ctx ends. The metrics server is stopped as soon as the loop returns.
func serve(ctx context.Context, rec *reconcile.Reconciler, src reconcile.Source, srv *metrics.Server, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		if err := rec.Run(gctx, src); err != nil {
			return fmt.Errorf("watch pods: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})
	return g.Wait()
}
