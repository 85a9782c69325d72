package cmd

import (
	"fmt"
	"os"

	"github.com/nais/hahaha/internal/config"
	"github.com/spf13/cobra"
)

const controllerName = "hahaha"

var (
	// Flags
	flagConfig     string
	flagLogLevel   string
	flagLogFormat  string
	flagKubeconfig string
)

var rootCmd = &cobra.Command{
	Use:   "hahaha",
	Short: "Shuts down sidecars of finished Kubernetes jobs",
	Long: `hahaha watches pods that opt in with a label selector. When a pod's main
container has exited but known sidecars (istio-proxy, cloudsql-proxy, ...) are
still running, it sends each one the shutdown signal it understands and records
the outcome as a Kubernetes event and a Prometheus counter.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default: "+config.DefaultConfigFile+")")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level: debug, info, warn, error (env: HAHAHA_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format: text, json (env: HAHAHA_LOG_FORMAT)")
	rootCmd.PersistentFlags().StringVar(&flagKubeconfig, "kubeconfig", "", "Path to kubeconfig; in-cluster config is used when empty (env: KUBECONFIG)")
}

// Execute runs the root command.
func Execute(version string) {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("hahaha %s\n", version))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges the config file and environment with flags the user set
// explicitly, then validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	if changed(cmd, "log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if changed(cmd, "log-format") {
		cfg.LogFormat = flagLogFormat
	}
	if changed(cmd, "kubeconfig") {
		cfg.Kubeconfig = flagKubeconfig
	}
	if changed(cmd, "namespace") {
		cfg.Namespace = flagNamespace
	}
	if changed(cmd, "label-selector") {
		cfg.LabelSelector = flagLabelSelector
	}
	if changed(cmd, "metrics-port") {
		cfg.MetricsPort = flagMetricsPort
	}
	if changed(cmd, "dispatch-timeout") {
		cfg.DispatchTimeout = flagDispatchTimeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func changed(cmd *cobra.Command, name string) bool {
	f := cmd.Flag(name)
	return f != nil && f.Changed
}
