package cmd

import (
	"fmt"
	"os"

	"github.com/nais/hahaha/internal/install"
	"github.com/spf13/cobra"
)

var (
	flagInstallNamespace string
	flagInstallImage     string
	flagInstallOutput    string
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Print the Kubernetes manifests that run hahaha in a cluster",
	Long: `Render the objects hahaha needs as a YAML stream:
  1. ServiceAccount, ClusterRole and ClusterRoleBinding
  2. ConfigMap with the effective configuration
  3. Single-replica Deployment running 'hahaha run'

Apply with: hahaha install | kubectl apply -f -`,
	Args: cobra.NoArgs,
	RunE: runInstall,
}

func init() {
	installCmd.Flags().StringVar(&flagInstallNamespace, "install-namespace", install.DefaultNamespace, "Namespace the controller runs in")
	installCmd.Flags().StringVar(&flagInstallImage, "image", install.DefaultImage, "Controller image")
	installCmd.Flags().StringVarP(&flagInstallOutput, "output", "o", "", "Write to file instead of stdout")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := install.Options{
		Namespace: flagInstallNamespace,
		Image:     flagInstallImage,
		Config:    cfg,
	}

	if flagInstallOutput == "" {
		return install.Render(cmd.OutOrStdout(), opts)
	}

	f, err := os.Create(flagInstallOutput)
	if err != nil {
		return fmt.Errorf("create %s: %w", flagInstallOutput, err)
	}
	if err := install.Render(f, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
