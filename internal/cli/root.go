// Package cli implements the pacelink command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pacelink/pacelink-app/internal/config"
	"github.com/pacelink/pacelink-app/internal/output"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui  *output.UI
	cfg *config.Config

	verbose bool

	buildVersion = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "pacelink",
	Short: "Pacelink - keep phone and watch agreed on one workout",
	Long: `pacelink keeps two devices consistent about a single in-progress
workout session over an unreliable message channel. Either device can
start, pause, resume or end the session; metrics are arbitrated per
field so each reading comes from the device best placed to measure it.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the entry point called from main.
func Execute(version string) {
	if version != "" {
		buildVersion = version
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Mirror log output to stderr")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.pacelink/config.yaml)")

	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	c, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		os.Exit(1)
	}
	cfg = c

	ui = output.New()
	ui.Verbose = verbose
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pacelink version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("pacelink", buildVersion)
	},
}

// fmtElapsed renders elapsed seconds as m:ss or h:mm:ss.
func fmtElapsed(seconds float64) string {
	total := int(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
