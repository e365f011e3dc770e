// Command companion runs group-chat companion agents and inspects their state.
package main

import (
	"fmt"
	"os"

	"github.com/keshon/companion/internal/config"
	"github.com/keshon/companion/pkg/logx"
	"github.com/spf13/cobra"
)

var (
	verbose  bool
	personas string
)

var rootCmd = &cobra.Command{
	Use:   "companion",
	Short: "Group-chat companion agents that decide when to speak",
	Long: `companion runs one Discord bot per configured persona. Each bot keeps
a decaying emotion, flow and volition state per channel and speaks when it
feels like it, on a schedule, or when addressed.

Settings are read from the environment and an optional .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		level := os.Getenv("LOG_LEVEL")
		if verbose {
			level = "debug"
		}
		logx.Init(logx.Options{Production: os.Getenv("PRODUCTION") == "true", Level: level, Output: cmd.ErrOrStderr()})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&personas, "personas", "", "Persona file (default: $PERSONAS_PATH)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(classifyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and the persona file.
func loadConfig() (*config.Config, *config.Personas, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if personas != "" {
		cfg.PersonasPath = personas
	}
	ps, err := config.LoadPersonas(cfg.PersonasPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, ps, nil
}
