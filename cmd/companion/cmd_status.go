package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/keshon/companion/internal/mind"
	"github.com/keshon/companion/internal/status"
	"github.com/keshon/companion/internal/storage"
	"github.com/spf13/cobra"
)

var statusAgent string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print an agent's per-channel state as JSON",
	Long: `Print the behavior profile, flow, volition, active vocabulary and memory
counts of every channel the agent has seen. Reads persisted state only.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAgent, "agent", "", "Agent id")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if statusAgent == "" {
		return errors.New("--agent is required")
	}
	cfg, ps, err := loadConfig()
	if err != nil {
		return err
	}
	if _, ok := ps.Get(statusAgent); !ok {
		return fmt.Errorf("unknown agent: %s", statusAgent)
	}

	repo, err := storage.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()
	store, closer, err := openStateStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	// never started: gauges load from the store but neither tick nor persist
	m := mind.New(cfg.Mind, mind.Deps{Store: store, Baseline: ps.Baseline})
	snap, err := status.New(m, repo).LoadPersisted().Status(cmd.Context(), statusAgent)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
