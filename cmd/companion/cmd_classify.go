package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/keshon/companion/internal/affect"
	"github.com/spf13/cobra"
)

var classifyAudience affect.Audience

var classifyCmd = &cobra.Command{
	Use:   "classify <p> <a> <d>",
	Short: "Classify a PAD vector and print its gated behavior profile",
	Example: `  companion classify -- -2.0 1.0 1.1
  companion classify --group-size 30 2.5 1 1.5`,
	Args: cobra.ExactArgs(3),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().IntVar(&classifyAudience.GroupSize, "group-size", 0, "Number of channel members")
	classifyCmd.Flags().BoolVar(&classifyAudience.AdminPresent, "admin", false, "An admin is present")
	classifyCmd.Flags().IntVar(&classifyAudience.RecentNegativeCount, "negatives", 0, "Recent negative reactions")
}

type classification struct {
	PAD      affect.PAD      `json:"pad"`
	Category affect.Category `json:"category"`
	Distance float64         `json:"distance"`
	Profile  affect.Profile  `json:"profile"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	var xs [3]float64
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
		xs[i] = v
	}
	v := affect.PAD{P: xs[0], A: xs[1], D: xs[2]}
	c := affect.Closest(v)
	out := classification{
		PAD:      v,
		Category: c,
		Distance: v.Distance(c.Vector()),
		Profile:  affect.Classify(v, classifyAudience),
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
