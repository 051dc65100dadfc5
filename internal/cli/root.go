// Package cli implements the sustainabot command line.
package cli

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	rebuild    bool
	progress   bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "sustainabot",
		Short: "Chat with the Cornell sustainability knowledge base",
		Long: `Sustainabot answers questions from a crawled sustainability corpus.
Each answer is followed by an estimate of the energy the query used.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML config (default ./config.yaml or ~/.config/sustainabot/config.yaml)")
	root.PersistentFlags().BoolVar(&opts.rebuild, "rebuild", false, "rebuild the index from the corpus instead of loading the snapshot")
	root.PersistentFlags().BoolVar(&opts.progress, "progress", true, "show a progress bar while embedding")

	root.AddCommand(
		newIndexCmd(opts),
		newSearchCmd(opts),
		newAskCmd(opts),
		newChatCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
