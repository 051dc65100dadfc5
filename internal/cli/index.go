package cli

import (
	"github.com/spf13/cobra"

	"github.com/benkoppe/sustainabotily/internal/service"
)

func newIndexCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Build the vector index from the corpus and write the snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode := service.ModeBuild
			a, err := openApp(cmd.Context(), opts, &mode, "")
			if err != nil {
				return err
			}
			defer a.close()

			cmd.Printf("Indexed %d chunks (dimension %d) into %s\n", a.index.Len(), a.index.Dimension(), a.cfg.Index.Snapshot)
			if a.meta.Digest != "" {
				cmd.Printf("Digest: %s\n", a.meta.Digest)
			}
			return nil
		},
	}
}
