package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/benkoppe/sustainabotily/internal/session"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	var showSources bool
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, nil, "")
			if err != nil {
				return err
			}
			defer a.close()
			engine, _, err := a.engine()
			if err != nil {
				return err
			}

			sess := session.New("cli")
			reply, err := engine.Ask(cmd.Context(), sess, strings.Join(args, " "))
			if err != nil {
				return err
			}
			defer reply.Close()

			out := cmd.OutOrStdout()
			var streamErr error
			for {
				frag, err := reply.Recv()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					streamErr = err
					break
				}
				fmt.Fprint(out, frag)
			}
			fmt.Fprintln(out)
			if streamErr != nil {
				a.logger.Warn("Answer incomplete", zap.Error(streamErr))
				cmd.PrintErrf("answer incomplete: %v\n", streamErr)
			}

			if caption, err := engine.LastEnergyCaption(sess); err == nil && caption != "" {
				fmt.Fprintf(out, "\n%s\n", caption)
			}
			if projection, err := engine.ProjectedScaleCaption(sess); err == nil && projection != "" {
				fmt.Fprintln(out, projection)
			}
			if showSources {
				fmt.Fprintln(out)
				for _, c := range reply.Sources() {
					fmt.Fprintf(out, "  - %s\n", c.ChunkID)
				}
			}
			return streamErr
		},
	}
	cmd.Flags().BoolVar(&showSources, "sources", false, "list the chunks the answer was grounded on")
	return cmd
}
