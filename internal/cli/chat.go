package cli

import (
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/benkoppe/sustainabotily/internal/session"
	"github.com/benkoppe/sustainabotily/internal/tui"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Logs would corrupt the terminal UI, so they default to a file
			// next to the snapshot.
			logFile := filepath.Join("storage", "sustainabot.log")
			a, err := openApp(cmd.Context(), opts, nil, logFile)
			if err != nil {
				return err
			}
			defer a.close()
			engine, _, err := a.engine()
			if err != nil {
				return err
			}

			m := tui.New(cmd.Context(), engine, session.New("tui"), a.meta.Digest)
			_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
}
