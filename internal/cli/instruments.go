package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/lofivibes/api/internal/session"
)

func newInstrumentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "instruments",
		Short: "List the instruments a session can feature",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			value := lipgloss.NewStyle().Width(10).Bold(true)
			label := lipgloss.NewStyle().Width(16)
			for _, inst := range session.Instruments {
				fmt.Fprintln(out, lipgloss.JoinHorizontal(lipgloss.Top,
					value.Render(inst.Value),
					label.Render(inst.Label),
					mutedStyle.Render(inst.Description),
				))
			}
			return nil
		},
	}
}
