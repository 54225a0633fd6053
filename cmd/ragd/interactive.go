package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragd/internal/tui"
)

var interactiveShowSources bool

var interactiveCmd = &cobra.Command{
	Use:     "interactive",
	Aliases: []string{"chat"},
	Short:   "Chat with your documents",
	Long: `Start an interactive chat. Earlier questions and answers of the session are
sent with each new question, so follow-ups can refer to them.

Commands inside the chat: /clear forgets the history, /sources toggles the
source list, quit or exit leaves. When stdin is not a terminal a plain
line-by-line prompt is used instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return tui.Run(ctx, a.reg.Pipeline(), tui.Options{ShowSources: interactiveShowSources})
		})
	},
}

func init() {
	interactiveCmd.Flags().BoolVar(&interactiveShowSources, "show-sources", false, "list the source chunks under each answer")
}
