package cli

import (
	"github.com/spf13/cobra"

	"pricewatch/internal/app"
)

var showBands bool

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the latest recorded price per asset",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Show(cmd.Context(), cmd.OutOrStdout(), app.ShowOptions{Bands: showBands})
	},
}

func init() {
	showCmd.Flags().BoolVar(&showBands, "bands", false, "Also list the configured threshold bands")
}
