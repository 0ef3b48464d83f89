package cli

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"pricewatch/internal/app"
)

var (
	simulateAsset  string
	simulatePrice  string
	simulateRecord bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次报价并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateAsset == "" || simulatePrice == "" {
			return errors.New("--asset 与 --price 必须指定")
		}

		result, err := getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Asset:  simulateAsset,
			Price:  simulatePrice,
			Record: simulateRecord,
		})
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAsset, "asset", "", "资产 slug, 例如 solana")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "模拟的 USD 报价")
	simulateCmd.Flags().BoolVar(&simulateRecord, "record", false, "写入真实的价格历史")
}
