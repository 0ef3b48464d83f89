package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var invokeEvent string

var invokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: "Run a single alert cycle and print the JSON response",
	RunE: func(cmd *cobra.Command, args []string) error {
		var event json.RawMessage
		if invokeEvent != "" {
			if !json.Valid([]byte(invokeEvent)) {
				return errors.New("--event must be valid JSON")
			}
			event = json.RawMessage(invokeEvent)
		}

		resp, err := getApp().Invoke(cmd.Context(), event)
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(resp); err != nil {
			return err
		}
		if resp.Error != "" {
			return fmt.Errorf("cycle failed: %s", resp.Error)
		}
		return nil
	},
}

func init() {
	invokeCmd.Flags().StringVar(&invokeEvent, "event", "", "Opaque JSON event payload")
}
