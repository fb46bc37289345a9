package veridrop

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veridrop/veridrop/internal/models"
)

var submitCmd = &cobra.Command{
	Use:   "submit <event.json>",
	Short: "Submit one delivery event as a location proof",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read event file: %w", err)
		}
		var event models.DeliveryEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return fmt.Errorf("failed to decode event file: %w", err)
		}

		p, err := buildPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer p.close()

		result, err := p.service.SubmitLocationProof(cmd.Context(), event)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	cmd.Println(string(out))
	return nil
}

func init() {
	rootCmd.AddCommand(submitCmd)
}
