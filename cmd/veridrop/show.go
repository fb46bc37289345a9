package veridrop

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/veridrop/veridrop/internal/models"
	"github.com/veridrop/veridrop/internal/proof"
)

var showDepth int

var showCmd = &cobra.Command{
	Use:   "show <proof-hash>",
	Short: "Show the chain, cryptographic details and cross-verification of a stored proof",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash := args[0]

		p, err := buildPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer p.close()

		chainEntries, err := p.service.GetProofChain(cmd.Context(), hash, showDepth)
		if err != nil {
			return err
		}
		details, err := p.service.GetCryptographicDetails(cmd.Context(), hash)
		if err != nil {
			return err
		}

		var verification *models.VerificationResult
		if p.verifier != nil {
			verification, err = p.service.GetCrossVerification(cmd.Context(), hash)
			if err != nil {
				slog.Warn("Cross-verification unavailable", "hash", hash, "error", err)
			}
		}

		return printJSON(cmd, struct {
			Chain        []proof.ChainEntry          `json:"chain"`
			Details      *proof.CryptographicDetails `json:"details"`
			Verification *models.VerificationResult  `json:"verification,omitempty"`
		}{chainEntries, details, verification})
	},
}

func init() {
	showCmd.Flags().IntVar(&showDepth, "depth", 10, "Maximum chain entries to walk")
	rootCmd.AddCommand(showCmd)
}
