package veridrop

import (
	"github.com/spf13/cobra"
)

var reverifyCmd = &cobra.Command{
	Use:   "reverify",
	Short: "Re-verify every delivered proof against the archive and the oracle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer p.close()

		report, err := p.sweeper().Run(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	},
}

func init() {
	rootCmd.AddCommand(reverifyCmd)
}
