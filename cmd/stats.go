package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gkatanacio/rangestream/accounting"
)

var statsOpts struct {
	counterFile string
	ledgerDB    string
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print download accounting from a counter file or ledger database.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if statsOpts.counterFile == "" && statsOpts.ledgerDB == "" {
			return errors.New("one of --counter-file or --ledger-db is required")
		}

		out := cmd.OutOrStdout()

		if statsOpts.counterFile != "" {
			total, err := accounting.NewCounterFile(statsOpts.counterFile).Total()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "total bytes sent: %d\n", total)
		}

		if statsOpts.ledgerDB != "" {
			ledger, err := accounting.OpenSQLiteLedger(statsOpts.ledgerDB)
			if err != nil {
				return err
			}
			defer ledger.Close()

			entries, err := ledger.Entries(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tBYTES\tDOWNLOADS\tLAST")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", e.Name, e.BytesSent, e.Downloads, e.LastDownload.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		}

		return nil
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsOpts.counterFile, "counter-file", "", "sidecar counter file")
	statsCmd.Flags().StringVar(&statsOpts.ledgerDB, "ledger-db", "", "SQLite ledger database")
	rootCmd.AddCommand(statsCmd)
}
