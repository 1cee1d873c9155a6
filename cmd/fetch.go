package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gkatanacio/rangestream/download"
)

var downloadOpts download.Options

var fetchCmd = &cobra.Command{
	Use:     "fetch [space-delimited URLs]",
	Short:   "Download a file from one or more range-capable sources concurrently.",
	Example: "rangestream fetch -c 8 -t 10 -f destfile.txt http://source1.com/files/a.txt http://source2.com/files/a.txt",
	Args: func(cmd *cobra.Command, args []string) error {
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		downloadService := download.NewService(downloadOpts)
		return downloadService.Download(cmd.Context(), args)
	},
}

func init() {
	fetchCmd.Flags().UintVarP(&downloadOpts.Connections, "connections", "c", 5, "max number of concurrent connections")
	fetchCmd.Flags().UintVarP(&downloadOpts.Timeout, "timeout", "t", 10, "timeout for each connection in seconds")
	fetchCmd.Flags().StringVarP(&downloadOpts.DestFilePath, "file", "f", "", "destination file path")
	fetchCmd.Flags().StringVarP(&downloadOpts.Username, "user", "u", "", "basic auth username")
	fetchCmd.Flags().StringVarP(&downloadOpts.Password, "password", "p", "", "basic auth password")

	fetchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(fetchCmd)
}
