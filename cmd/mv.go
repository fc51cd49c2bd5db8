package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var mvCmd = &cobra.Command{
	Use:                   "mv OLD NEW",
	Short:                 "Rename a file",
	Args:                  cobra.ExactArgs(2),
	DisableFlagsInUseLine: true,
	Run: func(cmd *cobra.Command, args []string) {
		fs, err := mountFS()
		if err != nil {
			fmt.Println(err)
			return
		}
		defer fs.Close()

		if err := fs.Rename(args[0], args[1]); err != nil {
			fmt.Println(err)
			return
		}
		fmt.Printf("Renamed %s to %s.\n", args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(mvCmd)
}
