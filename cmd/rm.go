package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:                   "rm NAME",
	Short:                 "Remove a file",
	Args:                  cobra.ExactArgs(1),
	DisableFlagsInUseLine: true,
	Run: func(cmd *cobra.Command, args []string) {
		fs, err := mountFS()
		if err != nil {
			fmt.Println(err)
			return
		}
		defer fs.Close()

		if err := fs.Remove(args[0]); err != nil {
			fmt.Println(err)
			return
		}
		fmt.Printf("Removed %s.\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}
