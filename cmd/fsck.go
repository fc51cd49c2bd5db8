package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var fsckCmd = &cobra.Command{
	Use:                   "fsck",
	Short:                 "Run the consistency checker",
	Args:                  cobra.NoArgs,
	DisableFlagsInUseLine: true,
	Run: func(cmd *cobra.Command, args []string) {
		fs, err := mountFS()
		if err != nil {
			fmt.Println(err)
			return
		}
		defer fs.Close()

		n, err := fs.Check()
		if err != nil {
			fmt.Println(err)
			return
		}
		if n == 0 {
			fmt.Println("No inconsistencies found.")
			return
		}
		fmt.Printf("%d inconsistencies found.\n", n)
		os.Exit(1)
	},
}

func init() {
	rootCmd.AddCommand(fsckCmd)
}
