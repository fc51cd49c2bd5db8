package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var linkCmd = &cobra.Command{
	Use:                   "link TARGET LINKNAME",
	Short:                 "Create a hard link to an existing file",
	Args:                  cobra.ExactArgs(2),
	DisableFlagsInUseLine: true,
	Run: func(cmd *cobra.Command, args []string) {
		fs, err := mountFS()
		if err != nil {
			fmt.Println(err)
			return
		}
		defer fs.Close()

		if err := fs.Link(args[0], args[1]); err != nil {
			fmt.Println(err)
			return
		}
		fmt.Printf("Linked %s to %s.\n", args[1], args[0])
	},
}

func init() {
	rootCmd.AddCommand(linkCmd)
}
