package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cpCmd = &cobra.Command{
	Use:                   "cp SRC DST",
	Short:                 "Copy a file within the image",
	Args:                  cobra.ExactArgs(2),
	DisableFlagsInUseLine: true,
	Run: func(cmd *cobra.Command, args []string) {
		fs, err := mountFS()
		if err != nil {
			fmt.Println(err)
			return
		}
		defer fs.Close()

		if err := fs.Copy(args[0], args[1]); err != nil {
			fmt.Println(err)
			return
		}
		fmt.Printf("Copied %s to %s.\n", args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(cpCmd)
}
