package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:                   "ls",
	Short:                 "List the filesystem's entries",
	Args:                  cobra.NoArgs,
	DisableFlagsInUseLine: true,
	Run: func(cmd *cobra.Command, args []string) {
		fs, err := mountFS()
		if err != nil {
			fmt.Println(err)
			return
		}
		defer fs.Close()

		dh, err := fs.OpenDir()
		if err != nil {
			fmt.Println(err)
			return
		}
		defer fs.CloseDir(dh)

		for {
			e, ok, err := fs.ReadDir(dh)
			if err != nil {
				fmt.Println(err)
				return
			}
			if !ok {
				break
			}
			kind := "-"
			if e.IsDir() {
				kind = "d"
			}
			fmt.Printf("%s %8d  %s\n", kind, e.FileSize, e.Name)
		}
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
