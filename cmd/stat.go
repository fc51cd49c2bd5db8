package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:                   "stat",
	Short:                 "Show free and to-be-released page counts",
	Args:                  cobra.NoArgs,
	DisableFlagsInUseLine: true,
	Run: func(cmd *cobra.Command, args []string) {
		fs, err := mountFS()
		if err != nil {
			fmt.Println(err)
			return
		}
		defer fs.Close()

		mgmtFree, dataFree, mgmtTBR, dataTBR, err := fs.FreeSpace()
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Printf("data:       free=%d  to-be-released=%d\n", dataFree, dataTBR)
		fmt.Printf("management: free=%d  to-be-released=%d\n", mgmtFree, mgmtTBR)
	},
}

func init() {
	rootCmd.AddCommand(statCmd)
}
