package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var wearLevelMaxBlocks int

var wearLevelCmd = &cobra.Command{
	Use:                   "wear-level",
	Short:                 "Run one pass of static wear leveling",
	Args:                  cobra.NoArgs,
	DisableFlagsInUseLine: true,
	Run: func(cmd *cobra.Command, args []string) {
		fs, err := mountFS()
		if err != nil {
			fmt.Println(err)
			return
		}
		defer fs.Close()

		if err := fs.StaticWearLevel(wearLevelMaxBlocks); err != nil {
			fmt.Println(err)
			return
		}
		fmt.Println("Static wear leveling pass complete.")
	},
}

func init() {
	wearLevelCmd.Flags().IntVar(&wearLevelMaxBlocks, "max-blocks", 1, "maximum number of blocks to relocate in one pass")
	rootCmd.AddCommand(wearLevelCmd)
}
