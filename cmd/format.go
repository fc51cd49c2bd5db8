package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var formatCmd = &cobra.Command{
	Use:                   "format",
	Short:                 "Erase the image and write a fresh filesystem",
	Long:                  `Erases every block of the image file and writes a brand-new, empty filesystem.`,
	Args:                  cobra.NoArgs,
	DisableFlagsInUseLine: true,
	Run: func(cmd *cobra.Command, args []string) {
		dev, err := openDevice()
		if err != nil {
			fmt.Println(err)
			return
		}
		fs, err := newFS(dev)
		if err != nil {
			fmt.Println(err)
			return
		}
		if err := fs.Format(); err != nil {
			fmt.Println("Format error!")
			fmt.Println(err)
			return
		}
		fmt.Printf("Formatted %s (%d blocks x %d pages).\n", devicePath, blocks, pagesPerBlock)
	},
}

func init() {
	rootCmd.AddCommand(formatCmd)
}
