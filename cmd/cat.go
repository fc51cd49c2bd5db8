package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var catCmd = &cobra.Command{
	Use:                   "cat NAME",
	Short:                 "Print a file's contents to stdout",
	Args:                  cobra.ExactArgs(1),
	DisableFlagsInUseLine: true,
	Run: func(cmd *cobra.Command, args []string) {
		fs, err := mountFS()
		if err != nil {
			fmt.Println(err)
			return
		}
		defer fs.Close()

		fh, err := fs.OpenFile(args[0], os.O_RDONLY)
		if err != nil {
			fmt.Println(err)
			return
		}
		defer fs.CloseFile(fh)

		buf := make([]byte, 4096)
		for {
			n, err := fs.ReadFile(fh, buf)
			if n > 0 {
				os.Stdout.Write(buf[:n])
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				fmt.Println(err)
				return
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(catCmd)
}
