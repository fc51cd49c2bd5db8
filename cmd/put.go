package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var putCmd = &cobra.Command{
	Use:                   "put SRC NAME",
	Short:                 "Copy a host file into the image",
	Args:                  cobra.ExactArgs(2),
	DisableFlagsInUseLine: true,
	Run: func(cmd *cobra.Command, args []string) {
		src, err := os.Open(args[0])
		if err != nil {
			fmt.Println(err)
			return
		}
		defer src.Close()

		fs, err := mountFS()
		if err != nil {
			fmt.Println(err)
			return
		}
		defer fs.Close()

		fh, err := fs.OpenFile(args[1], os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
		if err != nil {
			fmt.Println(err)
			return
		}
		defer fs.CloseFile(fh)

		buf := make([]byte, 4096)
		for {
			n, rerr := src.Read(buf)
			if n > 0 {
				if _, werr := fs.WriteFile(fh, buf[:n]); werr != nil {
					fmt.Println(werr)
					return
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				fmt.Println(rerr)
				return
			}
		}
		fmt.Printf("Wrote %s into %s.\n", args[1], devicePath)
	},
}

func init() {
	rootCmd.AddCommand(putCmd)
}
