package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pifs"
	"pifs/device"
)

var (
	devicePath     string
	blocks         uint16
	pagesPerBlock  uint16
	flashPageBytes uint32
	logicalPage    uint32
	reservedBlocks uint16
	mgmtBlocks     uint16
	logLevelFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "pifs",
	Short: "Inspect and manipulate a Pi File System image",
	Long: `pifs is a command-line client for the Pi File System, a journaling
filesystem designed for raw NOR flash. It operates on a single flat image
file standing in for the flash device.`,
}

// Execute runs the root command, exiting the process on error the way
// a CLI built on cobra conventionally does.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&devicePath, "device", "d", "pifs.img", "path to the flash image file")
	rootCmd.PersistentFlags().Uint16Var(&blocks, "blocks", 64, "total block count")
	rootCmd.PersistentFlags().Uint16Var(&pagesPerBlock, "pages-per-block", 32, "flash pages per block")
	rootCmd.PersistentFlags().Uint32Var(&flashPageBytes, "flash-page-bytes", 256, "physical program granularity")
	rootCmd.PersistentFlags().Uint32Var(&logicalPage, "logical-page-bytes", 256, "logical allocation unit size")
	rootCmd.PersistentFlags().Uint16Var(&reservedBlocks, "reserved-blocks", 0, "blocks never touched by the filesystem")
	rootCmd.PersistentFlags().Uint16Var(&mgmtBlocks, "management-blocks", 2, "block count of one management area")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "notice", "silent|error|warning|notice|info|debug")
}

func geometry() pifs.Geometry {
	return pifs.Geometry{
		Blocks:           blocks,
		PagesPerBlock:    pagesPerBlock,
		FlashPageBytes:   flashPageBytes,
		LogicalPageBytes: logicalPage,
		ReservedBlocks:   reservedBlocks,
		ManagementBlocks: mgmtBlocks,
		ErasedByte:       0xFF,
	}
}

func logLevel() pifs.LogLevel {
	switch logLevelFlag {
	case "silent":
		return pifs.LogSilent
	case "error":
		return pifs.LogError
	case "warning":
		return pifs.LogWarning
	case "info":
		return pifs.LogInfo
	case "debug":
		return pifs.LogDebug
	default:
		return pifs.LogNotice
	}
}

// openDevice opens the configured image file, creating it (filled with
// the erased byte) if it does not already exist.
func openDevice() (device.Device, error) {
	return device.NewFileDevice(devicePath, device.Geometry{
		Blocks:        blocks,
		PagesPerBlock: pagesPerBlock,
		PageBytes:     flashPageBytes,
		ErasedByte:    0xFF,
	})
}

// newFS wires an FS around dev without mounting or formatting it.
func newFS(dev device.Device) (*pifs.FS, error) {
	return pifs.New(dev, pifs.DefaultConfig(geometry()), logLevel())
}

// mountFS opens the image and mounts an existing filesystem on it.
func mountFS() (*pifs.FS, error) {
	dev, err := openDevice()
	if err != nil {
		return nil, err
	}
	fs, err := pifs.New(dev, pifs.DefaultConfig(geometry()), logLevel())
	if err != nil {
		return nil, err
	}
	if err := fs.Mount(); err != nil {
		return nil, err
	}
	return fs, nil
}
