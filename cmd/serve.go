package cmd

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"pifs"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:                   "serve",
	Short:                 "Serve Prometheus metrics for a mounted filesystem",
	Args:                  cobra.NoArgs,
	DisableFlagsInUseLine: true,
	Run: func(cmd *cobra.Command, args []string) {
		fs, err := mountFS()
		if err != nil {
			fmt.Println(err)
			return
		}
		defer fs.Close()

		registry := prometheus.NewRegistry()
		registry.MustRegister(pifs.NewCollector(fs))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		fmt.Printf("Serving metrics on %s/metrics\n", serveAddr)
		if err := http.ListenAndServe(serveAddr, mux); err != nil {
			fmt.Println(err)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "listen", ":9713", "address to serve /metrics on")
	rootCmd.AddCommand(serveCmd)
}
