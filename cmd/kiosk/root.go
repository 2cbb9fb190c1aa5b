package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"eventattend/internal/config"
	"eventattend/internal/gateway"
)

var (
	cfg         config.Kiosk
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "kiosk",
	Short: "Event attendance capture station",
	Long: `Kiosk registers attendance at events: it takes a selfie with the local
camera, resolves the device position and submits both to the attendance API.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if metricsAddr == "" {
			return
		}
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Printf("metrics listener: %v", err)
			}
		}()
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address (e.g. :9102)")
}

func initConfig() {
	// .env file is optional
	cfg = config.LoadKiosk()
}

func newGateway() *gateway.HTTP {
	return gateway.NewHTTP(cfg.APIURL, cfg.DeviceToken, cfg.DeviceInfo)
}
