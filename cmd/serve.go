package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anatolia-labs/dizin/internal/diag"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve diagnostics endpoints over the stored data",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		addr := fmt.Sprintf(":%d", port)
		zap.L().Info("diagnostics server listening", zap.String("addr", addr))

		// No live crawl here, so ledger routes report not found.
		return diag.Serve(ctx, addr, diag.NewRouter(nil, st))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
