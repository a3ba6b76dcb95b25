package main

import (
	"crypto/tls"

	"github.com/spf13/cobra"

	"github.com/Veraticus/nexus-exposure/internal/api"
	"github.com/Veraticus/nexus-exposure/internal/certs"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve calculation runs and results over HTTP",
		Long: `Start the HTTP API. Calculations submitted over the API run in the
background; poll the run until it reaches a terminal status, then fetch the
analysis results.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = cfg.Server.Addr
			}

			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			repo, err := loadRules(cfg)
			if err != nil {
				return err
			}
			manager, err := newManager(store, cfg, repo)
			if err != nil {
				return err
			}
			defer shutdownManager(manager)

			var tlsConfig *tls.Config
			if useTLS, _ := cmd.Flags().GetBool("tls"); useTLS || cfg.Server.TLS {
				tlsConfig, err = certs.NewFileManager(cfg.Server.CertDir).TLSConfig()
				if err != nil {
					return err
				}
			}

			router := api.NewRouter(api.NewHandler(manager, store), api.RouterConfig{
				AllowedOrigins: cfg.Server.AllowedOrigins,
			})
			return api.Serve(ctx, addr, router, cfg.Server.ShutdownTimeout, tlsConfig)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().Bool("tls", false, "Serve HTTPS with a self-signed localhost certificate")

	return cmd
}
