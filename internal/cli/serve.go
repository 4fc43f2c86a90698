package cli

import (
	"github.com/spf13/cobra"

	"github.com/inkwellhq/inkwell/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = a.cfg.Server.Addr
		}
		srv := web.NewServer(a.engine, a.controller, a.bc, addr)
		return srv.Start()
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (defaults to server.addr from config)")
}
