package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yolodolo42/wcwallet/internal/relay"
	"github.com/yolodolo42/wcwallet/internal/ui"
	"go.uber.org/zap"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a local pairing relay",
	Long: `Serve the relay JSON-RPC API over websocket. Wallets and peers connect
to it with --relay ws://<listen>.`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.Flags().String("listen", "", "Address to listen on (default 127.0.0.1:8787)")
	relayCmd.Flags().StringSlice("origins", []string{"*"}, "Allowed websocket origins")
	relayCmd.Flags().Duration("request-timeout", relay.DefaultRequestTimeout, "How long a signing request may wait for the peer")
	_ = viper.BindPFlag("listen", relayCmd.Flags().Lookup("listen"))
}

func runRelay(cmd *cobra.Command, _ []string) error {
	origins, _ := cmd.Flags().GetStringSlice("origins")
	timeout, _ := cmd.Flags().GetDuration("request-timeout")

	hub := relay.NewHub(
		relay.WithHubLogger(logger.Named("relay")),
		relay.WithRequestTimeout(timeout),
	)
	handler, err := hub.Handler(origins)
	if err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	fmt.Fprintln(cmd.OutOrStdout(), ui.Success("Relay listening on "+ui.ValueStyle.Render("ws://"+cfg.Listen)))
	logger.Info("relay started", zap.String("listen", cfg.Listen), zap.Strings("origins", origins))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("relay shutting down")
	return srv.Shutdown(shutdownCtx)
}
