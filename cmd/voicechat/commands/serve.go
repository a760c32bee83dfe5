package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sauhard74/voice-interaction-plat/internal/config"
	"github.com/Sauhard74/voice-interaction-plat/internal/devserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local development backend",
	Long: `Run a self-contained backend with canned replies on HTTP_ADDRESS
(default :8000). Point API_BASE_URL at it to exercise 'call' and 'live'
without the real service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		e := devserver.New()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = e.Shutdown(shutdownCtx)
		}()

		if err := e.Start(cfg.HTTPAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
