package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/endodetect/endodetect/internal/handlers"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		host     string
		port     string
		filesDir string
		baseURL  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a local development backend",
		Long: `Starts an in-memory EndoDetect API on the specified port.

It implements the same endpoints as the real backend but returns a single
synthetic finding per image instead of running a model. Everything is lost
when the server stops. The first account registered becomes an administrator.

Tokens are signed with ENDODETECT_SECRET_KEY (or secret_key in config.yaml);
a random key is used when neither is set, so tokens do not survive a restart.`,
		Example: `  # Start server on default port 8000
  endodetect serve

  # Serve on all interfaces with links pointing at a public name
  endodetect serve --host 0.0.0.0 --port 3000 --public-url https://endo.example.org`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// A server should report its requests unless told otherwise.
			if !cmd.Flags().Changed("log-level") && !cmd.Flags().Changed("verbose") && os.Getenv("ENDODETECT_LOG_LEVEL") == "" {
				if err := setupLogging("info"); err != nil {
					return err
				}
			}

			opts := []handlers.Option{handlers.WithFilesDir(filesDir)}
			if baseURL != "" {
				opts = append(opts, handlers.WithBaseURL(baseURL))
			}
			if secret := a.v.GetString("secret_key"); secret != "" {
				opts = append(opts, handlers.WithSecret([]byte(secret)))
			} else {
				slog.Warn("No secret key configured, using a random one")
			}

			router := handlers.New(opts...).Router()
			router.Use(handlers.LogRequests)

			addr := net.JoinHostPort(host, port)
			server := &http.Server{
				Addr:              addr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			serverErr := make(chan error, 1)
			go func() {
				slog.Info("EndoDetect development API available", "addr", addr, "url", "http://"+addr, "files", filesDir)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Interface to bind")
	cmd.Flags().StringVarP(&port, "port", "p", "8000", "Port to listen on")
	cmd.Flags().StringVar(&filesDir, "files-dir", filepath.Join(os.TempDir(), "endodetect-files"), "Directory for stored images")
	cmd.Flags().StringVar(&baseURL, "public-url", "", "Public base URL used in image links (defaults to the request host)")

	return cmd
}
