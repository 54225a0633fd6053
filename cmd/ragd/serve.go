package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/fyrsmithlabs/ragd/internal/http"
	"github.com/fyrsmithlabs/ragd/internal/watcher"
)

var serveWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the ragd HTTP API on server.host:server.http_port.

Endpoints:
  GET  /health
  GET  /metrics
  GET  /api/v1/stats
  POST /api/v1/query    {"question": "...", "stream": true} streams Server-Sent Events
  POST /api/v1/ingest   {"file_path": "...", "reset": false}
  POST /api/v1/reset

With --watch, documents created or modified under documents.path are
re-ingested automatically.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), runServe)
	},
}

func init() {
	serveCmd.Flags().BoolVarP(&serveWatch, "watch", "w", false, "re-ingest documents when they change")
}

func runServe(ctx context.Context, a *app) error {
	p := a.reg.Pipeline()

	srv, err := apihttp.NewServer(p, a.logger, &apihttp.Config{
		Host:            a.cfg.Server.Host,
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout.Duration(),
	}, apihttp.WithSettings(a.cfg), apihttp.WithVersion(version))
	if err != nil {
		return err
	}

	var w *watcher.Watcher
	if serveWatch {
		selected, err := p.Loader().Filter(a.cfg.Documents.Path)
		if err != nil {
			return err
		}
		w, err = watcher.New(p, watcher.Config{
			Dir:       a.cfg.Documents.Path,
			Debounce:  a.cfg.Documents.WatchDebounce.Duration(),
			Supported: selected,
			Logger:    a.logger.Underlying(),
		})
		if err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(ctx) })
	if w != nil {
		g.Go(func() error { return w.Run(ctx) })
	}

	a.logger.Info(ctx, "ragd serving",
		zap.String("addr", srv.Addr()),
		zap.Bool("watch", serveWatch),
		zap.String("version", version),
	)
	return g.Wait()
}
