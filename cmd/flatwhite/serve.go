package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/goliatone/go-flatwhite/cache"
	"github.com/goliatone/go-flatwhite/httpcache"
	"github.com/goliatone/go-flatwhite/pkg/di"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type serveFlags struct {
	addr            string
	latency         time.Duration
	shutdownTimeout time.Duration
}

func newServeCommand(global *globalFlags) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo catalog service behind the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, flags)
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", ":8080", "listen address")
	cmd.Flags().DurationVar(&flags.latency, "latency", 300*time.Millisecond, "simulated catalog latency")
	cmd.Flags().DurationVar(&flags.shutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	return cmd
}

func serve(ctx context.Context, cfg cache.Config, flags *serveFlags) error {
	container, err := di.NewContainer(cfg)
	if err != nil {
		return err
	}
	defer container.Close()
	logger := container.Logger()

	catalog := NewCatalog(flags.latency)
	cached, err := NewCachedCatalog(container, catalog)
	if err != nil {
		return err
	}

	pages, err := container.Middleware(cache.Settings{
		Duration:             5 * time.Second,
		StaleWhileRevalidate: 5 * time.Second,
		VaryByCustom:         "headers.accept-language",
	})
	if err != nil {
		return err
	}

	r := newRouter(logger, container, catalog, cached, pages)
	srv := &http.Server{Addr: flags.addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", flags.addr).Msg("flatwhite listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), flags.shutdownTimeout)
		defer cancel()
		logger.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newRouter(logger zerolog.Logger, container *di.Container, catalog *Catalog, cached *CachedCatalog, pages *httpcache.Middleware) http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))

	r.Get("/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		p, err := cached.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("load product")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if p == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, p)
	})

	r.Put("/products/{id}/price", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Price int `json:"price"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		id := chi.URLParam(r, "id")
		p, err := catalog.SetPrice(id, body.Price)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		if err := container.Bus().Revalidate(r.Context(), "product:"+id); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Str("id", id).Msg("revalidate product")
		}
		writeJSON(w, http.StatusOK, p)
	})

	r.With(pages.Handler).Get("/pages/{slug}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "page %s rendered at %s\n", chi.URLParam(r, "slug"), time.Now().Format(time.RFC3339Nano))
	})

	r.Route("/_flatwhite", func(r chi.Router) {
		r.Method(http.MethodGet, "/status", httpcache.StatusHandler(container.StatusAny))
		r.Method(http.MethodPost, "/revalidate", httpcache.RevalidateHandler(container.Bus(), logger))
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
