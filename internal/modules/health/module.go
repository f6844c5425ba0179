package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"signal_bot/internal/cooldown"
	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"
	"signal_bot/internal/modules/health/service"
	"signal_bot/internal/positions"
	"signal_bot/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

type Config struct {
	Addr string
}

func NewConfig(cfg *config.Config) Config {
	return Config{Addr: cfg.AdminAddr()}
}

// StatsReader is the read side of the position store.
type StatsReader interface {
	Stats(ctx context.Context) (models.Stats, error)
	ActiveSignals(ctx context.Context) ([]models.ActiveSignal, error)
	Votes(ctx context.Context, instrument string) (map[string]models.Direction, error)
}

type CooldownReader interface {
	Active(ctx context.Context) ([]models.CooldownEntry, error)
}

type statsResponse struct {
	Stats     models.Stats           `json:"stats"`
	Positions []models.ActiveSignal  `json:"positions"`
	Cooldowns []models.CooldownEntry `json:"cooldowns"`
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func NewRouter(state *service.State, stats StatsReader, cooldowns CooldownReader, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	ok := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
	r.Get("/", ok)
	r.Get("/health", ok)
	r.Get("/livez", ok)

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"ready":        state.Ready(),
			"wsConnected":  state.WSConnected(),
			"uptimeSec":    int64(state.Uptime().Seconds()),
			"lastSlowUnix": unixOrZero(state.LastSlowTick()),
			"lastFastUnix": unixOrZero(state.LastFastTick()),
		})
	})

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		var (
			resp statsResponse
			err  error
		)
		if resp.Stats, err = stats.Stats(req.Context()); err == nil {
			if resp.Positions, err = stats.ActiveSignals(req.Context()); err == nil {
				resp.Cooldowns, err = cooldowns.Active(req.Context())
			}
		}
		if err != nil {
			logger.Error("health: stats: %v", err)
			http.Error(w, "stats unavailable", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/votes/{instrument}", func(w http.ResponseWriter, req *http.Request) {
		id := strings.ToUpper(chi.URLParam(req, "instrument"))
		votes, err := stats.Votes(req.Context(), id)
		switch {
		case errors.Is(err, positions.ErrNotFound):
			http.Error(w, "no votes for "+id, http.StatusNotFound)
		case err != nil:
			logger.Error("health: votes %s: %v", id, err)
			http.Error(w, "votes unavailable", http.StatusInternalServerError)
		default:
			writeJSON(w, http.StatusOK, votes)
		}
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg Config, handler http.Handler) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			logger.Info("health: listening on %s", cfg.Addr)
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("health: serve: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			NewConfig,
			func(ps *positions.Store) StatsReader { return ps },
			func(cd *cooldown.Manager) CooldownReader { return cd },
			NewRouter,
		),
		fx.Invoke(RunHTTP),
	)
}
