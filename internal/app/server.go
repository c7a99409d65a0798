package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"perp-panel/internal/exchange"
	"perp-panel/internal/execution"
)

// Handler 返回控制接口的 HTTP 处理器。
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]string{"status": "ok", "last_refresh": ""}
		if last := a.snapshots.LastRefresh(); !last.IsZero() {
			body["last_refresh"] = last.UTC().Format(time.RFC3339)
		}
		a.writeJSON(w, http.StatusOK, body)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/settings", func(w http.ResponseWriter, _ *http.Request) {
			a.writeJSON(w, http.StatusOK, a.Settings())
		})
		r.Get("/snapshot", a.handleSnapshot)
		r.Get("/positions", a.handlePositions)
		r.Get("/orders", a.handleOrders)
		r.Get("/check", func(w http.ResponseWriter, r *http.Request) {
			a.writeJSON(w, http.StatusOK, a.Check(r.Context()))
		})
		r.Post("/entry", a.handleEntry)
		r.Post("/exit", a.handleExit)
		r.Post("/cancel", a.handleCancel)
		r.Post("/notify", a.handleNotify)
	})

	origins := a.cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(r)
}

// Serve 启动控制接口并按刷新间隔预热账户快照，ctx 结束时优雅退出。
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	a.logger.Info("控制接口已启动",
		zap.String("addr", a.cfg.Server.Addr),
		zap.Bool("testnet", a.cfg.Exchange.UseSandbox),
		zap.Bool("dry_run", a.cfg.Execution.DryRun),
	)

	interval := a.cfg.Account.RefreshInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	a.snapshots.Refresh(ctx, true)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("关闭控制接口失败", zap.Error(err))
			}
			a.logger.Info("控制接口已停止")
			return nil
		case err, ok := <-errCh:
			if ok && err != nil {
				a.logger.Error("控制接口异常", zap.Error(err))
				return err
			}
			return nil
		case <-ticker.C:
			a.snapshots.Refresh(ctx, false)
		}
	}
}

func (a *App) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	a.writeJSON(w, http.StatusOK, a.Snapshot(r.Context(), force))
}

func (a *App) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := a.Positions(r.Context(), r.URL.Query().Get("symbol"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, positions)
}

func (a *App) handleOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.Orders(r.Context(), r.URL.Query().Get("symbol"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, orders)
}

func (a *App) handleEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if !a.decode(w, r, &req) {
		return
	}
	result, err := a.Enter(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *App) handleExit(w http.ResponseWriter, r *http.Request) {
	var req ExitRequest
	if !a.decode(w, r, &req) {
		return
	}
	result, err := a.Exit(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *App) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string `json:"symbol"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	report, err := a.Cancel(r.Context(), req.Symbol)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, report)
}

func (a *App) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"sent": a.Notify(r.Context(), req.Text)})
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "请求体无效: " + err.Error()})
		return false
	}
	return true
}

func (a *App) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, execution.ErrInvalidIntent):
		status = http.StatusBadRequest
	case errors.Is(err, execution.ErrPriceUnavailable), errors.Is(err, exchange.ErrUnavailable):
		status = http.StatusBadGateway
	}
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (a *App) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Warn("写入响应失败", zap.Error(err))
	}
}
