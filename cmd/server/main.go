package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spendlog/internal/auth"
	"spendlog/internal/config"
	"spendlog/internal/handlers"
	applog "spendlog/internal/log"
	"spendlog/internal/storage"
	"spendlog/web"
)

func main() {
	cfg := config.Load()

	logger := applog.New(applog.Config{
		Level:     cfg.LogLevel,
		Component: applog.ComponentApp,
	})
	applog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", applog.FieldError, err)
		os.Exit(1)
	}

	db, err := storage.NewDB(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", applog.FieldError, err, "db_path", cfg.DBPath)
		os.Exit(1)
	}
	defer db.Close()

	if err := bootstrapAdmin(cfg, db, logger); err != nil {
		logger.Error("failed to bootstrap admin user", applog.FieldError, err)
		os.Exit(1)
	}

	h := handlers.NewHandlers(db, web.TemplatesFS, cfg.SecureCookie)
	mux := setupRouter(h)

	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        applog.Middleware(logger)(mux),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 16,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go reapSessions(ctx, db, logger.WithComponent(applog.ComponentReaper))

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", applog.FieldError, err)
		}
		cancel()
	}()

	logger.Info("starting server", "port", cfg.Port, "db_path", cfg.DBPath)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("server stopped gracefully")
}

// setupRouter wires all routes. Protected paths go through the auth
// middleware, which redirects unauthenticated requests to /login.
func setupRouter(h *handlers.Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	protected := func(fn http.HandlerFunc) http.Handler {
		return h.AuthMiddleware(fn)
	}

	mux.Handle("GET /static/", http.FileServerFS(web.StaticFS))

	mux.HandleFunc("GET /register", h.RegisterForm)
	mux.HandleFunc("POST /register", h.Register)
	mux.HandleFunc("GET /login", h.LoginForm)
	mux.HandleFunc("POST /login", h.Login)

	mux.Handle("GET /{$}", protected(h.Index))
	mux.Handle("POST /logout", protected(h.Logout))
	mux.Handle("GET /add_expense", protected(h.AddExpenseForm))
	mux.Handle("POST /add_expense", protected(h.AddExpense))
	mux.Handle("GET /view_expenses", protected(h.ViewExpenses))
	mux.Handle("GET /expense_chart", protected(h.ExpenseChart))
	mux.Handle("GET /expense_chart.png", protected(h.ChartImage))

	return mux
}

// bootstrapAdmin creates the ADMIN_USER account when the users table is
// empty, so a fresh deployment is immediately usable.
func bootstrapAdmin(cfg *config.Config, db *storage.DB, logger *applog.Logger) error {
	if cfg.AdminUser == "" {
		return nil
	}

	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}

	user, err := db.CreateUser(cfg.AdminUser, hash)
	if err != nil {
		return err
	}
	logger.Info("created bootstrap user", applog.FieldUserID, user.ID, applog.FieldUsername, user.Username)
	return nil
}

// reapSessions periodically deletes expired sessions.
func reapSessions(ctx context.Context, db *storage.DB, logger *applog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := db.CleanExpiredSessions()
			if err != nil {
				logger.Error("failed to clean expired sessions", applog.FieldError, err)
				continue
			}
			if removed > 0 {
				logger.Info("cleaned expired sessions", "removed", removed)
			}
		}
	}
}
