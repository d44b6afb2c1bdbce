package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/techland/internal/config"
	"github.com/iliyamo/techland/internal/database"
	"github.com/iliyamo/techland/internal/handler"
	"github.com/iliyamo/techland/internal/middleware"
	"github.com/iliyamo/techland/internal/queue"
	"github.com/iliyamo/techland/internal/repository"
	"github.com/iliyamo/techland/internal/router"
	"github.com/iliyamo/techland/internal/service"
	"github.com/iliyamo/techland/internal/utils"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Starts the storefront API: auth, profile, admin and cart routes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if migrateOnStart {
			if err := database.MigrateUp(dsn(), log); err != nil {
				return fmt.Errorf("failed to migrate: %w", err)
			}
		}

		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		log.Info("connected to database", zap.String("host", cfg.DBHost), zap.String("name", cfg.DBName))

		rdb, err := config.NewRedisClient(config.LoadRedisConfig())
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rdb.Close()

		srv := newServer(db, rdb, time.Now())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.SessionPurgeInterval > 0 {
			go purgeLoop(ctx, srv.tokens, cfg.SessionPurgeInterval)
		}

		errCh := make(chan error, 1)
		go func() {
			addr := ":" + cfg.Port
			log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
			if err := srv.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply pending migrations before serving")
}

type server struct {
	echo   *echo.Echo
	tokens *service.Tokens
}

func newServer(db *sql.DB, rdb *redis.Client, started time.Time) *server {
	prod := cfg.IsProduction()

	users := repository.NewUserRepo(db)
	sessions := repository.NewSessionRepo(db)
	catalog := repository.NewCatalogRepo(db)
	enrollments := repository.NewEnrollmentRepo(db)
	orders := repository.NewOrderRepo(db)

	creds := service.NewCredentials(users, cfg.BcryptCost, log)
	jwt := utils.NewJWT(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL)
	tokens := service.NewTokens(jwt, sessions, cfg.RefreshTTL, cfg.RefreshRememberTTL, log)
	carts := service.NewCarts(repository.NewCartStore(rdb, cfg.CartTTL), catalog, enrollments)
	checkout := service.NewCheckout(service.CheckoutDeps{
		Tx:          database.NewTxRunner(db, log, cfg.SlowTxThreshold),
		Carts:       carts,
		Inventory:   catalog,
		Orders:      orders,
		Enrollments: enrollments,
		Payments:    repository.NewPaymentRepo(db),
		Ledger:      repository.NewCheckoutRepo(db),
		Receipts:    orders,
		Events:      queue.NewPublisher(config.LoadAMQPConfig(), log),
		Log:         log,
	})

	cookies := middleware.Cookies{
		Secure:      prod,
		AccessTTL:   cfg.AccessTTL,
		RefreshTTL:  cfg.RefreshTTL,
		RememberTTL: cfg.RefreshRememberTTL,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))

	router.RegisterRoutes(e, router.Deps{
		Auth:    handler.NewAuthHandler(creds, tokens, cookies, log, prod),
		Cart:    handler.NewCartHandler(carts, checkout, cfg.CartTTL, log, prod),
		Gate:    middleware.NewGate(tokens, cookies, log),
		Limiter: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log),
		Started: started,
	})
	return &server{echo: e, tokens: tokens}
}

// purgeLoop deletes expired and revoked sessions every interval until ctx
// ends.
func purgeLoop(ctx context.Context, tokens *service.Tokens, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := tokens.PurgeExpired(ctx)
			if err != nil {
				log.Warn("session purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("purged sessions", zap.Int64("count", n))
			}
		}
	}
}
