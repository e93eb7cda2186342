// server runs the login HTTP service and the operational gRPC listener (health, reflection).
package main

import (
	"context"
	"crypto"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"loginguard/internal/audit"
	"loginguard/internal/audit/sink"
	"loginguard/internal/botcheck"
	"loginguard/internal/config"
	"loginguard/internal/db"
	"loginguard/internal/db/migrate"
	"loginguard/internal/health"
	identityhandler "loginguard/internal/identity/handler"
	"loginguard/internal/identity/service"
	"loginguard/internal/logging"
	"loginguard/internal/mail"
	"loginguard/internal/passwordpolicy"
	"loginguard/internal/security"
	"loginguard/internal/server"
	"loginguard/internal/server/middleware"
	"loginguard/internal/session/guard"
	"loginguard/internal/sessionstore"
	"loginguard/internal/store"
	"loginguard/internal/store/memory"
	"loginguard/internal/telemetry"
)

const (
	shutdownTimeout     = 10 * time.Second
	healthInterval      = 10 * time.Second
	limiterSweepEvery   = time.Minute
	memorySessionsSweep = time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := logging.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.NewProviders(ctx, telemetry.Options{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
		Insecure:    cfg.OTelInsecure,
		Log:         log,
	})
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()
	meter := providers.Meter("loginguard")

	var conn *sql.DB
	var st store.Store
	if cfg.DatabaseURL != "" {
		if cfg.MigrateOnStart {
			if err := migrate.Run(cfg.DatabaseURL, "up"); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return err
			}
		}
		conn, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer conn.Close()
		st = store.NewPostgres(conn)
	} else {
		log.Warn("DATABASE_URL not set; using the in-memory store, state is lost on restart")
		st = memory.New()
	}

	tokens, err := tokenProvider(cfg, log)
	if err != nil {
		return err
	}

	var bots botcheck.Verifier
	if cfg.BotCheckDisabled {
		log.Warn("bot check disabled; every login token is accepted")
		bots = botcheck.AlwaysPass()
	} else {
		bots = botcheck.NewRecaptcha(cfg.RecaptchaSecretKey, cfg.RecaptchaVerifyURL, cfg.BotCheckTimeout())
	}

	var sessions sessionstore.Store
	if cfg.SessionStore == "postgres" {
		sessions = sessionstore.NewPostgres(conn)
	} else {
		mem := sessionstore.NewMemory(memorySessionsSweep)
		defer mem.Close()
		sessions = mem
	}

	var sinks []audit.Sink
	if k := sink.NewKafka(cfg.AuditKafkaBrokersList(), cfg.AuditKafkaTopic); k != nil {
		defer k.Close()
		sinks = append(sinks, k)
	}
	if cfg.OTelEndpoint != "" {
		if o := sink.NewOTelLog(providers.LoggerProvider); o != nil {
			sinks = append(sinks, o)
		}
	}
	recorder := audit.NewLogger(st.Repos().Audit, log, meter, cfg.AuditFailureAlertThreshold, sinks...)

	hasher := security.NewHasher(cfg.BcryptCost)
	policy := passwordpolicy.NewEngine(passwordpolicy.Policy{
		MinAge:        time.Duration(cfg.PasswordMinAgeMinutes) * time.Minute,
		MaxAgeMinutes: cfg.PasswordMaxAgeMinutes,
		MaxAgeDays:    cfg.PasswordMaxAgeDays,
		HistoryCount:  cfg.PasswordHistoryCount,
	}, st, hasher)
	g := guard.New(st, policy, recorder, log, meter)

	auth := service.NewAuthService(service.AuthDeps{
		Store:    st,
		Hasher:   hasher,
		Bots:     bots,
		Sessions: sessions,
		Guard:    g,
		Audit:    recorder,
		Log:      log,
		Meter:    meter,
		Lockout: service.LockoutPolicy{
			MaxFailedAttempts: cfg.LockoutMaxFailedAttempts,
			Duration:          cfg.Lockout(),
		},
		IdleTimeout: cfg.IdleTimeout(),
	})
	var mailer service.Mailer
	if cfg.MailRelayURL != "" {
		mailer = mail.NewRelayMailer(cfg.MailRelayURL, cfg.MailRelayAPIKey, cfg.MailFrom, cfg.PublicBaseURL)
	} else {
		log.Warn("MAIL_RELAY_URL not set; reset links are written to the log")
		mailer = mail.NewLogMailer(cfg.PublicBaseURL, log)
	}
	passwords := service.NewPasswordService(st, hasher, policy, g, mailer, recorder, log, cfg.ResetTTL())

	pingers := map[string]health.Pinger{}
	if conn != nil {
		pingers["postgres"] = conn
	}
	checker := health.NewChecker(pingers, log)

	trusted, err := middleware.ParseTrustedProxies(cfg.TrustedProxiesList())
	if err != nil {
		return err
	}
	cookies := middleware.Cookies{Secure: cfg.CookieSecure, ClaimTTL: cfg.CookieTTL()}
	limiter := middleware.NewRateLimiter(cfg.LoginRatePerMinute)
	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewHTTPHandler(server.HTTPDeps{
			Identity: identityhandler.New(auth, passwords, tokens, cookies, log),
			Session: middleware.SessionDeps{
				Tokens:   tokens,
				Sessions: sessions,
				Guard:    g,
				Cookies:  cookies,
				Log:      log,
			},
			Limiter:        limiter,
			TrustedProxies: trusted,
			Health:         checker,
			Log:            log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	var opsSrv *grpc.Server
	var opsLis net.Listener
	if cfg.OpsGRPCAddr != "" {
		opsLis, err = net.Listen("tcp", cfg.OpsGRPCAddr)
		if err != nil {
			return err
		}
		opsSrv = server.NewOpsServer(server.OpsDeps{Health: checker, Reflection: cfg.Env != "production"})
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if opsSrv != nil {
		eg.Go(func() error {
			log.Info("ops grpc server listening", "addr", cfg.OpsGRPCAddr)
			return opsSrv.Serve(opsLis)
		})
	}
	eg.Go(func() error {
		checker.Run(egCtx, healthInterval)
		return nil
	})
	if limiter != nil {
		eg.Go(func() error {
			limiter.Run(limiterSweepEvery, egCtx.Done())
			return nil
		})
	}
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if opsSrv != nil {
			opsSrv.GracefulStop()
		}
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// tokenProvider loads the claim signing keys. Outside production an unset key pair is replaced
// by an ephemeral one, so claims do not survive a restart.
func tokenProvider(cfg *config.Config, log *slog.Logger) (*security.TokenProvider, error) {
	var (
		priv crypto.Signer
		pub  crypto.PublicKey
		err  error
	)
	if cfg.JWTPrivateKey == "" && cfg.JWTPublicKey == "" {
		if cfg.Env == "production" {
			return nil, errors.New("JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set when APP_ENV=production")
		}
		log.Warn("no signing key configured; using an ephemeral key pair")
		priv, pub, err = security.GenerateEphemeralKeyPair()
	} else {
		priv, pub, err = security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	}
	if err != nil {
		return nil, err
	}
	return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.CookieTTL()), nil
}
