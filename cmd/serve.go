package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/propflow/handoff/internal/api"
	"github.com/propflow/handoff/internal/audit"
	"github.com/propflow/handoff/internal/config"
	"github.com/propflow/handoff/internal/core"
	"github.com/propflow/handoff/internal/routing"
	"github.com/propflow/handoff/internal/service"
	"github.com/propflow/handoff/internal/sessions"
	"github.com/propflow/handoff/internal/store"
	"github.com/propflow/handoff/internal/tasks"
	"github.com/propflow/handoff/internal/token"
)

const sweepTaskName = "token-sweep"

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the handoff server",
	Long: `Runs the handoff HTTP server. Depending on the configuration this
serves the issuing side (origin mode), the redeeming side (receiver
mode), or both. Both sides must share the same secret and token store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Addr
		}

		tokenStore, err := buildStore(cfg)
		if err != nil {
			return fmt.Errorf("building token store: %w", err)
		}
		defer func() {
			_ = tokenStore.Close()
		}()

		auditor, err := buildAuditor(cfg)
		if err != nil {
			return fmt.Errorf("building auditor: %w", err)
		}
		defer func() {
			_ = auditor.Close()
		}()

		signer, err := token.NewSigner([]byte(cfg.Secret))
		if err != nil {
			return fmt.Errorf("building token signer: %w", err)
		}

		rules, err := routing.CompileRules(cfg.Routing.Rules, cfg.DestinationSet())
		if err != nil {
			return fmt.Errorf("compiling routing rules: %w", err)
		}
		router := routing.New(rules)

		var verifier core.SessionVerifier
		if cfg.Origin.Enabled {
			log.Info().Msg("Initializing session verifiers...")
			registry, err := sessions.BuildRegistry(cmd.Context(), cfg.Verifiers)
			if err != nil {
				return fmt.Errorf("building verifier registry: %w", err)
			}
			verifier = registry[cfg.Origin.Verifier]
		}

		var resolver core.RoleResolver
		var localIssuer *sessions.LocalIssuer
		if cfg.Receiver.Enabled {
			resolver, err = sessions.NewStaticRoleResolver(cfg.Roles)
			if err != nil {
				return fmt.Errorf("building role resolver: %w", err)
			}
			localIssuer, err = sessions.NewLocalIssuer([]byte(cfg.Secret), cfg.Receiver.Session.TTL)
			if err != nil {
				return fmt.Errorf("building local session issuer: %w", err)
			}
		}

		svc := service.NewTransferService(service.Options{
			Verifier:        verifier,
			Resolver:        resolver,
			Router:          router,
			Store:           tokenStore,
			Signer:          signer,
			Auditor:         auditor,
			Destinations:    cfg.Destinations,
			TTL:             cfg.Token.TTL,
			FreshnessWindow: cfg.Origin.FreshnessWindow,
			RateLimit:       cfg.Origin.RateLimit,
		})

		taskManager := tasks.NewManager()
		taskManager.Register(sweepTaskName, cfg.Token.SweepInterval, svc.SweepTask(cfg.Token.Retention))
		defer taskManager.Close()

		srv := api.NewServer(cfg, svc, router, localIssuer, taskManager, auditor, tokenStore)

		server := &http.Server{
			Addr:    addr,
			Handler: srv.Routes(),
		}

		go func() {
			log.Info().
				Bool("origin", cfg.Origin.Enabled).
				Bool("receiver", cfg.Receiver.Enabled).
				Msgf("Starting server on %s...", addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("Server crashed")
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info().Msg("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		log.Info().Msg("Server exited")
		return nil
	},
}

func buildStore(cfg *config.Config) (core.TokenStore, error) {
	switch cfg.Store.Type {
	case "sqlite":
		return store.OpenSQLite(cfg.Store.Path)
	default:
		if cfg.Origin.Enabled != cfg.Receiver.Enabled {
			log.Warn().Msg("memory store does not share state across deployments, tokens issued here cannot be redeemed elsewhere")
		}
		return store.NewInMemoryStore(), nil
	}
}

func buildAuditor(cfg *config.Config) (core.Auditor, error) {
	if !cfg.Audit.Enabled {
		return audit.NewNoopAuditor(), nil
	}
	switch cfg.Audit.Type {
	case "file":
		return audit.NewFileAuditor(cfg.Audit.Path)
	default:
		return audit.NewInMemoryAuditor(), nil
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "address to listen on (overrides the config file)")
}
