package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/hexatalk/internal/auth"
	"github.com/Tyrowin/hexatalk/internal/config"
	"github.com/Tyrowin/hexatalk/internal/logger"
	"github.com/Tyrowin/hexatalk/internal/server"
	"github.com/Tyrowin/hexatalk/internal/store"
)

const revocationPurgeInterval = time.Hour

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML configuration file")
	pflag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "hexatalk: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}
	log.Info("database ready", zap.String("type", cfg.Database.Type))

	g, ctx := errgroup.WithContext(ctx)

	var revocations auth.Revocations
	switch cfg.Auth.Revocation.Backend {
	case config.RevocationRedis:
		client, err := auth.DialRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		revocations = auth.NewRedisRevocations(client, cfg.Redis.KeyPrefix)
	default:
		dbRevocations := auth.NewDBRevocations(st.DB())
		revocations = dbRevocations
		g.Go(func() error {
			purgeRevocations(ctx, dbRevocations, log)
			return nil
		})
	}

	authn := auth.NewAuthenticator(cfg.Auth.TokenSecret, st, revocations)
	srvCfg := server.NewConfigFromSettings(cfg)
	chat := server.New(*srvCfg, st, authn, log)
	httpServer := server.CreateServer(*srvCfg, chat.Handler())

	g.Go(func() error {
		return server.StartServer(httpServer, log)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		err := server.ShutdownServer(httpServer, srvCfg.ShutdownTimeout, log)
		if hubErr := chat.Shutdown(); hubErr != nil {
			log.Warn("hub shutdown incomplete", zap.Error(hubErr))
		}
		return err
	})

	return g.Wait()
}

func purgeRevocations(ctx context.Context, r *auth.DBRevocations, log *zap.Logger) {
	ticker := time.NewTicker(revocationPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Purge(ctx)
			if err != nil {
				log.Warn("failed to purge expired revocations", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("purged expired revocations", zap.Int64("count", n))
			}
		}
	}
}
