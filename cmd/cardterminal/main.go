package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iurnickita/cardterminal/internal/auth"
	"github.com/iurnickita/cardterminal/internal/bridge"
	"github.com/iurnickita/cardterminal/internal/circuit"
	"github.com/iurnickita/cardterminal/internal/config"
	"github.com/iurnickita/cardterminal/internal/gate"
	"github.com/iurnickita/cardterminal/internal/handler"
	"github.com/iurnickita/cardterminal/internal/identity"
	identityConfig "github.com/iurnickita/cardterminal/internal/identity/config"
	"github.com/iurnickita/cardterminal/internal/identity/directoryclient"
	"github.com/iurnickita/cardterminal/internal/ingress"
	"github.com/iurnickita/cardterminal/internal/logger"
	"github.com/iurnickita/cardterminal/internal/metrics"
	"github.com/iurnickita/cardterminal/internal/model"
	"github.com/iurnickita/cardterminal/internal/reader"
	readerConfig "github.com/iurnickita/cardterminal/internal/reader/config"
	"github.com/iurnickita/cardterminal/internal/store"
	"github.com/iurnickita/cardterminal/internal/tracing"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.GetConfig(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		fmt.Print(config.Usage())
		return nil
	}
	if err != nil {
		return err
	}

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer zaplog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, zaplog)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	m := metrics.New()

	store, err := store.NewStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	finders, closeFinders, err := newFinders(cfg.Identity, store, zaplog)
	if err != nil {
		return err
	}
	defer closeFinders()

	chain, err := identity.NewChain(cfg.Identity, nil, finders, zaplog.Named("identity"), m)
	if err != nil {
		return err
	}
	if cfg.Identity.Prefetch {
		prefetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if _, err := chain.Prefetch(prefetchCtx); err != nil {
			zaplog.Warn("identity prefetch incomplete", zap.Error(err))
		}
		cancel()
	}

	bridge := bridge.New(cfg.Bridge, zaplog.Named("bridge"), m)
	defer bridge.Close()

	// таймаут заказа сообщается киоску
	gate := gate.NewGate(cfg.Gate, store, zaplog.Named("gate"), m, gate.WithAbandonHook(func(order model.Order) {
		bridge.Publish(order.Data.Session, model.OrderNotification(model.OrderEvent{
			Number: order.Number,
			State:  order.Data.State,
			Reason: order.Data.Reason,
			At:     order.Data.UpdatedAt,
		}))
	}))
	defer gate.Close()

	ingress := ingress.New(cfg.Ingress, chain, gate, bridge, zaplog.Named("ingress"), m)
	ingress.Start(ctx)
	defer ingress.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return handler.Serve(gctx, cfg.Handler, handler.Services{
			Auth:     auth.NewAuth(cfg.Auth, zaplog.Named("auth")),
			Gate:     gate,
			Bridge:   bridge,
			Terminal: ingress,
			Cards:    chain,
			Metrics:  m,
		}, zaplog)
	})

	if cfg.Reader.Type != readerConfig.TypeNone {
		tagReader, err := reader.New(cfg.Reader, os.Stdin)
		if err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return tagReader.Close()
		})
		g.Go(func() error {
			return reader.Run(gctx, tagReader, ingress, cfg.Reader.Session, zaplog.Named("reader"))
		})
	}

	return g.Wait()
}

// newFinders собирает источники в порядке из конфигурации
func newFinders(cfg identityConfig.Config, store store.Store, zaplog *zap.Logger) ([]identity.Finder, func(), error) {
	var (
		finders []identity.Finder
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	for _, name := range cfg.Finders {
		switch name {
		case identityConfig.FinderStore:
			finders = append(finders, identity.NewStoreFinder(store))
		case identityConfig.FinderRedis:
			rdb := identity.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			closers = append(closers, rdb.Close)
			finders = append(finders, identity.NewRedisFinder(rdb, cfg.RedisPrefix))
		case identityConfig.FinderDirectory:
			client := directoryclient.NewDirectoryClient(cfg.DirectoryAddr, cfg.FinderTimeout)
			breaker := circuit.New("directory",
				circuit.WithFailureThreshold(cfg.DirectoryFailureThreshold),
				circuit.WithCooldown(cfg.DirectoryCooldown),
			)
			finders = append(finders, identity.NewDirectoryFinder(client, breaker, zaplog.Named("directory")))
		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown finder %q", name)
		}
	}
	return finders, closeAll, nil
}
