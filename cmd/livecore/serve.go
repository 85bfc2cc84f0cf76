package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	router "github.com/dkeye/LiveStudio/internal/adapters/http"
	"github.com/dkeye/LiveStudio/internal/adapters/cache"
	"github.com/dkeye/LiveStudio/internal/adapters/device"
	"github.com/dkeye/LiveStudio/internal/adapters/rest"
	"github.com/dkeye/LiveStudio/internal/adapters/rtc"
	"github.com/dkeye/LiveStudio/internal/adapters/ws"
	"github.com/dkeye/LiveStudio/internal/app/orch"
	"github.com/dkeye/LiveStudio/internal/config"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(v *viper.Viper, load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the room bus and serve the control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().Int("port", 0, "control API port")
	cmd.Flags().String("signal-url", "", "room bus websocket url")
	if err := v.BindPFlag("port", cmd.Flags().Lookup("port")); err != nil {
		panic(err)
	}
	if err := v.BindPFlag("signal.url", cmd.Flags().Lookup("signal-url")); err != nil {
		panic(err)
	}
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	self, err := domain.NewUserWithID(domain.UserID(cfg.User.ID), cfg.User.Name)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	bus := ws.New(ws.Config{
		URL:               cfg.Signal.URL,
		ReconnectDelay:    cfg.Signal.ReconnectDelay,
		ReconnectMaxDelay: cfg.Signal.ReconnectMaxDelay,
		ReconnectAttempts: cfg.Signal.ReconnectAttempts,
		SendBuffer:        cfg.Signal.SendBuffer,
		PingPeriod:        cfg.Signal.PingPeriod,
	})
	defer bus.Close()

	factory, err := rtc.NewFactory(rtc.ICEConfig{
		Mode:         cfg.ICE.Mode,
		STUNURLs:     cfg.ICE.STUNURLs,
		TURNURLs:     cfg.ICE.TURNURLs,
		TURNUsername: cfg.ICE.TURNUsername,
		TURNPassword: cfg.ICE.TURNPassword,
	})
	if err != nil {
		return fmt.Errorf("webrtc: %w", err)
	}

	backend := rest.New(rest.Config{BaseURL: cfg.REST.BaseURL, Token: cfg.REST.Token, Timeout: cfg.REST.Timeout})
	events := router.NewBroker(128)

	deps := orch.Deps{
		Transport:   bus,
		Connections: factory,
		Devices:     device.NewProvider(device.Config{Deny: cfg.Capture.Deny, NoCamera: cfg.Capture.NoCamera}),
		Streams:     backend,
		Ledger:      backend,
		PKStore:     backend,
		Events:      events,
		Self:        *self,
		Device:      domain.DeviceClass(cfg.Device),
		Settings: orch.Settings{
			ConnectTimeout:     cfg.Session.ConnectTimeout,
			EndAckTimeout:      cfg.Session.EndAckTimeout,
			AcquireTimeout:     cfg.Session.AcquireTimeout,
			SeatRequestTimeout: cfg.Session.SeatRequestTimeout,
			MaxReconnects:      cfg.Session.MaxReconnects,
			PKAcceptWindow:     cfg.PK.AcceptWindow,
			PKTick:             cfg.PK.Tick,
			ChatCap:            cfg.Overlay.ChatCap,
			GiftCap:            cfg.Overlay.GiftCap,
			ChatRate:           cfg.Overlay.ChatRate,
			ChatWindow:         cfg.Overlay.ChatWindow,
			MetadataTimeout:    cfg.REST.Timeout,
		},
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("module", "main").Str("addr", cfg.Redis.Addr).Msg("redis unreachable, metadata cache disabled")
		} else {
			deps.Cache = cache.NewRedisStore(rdb, "livecore", cfg.Redis.TTL)
		}
	}

	o := orch.New(deps)
	defer o.Close()

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(cfg, o, events),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// the bus outlives ctx so the session can still say goodbye on shutdown
	busCtx, stopBus := context.WithCancel(context.Background())
	defer stopBus()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bus.Run(busCtx)
	})
	g.Go(func() error {
		log.Info().Str("module", "main").Str("addr", addr).Str("user", cfg.User.ID).Msg("control API started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Str("module", "main").Msg("Shutting down")
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Session.EndAckTimeout+2*time.Second)
		defer cancel()
		if err := o.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Str("module", "main").Msg("stop session")
		}
		stopBus()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err == nil {
		log.Info().Str("module", "main").Msg("Server exited gracefully")
	}
	return err
}
