// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/szym/barnacle/pkg/config"
	"github.com/szym/barnacle/pkg/ctrlsock"
	"github.com/szym/barnacle/pkg/helper"
	"github.com/szym/barnacle/pkg/log"
	"github.com/szym/barnacle/pkg/netstate"
	"github.com/szym/barnacle/pkg/notify"
	"github.com/szym/barnacle/pkg/provision"
	"github.com/szym/barnacle/pkg/server"
	"github.com/szym/barnacle/pkg/tether"
	"github.com/szym/barnacle/pkg/traffic"
	"github.com/szym/barnacle/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "path to the daemon config file (default $BARNACLE_CONFIG or /etc/barnacle/tetherd.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log.InitStdoutLogger(cfg.LogLevel)
	defer log.Logger.Sync()
	log.Logger.Infof("Starting barnacle tethering daemon for %s", cfg.Name)

	if err := run(cfg); err != nil {
		log.Logger.Errorf("tetherd failed: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	platform := netstate.NewPlatform(cfg.WifiInterface, cfg.SupplicantDir)
	caps := platform.Capabilities()
	if !caps.RadioControl {
		log.Logger.Warnf("radio control is not supported here, the wifi radio must be disabled by hand")
	}

	bus := notify.NewBus(cfg.Name)
	events, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()
	go notify.LogEvents(events)

	orch, err := tether.New(tether.Options{
		Name:           cfg.Name,
		Filtering:      cfg.Filtering,
		SkipUplinkWait: cfg.SkipUplinkWait,
		AutoAssociate:  cfg.AutoAssociate,
		StopTimeout:    cfg.StopTimeout(),
		Provisioner:    provision.New(cfg),
		Platform:       platform,
		Launcher:       helper.ExecLauncher{},
		Notifier:       bus,
		Traffic:        traffic.NewReader(),
		ControlSocket:  ctrlsock.New,
	})
	if err != nil {
		return err
	}

	registry := tether.NewRegistry()
	if err := registry.Register(orch); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := orch.Run(ctx); err != nil {
			log.Logger.Errorf("orchestrator %s: %v", orch.Name(), err)
		}
	}()

	reactor := netstate.NewReactor(platform, 0)
	go func() {
		if err := reactor.Run(ctx, orch.NetworkChanged); err != nil {
			log.Logger.Errorf("network reactor stopped: %v", err)
		}
	}()

	go wait.UntilWithContext(ctx, func(ctx context.Context) {
		if orch.State() == types.StateRunning {
			orch.RequestStatsRefresh(0)
		}
	}, cfg.StatsPeriod())

	srv := server.NewServer(cfg.Listen, registry)
	go func() {
		if err := srv.Start(); err != nil {
			log.Logger.Errorf("%v", err)
			stop()
		}
	}()

	go handleToggle(ctx, registry, cfg.Name)

	if cfg.Autostart {
		orch.RequestStart()
	}

	<-ctx.Done()
	log.Logger.Infof("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Logger.Warnf("failed to shut down control server: %v", err)
	}

	wg.Wait()
	registry.Unregister(orch.Name())
	log.Logger.Infof("barnacle tethering daemon stopped")
	return nil
}

// handleToggle starts or stops the named tether on every toggle signal
func handleToggle(ctx context.Context, registry *tether.Registry, name string) {
	signals := toggleSignals()
	if len(signals) == 0 {
		return
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			o, ok := registry.Lookup(name)
			if !ok {
				log.Logger.Warnf("received %v but tether %s is not registered", sig, name)
				continue
			}
			log.Logger.Infof("received %v, toggling %s", sig, name)
			o.RequestToggle()
		}
	}
}
