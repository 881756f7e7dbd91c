// Command mastergate is the gateway daemon: it owns the serial buses,
// runs the Master and power communicators, keeps the power modules'
// clocks in sync and bridges Master events to MQTT.
//
// Usage:
//
//	mastergate -config /etc/mastergate/gateway.yaml
//
// Flags:
//
//	-config string  Configuration file path (default "/etc/mastergate/gateway.yaml")
//
// The daemon runs until SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mastergate/mastergate-go/pkg/config"
	"github.com/mastergate/mastergate-go/pkg/connection"
	"github.com/mastergate/mastergate-go/pkg/eeprom"
	"github.com/mastergate/mastergate-go/pkg/eeprom/extension"
	"github.com/mastergate/mastergate-go/pkg/log"
	"github.com/mastergate/mastergate-go/pkg/master"
	"github.com/mastergate/mastergate-go/pkg/persistence"
	"github.com/mastergate/mastergate-go/pkg/power"
	"github.com/mastergate/mastergate-go/pkg/transport"
	"github.com/mastergate/mastergate-go/pkg/version"
)

func main() {
	configPath := flag.String("config", "/etc/mastergate/gateway.yaml", "Configuration file path")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "mastergate:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, closeLogger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Master bus.
	masterTr, err := transport.OpenSerial(cfg.Master.Device, cfg.Master.Baud)
	if err != nil {
		return fmt.Errorf("open master device: %w", err)
	}
	defer masterTr.Close()

	comm := master.New(masterTr, master.Options{
		Timeout:     cfg.Master.Timeout.Std(),
		Attempts:    cfg.Master.Attempts,
		EventBuffer: cfg.Master.EventBuffer,
		Logger:      logger,
	})
	if err := comm.Start(); err != nil {
		return err
	}
	defer comm.Stop()

	// Persisted runtime state.
	var state *persistence.GatewayState
	var store *persistence.StateStore
	if cfg.StateFile != "" {
		store = persistence.NewStateStore(cfg.StateFile)
		state, err = store.Load()
		if err != nil {
			return fmt.Errorf("load state file: %w", err)
		}
	}
	if state == nil {
		state = &persistence.GatewayState{}
	}

	firmware := checkFirmware(ctx, comm)
	if firmware != "" {
		state.Firmware = firmware
	}

	// Device recovery after fatal transport errors.
	mgr := connection.NewManager(func(context.Context) (transport.Transport, error) {
		return transport.OpenSerial(cfg.Master.Device, cfg.Master.Baud)
	}, comm, nil, logger)
	mgr.Start()
	defer mgr.Close()
	go superviseMaster(ctx, comm, mgr)

	// Configuration memory.
	file := eeprom.NewFile(comm, eeprom.Geometry{
		Banks:    cfg.Eeprom.Banks,
		BankSize: cfg.Eeprom.BankSize,
	}, logger)
	ctrl := eeprom.NewController(file)

	var registry *extension.Registry
	if cfg.Eeprom.ExtensionBanks > 0 {
		registry, err = extension.NewRegistry(ctrl, extension.BankRange{
			Start: cfg.Eeprom.ExtensionStart,
			Banks: cfg.Eeprom.ExtensionBanks,
		})
		if err != nil {
			return err
		}
		if len(state.Extensions) > 0 {
			allocs := make(map[string]extension.Allocation, len(state.Extensions))
			for name, a := range state.Extensions {
				allocs[name] = extension.Allocation{Bank: a.Bank, Offset: a.Offset, Length: a.Length}
			}
			if err := registry.Restore(allocs); err != nil {
				return fmt.Errorf("restore extension allocations: %w", err)
			}
		}
	}

	if store != nil {
		defer saveState(store, state, registry)
	}

	// Master events: invalidate the EEPROM cache when the Master
	// reports a configuration change, and bridge the rest to MQTT.
	go watchEvents(ctx, comm, ctrl)

	var bridge *eventBridge
	if cfg.MQTT.Broker != "" {
		bridge, err = newEventBridge(cfg.MQTT, comm)
		if err != nil {
			return fmt.Errorf("mqtt bridge: %w", err)
		}
		defer bridge.Close()
		go bridge.Run(ctx)
	}

	// Keep the Master's wall clock accurate.
	if cfg.Master.ClockSyncInterval > 0 {
		go syncMasterClock(ctx, comm, cfg.Master.ClockSyncInterval.Std())
	}

	// Power bus.
	if cfg.Power.Device != "" {
		powerTr, err := transport.OpenSerial(cfg.Power.Device, cfg.Power.Baud)
		if err != nil {
			return fmt.Errorf("open power device: %w", err)
		}
		defer powerTr.Close()

		powerComm := power.NewCommunicator(powerTr, power.Options{
			Timeout:  cfg.Power.Timeout.Std(),
			Attempts: cfg.Power.Attempts,
			Logger:   logger,
		})
		keeper := power.NewTimeKeeper(powerComm, cfg.Power.Modules, cfg.Schedule(), power.TimeKeeperOptions{
			Interval: cfg.Power.SyncInterval.Std(),
			Logger:   logger,
		})
		keeper.Start()
		defer keeper.Stop()
	}

	slog.Info("mastergate running", "master", cfg.Master.Device, "power", cfg.Power.Device)
	<-ctx.Done()
	slog.Info("mastergate shutting down")
	return nil
}

// buildLogger assembles the protocol logger: console via slog, plus a
// CBOR trace file when configured.
func buildLogger(cfg *config.Config) (log.Logger, func(), error) {
	level := slog.LevelInfo
	if cfg.Log.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	loggers := []log.Logger{log.NewSlogAdapter(slog.Default())}
	closer := func() {}

	if cfg.Log.Trace != "" {
		fl, err := log.NewFileLogger(cfg.Log.Trace)
		if err != nil {
			return nil, nil, fmt.Errorf("open trace file: %w", err)
		}
		loggers = append(loggers, fl)
		closer = func() { fl.Close() }
	}
	return log.NewMultiLogger(loggers...), closer, nil
}

// checkFirmware queries the Master once and logs its firmware version,
// warning when it is older than the oldest supported release. Returns
// the version string, or "" when the Master did not answer.
func checkFirmware(ctx context.Context, comm *master.Communicator) string {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := comm.Execute(queryCtx, master.Status())
	if err != nil {
		slog.Warn("master status query failed", "error", err)
		return ""
	}
	info, err := master.ParseStatus(resp)
	if err != nil {
		slog.Warn("master status response invalid", "error", err)
		return ""
	}

	fw, err := version.Parse(info.Firmware)
	if err != nil {
		slog.Warn("master reported unparseable firmware version", "firmware", info.Firmware)
		return info.Firmware
	}
	if !fw.Supported() {
		slog.Warn("master firmware is older than the oldest supported release",
			"firmware", fw, "minimum", version.Minimum)
	} else {
		slog.Info("master online", "firmware", fw, "mode", info.Mode)
	}
	return info.Firmware
}

// saveState persists the gateway state, including the extension
// allocations, on shutdown.
func saveState(store *persistence.StateStore, state *persistence.GatewayState, registry *extension.Registry) {
	if registry != nil {
		allocs := registry.Allocations()
		state.Extensions = make(map[string]persistence.ExtensionAllocation, len(allocs))
		for name, a := range allocs {
			state.Extensions[name] = persistence.ExtensionAllocation{
				Bank: a.Bank, Offset: a.Offset, Length: a.Length,
			}
		}
	}
	if err := store.Save(state); err != nil {
		slog.Warn("save state file failed", "error", err)
	}
}

// superviseMaster triggers device recovery whenever the communicator
// latches a fatal transport error.
func superviseMaster(ctx context.Context, comm *master.Communicator, mgr *connection.Manager) {
	for {
		failed := comm.Failed()
		select {
		case <-ctx.Done():
			return
		case <-failed:
			mgr.NotifyLost()
		}
		// Wait for recovery before arming on the next transport.
		for mgr.State() == connection.StateRecovering {
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}

// watchEvents drops the EEPROM cache when the Master reinitialises its
// modules: cached configuration may no longer match the device.
func watchEvents(ctx context.Context, comm *master.Communicator, ctrl *eeprom.Controller) {
	sub := comm.Subscribe()
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Opcode == master.OpModuleInit {
				slog.Info("module init reported, dropping eeprom cache")
				ctrl.InvalidateAll()
			}
		}
	}
}

// syncMasterClock periodically sets the Master's wall clock.
func syncMasterClock(ctx context.Context, comm *master.Communicator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := comm.Execute(ctx, master.SetClock(time.Now())); err != nil {
				slog.Warn("master clock sync failed", "error", err)
			}
		}
	}
}
