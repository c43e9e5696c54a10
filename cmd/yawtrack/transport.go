package main

import (
	"context"
	"fmt"
	"log"

	"github.com/banshee-data/yawtrack/internal/attitude"
	"github.com/banshee-data/yawtrack/internal/config"
	"github.com/banshee-data/yawtrack/internal/serialmux"
	"github.com/banshee-data/yawtrack/internal/telemetry"
)

// openTransport builds the flight-controller transport named by the config.
// The returned mux is the serial bridge when one is in use and a disabled
// mux otherwise; the caller runs its Monitor loop and mounts its routes.
func openTransport(cfg *config.Config, dev bool) (attitude.Transport, serialmux.SerialMuxInterface, error) {
	name := cfg.GetTransport()
	if dev {
		name = config.TransportSim
	}

	switch name {
	case config.TransportSim:
		return telemetry.NewSim(telemetry.SimConfig{
			SystemID:    cfg.GetTargetSystem(),
			ComponentID: cfg.GetTargetComponent(),
			RateHz:      cfg.GetReportRateHz(),
		}), serialmux.NewDisabledSerialMux(disabledReason(name)), nil

	case config.TransportReplay:
		rp, err := telemetry.OpenReplay(telemetry.ReplayConfig{
			Path:  cfg.GetReplayFile(),
			Port:  cfg.GetReplayPort(),
			Speed: cfg.GetReplaySpeed(),
		})
		if err != nil {
			return nil, nil, err
		}
		return rp, serialmux.NewDisabledSerialMux(disabledReason(name)), nil

	case config.TransportSerial:
		if cfg.GetSerialProtocol() == "lines" {
			return openBridge(cfg)
		}
		mcfg := mavlinkConfig(cfg)
		mcfg.ListenAddress, mcfg.RemoteAddress = "", ""
		mcfg.SerialDevice = cfg.GetSerialPort()
		mcfg.SerialBaud = cfg.GetSerialBaudRate()
		m, err := telemetry.DialMAVLink(mcfg)
		if err != nil {
			return nil, nil, err
		}
		return m, serialmux.NewDisabledSerialMux(disabledReason(name)), nil

	case config.TransportMAVLink:
		m, err := telemetry.DialMAVLink(mavlinkConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		return m, serialmux.NewDisabledSerialMux(disabledReason(name)), nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", name)
}

func disabledReason(transport string) string {
	return fmt.Sprintf("transport %q does not use the serial bridge", transport)
}

func mavlinkConfig(cfg *config.Config) telemetry.MAVLinkConfig {
	return telemetry.MAVLinkConfig{
		ListenAddress:     cfg.GetReceiverAddress(),
		RemoteAddress:     cfg.GetSenderAddress(),
		LocalAddress:      cfg.GetLocalAddress(),
		SourceSystemID:    cfg.GetSourceSystemID(),
		SourceComponentID: telemetry.DefaultSourceComponentID,
		AckTimeout:        cfg.GetAckTimeout(),
	}
}

func portOptions(cfg *config.Config) serialmux.PortOptions {
	return serialmux.PortOptions{
		BaudRate: cfg.GetSerialBaudRate(),
		DataBits: cfg.GetSerialDataBits(),
		StopBits: cfg.GetSerialStopBits(),
		Parity:   cfg.GetSerialParity(),
	}
}

func openBridge(cfg *config.Config) (attitude.Transport, serialmux.SerialMuxInterface, error) {
	opts, err := portOptions(cfg).Normalize()
	if err != nil {
		return nil, nil, fmt.Errorf("serial options: %w", err)
	}
	mux, err := serialmux.NewRealSerialMux(cfg.GetSerialPort(), opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open serial bridge: %w", err)
	}
	mux.SetInitCommands(telemetry.BridgeInitCommands()...)
	if err := mux.Initialize(); err != nil {
		mux.Close()
		return nil, nil, fmt.Errorf("failed to initialize serial bridge: %w", err)
	}
	log.Printf("initialized serial bridge on %s (%d baud)", cfg.GetSerialPort(), opts.BaudRate)
	return telemetry.NewBridge(mux), mux, nil
}

// establish dials the link, logging while it waits for the first heartbeat.
func establish(ctx context.Context, cfg *config.Config, t attitude.Transport) (*attitude.Link, error) {
	log.Printf("waiting for flight controller heartbeat")
	link, err := attitude.Dial(ctx, attitude.LinkConfig{
		ReportRateHz:    cfg.GetReportRateHz(),
		TargetSystem:    cfg.GetTargetSystem(),
		TargetComponent: cfg.GetTargetComponent(),
	}, t)
	if err != nil {
		return nil, err
	}
	log.Printf("link established: %s", linkSummary(link.Stats(), t))
	return link, nil
}

// linkSummary describes an established link for the startup log.
func linkSummary(st attitude.Stats, t attitude.Transport) string {
	s := fmt.Sprintf("target %d/%d", st.TargetSystem, st.TargetComponent)
	if m, ok := t.(*telemetry.MAVLink); ok {
		s += fmt.Sprintf(", %d mavlink channel(s) open", m.Channels())
	}
	return s
}
