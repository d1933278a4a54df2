// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ffutop/modbus-sim/client"
	"github.com/ffutop/modbus-sim/internal/codec"
	"github.com/ffutop/modbus-sim/internal/config"
	"github.com/ffutop/modbus-sim/internal/dispatcher"
	"github.com/ffutop/modbus-sim/internal/model"
	"github.com/ffutop/modbus-sim/transport"
	"github.com/ffutop/modbus-sim/transport/rtu"
	"github.com/ffutop/modbus-sim/transport/tcp"
)

func main() {
	configFile := flag.String("config-file", "", "Path to a YAML device config file")
	verboseMode := flag.Bool("verbose-mode", false, "Enable verbose (debug) logging")
	externalMode := flag.Bool("external-mode", false, "Enable external-mode snapshot/reload cycle (requires --config-file)")

	protocol := flag.String("protocol", "tcp", "One-shot mode: protocol_type (tcp, rtu)")
	deviceID := flag.Uint("device-id", 1, "One-shot mode: device_id")
	ipAddress := flag.String("ip-address", "", "One-shot mode: ip_address")
	serialPort := flag.String("serial-port", "", "One-shot mode: serial_port")
	serialBaudRate := flag.Int("serial-baudrate", 9600, "One-shot mode: serial_baudrate")
	serialParity := flag.String("serial-parity", "N", "One-shot mode: serial_parity")
	serialStopBits := flag.Int("serial-stop-bits", 1, "One-shot mode: serial_stop_bits")
	serialDataBits := flag.Int("serial-data-bits", 8, "One-shot mode: serial_data_bits")
	endianness := flag.String("endianness", "little_endian", "One-shot mode: endianness")

	functionCode := flag.String("function-code", "", "One-shot mode: function_code")
	startAddress := flag.Uint("start-address", 0, "One-shot mode: access_start_address")
	quantity := flag.Uint("quantity", 1, "One-shot mode: access_quantity")
	values := flag.String("values", "", "One-shot mode: comma-separated new_values")
	repeat := flag.Uint("repeat", 1, "One-shot mode: repeat_times (65535 = indefinite)")
	delay := flag.Uint("delay", 0, "One-shot mode: delay in units of 100ms")
	dataType := flag.String("data-type", "uint16", "One-shot mode: data_type")
	serverID := flag.Uint("server-id", 1, "One-shot mode: server_id")
	serverAddress := flag.String("server-address", "", "One-shot mode: server_address")

	flag.Parse()

	cfg, err := resolveConfig(*configFile, *verboseMode, *externalMode, oneShotFlags{
		protocol:       *protocol,
		deviceID:       byte(*deviceID),
		ipAddress:      *ipAddress,
		serialPort:     *serialPort,
		serialBaudRate: *serialBaudRate,
		serialParity:   *serialParity,
		serialStopBits: *serialStopBits,
		serialDataBits: *serialDataBits,
		endianness:     *endianness,
		functionCode:   *functionCode,
		startAddress:   uint16(*startAddress),
		quantity:       uint16(*quantity),
		values:         *values,
		repeat:         uint16(*repeat),
		delay:          uint16(*delay),
		dataType:       *dataType,
		serverID:       byte(*serverID),
		serverAddress:  *serverAddress,
	})
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.VerboseMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch cfg.Common.DeviceType {
	case config.Server:
		runServer(ctx, cfg)
	default:
		runClient(ctx, cfg)
	}
}

type oneShotFlags struct {
	protocol       string
	deviceID       byte
	ipAddress      string
	serialPort     string
	serialBaudRate int
	serialParity   string
	serialStopBits int
	serialDataBits int
	endianness     string

	functionCode  string
	startAddress  uint16
	quantity      uint16
	values        string
	repeat        uint16
	delay         uint16
	dataType      string
	serverID      byte
	serverAddress string
}

// resolveConfig loads a YAML file when one is given, otherwise builds
// a single-request client DeviceConfig from the one-shot flag surface.
func resolveConfig(configFile string, verboseMode, externalMode bool, f oneShotFlags) (*config.DeviceConfig, error) {
	if configFile != "" {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return nil, err
		}
		cfg.VerboseMode = cfg.VerboseMode || verboseMode
		cfg.ExternalMode = cfg.ExternalMode || externalMode
		return cfg, nil
	}

	if externalMode {
		return nil, fmt.Errorf("config: external_mode requires --config-file")
	}

	var protocolType config.ProtocolType
	if strings.EqualFold(f.protocol, "rtu") {
		protocolType = config.RTU
	} else {
		protocolType = config.TCP
	}

	e, err := codec.ParseEndianness(f.endianness)
	if err != nil {
		return nil, err
	}

	common := config.CommonConfig{
		ProtocolType:   protocolType,
		DeviceType:     config.Client,
		DeviceID:       f.deviceID,
		IPAddress:      f.ipAddress,
		SerialPort:     f.serialPort,
		SerialBaudRate: f.serialBaudRate,
		SerialParity:   f.serialParity,
		SerialStopBits: f.serialStopBits,
		SerialDataBits: f.serialDataBits,
		Endianness:     e,
	}
	if err := common.Validate(); err != nil {
		return nil, err
	}

	fc, err := parseOneShotRequest(f)
	if err != nil {
		return nil, err
	}

	return &config.DeviceConfig{
		Common:      common,
		VerboseMode: verboseMode,
		Client: &config.ClientConfig{
			Sections: []config.ClientSection{{
				ServerID:      f.serverID,
				ServerAddress: f.serverAddress,
				RepeatTimes:   1,
				Request:       &fc,
			}},
		},
	}, nil
}

func parseOneShotRequest(f oneShotFlags) (config.ClientRequest, error) {
	var req config.ClientRequest
	if f.functionCode == "" {
		return req, fmt.Errorf("config: one-shot mode requires --function-code")
	}
	fc, err := model.ParseFunctionCode(f.functionCode)
	if err != nil {
		return req, err
	}
	dt, err := codec.ParseDataType(f.dataType)
	if err != nil {
		return req, err
	}
	var newValues []string
	if f.values != "" {
		newValues = strings.Split(f.values, ",")
	}

	req = config.ClientRequest{
		FunctionCode:       fc,
		AccessStartAddress: f.startAddress,
		AccessQuantity:     f.quantity,
		NewValues:          newValues,
		RepeatTimes:        f.repeat,
		Delay:              f.delay,
		DataType:           dt,
	}
	return req, nil
}

func runServer(ctx context.Context, cfg *config.DeviceConfig) {
	if cfg.Server == nil {
		slog.Error("device_type server requires a server section")
		os.Exit(1)
	}

	d := dispatcher.New(cfg.Server, cfg.Common.Endianness, cfg.ExternalMode)

	var upstream transport.Upstream
	switch cfg.Common.ProtocolType {
	case config.RTU:
		upstream = rtu.NewServer(cfg.Common.Serial())
	default:
		upstream = tcp.NewServer(cfg.Common.IPAddress)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		slog.Info("shutting down")
		cancel()
		upstream.Close()
	}()

	slog.Info("starting modbus server", "protocol", cfg.Common.ProtocolType.String())
	if err := upstream.Start(ctx, d.Handle); err != nil {
		slog.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
}

func runClient(ctx context.Context, cfg *config.DeviceConfig) {
	if cfg.Client == nil || len(cfg.Client.Sections) == 0 {
		slog.Error("device_type client requires at least one client section")
		os.Exit(1)
	}

	for _, section := range cfg.Client.Sections {
		ds, slaveID, err := dialDownstream(ctx, cfg.Common, section)
		if err != nil {
			slog.Error("failed to connect downstream", "err", err)
			continue
		}

		requests := section.Requests(func(format string, args ...interface{}) {
			slog.Warn(fmt.Sprintf(format, args...))
		})

		engine := client.NewEngine(ds, slaveID, cfg.Common.Endianness)
		if err := engine.RunSection(ctx, section, requests, nil); err != nil {
			slog.Error("section stopped with error", "err", err)
		}
		ds.Close()
	}
}

func dialDownstream(ctx context.Context, common config.CommonConfig, section config.ClientSection) (transport.Downstream, byte, error) {
	slaveID := common.DeviceID
	if section.ServerID != 0 {
		slaveID = section.ServerID
	}

	var ds transport.Downstream
	switch common.ProtocolType {
	case config.RTU:
		ds = rtu.NewClient(common.Serial())
	default:
		address := common.IPAddress
		if section.ServerAddress != "" {
			address = section.ServerAddress
		}
		ds = tcp.NewClient(address)
	}

	if err := ds.Connect(ctx); err != nil {
		return nil, 0, err
	}
	return ds, slaveID, nil
}

func setupLogger(verbose bool) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)))
}
