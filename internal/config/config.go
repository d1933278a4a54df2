// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package config loads the YAML device configuration: the common
// transport parameters, the optional client script, and the optional
// server data model.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ffutop/modbus-sim/internal/codec"
	"github.com/ffutop/modbus-sim/internal/model"
)

// ProtocolType selects the transport the device speaks.
type ProtocolType int

const (
	TCP ProtocolType = iota
	RTU
)

func (p ProtocolType) String() string {
	if p == RTU {
		return "rtu"
	}
	return "tcp"
}

// MarshalYAML implements yaml.Marshaler.
func (p ProtocolType) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *ProtocolType) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	switch strings.ToLower(s) {
	case "tcp":
		*p = TCP
	case "rtu":
		*p = RTU
	default:
		return fmt.Errorf("config: unknown protocol_type %q", s)
	}
	return nil
}

// DeviceType selects whether the process runs as a client or a server.
type DeviceType int

const (
	Client DeviceType = iota
	Server
)

func (d DeviceType) String() string {
	if d == Server {
		return "server"
	}
	return "client"
}

// MarshalYAML implements yaml.Marshaler.
func (d DeviceType) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *DeviceType) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	switch strings.ToLower(s) {
	case "client":
		*d = Client
	case "server":
		*d = Server
	default:
		return fmt.Errorf("config: unknown device_type %q", s)
	}
	return nil
}

// SerialConfig carries the semantic serial parameters; transport/rtu
// maps these directly onto a grid-x/serial.Config.
type SerialConfig struct {
	Device    string        `yaml:"device" mapstructure:"device"`
	BaudRate  int           `yaml:"baud_rate" mapstructure:"baud_rate"`
	DataBits  int           `yaml:"data_bits" mapstructure:"data_bits"`
	Parity    string        `yaml:"parity" mapstructure:"parity"`
	StopBits  int           `yaml:"stop_bits" mapstructure:"stop_bits"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RqstPause time.Duration `yaml:"rqst_pause" mapstructure:"rqst_pause"`

	RS485              bool          `yaml:"rs485,omitempty" mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `yaml:"delay_rts_before_send,omitempty" mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `yaml:"delay_rts_after_send,omitempty" mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `yaml:"rts_high_during_send,omitempty" mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `yaml:"rts_high_after_send,omitempty" mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `yaml:"rx_during_tx,omitempty" mapstructure:"rx_during_tx"`
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Timeout == 0 {
		s.Timeout = 500 * time.Millisecond
	}
	if s.RqstPause == 0 {
		s.RqstPause = 100 * time.Millisecond
	}
}

// CommonConfig names the transport-level parameters shared by both
// the client and server roles.
type CommonConfig struct {
	ProtocolType   ProtocolType     `yaml:"protocol_type"`
	DeviceType     DeviceType       `yaml:"device_type"`
	DeviceID       byte             `yaml:"device_id"`
	IPAddress      string           `yaml:"ip_address,omitempty"`
	SerialPort     string           `yaml:"serial_port,omitempty"`
	SerialBaudRate int              `yaml:"serial_baudrate,omitempty"`
	SerialParity   string           `yaml:"serial_parity,omitempty"`
	SerialStopBits int              `yaml:"serial_stop_bits,omitempty"`
	SerialDataBits int              `yaml:"serial_data_bits,omitempty"`
	Endianness     codec.Endianness `yaml:"endianness"`
}

// Validate enforces the protocol-dependent field invariants.
func (c CommonConfig) Validate() error {
	switch c.ProtocolType {
	case TCP:
		if c.IPAddress == "" {
			return fmt.Errorf("config: protocol_type tcp requires ip_address")
		}
	case RTU:
		if c.SerialPort == "" || c.SerialBaudRate == 0 {
			return fmt.Errorf("config: protocol_type rtu requires serial_port and serial_baudrate")
		}
	}
	return nil
}

// Serial bridges CommonConfig's flat serial fields into the shape
// transport/rtu expects.
func (c CommonConfig) Serial() SerialConfig {
	s := SerialConfig{
		Device:   c.SerialPort,
		BaudRate: c.SerialBaudRate,
		DataBits: c.SerialDataBits,
		Parity:   c.SerialParity,
		StopBits: c.SerialStopBits,
	}
	fixupSerial(&s)
	return s
}

// ClientRequest is one scripted Modbus request issued by the client
// engine.
type ClientRequest struct {
	Description        string             `yaml:"description,omitempty"`
	FunctionCode       model.FunctionCode `yaml:"function_code"`
	AccessStartAddress uint16             `yaml:"access_start_address"`
	AccessQuantity     uint16             `yaml:"access_quantity"`
	NewValues          []string           `yaml:"new_values,omitempty"`
	RepeatTimes        uint16             `yaml:"repeat_times,omitempty"`
	Delay              uint16             `yaml:"delay,omitempty"`
	DataType           codec.DataType     `yaml:"data_type,omitempty"`
}

// EffectiveRepeat returns the configured repeat count, defaulting to 1.
func (r ClientRequest) EffectiveRepeat() uint16 {
	if r.RepeatTimes == 0 {
		return 1
	}
	return r.RepeatTimes
}

// Indefinite is the repeat_times sentinel meaning "forever".
const Indefinite uint16 = 0xFFFF

// ClientSection groups requests loaded from files plus one inline
// request, sharing a server id / server address and a repeat count.
type ClientSection struct {
	ServerID      byte           `yaml:"server_id,omitempty"`
	ServerAddress string         `yaml:"server_address,omitempty"`
	RepeatTimes   uint16         `yaml:"repeat_times,omitempty"`
	RequestFiles  []string       `yaml:"request_files,omitempty"`
	Request       *ClientRequest `yaml:"request,omitempty"`
}

// EffectiveRepeat returns the configured repeat count, defaulting to 1.
func (s ClientSection) EffectiveRepeat() uint16 {
	if s.RepeatTimes == 0 {
		return 1
	}
	return s.RepeatTimes
}

// Requests resolves the section's effective request list: each
// request_files entry parsed as YAML, in order, followed by the
// inline request if present. A file that fails to parse is skipped,
// not fatal to the section.
func (s ClientSection) Requests(logf func(format string, args ...interface{})) []ClientRequest {
	var out []ClientRequest
	for _, path := range s.RequestFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			logf("skipping request file %s: %v", path, err)
			continue
		}
		var req ClientRequest
		if err := yaml.Unmarshal(data, &req); err != nil {
			logf("skipping request file %s: %v", path, err)
			continue
		}
		out = append(out, req)
	}
	if s.Request != nil {
		out = append(out, *s.Request)
	}
	return out
}

// ClientConfig is the top-level client script: an ordered list of
// sections.
type ClientConfig struct {
	Sections []ClientSection `yaml:"sections,omitempty"`
}

// ServerConfig is the data model plus optional external-mode snapshot
// wiring.
type ServerConfig struct {
	RegisterData     model.RegisterDatabase `yaml:"register_data,omitempty"`
	CoilData         model.CoilDatabase     `yaml:"coil_data,omitempty"`
	RegisterDataFile string                 `yaml:"register_data_file,omitempty"`
	CoilDataFile     string                 `yaml:"coil_data_file,omitempty"`
	ExternalProgram  string                 `yaml:"external_program,omitempty"`
}

// DeviceConfig is the full YAML configuration document.
type DeviceConfig struct {
	Common       CommonConfig  `yaml:"common"`
	Client       *ClientConfig `yaml:"client,omitempty"`
	Server       *ServerConfig `yaml:"server,omitempty"`
	VerboseMode  bool          `yaml:"verbose_mode,omitempty"`
	ExternalMode bool          `yaml:"external_mode,omitempty"`
}

// LoadConfig resolves the config file path with viper's search-path
// convention, then decodes it directly with yaml.v3 so the tagged
// unions (FunctionCode, DataType, CoilValue, ...) get their custom
// UnmarshalYAML hooks invoked — viper's own Unmarshal goes through
// mapstructure over a generic map and would bypass them.
func LoadConfig(configFile string) (*DeviceConfig, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbus-sim/")
		v.AddConfigPath("$HOME/.modbus-sim")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	data, err := os.ReadFile(v.ConfigFileUsed())
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg DeviceConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Common.Validate(); err != nil {
		return nil, err
	}
	if cfg.ExternalMode && configFile == "" {
		return nil, fmt.Errorf("config: external_mode requires --config-file")
	}

	return &cfg, nil
}
