// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package snapshot implements the external-mode hook: writing the
// live register/coil databases to YAML, invoking an external program,
// and reloading the databases from the files it (possibly) mutated.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"gopkg.in/yaml.v3"

	"github.com/ffutop/modbus-sim/internal/model"
)

// Store names the two YAML files backing external-mode state and the
// external program invoked between writes and re-reads.
type Store struct {
	RegisterDataFile string
	CoilDataFile     string
	ExternalProgram  string
}

// Enabled reports whether external mode has anywhere to read from or
// write to.
func (s Store) Enabled() bool {
	return s.RegisterDataFile != "" || s.CoilDataFile != ""
}

// Load overwrites registers/coils in place with the files' contents.
// Called before dispatch so that state changes made by the previous
// external program invocation become visible. The arguments are
// pointers to the live maps so the caller's references are updated,
// not a local copy.
func (s Store) Load(registers *model.RegisterDatabase, coils *model.CoilDatabase) error {
	if s.RegisterDataFile != "" {
		if err := readYAML(s.RegisterDataFile, registers); err != nil {
			return fmt.Errorf("snapshot: loading registers: %w", err)
		}
	}
	if s.CoilDataFile != "" {
		if err := readYAML(s.CoilDataFile, coils); err != nil {
			return fmt.Errorf("snapshot: loading coils: %w", err)
		}
	}
	return nil
}

// Save writes the current databases to the two YAML files.
func (s Store) Save(registers model.RegisterDatabase, coils model.CoilDatabase) error {
	if s.RegisterDataFile != "" {
		if err := writeYAML(s.RegisterDataFile, registers); err != nil {
			return fmt.Errorf("snapshot: saving registers: %w", err)
		}
	}
	if s.CoilDataFile != "" {
		if err := writeYAML(s.CoilDataFile, coils); err != nil {
			return fmt.Errorf("snapshot: saving coils: %w", err)
		}
	}
	return nil
}

// Invoke runs the external program to completion, synchronously. A
// non-zero exit is not treated as fatal: the Modbus response still
// goes out regardless of what the external program did, so only
// failure to start the program (missing binary, permissions) is
// reported as an error; an *exec.ExitError is logged and swallowed.
func (s Store) Invoke(ctx context.Context) error {
	if s.ExternalProgram == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, s.ExternalProgram)
	cmd.Stdin = nil
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			slog.Debug("external program exited non-zero", "program", s.ExternalProgram, "exit_code", exitErr.ExitCode(), "output", string(out))
			return nil
		}
		return fmt.Errorf("snapshot: external program %s: %w (output: %s)", s.ExternalProgram, err, out)
	}
	return nil
}

// PostWrite is the full post-write hook: save, invoke, reload.
func (s Store) PostWrite(ctx context.Context, registers *model.RegisterDatabase, coils *model.CoilDatabase) error {
	if err := s.Save(*registers, *coils); err != nil {
		return err
	}
	if err := s.Invoke(ctx); err != nil {
		return err
	}
	return s.Load(registers, coils)
}

func readYAML(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, v)
}

func writeYAML(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
