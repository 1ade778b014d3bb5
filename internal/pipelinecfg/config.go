/*
Copyright 2023 Alexander Bartolomey (github@alexanderbartolomey.de)

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package pipelinecfg is the plain Go value a pipeline is built from.
// Parsing a configuration document into one of these is left to whatever
// embeds this module; nothing here reads a file or a flag.
package pipelinecfg

import (
	"fmt"
	"time"
)

// WriterConfig holds the recognized options for the IPFIX file writer.
type WriterConfig struct {
	// Filename is a strftime-expanded pattern; required, non-empty.
	Filename string

	// UseLocalTime selects the clock strftime tokens are expanded
	// against. Default (zero value) is UTC.
	UseLocalTime bool

	// WindowSize is the rotation window; zero means "never rotate,
	// single file for the process lifetime".
	WindowSize time.Duration

	// AlignWindows rounds rotation boundaries down to a multiple of
	// WindowSize (e.g. windowSize=1h aligns to the top of the hour)
	// instead of rotating WindowSize after the writer started.
	AlignWindows bool

	// PreserveOriginal, when true, writes Data Sets whose Template is
	// unknown to the writer verbatim; when false, they are dropped and
	// the message's sequence number is patched down by the dropped
	// record count.
	PreserveOriginal bool

	// RotateOnExportTime rotates against each message's ExportTime
	// instead of wall-clock time, so replaying an old capture rotates
	// files the same way it would have at capture time.
	RotateOnExportTime bool
}

// DefaultWriterConfig matches §6's documented defaults, everything but
// Filename itself (which has none).
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		AlignWindows: true,
	}
}

// Validate checks the invariants §6 documents: a non-empty filename and a
// non-negative window.
func (w WriterConfig) Validate() error {
	if w.Filename == "" {
		return fmt.Errorf("writer: filename is required")
	}
	if w.WindowSize < 0 {
		return fmt.Errorf("writer: windowSize must not be negative")
	}
	return nil
}

// Config is everything a running collector pipeline needs: where to
// listen, the UDP-only template/options lifetimes, how long an idle UDP
// peer survives before being aged out, and the writer it feeds.
type Config struct {
	UDPBindAddr string
	TCPBindAddr string

	TemplateLifetime  time.Duration
	OptionsLifetime   time.Duration
	ConnectionTimeout time.Duration
	PeriodicFlush     time.Duration

	// SnapshotTimeout bounds how long a namespace keeps a superseded
	// Template Snapshot reachable before discarding it. Recommended
	// range is 0-60s; 0 disables pruning and keeps every snapshot for
	// the namespace's lifetime.
	SnapshotTimeout time.Duration

	Writer WriterConfig
}

// DefaultConfig mirrors the teacher's own constructors' defaults
// (NewUDPListener/NewTCPListener took no timing knobs at all; this
// module's generalized Template Manager needs them, so sensible defaults
// live here instead of scattered across cmd/collector).
func DefaultConfig() Config {
	return Config{
		TemplateLifetime:  30 * time.Minute,
		OptionsLifetime:   30 * time.Minute,
		ConnectionTimeout: 5 * time.Minute,
		PeriodicFlush:     10 * time.Second,
		SnapshotTimeout:   30 * time.Second,
		Writer:            DefaultWriterConfig(),
	}
}

// Validate checks that at least one listener is configured, that the
// writer configuration (if a filename was set) is internally consistent,
// and that SnapshotTimeout falls within its documented 0-60s range.
func (c Config) Validate() error {
	if c.UDPBindAddr == "" && c.TCPBindAddr == "" {
		return fmt.Errorf("config: at least one of UDPBindAddr/TCPBindAddr is required")
	}
	if c.SnapshotTimeout < 0 || c.SnapshotTimeout > 60*time.Second {
		return fmt.Errorf("config: snapshotTimeout must be between 0 and 60s")
	}
	if c.Writer.Filename != "" {
		if err := c.Writer.Validate(); err != nil {
			return err
		}
	}
	return nil
}
