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

// Command collector wires a UDP and/or TCP listener, the Template Manager
// registry, the parser, and the IPFIX file writer into one running
// pipeline. It follows the same shape as the teacher's
// Example_collectorTCP/Example_collectorUDP: resolve a shutdown context off
// SIGINT/SIGTERM, start each stage in its own goroutine, and drain the bus
// in a single consumer loop.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/netflowlabs/ipfixcollector"
	"github.com/netflowlabs/ipfixcollector/internal/bus"
	"github.com/netflowlabs/ipfixcollector/internal/ieregistry"
	"github.com/netflowlabs/ipfixcollector/internal/input"
	"github.com/netflowlabs/ipfixcollector/internal/netflow"
	"github.com/netflowlabs/ipfixcollector/internal/parser"
	"github.com/netflowlabs/ipfixcollector/internal/pipelinecfg"
	"github.com/netflowlabs/ipfixcollector/internal/session"
	"github.com/netflowlabs/ipfixcollector/internal/tmgr"
	"github.com/netflowlabs/ipfixcollector/internal/writer"
)

func main() {
	cfg := pipelinecfg.DefaultConfig()

	flag.StringVar(&cfg.UDPBindAddr, "udp", "[::]:4739", "UDP bind address, empty to disable")
	flag.StringVar(&cfg.TCPBindAddr, "tcp", "", "TCP bind address, empty to disable")
	flag.StringVar(&cfg.Writer.Filename, "out", "", "output filename pattern (strftime-expanded), empty to disable the writer")
	flag.DurationVar(&cfg.Writer.WindowSize, "window", 0, "output file rotation window, 0 to never rotate")
	flag.BoolVar(&cfg.Writer.PreserveOriginal, "preserve-original", false, "emit Data Sets verbatim even when their template is unknown")
	flag.DurationVar(&cfg.SnapshotTimeout, "snapshot-timeout", cfg.SnapshotTimeout, "grace window a superseded template snapshot is kept reachable for, 0-60s")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags))
	ipfix.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("received shutdown signal, initiating shutdown")
		cancel()
		<-sig
		os.Exit(1)
	}()

	run(ctx, cfg, logger)
}

func run(ctx context.Context, cfg pipelinecfg.Config, log logr.Logger) {
	events := make(chan bus.Message, 16)
	out := make(chan bus.Message, 256)
	feedback := bus.NewFeedbackEdge(8)

	sessions := session.NewRegistry(events, cfg.ConnectionTimeout)
	ies := ieregistry.NewSeedRegistry()
	templates := tmgr.NewRegistry()
	templates.SetSnapshotTimeout(cfg.SnapshotTimeout)
	pr := parser.New(log, templates, ies)
	v5 := netflow.NewV5Converter(ies, cfg.TemplateLifetime)
	v9 := netflow.NewV9Converter()

	sink := &input.Sink{
		Log:      log,
		Sessions: sessions,
		Parser:   pr,
		V5:       v5,
		V9:       v9,
		Out:      out,
		Feedback: feedback,
	}

	var fw *writer.FileWriter
	if cfg.Writer.Filename != "" {
		var err error
		fw, err = writer.NewFileWriter(cfg.Writer, log)
		if err != nil {
			log.Error(err, "failed to construct output writer")
			return
		}
		defer fw.Close()
	}

	go sessions.RunIdleSweep(ctx, time.Minute)

	if cfg.UDPBindAddr != "" {
		udp := input.NewUDPInput(cfg.UDPBindAddr, cfg.TemplateLifetime, cfg.OptionsLifetime, cfg.PeriodicFlush, sink)
		go func() {
			log.Info("starting UDP listener", "addr", cfg.UDPBindAddr)
			if err := udp.Listen(ctx); err != nil && ctx.Err() == nil {
				log.Error(err, "UDP listener exited")
			}
		}()
	}

	if cfg.TCPBindAddr != "" {
		tcp := input.NewTCPInput(cfg.TCPBindAddr, sink, feedback)
		go func() {
			log.Info("starting TCP listener", "addr", cfg.TCPBindAddr)
			if err := tcp.Listen(ctx); err != nil && ctx.Err() == nil {
				log.Error(err, "TCP listener exited")
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-events:
			handleSessionEvent(msg, fw)
		case msg := <-out:
			handleMessage(msg, fw, log)
		}
	}
}

func handleSessionEvent(msg bus.Message, fw *writer.FileWriter) {
	if msg.Kind != bus.KindSessionEvent || msg.SessionEvent == nil {
		return
	}
	if fw != nil && msg.SessionEvent.Kind == bus.SessionClose {
		fw.HandleSessionClose(msg.SessionEvent.SessionID)
	}
}

func handleMessage(msg bus.Message, fw *writer.FileWriter, log logr.Logger) {
	switch msg.Kind {
	case bus.KindIpfix:
		if fw == nil || msg.Ipfix == nil {
			return
		}
		if err := fw.Write(msg.Ipfix); err != nil {
			log.Error(err, "failed to write message")
		}
	case bus.KindGarbage:
		log.V(1).Info("evicted", "tag", msg.Garbage.Tag, "kind", msg.Garbage.Kind, "observationDomainId", msg.Garbage.ObservationDomainId)
	}
}
