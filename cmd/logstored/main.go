//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

// Command logstored serves an in-memory ordered table over the logstore
// protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"trpc.group/trpc-go/logstore"
	"trpc.group/trpc-go/logstore/log"
	"trpc.group/trpc-go/logstore/memtable"
	"trpc.group/trpc-go/logstore/metrics"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		log.Fatalf("logstored: %v", err)
	}
}

func run(cfg *Config) error {
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	tbl, err := openTable(cfg.Snapshot)
	if err != nil {
		return err
	}
	defer tbl.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.MetricsAddr != "" {
		srv := metricsServer(cfg.MetricsAddr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("logstored: metrics endpoint: %v", err)
			}
		}()
		defer srv.Close()
	}

	s := logstore.NewServer(cfg.serverOptions()...)
	if err := s.Serve(ctx, tbl); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	metrics.ShowMetrics()
	if cfg.Snapshot == "" {
		return nil
	}
	return saveTable(tbl, cfg.Snapshot)
}

func metricsServer(addr string) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector("logstore"))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// openTable loads the snapshot at path, or returns an empty table when path
// is empty or does not exist yet.
func openTable(path string) (*memtable.Table, error) {
	if path == "" {
		return memtable.New(), nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Infof("logstored: no snapshot at %s, starting empty", path)
		return memtable.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	tbl, err := memtable.Load(f)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", path, err)
	}
	log.Infof("logstored: loaded %d keys from %s", tbl.Len(), path)
	return tbl, nil
}

// saveTable writes the snapshot next to path and renames it into place.
func saveTable(tbl *memtable.Table, path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := tbl.Save(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	log.Infof("logstored: saved %d keys to %s", tbl.Len(), path)
	return nil
}
