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

package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
	"trpc.group/trpc-go/logstore"
	"trpc.group/trpc-go/logstore/protocol"
)

// Config is the daemon configuration. It is read from an optional yaml file
// and then overridden by any flag given on the command line.
type Config struct {
	Port           int           `yaml:"port"`
	Address        string        `yaml:"address"`
	Threads        int           `yaml:"threads"`
	QueueSize      int           `yaml:"queue_size"`
	ReusePort      bool          `yaml:"reuseport"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogLevel       string        `yaml:"log_level"`
	Snapshot       string        `yaml:"snapshot"`
	MetricsAddr    string        `yaml:"metrics_addr"`
}

func defaultConfig() *Config {
	return &Config{
		Port:      protocol.DefaultPort,
		Threads:   runtime.NumCPU(),
		QueueSize: 1024,
		LogLevel:  "info",
	}
}

// loadConfig parses args. Flags win over the file, the file wins over
// defaults.
func loadConfig(args []string) (*Config, error) {
	cfg := defaultConfig()
	flags := *cfg
	var path string
	fs := pflag.NewFlagSet("logstored", pflag.ContinueOnError)
	fs.StringVar(&path, "config", "", "path of a yaml configuration file")
	fs.IntVarP(&flags.Port, "port", "p", flags.Port, "port to listen on")
	fs.StringVar(&flags.Address, "address", flags.Address, "full listen address, overrides --port")
	fs.IntVarP(&flags.Threads, "threads", "t", flags.Threads, "number of worker threads")
	fs.IntVar(&flags.QueueSize, "queue-size", flags.QueueSize, "capacity of the scheduler queues")
	fs.BoolVar(&flags.ReusePort, "reuseport", flags.ReusePort, "bind the listener with SO_REUSEPORT")
	fs.DurationVar(&flags.RequestTimeout, "request-timeout", flags.RequestTimeout, "I/O bound of a single request, 0 disables it")
	fs.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "debug, info, warn or error")
	fs.StringVar(&flags.Snapshot, "snapshot", flags.Snapshot, "table snapshot loaded at start and saved at stop")
	fs.StringVar(&flags.MetricsAddr, "metrics-addr", flags.MetricsAddr, "address serving /metrics, empty disables it")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = flags.Port
		case "address":
			cfg.Address = flags.Address
		case "threads":
			cfg.Threads = flags.Threads
		case "queue-size":
			cfg.QueueSize = flags.QueueSize
		case "reuseport":
			cfg.ReusePort = flags.ReusePort
		case "request-timeout":
			cfg.RequestTimeout = flags.RequestTimeout
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		case "snapshot":
			cfg.Snapshot = flags.Snapshot
		case "metrics-addr":
			cfg.MetricsAddr = flags.MetricsAddr
		}
	})
	if cfg.Threads < 1 {
		return nil, fmt.Errorf("threads must be positive, got %d", cfg.Threads)
	}
	return cfg, nil
}

func (c *Config) serverOptions() []logstore.Option {
	opts := []logstore.Option{
		logstore.WithPort(c.Port),
		logstore.WithThreads(c.Threads),
		logstore.WithQueueSize(c.QueueSize),
		logstore.WithReusePort(c.ReusePort),
		logstore.WithRequestTimeout(c.RequestTimeout),
	}
	if c.Address != "" {
		opts = append(opts, logstore.WithAddress(c.Address))
	}
	return opts
}
