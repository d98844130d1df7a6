package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/AstarVienna/irdb/internal/usagelog"
	"github.com/AstarVienna/irdb/server/internal/config"
	"github.com/AstarVienna/irdb/server/internal/server"
	"github.com/kardianos/service"
)

func main() {
	log.SetPrefix("[instpkgsvr] ")

	command := "run"
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "run", "install", "start", "stop", "uninstall", "status", "verify":
			command = args[0]
			args = args[1:]
		}
	}

	fs := flag.NewFlagSet("instpkgsvr", flag.ExitOnError)
	var configPath string
	fs.StringVar(&configPath, "config", os.Getenv("CONFIG"), "Path to YAML config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `instpkgsvr - instrument package usage logger

Usage: instpkgsvr [command] [options]

Commands:
  run         Serve in the foreground (default)
  install     Install as a background service
  start       Start the background service
  stop        Stop the background service
  uninstall   Remove the background service
  status      Show service status
  verify      Check every line of the usage log

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Environment:
  PORT      Listen port (overrides addr)
  LOG_FILE  Usage log path (default scopesim.log)
  TZ_NAME   Time zone for the time field (default UTC)
  CONFIG    Config file path
`)
	}

	fs.Parse(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if command == "verify" {
		runVerify(cfg, fs.Args())
		return
	}

	srv, err := server.New(cfg, log.Default())
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	svcConfig := &service.Config{
		Name:        "instpkgsvr",
		DisplayName: "Instrument Package Usage Logger",
		Description: "Logs instrument package downloads to a JSON-lines file",
		Arguments:   serviceArguments(configPath),
	}
	if wd, err := os.Getwd(); err == nil {
		// Keeps a relative log_file pointing at the same place once installed
		svcConfig.WorkingDirectory = wd
	}

	s, err := service.New(srv, svcConfig)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	switch command {
	case "install":
		if err := s.Install(); err != nil {
			log.Fatalf("Failed to install service: %v", err)
		}
		if err := s.Start(); err != nil {
			log.Fatalf("Service installed but failed to start: %v", err)
		}
		fmt.Println("Service installed and started.")

	case "start":
		if err := s.Start(); err != nil {
			log.Fatalf("Failed to start service: %v", err)
		}
		fmt.Println("Service started.")

	case "stop":
		if err := s.Stop(); err != nil {
			log.Fatalf("Failed to stop service: %v", err)
		}
		fmt.Println("Service stopped.")

	case "uninstall":
		s.Stop() // ignore error
		if err := s.Uninstall(); err != nil {
			log.Fatalf("Failed to uninstall service: %v", err)
		}
		fmt.Println("Service uninstalled.")

	case "status":
		status, err := s.Status()
		if err != nil {
			fmt.Printf("Service status: not installed or error (%v)\n", err)
			return
		}
		switch status {
		case service.StatusRunning:
			fmt.Println("Service status: running")
		case service.StatusStopped:
			fmt.Println("Service status: stopped")
		default:
			fmt.Println("Service status: unknown")
		}

	default:
		logger, err := s.Logger(nil)
		if err != nil {
			log.Fatalf("Failed to create service logger: %v", err)
		}
		if err := s.Run(); err != nil {
			logger.Error(err)
			os.Exit(1)
		}
	}
}

func serviceArguments(configPath string) []string {
	args := []string{"run"}
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			configPath = abs
		}
		args = append(args, "-config", configPath)
	}
	return args
}

func runVerify(cfg *config.Config, args []string) {
	path := cfg.LogFile
	if len(args) > 0 {
		path = args[0]
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("%v", err)
	}

	start := time.Now()
	report, err := usagelog.Verify(path, loc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading usage log: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s: %d lines, %d valid, %d malformed, %d inconsistent (%s)\n",
		path, report.Lines, report.Valid, report.Malformed, report.Inconsistent, time.Since(start).Round(time.Millisecond))

	if !report.OK() {
		shown := report.BadLines
		if len(shown) > 20 {
			shown = shown[:20]
		}
		fmt.Printf("Bad lines: %v\n", shown)
		os.Exit(1)
	}
}
