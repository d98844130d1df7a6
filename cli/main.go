package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/AstarVienna/irdb/cli/internal/client"
)

func main() {
	fs := flag.NewFlagSet("irdb-ping", flag.ExitOnError)

	var (
		server  string
		timeout time.Duration
	)
	fs.StringVar(&server, "server", getEnv("INSTPKGSVR_URL", client.DefaultEndpoint), "Usage log endpoint")
	fs.DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `irdb-ping - report instrument package downloads

Usage: irdb-ping [options] PACKAGE...

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  irdb-ping MICADO
  irdb-ping --server http://localhost:8080/api.php METIS HAWKI
`)
	}

	fs.Parse(os.Args[1:])

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	c := client.NewClient(server)
	enc := json.NewEncoder(os.Stdout)

	failed := false
	for _, name := range fs.Args() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		rec, err := c.LogPackageUse(ctx, name)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error logging %s: %v\n", name, err)
			failed = true
			continue
		}
		enc.Encode(rec)
	}

	if failed {
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
