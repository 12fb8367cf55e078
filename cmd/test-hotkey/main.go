// Command test-hotkey is a manual test for the global hotkey bindings.
// Run it, then press the configured shortcuts to see the actions.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--config path]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chaz8081/blelkdom-ctl/internal/config"
	"github.com/chaz8081/blelkdom-ctl/internal/hotkey"
)

func main() {
	cfgPath := flag.String("config", config.DefaultConfigPath(), "config file path")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	bindings := hotkey.BindingsFromConfig(cfg.Hotkeys)
	for _, b := range bindings {
		fmt.Printf("  %-16s %s\n", b.Action, strings.Join(b.Keys, "+"))
	}
	fmt.Println("Press Ctrl+C to exit.")

	listener := hotkey.NewListener(bindings)

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	go func() {
		for a := range listener.Actions() {
			fmt.Printf(">>> %s\n", a)
		}
		fmt.Println("Action channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
