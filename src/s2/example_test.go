package s2

import (
	"context"
	"os"
	"os/signal"

	"github.com/mosaicnetworks/s2/src/config"
)

// This example starts a relay node with the default configuration, and stops
// it on interrupt.
func Example() {
	// Start from default configuration.
	s2Config := config.NewDefaultConfig()

	// Relay nodes need at least one authoritative node to connect to.
	s2Config.Seeds = []string{"192.0.2.1:10234"}

	// Instantiate the engine.
	engine := NewS2(s2Config)

	// Read in the configuration and initialise the node accordingly.
	if err := engine.Init(); err != nil {
		s2Config.Logger().Error("Cannot initialize s2: ", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		<-sig
		cancel()
	}()

	// Run blocks until the context is cancelled.
	engine.Run(ctx)
}
