// migrate applies the embedded PostgreSQL migrations.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/layer-3/turnstile/adapters/store"
	"github.com/layer-3/turnstile/config"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	dsn, err := config.LoadDatabaseURL()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := store.Migrate(dsn, *direction); err != nil {
		if errors.Is(err, store.ErrNoChange) {
			return
		}
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
