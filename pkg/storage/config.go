package storage

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the Ledger provider based on flags.
func Configured() Ledger {
	provider := lflag.String("storage-provider", "memory", "Storage provider to use (available: memory, firestore)")

	var p struct{ Ledger }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "memory":
			p.Ledger = NewMemory()
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Ledger = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
