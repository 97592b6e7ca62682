package snapshot

import (
	"log"
	"sync"

	"github.com/emberpeak/countflow_backend/config"
)

var (
	providerOnce sync.Once
	provider     Provider
)

// GetProvider returns the process-wide snapshot provider selected by
// SNAPSHOT_PROVIDER. An unusable square configuration falls back to the
// mock so the service still comes up in development.
func GetProvider() Provider {
	providerOnce.Do(func() {
		switch config.SnapshotProviderName() {
		case "square":
			p, err := NewSquareProvider()
			if err != nil {
				log.Printf("square snapshot provider unavailable, using mock: %v", err)
				provider = NewMockProvider()
				return
			}
			provider = p
		default:
			provider = NewMockProvider()
		}
	})
	return provider
}

// SetProvider replaces the process-wide provider. Tests use it to script
// upstream failures; production code never calls it.
func SetProvider(p Provider) {
	providerOnce.Do(func() {})
	provider = p
}
