package provider

import "time"

// AdapterConfig is the per-adapter constructor input, distinct from
// core/config.ProviderConfig (the ambient config value) so this package
// stays free of a core/config import; the registry builder does the
// translation.
type AdapterConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}
