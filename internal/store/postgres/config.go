package postgres

import (
	"fmt"
)

// AuthEventStoreConfig holds store specific configuration for the PostgreSQL auth event
// store. Pool configuration is handled separately via PoolConfig.
type AuthEventStoreConfig struct {
	// AutoMigrate applies pending migrations when the store is created.
	AutoMigrate bool

	// QueryTimeoutSeconds is the maximum time a query can run before timing out.
	// Default: 5 seconds
	QueryTimeoutSeconds int32
}

// Validate checks that the configuration is valid.
func (c *AuthEventStoreConfig) Validate() error {
	if c.QueryTimeoutSeconds < 0 {
		return fmt.Errorf("query timeout must not be negative")
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *AuthEventStoreConfig) ApplyDefaults() {
	if c.QueryTimeoutSeconds == 0 {
		c.QueryTimeoutSeconds = 5
	}
}
