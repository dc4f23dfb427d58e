package commands

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validServeCmd() ServeCmd {
	return ServeCmd{
		Listen:          "127.0.0.1:3000",
		SampleRatio:     1,
		ProviderRetries: 3,
		StoreType:       "memory",
		EventRetention:  720 * time.Hour,
	}
}

func TestServeCmd_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *ServeCmd)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *ServeCmd) {}},
		{name: "tls pair", mutate: func(c *ServeCmd) { c.Cert, c.Key = "cert.pem", "key.pem" }},
		{name: "cert without key", mutate: func(c *ServeCmd) { c.Cert = "cert.pem" }, wantErr: "--cert and --key"},
		{name: "sample ratio above one", mutate: func(c *ServeCmd) { c.SampleRatio = 1.5 }, wantErr: "--sample-ratio"},
		{name: "negative retention", mutate: func(c *ServeCmd) { c.EventRetention = -time.Hour }, wantErr: "--event-retention"},
		{name: "retention disabled", mutate: func(c *ServeCmd) { c.EventRetention = 0 }},
		{name: "zero provider retries", mutate: func(c *ServeCmd) { c.ProviderRetries = 0 }, wantErr: "--provider-retries"},
		{name: "single provider attempt", mutate: func(c *ServeCmd) { c.ProviderRetries = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validServeCmd()
			tt.mutate(&c)

			err := c.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServeCmd_WarnUnsafeDefaults(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		wantWarn bool
	}{
		{name: "base url derived from requests", wantWarn: true},
		{name: "base url configured", baseURL: "https://auth.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			c := validServeCmd()
			c.BaseURL = tt.baseURL

			c.warnUnsafeDefaults(zerolog.New(&buf))

			if !tt.wantWarn {
				assert.Empty(t, buf.String())
				return
			}
			assert.Contains(t, buf.String(), `"level":"warn"`)
			assert.Contains(t, buf.String(), "--base-url")
		})
	}
}
