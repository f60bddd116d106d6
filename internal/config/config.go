package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// HTTP listen port for the callback/ingress server.
	Port string `env:"PORT" envDefault:"8080"`

	// Vonage API credentials and endpoints.
	VonageAPIKey         string `env:"VONAGE_API_KEY"`
	VonageAPISecret      string `env:"VONAGE_API_SECRET"`
	VonageApplicationID  string `env:"VONAGE_APPLICATION_ID"`
	VonagePrivateKeyPath string `env:"VONAGE_PRIVATE_KEY_PATH"`
	VonageLVN            string `env:"VONAGE_LVN"`
	VonageVoiceURL       string `env:"VONAGE_API_URL" envDefault:"https://api.nexmo.com/v1/calls"`
	VonageSMSURL         string `env:"VONAGE_SMS_URL" envDefault:"https://rest.nexmo.com/sms/json"`

	// Public base URL of this service; outbound calls register
	// <CallbackBaseURL>/event as their event webhook.
	CallbackBaseURL string `env:"CALLBACK_SERVER_URL" envDefault:"http://localhost:8080"`

	// MCPStdio enables serving the MCP tool surface over stdio alongside
	// the HTTP server.
	MCPStdio bool `env:"MCP_STDIO" envDefault:"true"`

	// Tracker retention and reaper cadence.
	TrackerRetention time.Duration `env:"TRACKER_RETENTION" envDefault:"1h"`
	ReaperInterval   time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// VoiceConfigured reports whether all credentials required for the Voice API
// are present.
func (c *Config) VoiceConfigured() bool {
	return c.VonageAPIKey != "" && c.VonageAPISecret != "" &&
		c.VonageApplicationID != "" && c.VonagePrivateKeyPath != ""
}

// SMSConfigured reports whether the credentials required for the SMS API are
// present.
func (c *Config) SMSConfigured() bool {
	return c.VonageAPIKey != "" && c.VonageAPISecret != ""
}
