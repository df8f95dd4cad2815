package models

// AppConfig is the single process-wide settings record
type AppConfig struct {
	LastSync        *Timestamp `json:"last_sync"`
	ValuesHidden    bool       `json:"values_hidden"`
	GrowwAPIKey     string     `json:"groww_api_key"`
	GrowwAPISecret  string     `json:"groww_api_secret,omitempty"`
	GrowwTOTPSecret string     `json:"groww_totp_secret"`
}

// DefaultAppConfig returns the record written when no config exists yet
func DefaultAppConfig() *AppConfig {
	return &AppConfig{}
}

// BrokerCredentials holds the secrets used to authenticate with the broker
type BrokerCredentials struct {
	APIKey     string
	APISecret  string
	TOTPSecret string
}

// Credentials extracts the stored broker credentials
func (c *AppConfig) Credentials() BrokerCredentials {
	return BrokerCredentials{
		APIKey:     c.GrowwAPIKey,
		APISecret:  c.GrowwAPISecret,
		TOTPSecret: c.GrowwTOTPSecret,
	}
}

// Override returns a copy of c where every non-empty field of o wins
func (c BrokerCredentials) Override(o BrokerCredentials) BrokerCredentials {
	if o.APIKey != "" {
		c.APIKey = o.APIKey
	}
	if o.APISecret != "" {
		c.APISecret = o.APISecret
	}
	if o.TOTPSecret != "" {
		c.TOTPSecret = o.TOTPSecret
	}
	return c
}
