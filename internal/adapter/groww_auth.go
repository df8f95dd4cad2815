package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/pquerna/otp/totp"

	apperrors "github.com/bucket-tracker/internal/errors"
)

const tokenPath = "/v1/token/api/access"

type tokenRequest struct {
	KeyType   string `json:"key_type"`
	Checksum  string `json:"checksum,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	TOTP      string `json:"totp,omitempty"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// accessToken returns the cached access token, authenticating first if
// needed. Key + secret is preferred over TOTP. tokenMu is held for the whole
// exchange, so nothing called from here may take it again.
func (c *GrowwClient) accessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token != "" {
		return c.token, nil
	}

	creds := c.cfg.Credentials
	if creds.APIKey == "" {
		return "", apperrors.NewBrokerAuthError(brokerName, "GROWW_API_KEY not set", nil)
	}

	var req tokenRequest
	switch {
	case creds.APISecret != "":
		ts := strconv.FormatInt(c.cfg.Now().Unix(), 10)
		req = tokenRequest{KeyType: "approval", Checksum: checksum(creds.APISecret, ts), Timestamp: ts}
	case creds.TOTPSecret != "":
		code, err := totp.GenerateCode(strings.ReplaceAll(creds.TOTPSecret, " ", ""), c.cfg.Now())
		if err != nil {
			return "", apperrors.NewBrokerAuthError(brokerName, "invalid TOTP secret", err)
		}
		req = tokenRequest{KeyType: "totp", TOTP: code}
	default:
		return "", apperrors.NewBrokerAuthError(brokerName, "neither GROWW_API_SECRET nor GROWW_TOTP_SECRET is set", nil)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", apperrors.NewInternalError("failed to encode token request", err)
	}

	data, err := c.doRequest(ctx, http.MethodPost, tokenPath, nil, body, creds.APIKey)
	if err != nil {
		// Transport and rate limit errors keep their category so the call
		// is retried.
		return "", err
	}

	var resp tokenResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", apperrors.NewBrokerError(brokerName, fmt.Errorf("failed to decode token response: %w", err))
	}
	if resp.Token == "" {
		return "", apperrors.NewBrokerAuthError(brokerName, "empty access token", nil)
	}

	c.token = resp.Token
	c.logger.Info("Authenticated with Groww")
	return c.token, nil
}

// invalidateToken forgets the cached access token so the next call
// authenticates again
func (c *GrowwClient) invalidateToken() {
	c.tokenMu.Lock()
	c.token = ""
	c.tokenMu.Unlock()
}

// checksum is the hex SHA-256 of secret followed by the timestamp
func checksum(secret, timestamp string) string {
	sum := sha256.Sum256([]byte(secret + timestamp))
	return hex.EncodeToString(sum[:])
}
