package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// wsVerifyPath is the fixed request path signed for WebSocket login.
const wsVerifyPath = "/users/self/verify"

// Credentials is the OKX API key triplet.
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

// HasCredentials reports whether all three parts are present.
func (c Credentials) HasCredentials() bool {
	return c.APIKey != "" && c.SecretKey != "" && c.Passphrase != ""
}

// Sign computes the OKX request signature:
// base64(HMAC-SHA256(secret, timestamp + method + requestPath + body)).
func (c Credentials) Sign(timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(c.SecretKey))
	mac.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Timestamp returns the current ISO-8601 UTC timestamp at millisecond
// precision, the format OKX expects in OK-ACCESS-TIMESTAMP.
func Timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// RestHeaders builds the authentication headers for one REST request.
func (c Credentials) RestHeaders(method, requestPath, body string) map[string]string {
	timestamp := Timestamp()
	return map[string]string{
		"OK-ACCESS-KEY":        c.APIKey,
		"OK-ACCESS-SIGN":       c.Sign(timestamp, method, requestPath, body),
		"OK-ACCESS-TIMESTAMP":  timestamp,
		"OK-ACCESS-PASSPHRASE": c.Passphrase,
	}
}

// WSLoginArgs builds the private-channel login payload. The signature uses
// the same rule as REST with fixed method GET and the verify path.
type WSLoginArgs struct {
	APIKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
}

// WSLogin returns the login args for the private channel.
func (c Credentials) WSLogin() WSLoginArgs {
	timestamp := Timestamp()
	return WSLoginArgs{
		APIKey:     c.APIKey,
		Passphrase: c.Passphrase,
		Timestamp:  timestamp,
		Sign:       c.Sign(timestamp, "GET", wsVerifyPath, ""),
	}
}
