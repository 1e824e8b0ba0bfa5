package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
)

func testCreds() Credentials {
	return Credentials{
		APIKey:     "test-key",
		SecretKey:  "test-secret",
		Passphrase: "test-pass",
	}
}

func TestSignMatchesReference(t *testing.T) {
	t.Parallel()

	creds := testCreds()
	timestamp := "2024-01-01T00:00:00.000Z"
	got := creds.Sign(timestamp, "GET", "/api/v5/account/balance", "")

	// Reference: base64(HMAC-SHA256(secret, ts + method + path + body)).
	mac := hmac.New(sha256.New, []byte(creds.SecretKey))
	mac.Write([]byte(timestamp + "GET" + "/api/v5/account/balance"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if got != want {
		t.Errorf("Sign() = %q, want %q", got, want)
	}
}

func TestSignBodyChangesSignature(t *testing.T) {
	t.Parallel()

	creds := testCreds()
	timestamp := "2024-01-01T00:00:00.000Z"
	body := `{"instId":"BTC-USDT","tdMode":"cash"}`

	withBody := creds.Sign(timestamp, "POST", "/api/v5/trade/order", body)
	withoutBody := creds.Sign(timestamp, "POST", "/api/v5/trade/order", "")

	if withBody == withoutBody {
		t.Error("different bodies produced the same signature")
	}
}

func TestTimestampFormat(t *testing.T) {
	t.Parallel()

	ts := Timestamp()
	if !strings.Contains(ts, "T") || !strings.HasSuffix(ts, "Z") {
		t.Errorf("timestamp %q not ISO-8601 UTC", ts)
	}
	// Millisecond precision: the fractional part has exactly 3 digits.
	dot := strings.Index(ts, ".")
	if dot < 0 || len(ts)-dot != 5 { // ".mmmZ"
		t.Errorf("timestamp %q lacks millisecond precision", ts)
	}
}

func TestRestHeaders(t *testing.T) {
	t.Parallel()

	headers := testCreds().RestHeaders("POST", "/api/v5/trade/order", "{}")

	for _, key := range []string{"OK-ACCESS-KEY", "OK-ACCESS-SIGN", "OK-ACCESS-TIMESTAMP", "OK-ACCESS-PASSPHRASE"} {
		if headers[key] == "" {
			t.Errorf("header %s empty", key)
		}
	}
	if headers["OK-ACCESS-KEY"] != "test-key" {
		t.Errorf("api key header = %q", headers["OK-ACCESS-KEY"])
	}
	if _, err := base64.StdEncoding.DecodeString(headers["OK-ACCESS-SIGN"]); err != nil {
		t.Errorf("signature not base64: %v", err)
	}
}

func TestWSLoginSignsVerifyPath(t *testing.T) {
	t.Parallel()

	creds := testCreds()
	login := creds.WSLogin()

	if login.APIKey != creds.APIKey || login.Passphrase != creds.Passphrase {
		t.Error("login args missing credentials")
	}
	want := creds.Sign(login.Timestamp, "GET", wsVerifyPath, "")
	if login.Sign != want {
		t.Error("login signature not over GET /users/self/verify")
	}
}

func TestHasCredentials(t *testing.T) {
	t.Parallel()

	if (Credentials{}).HasCredentials() {
		t.Error("empty credentials reported present")
	}
	if !testCreds().HasCredentials() {
		t.Error("full credentials reported missing")
	}
}
