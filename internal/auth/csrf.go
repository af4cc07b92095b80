package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lukechampine.com/frand"
)

// CSRFTokenMaxAge is how long a form token stays valid
const CSRFTokenMaxAge = 30 * time.Minute

// CSRF signs form tokens bound to a browser session ID
type CSRF struct {
	secret []byte
	now    func() time.Time
}

// NewCSRF creates a token signer with a random secret
func NewCSRF() *CSRF {
	return &CSRF{secret: frand.Bytes(32), now: time.Now}
}

// NewSessionID returns a random browser session ID
func NewSessionID() string {
	return hex.EncodeToString(frand.Bytes(16))
}

// Token creates a token for sessionID.
// Format: timestamp.signature (base64 encoded)
func (c *CSRF) Token(sessionID string) string {
	timestamp := c.now().Unix()
	return fmt.Sprintf("%d.%s", timestamp, c.sign(sessionID, timestamp))
}

// Valid checks that token was issued for sessionID and has not expired
func (c *CSRF) Valid(sessionID, token string) bool {
	if sessionID == "" {
		return false
	}
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return false
	}

	timestamp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return false
	}
	if c.now().Unix()-timestamp > int64(CSRFTokenMaxAge.Seconds()) {
		return false
	}

	return hmac.Equal([]byte(parts[1]), []byte(c.sign(sessionID, timestamp)))
}

func (c *CSRF) sign(sessionID string, timestamp int64) string {
	h := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(h, "%s.%d", sessionID, timestamp)
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}
