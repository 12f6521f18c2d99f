package venue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Signer signs venue requests with HMAC-SHA256 over
// method + "\n" + path + "\n" + query + "\n" + sha256(body) + "\n" + timestamp.
type Signer struct {
	apiKey    string
	secretKey string
}

// NewSigner creates a request signer for one API key pair.
func NewSigner(apiKey, secretKey string) *Signer {
	return &Signer{apiKey: apiKey, secretKey: secretKey}
}

// SignRequest implements the http client Signer interface.
func (s *Signer) SignRequest(req *http.Request) error {
	var body string
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("read body for signing: %w", err)
		}
		req.Body = io.NopCloser(strings.NewReader(string(data)))
		body = string(data)
	}

	hasher := sha256.New()
	if body != "" {
		hasher.Write([]byte(body))
	}
	bodyHash := hex.EncodeToString(hasher.Sum(nil))

	ts := time.Now().Unix()
	message := fmt.Sprintf("%s\n%s\n%s\n%s\n%d",
		req.Method,
		req.URL.Path,
		req.URL.RawQuery,
		bodyHash,
		ts,
	)

	mac := hmac.New(sha256.New, []byte(s.secretKey))
	mac.Write([]byte(message))

	req.Header.Set("X-Api-Key", s.apiKey)
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", ts))
	req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	return nil
}
