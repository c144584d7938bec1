// Package captcha verifies reCAPTCHA tokens.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultEndpoint = "https://www.google.com/recaptcha/api/siteverify"

// ErrFailed is returned when the provider rejects the token.
var ErrFailed = errors.New("captcha verification failed")

type Verifier struct {
	secret   string
	endpoint string
	client   *http.Client
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret:   secret,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a secret is configured. Without one every token is accepted.
func (v *Verifier) Enabled() bool {
	return v != nil && v.secret != ""
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify checks token against the provider. It returns ErrFailed for a
// rejected token and a wrapped transport error if the provider is unreachable.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) error {
	if !v.Enabled() {
		return nil
	}

	form := url.Values{"secret": {v.secret}, "response": {token}}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("siteverify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("siteverify: unexpected status %d", resp.StatusCode)
	}
	var body siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode siteverify response: %w", err)
	}
	if !body.Success {
		return fmt.Errorf("%w: %s", ErrFailed, strings.Join(body.ErrorCodes, ","))
	}
	return nil
}
