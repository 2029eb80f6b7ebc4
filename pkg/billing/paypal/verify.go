package paypal

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mihaimyh/bookingsync/pkg/billing"
)

// Verifier authenticates a webhook delivery before anything is parsed or applied.
// Implementations return an error wrapping billing.ErrInvalidWebhookSignature for
// a forged or altered request; any other error means verification could not run.
type Verifier interface {
	Verify(ctx context.Context, header http.Header, body []byte) error
}

// Transmission headers PayPal attaches to every webhook delivery
const (
	headerTransmissionID   = "Paypal-Transmission-Id"
	headerTransmissionTime = "Paypal-Transmission-Time"
	headerTransmissionSig  = "Paypal-Transmission-Sig"
	headerCertURL          = "Paypal-Cert-Url"
	headerAuthAlgo         = "Paypal-Auth-Algo"

	// HMACSignatureHeader carries the hex HMAC-SHA256 of the raw body
	HMACSignatureHeader = "X-Webhook-Signature"

	verifyPath = "/v1/notifications/verify-webhook-signature"
	tokenPath  = "/v1/oauth2/token"

	// DefaultAPIBaseURL is the live PayPal REST endpoint
	DefaultAPIBaseURL = "https://api-m.paypal.com"
	// SandboxAPIBaseURL is the sandbox PayPal REST endpoint
	SandboxAPIBaseURL = "https://api-m.sandbox.paypal.com"
)

// HMACVerifier checks a shared-secret HMAC over the raw body. It is meant for
// relays and test setups that sign deliveries themselves.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier for the given shared secret
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Verify implements Verifier
func (v *HMACVerifier) Verify(_ context.Context, header http.Header, body []byte) error {
	sig := strings.TrimSpace(header.Get(HMACSignatureHeader))
	if sig == "" {
		return fmt.Errorf("%w: missing %s header", billing.ErrInvalidWebhookSignature, HMACSignatureHeader)
	}
	expected, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", billing.ErrInvalidWebhookSignature)
	}
	if !hmac.Equal(expected, SignHMAC(v.secret, body)) {
		return billing.ErrInvalidWebhookSignature
	}
	return nil
}

// SignHMAC returns the HMAC-SHA256 of body under secret
func SignHMAC(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// APIVerifierConfig configures an APIVerifier
type APIVerifierConfig struct {
	ClientID     string
	ClientSecret string

	// WebhookID is the id PayPal assigned to the webhook subscription
	WebhookID string

	// BaseURL defaults to DefaultAPIBaseURL
	BaseURL string

	// HTTPClient is used for the token and verification calls.
	// If nil, a client with a 10s timeout is used.
	HTTPClient *http.Client

	Metrics billing.Metrics
}

// APIVerifier asks PayPal to verify the transmission signature
// (POST /v1/notifications/verify-webhook-signature).
type APIVerifier struct {
	client    *http.Client
	verifyURL string
	webhookID string
	metrics   billing.Metrics
}

// NewAPIVerifier creates an APIVerifier authenticating with OAuth2 client credentials
func NewAPIVerifier(config APIVerifierConfig) (*APIVerifier, error) {
	if config.ClientID == "" || config.ClientSecret == "" || config.WebhookID == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	cc := &clientcredentials.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenURL:     baseURL + tokenPath,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	// the token source keeps this context for refreshes
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	client := oauth2.NewClient(tokenCtx, cc.TokenSource(tokenCtx))
	client.Timeout = httpClient.Timeout

	return &APIVerifier{
		client:    client,
		verifyURL: baseURL + verifyPath,
		webhookID: config.WebhookID,
		metrics:   metrics,
	}, nil
}

type verifyRequest struct {
	AuthAlgo         string `json:"auth_algo"`
	CertURL          string `json:"cert_url"`
	TransmissionID   string `json:"transmission_id"`
	TransmissionSig  string `json:"transmission_sig"`
	TransmissionTime string `json:"transmission_time"`
	WebhookID        string `json:"webhook_id"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// Verify implements Verifier
func (v *APIVerifier) Verify(ctx context.Context, header http.Header, body []byte) error {
	req := verifyRequest{
		AuthAlgo:         header.Get(headerAuthAlgo),
		CertURL:          header.Get(headerCertURL),
		TransmissionID:   header.Get(headerTransmissionID),
		TransmissionSig:  header.Get(headerTransmissionSig),
		TransmissionTime: header.Get(headerTransmissionTime),
		WebhookID:        v.webhookID,
	}
	if req.TransmissionID == "" || req.TransmissionSig == "" || req.TransmissionTime == "" ||
		req.CertURL == "" || req.AuthAlgo == "" {
		return fmt.Errorf("%w: missing transmission headers", billing.ErrInvalidWebhookSignature)
	}

	payload, err := verifyPayload(req, body)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := v.client.Do(httpReq)
	if err != nil {
		v.metrics.RecordProviderCall(providerName, verifyPath, "error", time.Since(start))
		return fmt.Errorf("%w: %v", billing.ErrProviderAPIError, err)
	}
	defer resp.Body.Close()
	v.metrics.RecordProviderCall(providerName, verifyPath, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: status %d: %s", billing.ErrProviderAPIError, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%w: decode verification response: %v", billing.ErrProviderAPIError, err)
	}
	if out.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("%w: verification status %q", billing.ErrInvalidWebhookSignature, out.VerificationStatus)
	}
	return nil
}

// verifyPayload embeds the event bytes exactly as received; re-encoding the
// event can make PayPal reject an authentic delivery.
func verifyPayload(req verifyRequest, event []byte) ([]byte, error) {
	head, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if !json.Valid(event) {
		return nil, fmt.Errorf("%w: event is not valid JSON", billing.ErrInvalidWebhookPayload)
	}

	var buf bytes.Buffer
	buf.Grow(len(head) + len(event) + 20)
	buf.Write(head[:len(head)-1])
	buf.WriteString(`,"webhook_event":`)
	buf.Write(event)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
