// Package dstack implements a client for the dstack guest agent, the
// in-enclave service that reports the application identity and derives
// attested keys with their signature chains.
package dstack

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/groupauth-agent/interfaces"
)

// DefaultEndpoint is the guest agent socket mounted into dstack containers.
const DefaultEndpoint = "unix:///var/run/dstack.sock"

// ErrMalformedSignatureChain is returned when a derived key does not carry
// the expected two-link signature chain (app signature, KMS signature).
var ErrMalformedSignatureChain = errors.New("malformed signature chain: expected exactly 2 links")

// Client talks to the dstack guest agent. The agent is treated as a trusted
// oracle: calls are made once at startup and any failure is fatal to the
// caller.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client for the guest agent at the given endpoint.
// Endpoints of the form unix:///path/to.sock are dialed over the unix domain
// socket; anything else is used as an HTTP base URL.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	baseURL := endpoint

	if sockPath, ok := strings.CutPrefix(endpoint, "unix://"); ok {
		httpClient.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", sockPath)
			},
		}
		baseURL = "http://dstack"
	}

	return &Client{endpoint: baseURL, httpClient: httpClient}
}

type infoResponse struct {
	AppID string `json:"app_id"`
}

type getKeyRequest struct {
	Path    string `json:"path"`
	Purpose string `json:"purpose"`
}

type getKeyResponse struct {
	Key            string   `json:"key"`
	SignatureChain []string `json:"signature_chain"`
}

// AppInfo returns the 20-byte application instance identifier.
func (c *Client) AppInfo(ctx context.Context) (interfaces.AppID, error) {
	var resp infoResponse
	if err := c.post(ctx, "/Info", struct{}{}, &resp); err != nil {
		return interfaces.AppID{}, fmt.Errorf("dstack info: %w", err)
	}

	appID, err := interfaces.NewAppIDFromHex(resp.AppID)
	if err != nil {
		return interfaces.AppID{}, fmt.Errorf("dstack info returned invalid app id %q: %w", resp.AppID, err)
	}
	return appID, nil
}

// DeriveKey asks the guest agent for the key at the given derivation path and
// purpose. The response must carry a two-link signature chain: link 0 attests
// the key was issued for this app instance, link 1 attests the app instance
// runs KMS-approved code. Both links are forwarded opaquely.
func (c *Client) DeriveKey(ctx context.Context, path, purpose string) (interfaces.KeyMaterial, error) {
	var resp getKeyResponse
	if err := c.post(ctx, "/GetKey", getKeyRequest{Path: path, Purpose: purpose}, &resp); err != nil {
		return interfaces.KeyMaterial{}, fmt.Errorf("dstack get key: %w", err)
	}

	if len(resp.SignatureChain) != 2 {
		return interfaces.KeyMaterial{}, fmt.Errorf("%w, got %d", ErrMalformedSignatureChain, len(resp.SignatureChain))
	}

	keyBytes, err := decodeHex(resp.Key)
	if err != nil {
		return interfaces.KeyMaterial{}, fmt.Errorf("dstack returned invalid key material: %w", err)
	}
	if len(keyBytes) < 32 {
		return interfaces.KeyMaterial{}, fmt.Errorf("dstack returned short key material: %d bytes", len(keyBytes))
	}

	appSig, err := decodeHex(resp.SignatureChain[0])
	if err != nil {
		return interfaces.KeyMaterial{}, fmt.Errorf("%w: invalid app signature: %v", ErrMalformedSignatureChain, err)
	}
	kmsSig, err := decodeHex(resp.SignatureChain[1])
	if err != nil {
		return interfaces.KeyMaterial{}, fmt.Errorf("%w: invalid kms signature: %v", ErrMalformedSignatureChain, err)
	}

	material := interfaces.KeyMaterial{AppSignature: appSig, KmsSignature: kmsSig}
	copy(material.Key[:], keyBytes[:32])
	return material, nil
}

func (c *Client) post(ctx context.Context, route string, reqBody, respBody interface{}) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+route, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach guest agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("guest agent returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("could not parse guest agent response: %w", err)
	}
	return nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
