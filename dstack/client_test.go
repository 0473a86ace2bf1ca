package dstack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAgent(t *testing.T, getKey func() getKeyResponse) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/Info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(infoResponse{AppID: "0x00112233445566778899aabbccddeeff00112233"})
	})
	mux.HandleFunc("/GetKey", func(w http.ResponseWriter, r *http.Request) {
		var req getKeyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/groupauth", req.Path)
		assert.Equal(t, "ethereum", req.Purpose)
		json.NewEncoder(w).Encode(getKey())
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAppInfo(t *testing.T) {
	srv := newTestAgent(t, func() getKeyResponse { return getKeyResponse{} })

	client := NewClient(srv.URL)
	appID, err := client.AppInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0x00112233445566778899aabbccddeeff00112233", appID.String())
}

func TestDeriveKey(t *testing.T) {
	srv := newTestAgent(t, func() getKeyResponse {
		return getKeyResponse{
			Key:            "0x000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
			SignatureChain: []string{"0xaabb", "0xccdd"},
		}
	})

	client := NewClient(srv.URL)
	material, err := client.DeriveKey(context.Background(), "/groupauth", "ethereum")
	require.NoError(t, err)

	assert.Equal(t, byte(0x00), material.Key[0])
	assert.Equal(t, byte(0x1f), material.Key[31])
	assert.Equal(t, []byte{0xaa, 0xbb}, material.AppSignature)
	assert.Equal(t, []byte{0xcc, 0xdd}, material.KmsSignature)
}

func TestDeriveKeyShortSignatureChain(t *testing.T) {
	srv := newTestAgent(t, func() getKeyResponse {
		return getKeyResponse{
			Key:            "0x000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
			SignatureChain: []string{"0xaabb"},
		}
	})

	client := NewClient(srv.URL)
	_, err := client.DeriveKey(context.Background(), "/groupauth", "ethereum")
	assert.ErrorIs(t, err, ErrMalformedSignatureChain)
}

func TestDeriveKeyUnreachableAgent(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	_, err := client.DeriveKey(context.Background(), "/groupauth", "ethereum")
	assert.Error(t, err)
}

func TestDeriveKeyErrorStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/GetKey", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "derivation denied", http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL)
	_, err := client.DeriveKey(context.Background(), "/groupauth", "ethereum")
	assert.ErrorContains(t, err, "status 403")
}
