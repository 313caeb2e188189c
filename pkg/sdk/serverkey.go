package sdk

import (
	"context"
	"fmt"
	"net/http"
)

const verifyPath = "/auth/verify.json"

// ServerKey is the server's published OpenPGP identity.
type ServerKey struct {
	Fingerprint string `json:"fingerprint"`
	KeyData     string `json:"keydata"`
}

// fetchServerKey reads the server's public key from the verify endpoint and parses it.
func fetchServerKey(ctx context.Context, client HTTPClient, crypto CryptoProvider) (*ServerKey, PublicKey, error) {
	resp, err := client.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   verifyPath,
		Header: http.Header{"Content-Type": []string{"text/plain; charset=UTF-8"}},
	})
	if err != nil {
		return nil, nil, err
	}
	if !resp.OK() {
		return nil, nil, statusError("fetch server key", resp)
	}

	var key ServerKey
	if err := decodeBody(resp, "fetch server key", &key); err != nil {
		return nil, nil, err
	}
	if key.KeyData == "" {
		return nil, nil, fmt.Errorf("%w: server key response has no keydata", ErrProtocol)
	}

	pub, err := crypto.ReadPublicKey(key.KeyData)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parse server key: %w", ErrProtocol, err)
	}
	return &key, pub, nil
}
