package sdk

// PrivateKey is decrypted private key material owned by a CryptoProvider. It is
// opaque to the SDK; only its fingerprint is ever sent to the server.
type PrivateKey interface {
	Fingerprint() string
}

// PublicKey is a parsed public key, typically the server's.
type PublicKey interface {
	Fingerprint() string
}

// CryptoProvider supplies the asymmetric primitives the handshakes rely on.
// Armored messages are exchanged as strings.
type CryptoProvider interface {
	// ReadPrivateKey parses an armored private key and unlocks it with passphrase.
	ReadPrivateKey(armored []byte, passphrase []byte) (PrivateKey, error)
	// ReadPublicKey parses an armored public key.
	ReadPublicKey(armored string) (PublicKey, error)
	// Encrypt encrypts plaintext to recipient. A non-nil signer also signs it.
	Encrypt(plaintext []byte, recipient PublicKey, signer PrivateKey) (string, error)
	// Decrypt decrypts an armored message with key. A non-nil verifier requires the
	// message to carry a valid signature from that key.
	Decrypt(armored string, key PrivateKey, verifier PublicKey) ([]byte, error)
}
