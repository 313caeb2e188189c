package sdk

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/pterm/pterm"
)

// KeyringStore loads the operator's armored private key from disk and unlocks it
// once. The decrypted key is handed to a single authenticator and never written
// anywhere.
type KeyringStore struct {
	path       string
	passphrase []byte
	crypto     CryptoProvider
	logger     *pterm.Logger

	once sync.Once
	key  PrivateKey
	err  error
}

// NewKeyringStore creates a store for the key at path.
func NewKeyringStore(path string, passphrase string, crypto CryptoProvider, optFns ...Option) *KeyringStore {
	opts := newOptions(optFns)
	return &KeyringStore{
		path:       path,
		passphrase: []byte(passphrase),
		crypto:     crypto,
		logger:     opts.Logger,
	}
}

// Load reads and decrypts the key. The work happens once; later calls return the
// same key or the same error.
func (s *KeyringStore) Load(ctx context.Context) (PrivateKey, error) {
	s.once.Do(func() {
		s.key, s.err = s.load(ctx)
	})
	return s.key, s.err
}

func (s *KeyringStore) load(ctx context.Context) (PrivateKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	armored, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Error("Private key could not be read", s.logger.Args("path", s.path, "error", err))
		return nil, fmt.Errorf("%w: %s: %w", ErrKeyLoad, s.path, err)
	}

	key, err := s.crypto.ReadPrivateKey(armored, s.passphrase)
	// The passphrase is only needed for this one decryption.
	clear(s.passphrase)
	if err != nil {
		s.logger.Error("Private key could not be decrypted", s.logger.Args("path", s.path, "error", err))
		return nil, fmt.Errorf("%w: %w", ErrKeyDecrypt, err)
	}

	s.logger.Info("Private key loaded and decrypted", s.logger.Args("fingerprint", key.Fingerprint()))
	return key, nil
}
