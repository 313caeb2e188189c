// Package pgp implements sdk.CryptoProvider with OpenPGP keys and armored messages.
package pgp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/qntoni/passboltctl/pkg/sdk"
)

const messageType = "PGP MESSAGE"

var (
	ErrNoKey          = errors.New("no key found in armored block")
	ErrNotPrivate     = errors.New("armored key has no private part")
	ErrForeignKey     = errors.New("key was not produced by this provider")
	ErrUnsigned       = errors.New("message is not signed")
	ErrUnexpectedSign = errors.New("message signed by an unexpected key")
)

// Key wraps an OpenPGP entity. It satisfies both sdk.PrivateKey and sdk.PublicKey.
type Key struct {
	entity *openpgp.Entity
}

// Fingerprint returns the primary key fingerprint as upper-case hex.
func (k *Key) Fingerprint() string {
	return fmt.Sprintf("%X", k.entity.PrimaryKey.Fingerprint)
}

// Entity exposes the underlying OpenPGP entity.
func (k *Key) Entity() *openpgp.Entity {
	return k.entity
}

// Provider is an sdk.CryptoProvider backed by golang.org/x/crypto/openpgp.
type Provider struct {
	config *packet.Config
}

var _ sdk.CryptoProvider = (*Provider)(nil)

// NewProvider returns a Provider using the library's default algorithms.
func NewProvider() *Provider {
	return &Provider{config: &packet.Config{}}
}

// ReadPrivateKey parses the first entity of an armored key ring and decrypts its
// primary key and any encrypted subkeys with passphrase.
func (p *Provider) ReadPrivateKey(armored []byte, passphrase []byte) (sdk.PrivateKey, error) {
	entity, err := readEntity(bytes.NewReader(armored))
	if err != nil {
		return nil, err
	}
	if entity.PrivateKey == nil {
		return nil, ErrNotPrivate
	}

	if entity.PrivateKey.Encrypted {
		if err := entity.PrivateKey.Decrypt(passphrase); err != nil {
			return nil, fmt.Errorf("decrypt primary key: %w", err)
		}
	}
	for i := range entity.Subkeys {
		sub := entity.Subkeys[i].PrivateKey
		if sub != nil && sub.Encrypted {
			if err := sub.Decrypt(passphrase); err != nil {
				return nil, fmt.Errorf("decrypt subkey: %w", err)
			}
		}
	}

	return &Key{entity: entity}, nil
}

// ReadPublicKey parses the first entity of an armored public key block.
func (p *Provider) ReadPublicKey(armored string) (sdk.PublicKey, error) {
	entity, err := readEntity(strings.NewReader(armored))
	if err != nil {
		return nil, err
	}
	return &Key{entity: entity}, nil
}

// Encrypt encrypts plaintext to recipient and returns an armored PGP MESSAGE.
func (p *Provider) Encrypt(plaintext []byte, recipient sdk.PublicKey, signer sdk.PrivateKey) (string, error) {
	to, err := asKey(recipient)
	if err != nil {
		return "", err
	}

	var signEntity *openpgp.Entity
	if signer != nil {
		from, err := asKey(signer)
		if err != nil {
			return "", err
		}
		signEntity = from.entity
	}

	var buf bytes.Buffer
	armored, err := armor.Encode(&buf, messageType, nil)
	if err != nil {
		return "", fmt.Errorf("open armor: %w", err)
	}
	plain, err := openpgp.Encrypt(armored, openpgp.EntityList{to.entity}, signEntity, nil, p.config)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	if _, err := plain.Write(plaintext); err != nil {
		return "", fmt.Errorf("write plaintext: %w", err)
	}
	if err := plain.Close(); err != nil {
		return "", fmt.Errorf("close message: %w", err)
	}
	if err := armored.Close(); err != nil {
		return "", fmt.Errorf("close armor: %w", err)
	}

	return buf.String(), nil
}

// Decrypt decrypts an armored message. When verifier is set the message must be
// signed by it and the signature must check out.
func (p *Provider) Decrypt(armoredMessage string, key sdk.PrivateKey, verifier sdk.PublicKey) ([]byte, error) {
	own, err := asKey(key)
	if err != nil {
		return nil, err
	}

	block, err := armor.Decode(strings.NewReader(armoredMessage))
	if err != nil {
		return nil, fmt.Errorf("decode armor: %w", err)
	}
	if block.Type != messageType {
		return nil, fmt.Errorf("unexpected armor type %q", block.Type)
	}

	ring := openpgp.EntityList{own.entity}
	var expected *Key
	if verifier != nil {
		expected, err = asKey(verifier)
		if err != nil {
			return nil, err
		}
		ring = append(ring, expected.entity)
	}

	md, err := openpgp.ReadMessage(block.Body, ring, nil, p.config)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	data, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, fmt.Errorf("read message body: %w", err)
	}

	if expected == nil {
		return data, nil
	}
	// SignatureError is only populated once the body has been read to EOF.
	if !md.IsSigned {
		return nil, ErrUnsigned
	}
	if md.SignatureError != nil {
		return nil, fmt.Errorf("verify signature: %w", md.SignatureError)
	}
	if md.SignedBy == nil || md.SignedBy.Entity == nil ||
		md.SignedBy.Entity.PrimaryKey.Fingerprint != expected.entity.PrimaryKey.Fingerprint {
		return nil, ErrUnexpectedSign
	}

	return data, nil
}

func readEntity(r io.Reader) (*openpgp.Entity, error) {
	list, err := openpgp.ReadArmoredKeyRing(r)
	if err != nil {
		return nil, fmt.Errorf("read armored key: %w", err)
	}
	if len(list) == 0 {
		return nil, ErrNoKey
	}
	return list[0], nil
}

func asKey(k interface{ Fingerprint() string }) (*Key, error) {
	key, ok := k.(*Key)
	if !ok || key == nil || key.entity == nil {
		return nil, ErrForeignKey
	}
	return key, nil
}
