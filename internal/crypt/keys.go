package crypt

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"

	"github.com/Ning0612/Cargoback/internal/domain"
)

// KeyWrapper protects a data key with the public half of a key encryption key
type KeyWrapper interface {
	WrapKey(dek []byte) ([]byte, error)
}

// KeyUnwrapper recovers a data key wrapped by the matching KeyWrapper
type KeyUnwrapper interface {
	UnwrapKey(wrapped []byte) ([]byte, error)
}

// Recipient wraps data keys for an age X25519 public key
type Recipient struct {
	recipient *age.X25519Recipient
}

// ParseRecipient parses an age1... public key
func ParseRecipient(publicKey string) (*Recipient, error) {
	r, err := age.ParseX25519Recipient(strings.TrimSpace(publicKey))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing recipient: %v", domain.ErrCrypto, err)
	}
	return &Recipient{recipient: r}, nil
}

// String returns the age1... form of the key
func (r *Recipient) String() string {
	return r.recipient.String()
}

// WrapKey implements KeyWrapper
func (r *Recipient) WrapKey(dek []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, r.recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: creating age encryptor: %v", domain.ErrCrypto, err)
	}
	if _, err := w.Write(dek); err != nil {
		return nil, fmt.Errorf("%w: wrapping data key: %v", domain.ErrCrypto, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: finalizing data key: %v", domain.ErrCrypto, err)
	}
	return buf.Bytes(), nil
}

// Identity unwraps data keys with one or more age identities
type Identity struct {
	identities []age.Identity
}

// ParseIdentity parses a single AGE-SECRET-KEY-1... private key
func ParseIdentity(privateKey string) (*Identity, error) {
	id, err := age.ParseX25519Identity(strings.TrimSpace(privateKey))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing identity: %v", domain.ErrCrypto, err)
	}
	return &Identity{identities: []age.Identity{id}}, nil
}

// LoadIdentityFile reads an age identity file. Blank lines and # comments are ignored.
func LoadIdentityFile(path string) (*Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening identity file: %v", domain.ErrCrypto, err)
	}
	defer f.Close()

	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing identity file %s: %v", domain.ErrCrypto, path, err)
	}
	return &Identity{identities: ids}, nil
}

// UnwrapKey implements KeyUnwrapper
func (i *Identity) UnwrapKey(wrapped []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(wrapped), i.identities...)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrapping data key: %v", domain.ErrCrypto, err)
	}
	dek, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading data key: %v", domain.ErrCrypto, err)
	}
	if len(dek) != KeySize {
		return nil, fmt.Errorf("%w: unwrapped data key has %d bytes", domain.ErrCrypto, len(dek))
	}
	return dek, nil
}

// Keypair is a freshly generated key encryption key
type Keypair struct {
	PrivateKey string
	PublicKey  string
}

// GenerateKeypair creates a new age X25519 key encryption key
func GenerateKeypair() (*Keypair, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("%w: generating age keypair: %v", domain.ErrCrypto, err)
	}
	return &Keypair{
		PrivateKey: id.String(),
		PublicKey:  id.Recipient().String(),
	}, nil
}

// WriteIdentityFile stores the keypair in the age identity file format with mode 0600
func (k *Keypair) WriteIdentityFile(path string) error {
	content := fmt.Sprintf("# public key: %s\n%s\n", k.PublicKey, k.PrivateKey)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, path)
		}
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
