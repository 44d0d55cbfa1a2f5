// Package signer produces detached OpenPGP signatures of catalog documents.
package signer

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// Signer signs catalog documents
type Signer interface {
	// SignDetached returns an armored detached signature of data
	SignDetached(data []byte) ([]byte, error)
}

// OpenPGPSigner signs with the first entity of a private key ring
type OpenPGPSigner struct {
	entity *openpgp.Entity
}

// NewOpenPGPSigner loads an armored or binary private key from keyPath
func NewOpenPGPSigner(keyPath, passphrase string) (*OpenPGPSigner, error) {
	if keyPath == "" {
		return nil, errors.New("key path is empty")
	}

	keyFile, err := os.Open(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file: %w", err)
	}
	defer keyFile.Close()

	return ReadOpenPGPSigner(keyFile, passphrase)
}

// ReadOpenPGPSigner reads the key ring from r, which must be seekable when
// the key is not armored.
func ReadOpenPGPSigner(r io.ReadSeeker, passphrase string) (*OpenPGPSigner, error) {
	entities, err := openpgp.ReadArmoredKeyRing(r)
	if err != nil {
		if _, serr := r.Seek(0, io.SeekStart); serr != nil {
			return nil, fmt.Errorf("failed to read key: %w", err)
		}
		entities, err = openpgp.ReadKeyRing(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read key: %w", err)
		}
	}
	if len(entities) == 0 {
		return nil, errors.New("no keys found in key file")
	}

	entity := entities[0]
	if entity.PrivateKey == nil {
		return nil, errors.New("key file holds no private key")
	}

	if passphrase != "" {
		if entity.PrivateKey.Encrypted {
			if err := entity.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
				return nil, fmt.Errorf("failed to decrypt private key: %w", err)
			}
		}
		for _, subkey := range entity.Subkeys {
			if subkey.PrivateKey != nil && subkey.PrivateKey.Encrypted {
				if err := subkey.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
					return nil, fmt.Errorf("failed to decrypt subkey: %w", err)
				}
			}
		}
	}

	return &OpenPGPSigner{entity: entity}, nil
}

// SignDetached creates the source.json.asc signature
func (s *OpenPGPSigner) SignDetached(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	err := openpgp.ArmoredDetachSign(&buf, s.entity, bytes.NewReader(data), &packet.Config{
		DefaultHash: crypto.SHA512,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create detached signature: %w", err)
	}
	return buf.Bytes(), nil
}
