package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/weft/pkg/types"
)

const identityPEMType = "PRIVATE KEY"

// Identity is an endpoint's ed25519 keypair. The node ID is the hex encoding
// of the public key, so identity and reachability can be verified end to end
// without a certificate authority.
type Identity struct {
	priv ed25519.PrivateKey
}

// GenerateIdentity creates a fresh ephemeral identity.
func GenerateIdentity() (Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to generate identity key: %w", err)
	}
	return Identity{priv: priv}, nil
}

// LoadOrCreateIdentity loads the identity key from path, generating and
// persisting a new one if the file does not exist. Unreadable or malformed
// key material is an error: a process must never silently replace an identity
// its peers have pinned.
func LoadOrCreateIdentity(path string) (Identity, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		id, genErr := GenerateIdentity()
		if genErr != nil {
			return Identity{}, genErr
		}
		if saveErr := id.save(path); saveErr != nil {
			return Identity{}, saveErr
		}
		return id, nil
	}
	if err != nil {
		return Identity{}, fmt.Errorf("failed to read identity key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != identityPEMType {
		return Identity{}, fmt.Errorf("invalid identity key file %s: not a PEM private key", path)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid identity key file %s: %w", path, err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return Identity{}, fmt.Errorf("invalid identity key file %s: not an ed25519 key", path)
	}
	return Identity{priv: priv}, nil
}

func (id Identity) save(path string) error {
	der, err := x509.MarshalPKCS8PrivateKey(id.priv)
	if err != nil {
		return fmt.Errorf("failed to encode identity key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: identityPEMType, Bytes: der})
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write identity key: %w", err)
	}
	return nil
}

// NodeID returns the public identity of this keypair.
func (id Identity) NodeID() types.NodeID {
	return NodeIDFromPublicKey(id.priv.Public().(ed25519.PublicKey))
}

// PrivateKey exposes the signing key for certificate generation.
func (id Identity) PrivateKey() ed25519.PrivateKey {
	return id.priv
}

// NodeIDFromPublicKey derives the node ID for a raw ed25519 public key.
func NodeIDFromPublicKey(pub ed25519.PublicKey) types.NodeID {
	return types.NodeID(hex.EncodeToString(pub))
}
