package domain

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidCredential = errors.New("invalid credential")

// Credential owns a secp256k1 private key. The key never leaves this type:
// signing happens through SignTx and every printable form shows only the address.
type Credential struct {
	key     *ecdsa.PrivateKey
	address Address
}

func newCredential(key *ecdsa.PrivateKey) *Credential {
	return &Credential{
		key:     key,
		address: Address(crypto.PubkeyToAddress(key.PublicKey).Hex()),
	}
}

func CredentialFromHex(privateKeyHex string) (*Credential, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return newCredential(key), nil
}

func GenerateCredential() (*Credential, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return newCredential(key), nil
}

// CredentialFromKeystore decrypts a V3 keystore document.
func CredentialFromKeystore(keyJSON []byte, password string) (*Credential, error) {
	k, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return newCredential(k.PrivateKey), nil
}

// ExportKeystore writes the key as an encrypted keystore file under dir and returns its path.
// light selects the cheap scrypt parameters.
func (c *Credential) ExportKeystore(dir, password string, light bool) (string, error) {
	n, p := keystore.StandardScryptN, keystore.StandardScryptP
	if light {
		n, p = keystore.LightScryptN, keystore.LightScryptP
	}
	ks := keystore.NewKeyStore(dir, n, p)
	acct, err := ks.ImportECDSA(c.key, password)
	if err != nil {
		return "", fmt.Errorf("import key: %w", err)
	}
	return acct.URL.Path, nil
}

func (c *Credential) Address() Address { return c.address }

func (c *Credential) SignTx(tx *types.Transaction, signer types.Signer) (*types.Transaction, error) {
	return types.SignTx(tx, signer, c.key)
}

func (c *Credential) String() string { return c.address.String() }

func (c *Credential) LogValue() slog.Value { return slog.StringValue(c.address.String()) }

func (c *Credential) MarshalJSON() ([]byte, error) { return json.Marshal(c.address.String()) }
