// Package crypto handles the secp256k1 keys that identify ledger principals:
// password-protected key files and signed API requests.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 1
)

var (
	// ErrNoKeySource is returned when neither a raw key nor a key file is set.
	ErrNoKeySource   = errors.New("crypto: no private key source configured")
	ErrEmptyPassword = errors.New("crypto: password must not be empty")
)

// keyFile is the on-disk format for an encrypted private key. Binary fields
// are base64 standard encoded.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address,omitempty"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig says where a principal's private key comes from. A raw key wins
// over a key file.
type KeyConfig struct {
	RawPrivateKey    string // hex, 0x prefix optional
	EncryptedKeyPath string // file written by EncryptKey
	KeyPassword      string
}

// GenerateKey creates a new secp256k1 key and returns it hex-encoded
// together with its address.
func GenerateKey() (keyHex string, address string, err error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", "", fmt.Errorf("crypto: generate key: %w", err)
	}
	return hex.EncodeToString(ethcrypto.FromECDSA(pk)), ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(), nil
}

// EncryptKey encrypts a hex-encoded private key with a password
// (PBKDF2-HMAC-SHA256 then AES-256-GCM) and returns the JSON key file.
func EncryptKey(privateKeyHex string, password string) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := keyAEAD(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Address:    ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, ethcrypto.FromECDSA(pk), nil)),
	}, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey and returns the
// hex-encoded private key without a 0x prefix.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: parsing key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}

	var salt, nonce, ciphertext []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"salt", kf.Salt, &salt},
		{"nonce", kf.Nonce, &nonce},
		{"ciphertext", kf.Ciphertext, &ciphertext},
	} {
		b, err := base64.StdEncoding.DecodeString(f.in)
		if err != nil {
			return "", fmt.Errorf("crypto: decoding %s: %w", f.name, err)
		}
		*f.out = b
	}

	gcm, err := keyAEAD(password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce length %d", len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

func keyAEAD(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// LoadKey resolves the configured private key as hex without a 0x prefix.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		k := strings.TrimPrefix(cfg.RawPrivateKey, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto: raw private key is not valid hex: %w", err)
		}
		return k, nil
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: reading key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	default:
		return "", ErrNoKeySource
	}
}

// LoadPrivateKey resolves and parses the configured key.
func LoadPrivateKey(cfg KeyConfig) (*ecdsa.PrivateKey, error) {
	k, err := LoadKey(cfg)
	if err != nil {
		return nil, err
	}
	pk, err := ethcrypto.HexToECDSA(k)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	return pk, nil
}
