package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// Request authentication headers.
const (
	HeaderPrincipal = "X-Principal"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
	HeaderSignature = "X-Signature"
)

const maxNonceLen = 64

// DefaultMaxSkew bounds how far a request timestamp may drift from the
// server clock.
const DefaultMaxSkew = 5 * time.Minute

var (
	ErrMissingAuth  = errors.New("crypto: missing authentication headers")
	ErrBadSignature = errors.New("crypto: signature does not match principal")
	ErrStale        = errors.New("crypto: request timestamp outside allowed skew")
)

// RequestMessage builds the text that is personal-signed for a request:
//
//	METHOD\nPATH\nTIMESTAMP\nNONCE\n0x<keccak256(body)>
func RequestMessage(method, path string, ts int64, nonce string, body []byte) []byte {
	return []byte(strings.ToUpper(method) + "\n" + path + "\n" +
		strconv.FormatInt(ts, 10) + "\n" + nonce + "\n" + hexutil.Encode(ethcrypto.Keccak256(body)))
}

// validNonce accepts 1 to 64 characters of [A-Za-z0-9_-].
func validNonce(n string) bool {
	if n == "" || len(n) > maxNonceLen {
		return false
	}
	for _, c := range n {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// Signer signs ledger API requests with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSignerFromKey(pk), nil
}

// NewSignerFromKey wraps an already parsed key.
func NewSignerFromKey(pk *ecdsa.PrivateKey) *Signer {
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}
}

// Address returns the principal the signer authenticates as.
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKey returns the underlying key.
func (s *Signer) PrivateKey() *ecdsa.PrivateKey {
	return s.privateKey
}

// SignText produces an EIP-191 personal signature (V in {27,28}).
func (s *Signer) SignText(msg []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign: %w", err)
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignRequest sets the authentication headers on h for a request issued at
// ts. Each call uses a fresh nonce, so identical requests sign differently.
func (s *Signer) SignRequest(h http.Header, method, path string, body []byte, ts time.Time) error {
	unix := ts.Unix()
	nonce := uuid.NewString()
	sig, err := s.SignText(RequestMessage(method, path, unix, nonce, body))
	if err != nil {
		return err
	}
	h.Set(HeaderPrincipal, s.address.Hex())
	h.Set(HeaderTimestamp, strconv.FormatInt(unix, 10))
	h.Set(HeaderNonce, nonce)
	h.Set(HeaderSignature, hexutil.Encode(sig))
	return nil
}

// RecoverText returns the address that personal-signed msg. V may be 0/1 or
// 27/28; high-S signatures are rejected so each signature has one form.
func RecoverText(msg, sig []byte) (common.Address, error) {
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, ErrBadSignature
	}
	cp := make([]byte, len(sig))
	copy(cp, sig)
	if v := cp[ethcrypto.RecoveryIDOffset]; v >= 27 {
		cp[ethcrypto.RecoveryIDOffset] = v - 27
	}
	r := new(big.Int).SetBytes(cp[:32])
	sv := new(big.Int).SetBytes(cp[32:64])
	if !ethcrypto.ValidateSignatureValues(cp[ethcrypto.RecoveryIDOffset], r, sv, true) {
		return common.Address{}, fmt.Errorf("%w: non-canonical signature", ErrBadSignature)
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), cp)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyRequest checks the authentication headers of a request against its
// method, path and body, and returns the authenticated principal.
func VerifyRequest(h http.Header, method, path string, body []byte, now time.Time, maxSkew time.Duration) (common.Address, error) {
	principal, tsRaw, sigRaw := h.Get(HeaderPrincipal), h.Get(HeaderTimestamp), h.Get(HeaderSignature)
	nonce := h.Get(HeaderNonce)
	if principal == "" || tsRaw == "" || sigRaw == "" || nonce == "" {
		return common.Address{}, ErrMissingAuth
	}
	if !validNonce(nonce) {
		return common.Address{}, fmt.Errorf("%w: malformed nonce", ErrBadSignature)
	}
	if !common.IsHexAddress(principal) {
		return common.Address{}, fmt.Errorf("%w: malformed principal", ErrBadSignature)
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: malformed timestamp", ErrStale)
	}
	if d := now.Sub(time.Unix(ts, 0)); d > maxSkew || d < -maxSkew {
		return common.Address{}, ErrStale
	}
	sig, err := hexutil.Decode(sigRaw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: malformed signature", ErrBadSignature)
	}

	signer, err := RecoverText(RequestMessage(method, path, ts, nonce, body), sig)
	if err != nil {
		return common.Address{}, err
	}
	if signer != common.HexToAddress(principal) {
		return common.Address{}, ErrBadSignature
	}
	return signer, nil
}

// ReplayKey identifies a verified request independently of how its signature
// was encoded. p must be the principal returned by VerifyRequest for h.
func ReplayKey(p common.Address, h http.Header) string {
	return "req:" + strings.ToLower(p.Hex()) + ":" + h.Get(HeaderTimestamp) + ":" + h.Get(HeaderNonce)
}
