package s3blob

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// metaHash records the content address on every evidence object.
const metaHash = "keccak256"

// ErrEvidenceCorrupt is returned when stored evidence no longer matches the
// hash it is addressed by.
var ErrEvidenceCorrupt = errors.New("s3blob: evidence content does not match its hash")

// EvidenceStore implements domain.EvidenceStore. Objects live under
// evidence/<keccak256 hex>, so identical documents are stored once, and
// reads are checked against the address.
type EvidenceStore struct {
	objects Objects
	prefix  string
}

// NewEvidenceStore creates an EvidenceStore. An empty prefix defaults to
// "evidence".
func NewEvidenceStore(objects Objects, prefix string) *EvidenceStore {
	if prefix == "" {
		prefix = "evidence"
	}
	return &EvidenceStore{objects: objects, prefix: strings.TrimSuffix(prefix, "/")}
}

// Put stores data and returns its content address. Uploading a document that
// already exists is a no-op.
func (e *EvidenceStore) Put(ctx context.Context, data []byte, contentType string) (domain.Evidence, error) {
	if len(data) == 0 {
		return domain.Evidence{}, fmt.Errorf("s3blob: put evidence: %w", domain.ErrInvalidAmount)
	}
	h := crypto.Keccak256Hash(data)
	ev := domain.Evidence{
		Hash:        h.Hex(),
		Path:        e.key(h),
		Size:        int64(len(data)),
		ContentType: contentType,
	}

	exists, err := e.objects.Exists(ctx, ev.Path)
	if err != nil {
		return domain.Evidence{}, fmt.Errorf("s3blob: put evidence: %w", err)
	}
	if exists {
		return ev, nil
	}
	if err := e.objects.Put(ctx, ev.Path, data, contentType, map[string]string{metaHash: ev.Hash}); err != nil {
		return domain.Evidence{}, fmt.Errorf("s3blob: put evidence %s: %w", ev.Hash, err)
	}
	return ev, nil
}

// Get opens the document with the given hash. The returned reader fails with
// ErrEvidenceCorrupt at EOF if the content does not hash to the address.
func (e *EvidenceStore) Get(ctx context.Context, hash string) (io.ReadCloser, error) {
	h, err := ParseEvidenceHash(hash)
	if err != nil {
		return nil, err
	}
	rc, _, err := e.objects.Open(ctx, e.key(h))
	if err != nil {
		return nil, err
	}
	return &verifiedReader{rc: rc, want: h, sum: crypto.NewKeccakState()}, nil
}

// Exists reports whether a document with the given hash is stored.
func (e *EvidenceStore) Exists(ctx context.Context, hash string) (bool, error) {
	h, err := ParseEvidenceHash(hash)
	if err != nil {
		return false, err
	}
	return e.objects.Exists(ctx, e.key(h))
}

func (e *EvidenceStore) key(h common.Hash) string {
	return e.prefix + "/" + strings.TrimPrefix(h.Hex(), "0x")
}

// verifiedReader hashes what it reads and checks the digest at EOF.
type verifiedReader struct {
	rc   io.ReadCloser
	want common.Hash
	sum  hash.Hash
}

func (v *verifiedReader) Read(p []byte) (int, error) {
	n, err := v.rc.Read(p)
	v.sum.Write(p[:n])
	if errors.Is(err, io.EOF) && common.BytesToHash(v.sum.Sum(nil)) != v.want {
		return n, fmt.Errorf("%w: %s", ErrEvidenceCorrupt, v.want.Hex())
	}
	return n, err
}

func (v *verifiedReader) Close() error { return v.rc.Close() }

// ParseEvidenceHash parses a 0x-prefixed 32-byte hex hash.
func ParseEvidenceHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("s3blob: evidence hash %q: %w", s, domain.ErrInvalidStatus)
	}
	return common.BytesToHash(b), nil
}

var _ domain.EvidenceStore = (*EvidenceStore)(nil)
