package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/recledger/internal/domain"
)

var (
	verifier1 = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	verifier2 = common.HexToAddress("0x00000000000000000000000000000000000000d2")
)

func withVerifier(t *testing.T, f *fixture, p domain.Principal) {
	t.Helper()
	require.NoError(t, f.engine.AddVerifier(f.ctx, owner, p, "Green Energy Certifiers", "Green-e"))
}

func TestVerifierManagement(t *testing.T) {
	f := newFixture(t)

	err := f.engine.AddVerifier(f.ctx, stranger, verifier1, "Unauthorized", "None")
	require.Equal(t, domain.CodeVerifierUnauthorized, domain.VerificationCode(err))

	withVerifier(t, f, verifier1)
	require.True(t, f.engine.IsAuthorizedVerifier(f.ctx, verifier1))

	v, ok := f.engine.GetVerifierInfo(f.ctx, verifier1)
	require.True(t, ok)
	require.Equal(t, domain.Verifier{
		Principal:         verifier1,
		Name:              "Green Energy Certifiers",
		CertificationBody: "Green-e",
		AuthorizedDate:    100,
		Active:            true,
	}, v)

	stats, ok := f.engine.GetVerifierStats(f.ctx, verifier1)
	require.True(t, ok)
	require.Equal(t, domain.VerifierStats{ReputationScore: 100}, stats)

	err = f.engine.DeactivateVerifier(f.ctx, stranger, verifier1)
	require.Equal(t, domain.CodeVerifierUnauthorized, domain.VerificationCode(err))
	require.NoError(t, f.engine.DeactivateVerifier(f.ctx, owner, verifier1))
	require.False(t, f.engine.IsAuthorizedVerifier(f.ctx, verifier1))
	require.ErrorIs(t, f.engine.DeactivateVerifier(f.ctx, owner, verifier2), domain.ErrNotFound)

	require.False(t, f.engine.IsAuthorizedVerifier(f.ctx, stranger))
	require.Len(t, f.engine.Verifiers(f.ctx), 1)
}

func TestReaddingVerifierKeepsStats(t *testing.T) {
	f := newFixture(t)
	withVerifier(t, f, verifier1)
	_, err := f.engine.SubmitVerification(f.ctx, verifier1, Submission{TokenID: 1, Status: domain.StatusVerified})
	require.NoError(t, err)
	require.NoError(t, f.engine.UpdateVerifierReputation(f.ctx, owner, verifier1, 60))
	require.NoError(t, f.engine.DeactivateVerifier(f.ctx, owner, verifier1))

	f.clock.Advance(10)
	require.NoError(t, f.engine.AddVerifier(f.ctx, owner, verifier1, "Renamed", "I-REC"))
	v, _ := f.engine.GetVerifierInfo(f.ctx, verifier1)
	require.True(t, v.Active)
	require.Equal(t, "Renamed", v.Name)
	require.Equal(t, uint64(110), v.AuthorizedDate)

	stats, _ := f.engine.GetVerifierStats(f.ctx, verifier1)
	require.Equal(t, domain.VerifierStats{TotalVerifications: 1, VerifiedCount: 1, ReputationScore: 60}, stats)
}

func TestSubmitVerification(t *testing.T) {
	f := newFixture(t)
	withVerifier(t, f, verifier1)

	expiry := uint64(1735689600)
	id, err := f.engine.SubmitVerification(f.ctx, verifier1, Submission{
		TokenID:      2,
		Status:       domain.StatusVerified,
		Notes:        "Comprehensive verification completed",
		EvidenceHash: "QmDetailedHash456",
		ExpiryDate:   &expiry,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	r, ok := f.engine.GetVerification(f.ctx, id)
	require.True(t, ok)
	require.Equal(t, domain.VerificationRecord{
		ID:               1,
		TokenID:          2,
		Verifier:         verifier1,
		VerificationDate: 100,
		Status:           domain.StatusVerified,
		Notes:            "Comprehensive verification completed",
		EvidenceHash:     "QmDetailedHash456",
		ExpiryDate:       &expiry,
	}, r)

	_, err = f.engine.SubmitVerification(f.ctx, stranger, Submission{TokenID: 1, Status: domain.StatusVerified})
	require.Equal(t, domain.CodeInvalidVerifier, domain.VerificationCode(err))

	_, err = f.engine.SubmitVerification(f.ctx, verifier1, Submission{TokenID: 1, Status: "invalid-status"})
	require.Equal(t, domain.CodeInvalidStatus, domain.VerificationCode(err))

	_, err = f.engine.SubmitVerification(f.ctx, verifier1, Submission{TokenID: 1, Status: domain.StatusDisputed})
	require.ErrorIs(t, err, domain.ErrInvalidStatus)
	require.Equal(t, uint64(1), f.engine.GetVerificationCount(f.ctx))
}

func TestVerifierStatsTally(t *testing.T) {
	f := newFixture(t)
	withVerifier(t, f, verifier1)

	_, err := f.engine.SubmitVerification(f.ctx, verifier1, Submission{TokenID: 3, Status: domain.StatusVerified})
	require.NoError(t, err)
	_, err = f.engine.SubmitVerification(f.ctx, verifier1, Submission{TokenID: 4, Status: domain.StatusRejected})
	require.NoError(t, err)
	_, err = f.engine.SubmitVerification(f.ctx, verifier1, Submission{TokenID: 5, Status: domain.StatusPending})
	require.NoError(t, err)

	stats, _ := f.engine.GetVerifierStats(f.ctx, verifier1)
	require.Equal(t, domain.VerifierStats{
		TotalVerifications: 3,
		VerifiedCount:      1,
		RejectedCount:      1,
		ReputationScore:    100,
	}, stats)
}

func TestTokenVerificationHistory(t *testing.T) {
	f := newFixture(t)
	withVerifier(t, f, verifier1)
	withVerifier(t, f, verifier2)

	require.False(t, f.engine.IsTokenVerified(f.ctx, 8))
	_, ok := f.engine.GetTokenVerification(f.ctx, 8)
	require.False(t, ok)

	_, err := f.engine.SubmitVerification(f.ctx, verifier1, Submission{TokenID: 8, Status: domain.StatusVerified, EvidenceHash: "QmReadHash"})
	require.NoError(t, err)
	require.True(t, f.engine.IsTokenVerified(f.ctx, 8))

	second, err := f.engine.SubmitVerification(f.ctx, verifier2, Submission{TokenID: 8, Status: domain.StatusRejected})
	require.NoError(t, err)
	require.False(t, f.engine.IsTokenVerified(f.ctx, 8))

	latest, ok := f.engine.GetTokenVerification(f.ctx, 8)
	require.True(t, ok)
	require.Equal(t, second, latest.ID)

	history := f.engine.GetTokenVerificationHistory(f.ctx, 8)
	require.Len(t, history, 2)
	require.Equal(t, verifier1, history[0].Verifier)
	require.Equal(t, verifier2, history[1].Verifier)
	require.Empty(t, f.engine.GetTokenVerificationHistory(f.ctx, 9))
}

func TestUpdateVerificationStatus(t *testing.T) {
	f := newFixture(t)
	withVerifier(t, f, verifier1)
	withVerifier(t, f, verifier2)

	id, err := f.engine.SubmitVerification(f.ctx, verifier1, Submission{TokenID: 5, Status: domain.StatusPending})
	require.NoError(t, err)

	err = f.engine.UpdateVerificationStatus(f.ctx, verifier2, id, domain.StatusVerified, "not mine")
	require.Equal(t, domain.CodeVerifierUnauthorized, domain.VerificationCode(err))

	err = f.engine.UpdateVerificationStatus(f.ctx, verifier1, 42, domain.StatusVerified, "")
	require.Equal(t, domain.CodeVerificationNotFound, domain.VerificationCode(err))

	err = f.engine.UpdateVerificationStatus(f.ctx, verifier1, id, domain.StatusDisputed, "")
	require.Equal(t, domain.CodeInvalidStatus, domain.VerificationCode(err))

	require.NoError(t, f.engine.UpdateVerificationStatus(f.ctx, verifier1, id, domain.StatusRejected, "Failed compliance check"))
	r, _ := f.engine.GetVerification(f.ctx, id)
	require.Equal(t, domain.StatusRejected, r.Status)
	require.Equal(t, "Failed compliance check", r.Notes)
}

func TestDisputeLifecycle(t *testing.T) {
	f := newFixture(t)
	withVerifier(t, f, verifier1)

	id, err := f.engine.SubmitVerification(f.ctx, verifier1, Submission{TokenID: 6, Status: domain.StatusVerified})
	require.NoError(t, err)

	require.ErrorIs(t, f.engine.DisputeVerification(f.ctx, stranger, 99, "missing"), domain.ErrNotFound)
	require.NoError(t, f.engine.DisputeVerification(f.ctx, stranger, id, "Suspicious generation data"))

	r, _ := f.engine.GetVerification(f.ctx, id)
	require.Equal(t, domain.StatusDisputed, r.Status)
	require.False(t, f.engine.IsTokenVerified(f.ctx, 6))

	d, ok := f.engine.GetVerificationDispute(f.ctx, id)
	require.True(t, ok)
	require.Equal(t, domain.Dispute{
		RecordID:    id,
		Disputer:    stranger,
		Reason:      "Suspicious generation data",
		DisputeDate: 100,
	}, d)
	require.Len(t, f.engine.OpenDisputes(f.ctx), 1)

	// An open dispute blocks a second dispute and author updates.
	err = f.engine.DisputeVerification(f.ctx, bidder1, id, "me too")
	require.Equal(t, domain.CodeInvalidStatus, domain.VerificationCode(err))
	err = f.engine.UpdateVerificationStatus(f.ctx, verifier1, id, domain.StatusVerified, "")
	require.Equal(t, domain.CodeInvalidStatus, domain.VerificationCode(err))

	err = f.engine.ResolveDispute(f.ctx, stranger, id, "nope", domain.StatusVerified)
	require.Equal(t, domain.CodeVerifierUnauthorized, domain.VerificationCode(err))
	err = f.engine.ResolveDispute(f.ctx, owner, id, "bad", domain.StatusDisputed)
	require.Equal(t, domain.CodeInvalidStatus, domain.VerificationCode(err))
	require.ErrorIs(t, f.engine.ResolveDispute(f.ctx, owner, 77, "none", domain.StatusVerified), domain.ErrNotFound)

	f.clock.Advance(5)
	require.NoError(t, f.engine.ResolveDispute(f.ctx, owner, id, "Verification confirmed after review", domain.StatusVerified))
	d, _ = f.engine.GetVerificationDispute(f.ctx, id)
	require.True(t, d.Resolved)
	require.Equal(t, "Verification confirmed after review", *d.Resolution)
	require.Equal(t, uint64(105), *d.ResolvedAt)
	require.Equal(t, domain.StatusVerified, d.FinalStatus)
	require.True(t, f.engine.IsTokenVerified(f.ctx, 6))
	require.Empty(t, f.engine.OpenDisputes(f.ctx))

	err = f.engine.ResolveDispute(f.ctx, owner, id, "again", domain.StatusRejected)
	require.ErrorIs(t, err, domain.ErrInvalidStatus)

	// After resolution the author may update again and a new dispute replaces
	// the resolved one.
	require.NoError(t, f.engine.UpdateVerificationStatus(f.ctx, verifier1, id, domain.StatusPending, "rechecking"))
	require.NoError(t, f.engine.DisputeVerification(f.ctx, bidder1, id, "second look"))
	d, _ = f.engine.GetVerificationDispute(f.ctx, id)
	require.False(t, d.Resolved)
	require.Equal(t, bidder1, d.Disputer)
	require.Nil(t, d.Resolution)
}

func TestUpdateVerifierReputation(t *testing.T) {
	f := newFixture(t)
	withVerifier(t, f, verifier1)

	require.NoError(t, f.engine.UpdateVerifierReputation(f.ctx, owner, verifier1, 85))
	stats, _ := f.engine.GetVerifierStats(f.ctx, verifier1)
	require.Equal(t, uint64(85), stats.ReputationScore)

	err := f.engine.UpdateVerifierReputation(f.ctx, stranger, verifier1, 75)
	require.Equal(t, domain.CodeVerifierUnauthorized, domain.VerificationCode(err))

	err = f.engine.UpdateVerifierReputation(f.ctx, owner, verifier1, 150)
	require.Equal(t, domain.CodeInvalidStatus, domain.VerificationCode(err))

	require.ErrorIs(t, f.engine.UpdateVerifierReputation(f.ctx, owner, verifier2, 50), domain.ErrNotFound)
}

func TestBulkVerifyTokens(t *testing.T) {
	f := newFixture(t)
	withVerifier(t, f, verifier1)

	ids, err := f.engine.BulkVerifyTokens(f.ctx, owner, []uint64{10, 11, 12}, verifier1)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3}, ids)
	for i, token := range []uint64{10, 11, 12} {
		r, ok := f.engine.GetTokenVerification(f.ctx, token)
		require.True(t, ok)
		require.Equal(t, ids[i], r.ID)
		require.Equal(t, domain.StatusVerified, r.Status)
		require.Equal(t, BulkVerificationNotes, r.Notes)
	}
	stats, _ := f.engine.GetVerifierStats(f.ctx, verifier1)
	require.Equal(t, uint64(3), stats.TotalVerifications)
	require.Equal(t, uint64(3), stats.VerifiedCount)

	_, err = f.engine.BulkVerifyTokens(f.ctx, stranger, []uint64{1}, verifier1)
	require.Equal(t, domain.CodeVerifierUnauthorized, domain.VerificationCode(err))

	_, err = f.engine.BulkVerifyTokens(f.ctx, owner, []uint64{1}, verifier2)
	require.Equal(t, domain.CodeInvalidVerifier, domain.VerificationCode(err))

	tooMany := make([]uint64, MaxBulkVerify+1)
	_, err = f.engine.BulkVerifyTokens(f.ctx, owner, tooMany, verifier1)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	require.Equal(t, uint64(3), f.engine.GetVerificationCount(f.ctx))

	ids, err = f.engine.BulkVerifyTokens(f.ctx, owner, nil, verifier1)
	require.NoError(t, err)
	require.Empty(t, ids)
}
