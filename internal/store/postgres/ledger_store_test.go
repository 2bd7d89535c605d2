package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/rec?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "rec", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://u:p@db:6543/rec?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "rec", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://override", DSN(ClientConfig{DSN: "postgres://override", Host: "ignored"}))
}

func TestNumericRoundTrip(t *testing.T) {
	vals, err := parseNums(num(0), num(18446744073709551615), "42")
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 18446744073709551615, 42}, vals)

	_, err = parseNums("-1")
	assert.Error(t, err)

	v := uint64(7)
	p, err := parseNumPtr(numPtr(&v))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), *p)

	p, err = parseNumPtr(numPtr(nil))
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Nil(t, addrPtr(nil))
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_ledger.sql")
	require.NoError(t, err)
	for _, table := range []string{"listings", "bids", "accounts", "verifiers", "verifier_stats", "verifications", "disputes", "admins", "ledger_journal"} {
		assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}
