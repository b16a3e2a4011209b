package contract

import (
	"crypto/sha256"
	"testing"

	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_Stable(t *testing.T) {
	code := []byte("a contract")

	first := Hash(code)
	second := Hash(append([]byte(nil), code...))

	assert.Equal(t, first, second)
	assert.Equal(t, xdr.Hash(sha256.Sum256(code)), first)
}

func TestHash_DistinctInputs(t *testing.T) {
	assert.NotEqual(t, Hash([]byte("foo")), Hash([]byte("fop")))
	assert.NotEqual(t, Hash(nil), Hash([]byte{0}))
}

func TestHash_KnownVector(t *testing.T) {
	// sha256("foo")
	assert.Equal(t,
		"2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae",
		Hash([]byte("foo")).HexString(),
	)
}

func TestCodeKey_MatchesEntryKey(t *testing.T) {
	code := []byte("foo")
	entry := CodeEntry(code, 7)

	derived, err := entry.LedgerKey()
	require.NoError(t, err)

	want, err := CodeKey(Hash(code)).MarshalBinary()
	require.NoError(t, err)
	got, err := derived.MarshalBinary()
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Equal(t, xdr.Uint32(7), entry.LastModifiedLedgerSeq)
}
