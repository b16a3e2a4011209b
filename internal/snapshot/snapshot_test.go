package snapshot

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"sorobancli/internal/contract"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accountEntry(t *testing.T, seq int64) xdr.LedgerEntry {
	t.Helper()
	kp := keypair.MustRandom()
	return xdr.LedgerEntry{
		LastModifiedLedgerSeq: 3,
		Data: xdr.LedgerEntryData{
			Type: xdr.LedgerEntryTypeAccount,
			Account: &xdr.AccountEntry{
				AccountId: xdr.MustAddress(kp.Address()),
				Balance:   100_0000000,
				SeqNum:    xdr.SequenceNumber(seq),
			},
		},
	}
}

func marshal(t *testing.T, v interface{ MarshalBinary() ([]byte, error) }) []byte {
	t.Helper()
	b, err := v.MarshalBinary()
	require.NoError(t, err)
	return b
}

func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "ledger.json")

	_, err := Load(path)
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrUnreadable))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	var pathErr *PathError
	require.True(t, errors.As(err, &pathErr))
	assert.Equal(t, path, pathErr.Path)
	assert.Contains(t, err.Error(), path)
}

func TestLoad_Corrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "this is not a ledger"},
		{"bad key", `{"ledger_entries":[{"key":"!!!","entry":"AAAA"}]}`},
		{"unknown field", `{"protocol_version":22,"surprise":true,"ledger_entries":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "ledger.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := Load(path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnreadable))
			assert.True(t, errors.Is(err, ErrCorrupt))
		})
	}
}

func TestLoad_KeyEntryMismatch(t *testing.T) {
	entry := contract.CodeEntry([]byte("foo"), 0)
	wrongKey, err := xdr.MarshalBase64(contract.CodeKey(contract.Hash([]byte("bar"))))
	require.NoError(t, err)
	value, err := xdr.MarshalBase64(entry)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ledger.json")
	content := `{"ledger_entries":[{"key":"` + wrongKey + `","entry":"` + value + `"}]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err = Load(path)
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestLoad_AcceptsComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	content := `{
  // hand-edited sandbox
  "protocol_version": 22,
  "sequence_number": 5,
  "ledger_entries": [],
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), s.Info.SequenceNumber)
	assert.Equal(t, 0, s.Len())
}

func TestCommitLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".soroban", "ledger.json")
	info := DefaultLedgerInfo()
	info.SequenceNumber = 42

	s := New(info)
	unrelated := accountEntry(t, 99)
	require.NoError(t, s.Put(unrelated))
	codeHash, err := s.UpsertContractCode([]byte("foo"))
	require.NoError(t, err)

	require.NoError(t, Commit(s, info, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, info, loaded.Info)
	require.Equal(t, 2, loaded.Len())

	key, err := unrelated.LedgerKey()
	require.NoError(t, err)
	got, ok := loaded.Get(key)
	require.True(t, ok)
	assert.Equal(t, marshal(t, unrelated), marshal(t, got))

	code, ok := loaded.Get(contract.CodeKey(codeHash))
	require.True(t, ok)
	assert.Equal(t, []byte("foo"), code.Data.MustContractCode().Code)
	assert.Equal(t, xdr.Uint32(42), code.LastModifiedLedgerSeq)

	// Order of entries is preserved
	entries := loaded.Entries()
	assert.Equal(t, xdr.LedgerEntryTypeAccount, entries[0].Value.Data.Type)
	assert.Equal(t, xdr.LedgerEntryTypeContractCode, entries[1].Value.Data.Type)
}

func TestUpsertContractCode_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, Init(path, DefaultLedgerInfo()))

	install := func() (xdr.Hash, []byte) {
		s, err := Load(path)
		require.NoError(t, err)
		h, err := s.UpsertContractCode([]byte("foo"))
		require.NoError(t, err)
		require.NoError(t, Commit(s, s.Info, path))

		reloaded, err := Load(path)
		require.NoError(t, err)
		entry, ok := reloaded.Get(contract.CodeKey(h))
		require.True(t, ok)
		return h, marshal(t, entry)
	}

	firstHash, firstEntry := install()
	secondHash, secondEntry := install()

	assert.Equal(t, firstHash, secondHash)
	assert.Equal(t, firstEntry, secondEntry)

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestUpsertContractCode_KeepsExistingEntryWhenUnchanged(t *testing.T) {
	info := DefaultLedgerInfo()
	s := New(info)

	h, err := s.UpsertContractCode([]byte("foo"))
	require.NoError(t, err)

	s.Info.SequenceNumber = 10
	again, err := s.UpsertContractCode([]byte("foo"))
	require.NoError(t, err)
	assert.Equal(t, h, again)

	entry, ok := s.Get(contract.CodeKey(h))
	require.True(t, ok)
	assert.Equal(t, xdr.Uint32(0), entry.LastModifiedLedgerSeq)
}

func TestCommit_FailureLeavesPreviousFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")
	require.NoError(t, Init(path, DefaultLedgerInfo()))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// A regular file where the ledger directory should be makes the commit fail
	blocked := filepath.Join(dir, "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("file"), 0o644))

	s := New(DefaultLedgerInfo())
	_, err = s.UpsertContractCode([]byte("foo"))
	require.NoError(t, err)

	err = Commit(s, s.Info, filepath.Join(blocked, "ledger.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWriteFailure))

	var pathErr *PathError
	require.True(t, errors.As(err, &pathErr))
	assert.Equal(t, filepath.Join(blocked, "ledger.json"), pathErr.Path)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	leftovers, err := filepath.Glob(filepath.Join(dir, ".ledger-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestInit_RefusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, Init(path, DefaultLedgerInfo()))

	err := Init(path, DefaultLedgerInfo())
	assert.True(t, errors.Is(err, ErrExists))
	assert.True(t, errors.Is(err, ErrWriteFailure))
}
