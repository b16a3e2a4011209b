// Package snapshot reads and writes the local ledger file that backs the
// sandbox network.
//
// The file is read fully into memory, mutated and written back with a
// temp-file-then-rename commit. There is no locking: two processes committing
// to the same path race and the last rename wins. Callers own that.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"sorobancli/internal/contract"

	"github.com/stellar/go/xdr"
	"github.com/tidwall/jsonc"
)

// DefaultPath is where the sandbox ledger lives unless configured otherwise
const DefaultPath = ".soroban/ledger.json"

// SandboxPassphrase identifies the local sandbox network
const SandboxPassphrase = "Local Sandbox Stellar Network ; September 2022"

var (
	// ErrUnreadable is returned by Load when the snapshot cannot be read or parsed
	ErrUnreadable = errors.New("snapshot unreadable")
	// ErrWriteFailure is returned by Commit and Init when the snapshot cannot be written
	ErrWriteFailure = errors.New("snapshot write failure")

	ErrNotFound = errors.New("snapshot file not found")
	ErrCorrupt  = errors.New("snapshot file corrupt")
	ErrExists   = errors.New("snapshot file already exists")
)

// PathError records a snapshot failure together with the file involved
type PathError struct {
	Kind error
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As
func (e *PathError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// LedgerInfo is the header describing the simulated ledger
type LedgerInfo struct {
	ProtocolVersion   uint32 `json:"protocol_version"`
	SequenceNumber    uint32 `json:"sequence_number"`
	Timestamp         uint64 `json:"timestamp"`
	NetworkPassphrase string `json:"network_passphrase"`
	BaseReserve       uint32 `json:"base_reserve"`
}

// DefaultLedgerInfo returns the header used for a fresh sandbox ledger
func DefaultLedgerInfo() LedgerInfo {
	return LedgerInfo{
		ProtocolVersion:   22,
		SequenceNumber:    0,
		Timestamp:         0,
		NetworkPassphrase: SandboxPassphrase,
		BaseReserve:       1,
	}
}

// Entry is a single ledger key/value pair
type Entry struct {
	Key   xdr.LedgerKey
	Value xdr.LedgerEntry
}

// Snapshot is the in-memory ledger state
type Snapshot struct {
	Info LedgerInfo

	entries []Entry
	index   map[string]int // base64 key -> position in entries
}

// New returns an empty snapshot with the given header
func New(info LedgerInfo) *Snapshot {
	return &Snapshot{
		Info:  info,
		index: make(map[string]int),
	}
}

type fileEntry struct {
	Key   string `json:"key"`
	Entry string `json:"entry"`
}

type fileFormat struct {
	LedgerInfo
	LedgerEntries []fileEntry `json:"ledger_entries"`
}

// Load reads the snapshot stored at path
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &PathError{Kind: ErrUnreadable, Path: path, Err: fmt.Errorf("%w: %w", ErrNotFound, err)}
		}
		return nil, &PathError{Kind: ErrUnreadable, Path: path, Err: err}
	}

	s, err := decode(data)
	if err != nil {
		return nil, &PathError{Kind: ErrUnreadable, Path: path, Err: fmt.Errorf("%w: %w", ErrCorrupt, err)}
	}
	return s, nil
}

func decode(data []byte) (*Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.DisallowUnknownFields()

	var file fileFormat
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse ledger file: %w", err)
	}

	s := New(file.LedgerInfo)
	for i, fe := range file.LedgerEntries {
		var key xdr.LedgerKey
		if err := xdr.SafeUnmarshalBase64(fe.Key, &key); err != nil {
			return nil, fmt.Errorf("entry %d: failed to decode key: %w", i, err)
		}
		var value xdr.LedgerEntry
		if err := xdr.SafeUnmarshalBase64(fe.Entry, &value); err != nil {
			return nil, fmt.Errorf("entry %d: failed to decode entry: %w", i, err)
		}

		derived, err := value.LedgerKey()
		if err != nil {
			return nil, fmt.Errorf("entry %d: failed to derive key: %w", i, err)
		}
		derivedB64, err := xdr.MarshalBase64(derived)
		if err != nil {
			return nil, fmt.Errorf("entry %d: failed to encode derived key: %w", i, err)
		}
		canonical, err := xdr.MarshalBase64(key)
		if err != nil {
			return nil, fmt.Errorf("entry %d: failed to encode key: %w", i, err)
		}
		if derivedB64 != canonical {
			return nil, fmt.Errorf("entry %d: key does not match entry", i)
		}
		if _, dup := s.index[canonical]; dup {
			return nil, fmt.Errorf("entry %d: duplicate key", i)
		}

		s.index[canonical] = len(s.entries)
		s.entries = append(s.entries, Entry{Key: key, Value: value})
	}
	return s, nil
}

// Len returns the number of ledger entries
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Entries returns the ledger entries in file order
func (s *Snapshot) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Get returns the entry stored under key
func (s *Snapshot) Get(key xdr.LedgerKey) (xdr.LedgerEntry, bool) {
	k, err := xdr.MarshalBase64(key)
	if err != nil {
		return xdr.LedgerEntry{}, false
	}
	i, ok := s.index[k]
	if !ok {
		return xdr.LedgerEntry{}, false
	}
	return s.entries[i].Value, true
}

// Put inserts or replaces the entry stored under its own key
func (s *Snapshot) Put(value xdr.LedgerEntry) error {
	key, err := value.LedgerKey()
	if err != nil {
		return fmt.Errorf("failed to derive ledger key: %w", err)
	}
	k, err := xdr.MarshalBase64(key)
	if err != nil {
		return fmt.Errorf("failed to encode ledger key: %w", err)
	}

	if i, ok := s.index[k]; ok {
		s.entries[i].Value = value
		return nil
	}
	s.index[k] = len(s.entries)
	s.entries = append(s.entries, Entry{Key: key, Value: value})
	return nil
}

// UpsertContractCode stores code as a contract-code entry and returns its hash.
// Installing bytes that are already present leaves the existing entry as is.
func (s *Snapshot) UpsertContractCode(code []byte) (xdr.Hash, error) {
	codeHash := contract.Hash(code)

	if existing, ok := s.Get(contract.CodeKey(codeHash)); ok {
		if cc, ok := existing.Data.GetContractCode(); ok && bytes.Equal(cc.Code, code) {
			return codeHash, nil
		}
	}

	if err := s.Put(contract.CodeEntry(code, s.Info.SequenceNumber)); err != nil {
		return xdr.Hash{}, err
	}
	return codeHash, nil
}

func (s *Snapshot) encode(info LedgerInfo) ([]byte, error) {
	file := fileFormat{
		LedgerInfo:    info,
		LedgerEntries: make([]fileEntry, 0, len(s.entries)),
	}
	for _, e := range s.entries {
		key, err := xdr.MarshalBase64(e.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to encode key: %w", err)
		}
		value, err := xdr.MarshalBase64(e.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode entry: %w", err)
		}
		file.LedgerEntries = append(file.LedgerEntries, fileEntry{Key: key, Entry: value})
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ledger file: %w", err)
	}
	return append(data, '\n'), nil
}

// Commit writes the snapshot with the given header to path, replacing the
// previous contents. On failure the previous file is left intact.
func Commit(s *Snapshot, info LedgerInfo, path string) error {
	data, err := s.encode(info)
	if err != nil {
		return &PathError{Kind: ErrWriteFailure, Path: path, Err: err}
	}
	if err := writeAtomic(path, data); err != nil {
		return &PathError{Kind: ErrWriteFailure, Path: path, Err: err}
	}
	s.Info = info
	return nil
}

// Init creates an empty snapshot at path. It refuses to replace an existing file.
func Init(path string, info LedgerInfo) error {
	if _, err := os.Stat(path); err == nil {
		return &PathError{Kind: ErrWriteFailure, Path: path, Err: ErrExists}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return &PathError{Kind: ErrWriteFailure, Path: path, Err: err}
	}
	return Commit(New(info), info, path)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("creating temp ledger file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing temp ledger file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("syncing temp ledger file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp ledger file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("setting ledger file mode: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming ledger file to %s: %w", path, err)
	}

	success = true
	return nil
}
