package contract

import (
	"github.com/stellar/go/hash"
	"github.com/stellar/go/xdr"
)

// Hash returns the content hash of a contract's WASM code.
// The network keys contract-code entries by SHA-256 of the raw code bytes.
func Hash(code []byte) xdr.Hash {
	return xdr.Hash(hash.Hash(code))
}

// CodeKey returns the ledger key of the contract-code entry for the given hash
func CodeKey(codeHash xdr.Hash) xdr.LedgerKey {
	return xdr.LedgerKey{
		Type: xdr.LedgerEntryTypeContractCode,
		ContractCode: &xdr.LedgerKeyContractCode{
			Hash: codeHash,
		},
	}
}

// CodeEntry builds the ledger entry holding the given code
func CodeEntry(code []byte, lastModified uint32) xdr.LedgerEntry {
	return xdr.LedgerEntry{
		LastModifiedLedgerSeq: xdr.Uint32(lastModified),
		Data: xdr.LedgerEntryData{
			Type: xdr.LedgerEntryTypeContractCode,
			ContractCode: &xdr.ContractCodeEntry{
				Hash: Hash(code),
				Code: code,
			},
		},
	}
}
