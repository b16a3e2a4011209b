package txbuild

import (
	"errors"
	"fmt"
	"math"

	"sorobancli/internal/contract"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// ErrEncoding is returned when an input cannot be represented in the transaction wire format
var ErrEncoding = errors.New("xdr encoding error")

// MaxOpaqueSize is the largest variable-length opaque the XDR encoding can carry
const MaxOpaqueSize = math.MaxUint32

// Options tune the Soroban resources attached to the install transaction
type Options struct {
	// MaxCodeSize rejects code larger than this many bytes (0 = wire format limit only)
	MaxCodeSize uint64

	Instructions uint32
	ResourceFee  int64
}

// Option modifies Options
type Option func(*Options)

// WithMaxCodeSize bounds the accepted code size
func WithMaxCodeSize(n uint64) Option {
	return func(o *Options) { o.MaxCodeSize = n }
}

// WithResources sets the instruction budget and resource fee declared in the transaction
func WithResources(instructions uint32, resourceFee int64) Option {
	return func(o *Options) {
		o.Instructions = instructions
		o.ResourceFee = resourceFee
	}
}

// BuildInstall builds the transaction that uploads code to the network.
//
// The transaction is sourced from address, uses accountSeq+1 as its sequence
// number, pays the flat fee, has no preconditions and no memo, and carries a
// single upload-wasm host function whose read-write footprint is exactly the
// contract-code key of code. The returned hash is the content hash of code.
func BuildInstall(code []byte, accountSeq int64, fee uint32, address string, opts ...Option) (xdr.Transaction, xdr.Hash, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}

	if len(code) == 0 {
		return xdr.Transaction{}, xdr.Hash{}, fmt.Errorf("%w: contract code is empty", ErrEncoding)
	}
	if uint64(len(code)) > MaxOpaqueSize {
		return xdr.Transaction{}, xdr.Hash{}, fmt.Errorf("%w: contract code is %d bytes, wire format allows %d", ErrEncoding, len(code), uint64(MaxOpaqueSize))
	}
	if o.MaxCodeSize > 0 && uint64(len(code)) > o.MaxCodeSize {
		return xdr.Transaction{}, xdr.Hash{}, fmt.Errorf("%w: contract code is %d bytes, limit is %d", ErrEncoding, len(code), o.MaxCodeSize)
	}
	if fee == 0 {
		return xdr.Transaction{}, xdr.Hash{}, fmt.Errorf("%w: fee must be positive", ErrEncoding)
	}
	if accountSeq < 0 || accountSeq == math.MaxInt64 {
		return xdr.Transaction{}, xdr.Hash{}, fmt.Errorf("%w: account sequence %d cannot be incremented", ErrEncoding, accountSeq)
	}
	if o.ResourceFee < 0 {
		return xdr.Transaction{}, xdr.Hash{}, fmt.Errorf("%w: resource fee must not be negative", ErrEncoding)
	}

	source, err := sourceAccount(address)
	if err != nil {
		return xdr.Transaction{}, xdr.Hash{}, err
	}

	codeHash := contract.Hash(code)
	op := uploadOperation(code)

	tx := xdr.Transaction{
		SourceAccount: source,
		Fee:           xdr.Uint32(fee),
		SeqNum:        xdr.SequenceNumber(accountSeq + 1),
		Cond:          xdr.Preconditions{Type: xdr.PreconditionTypePrecondNone},
		Memo:          xdr.Memo{Type: xdr.MemoTypeMemoNone},
		Operations:    []xdr.Operation{op},
		Ext: xdr.TransactionExt{
			V: 1,
			SorobanData: &xdr.SorobanTransactionData{
				Resources: xdr.SorobanResources{
					Footprint: xdr.LedgerFootprint{
						ReadOnly:  []xdr.LedgerKey{},
						ReadWrite: []xdr.LedgerKey{contract.CodeKey(codeHash)},
					},
					Instructions: xdr.Uint32(o.Instructions),
				},
				ResourceFee: xdr.Int64(o.ResourceFee),
			},
		},
	}

	// Catch anything the XDR encoder rejects before it reaches the signer
	if _, err := tx.MarshalBinary(); err != nil {
		return xdr.Transaction{}, xdr.Hash{}, fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	return tx, codeHash, nil
}

func uploadOperation(code []byte) xdr.Operation {
	wasm := code
	return xdr.Operation{
		Body: xdr.OperationBody{
			Type: xdr.OperationTypeInvokeHostFunction,
			InvokeHostFunctionOp: &xdr.InvokeHostFunctionOp{
				HostFunction: xdr.HostFunction{
					Type: xdr.HostFunctionTypeHostFunctionTypeUploadContractWasm,
					Wasm: &wasm,
				},
				Auth: []xdr.SorobanAuthorizationEntry{},
			},
		},
	}
}

func sourceAccount(address string) (xdr.MuxedAccount, error) {
	raw, err := strkey.Decode(strkey.VersionByteAccountID, address)
	if err != nil {
		return xdr.MuxedAccount{}, fmt.Errorf("%w: invalid source account %q: %w", ErrEncoding, address, err)
	}
	var key xdr.Uint256
	copy(key[:], raw)
	return xdr.MuxedAccount{
		Type:    xdr.CryptoKeyTypeKeyTypeEd25519,
		Ed25519: &key,
	}, nil
}

// Footprint returns the Soroban footprint of an install transaction
func Footprint(tx xdr.Transaction) (xdr.LedgerFootprint, bool) {
	data, ok := tx.Ext.GetSorobanData()
	if !ok {
		return xdr.LedgerFootprint{}, false
	}
	return data.Resources.Footprint, true
}
