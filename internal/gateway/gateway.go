// Package gateway talks to a remote Soroban RPC service: it reads account
// sequence numbers and submits signed transaction envelopes.
//
// Nothing in this package retries. A retrying transport can be plugged in
// through NewHTTPClient; that is the only place retry policy lives.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/creachadair/jrpc2"
	"github.com/stellar/go/xdr"
)

var (
	// ErrNetwork is returned when the remote service cannot be reached or answers garbage
	ErrNetwork = errors.New("network error")
	// ErrAccountNotFound is returned when the source account does not exist on the network
	ErrAccountNotFound = errors.New("account not found")
	// ErrRejected is returned when the remote service refuses a transaction
	ErrRejected = errors.New("transaction rejected by network")
)

// Dialect selects the RPC method set spoken by the remote service
type Dialect string

const (
	// DialectStellarRPC uses getLedgerEntries / sendTransaction
	DialectStellarRPC Dialect = "stellar-rpc"
	// DialectLegacy uses getAccount / submitTransaction
	DialectLegacy Dialect = "legacy"
)

// Account is the remote view of a source account
type Account struct {
	Address  string
	Sequence int64
}

// SubmitResult describes an accepted submission
type SubmitResult struct {
	// Hash is the hex transaction hash reported by the service
	Hash   string
	Status string
}

// Gateway is the remote side of a network installation
type Gateway interface {
	GetAccount(ctx context.Context, address string) (Account, error)
	Submit(ctx context.Context, env xdr.TransactionEnvelope) (SubmitResult, error)
	Close() error
}

// RejectedError carries the payload the service sent back when refusing a transaction
type RejectedError struct {
	Status  string
	Payload string
}

func (e *RejectedError) Error() string {
	if e.Payload == "" {
		return fmt.Sprintf("%v: status %s", ErrRejected, e.Status)
	}
	return fmt.Sprintf("%v: status %s: %s", ErrRejected, e.Status, e.Payload)
}

func (e *RejectedError) Unwrap() error {
	return ErrRejected
}

func networkError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNetwork, op, err)
}

// serverError returns the error object the service sent back for a call.
// It reports false when err came from the HTTP exchange or from the caller's
// context instead, even though the JSON-RPC client may present those as
// error objects too.
func serverError(err error, failures *failureLog, mark uint64) (*jrpc2.Error, bool) {
	if failures.since(mark) != nil {
		return nil, false
	}
	var rpcErr *jrpc2.Error
	if !errors.As(err, &rpcErr) {
		return nil, false
	}
	switch rpcErr.Code {
	case jrpc2.Cancelled, jrpc2.DeadlineExceeded:
		return nil, false
	}
	return rpcErr, true
}

// errorPayload renders an error object's message and data
func errorPayload(rpcErr *jrpc2.Error) string {
	if len(rpcErr.Data) == 0 {
		return rpcErr.Message
	}
	return fmt.Sprintf("%s: %s", rpcErr.Message, rpcErr.Data)
}

// isNotFound matches the error object legacy services send for a missing account
func isNotFound(rpcErr *jrpc2.Error) bool {
	return strings.Contains(strings.ToLower(rpcErr.Message), "not found") &&
		rpcErr.Code != jrpc2.MethodNotFound
}

// New returns the gateway for the given dialect
func New(dialect Dialect, url string, opts ...ClientOption) (Gateway, error) {
	if url == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	httpClient := NewHTTPClient(opts...)

	switch dialect {
	case DialectStellarRPC, "":
		return NewRPCGateway(url, httpClient), nil
	case DialectLegacy:
		return NewJSONRPCGateway(url, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown rpc dialect %q", dialect)
	}
}
