package gateway

import (
	"context"
	"fmt"
	"net/http"

	rpcclient "github.com/stellar/go/clients/rpcclient"
	protocol "github.com/stellar/go/protocols/rpc"
	"github.com/stellar/go/xdr"
)

// RPCGateway speaks the stellar-rpc method set through the stellar/go client
type RPCGateway struct {
	client   *rpcclient.Client
	failures *failureLog
}

// NewRPCGateway creates a gateway for the stellar-rpc service at url
func NewRPCGateway(url string, httpClient *http.Client) *RPCGateway {
	httpClient, failures := withFailureLog(httpClient)
	return &RPCGateway{
		client:   rpcclient.NewClient(url, httpClient),
		failures: failures,
	}
}

// GetAccount reads the account ledger entry and returns its sequence number
func (g *RPCGateway) GetAccount(ctx context.Context, address string) (Account, error) {
	accountID, err := xdr.AddressToAccountId(address)
	if err != nil {
		return Account{}, fmt.Errorf("invalid account address %q: %w", address, err)
	}
	key, err := xdr.MarshalBase64(xdr.LedgerKey{
		Type:    xdr.LedgerEntryTypeAccount,
		Account: &xdr.LedgerKeyAccount{AccountId: accountID},
	})
	if err != nil {
		return Account{}, fmt.Errorf("failed to encode account key: %w", err)
	}

	resp, err := g.client.GetLedgerEntries(ctx, protocol.GetLedgerEntriesRequest{
		Keys: []string{key},
	})
	if err != nil {
		return Account{}, networkError("getLedgerEntries", err)
	}
	if len(resp.Entries) == 0 {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}

	var data xdr.LedgerEntryData
	if err := xdr.SafeUnmarshalBase64(resp.Entries[0].DataXDR, &data); err != nil {
		return Account{}, networkError("getLedgerEntries", fmt.Errorf("failed to decode account entry: %w", err))
	}
	account, ok := data.GetAccount()
	if !ok {
		return Account{}, networkError("getLedgerEntries", fmt.Errorf("unexpected entry type %s", data.Type))
	}

	return Account{
		Address:  address,
		Sequence: int64(account.SeqNum),
	}, nil
}

// Submit sends env with sendTransaction
func (g *RPCGateway) Submit(ctx context.Context, env xdr.TransactionEnvelope) (SubmitResult, error) {
	encoded, err := xdr.MarshalBase64(env)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to encode envelope: %w", err)
	}

	mark := g.failures.mark()
	resp, err := g.client.SendTransaction(ctx, protocol.SendTransactionRequest{
		Transaction: encoded,
	})
	if err != nil {
		if rpcErr, ok := serverError(err, g.failures, mark); ok {
			return SubmitResult{}, &RejectedError{Status: "RPC_ERROR", Payload: errorPayload(rpcErr)}
		}
		return SubmitResult{}, networkError("sendTransaction", err)
	}

	switch resp.Status {
	case "PENDING", "DUPLICATE":
		return SubmitResult{Hash: resp.Hash, Status: resp.Status}, nil
	default:
		return SubmitResult{}, &RejectedError{Status: resp.Status, Payload: resp.ErrorResultXDR}
	}
}

// Close releases the underlying client
func (g *RPCGateway) Close() error {
	return g.client.Close()
}
