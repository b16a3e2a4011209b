package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/stellar/go/xdr"
)

// JSONRPCGateway speaks the early soroban-rpc method set (getAccount / submitTransaction)
type JSONRPCGateway struct {
	client   *jrpc2.Client
	failures *failureLog
}

type getAccountRequest struct {
	Address string `json:"address"`
}

type getAccountResponse struct {
	ID       string `json:"id"`
	Sequence string `json:"sequence"`
}

type submitTransactionRequest struct {
	Transaction string `json:"transaction"`
}

type submitTransactionResponse struct {
	ID     string          `json:"id"`
	Hash   string          `json:"hash"`
	Status string          `json:"status"`
	Error  *submitErrorDoc `json:"error,omitempty"`
}

type submitErrorDoc struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// NewJSONRPCGateway creates a gateway for the JSON-RPC service at url
func NewJSONRPCGateway(url string, httpClient *http.Client) *JSONRPCGateway {
	httpClient, failures := withFailureLog(httpClient)
	ch := jhttp.NewChannel(url, &jhttp.ChannelOptions{Client: httpClient})
	return &JSONRPCGateway{
		client:   jrpc2.NewClient(ch, nil),
		failures: failures,
	}
}

// GetAccount calls getAccount and parses the string-encoded sequence number
func (g *JSONRPCGateway) GetAccount(ctx context.Context, address string) (Account, error) {
	var resp getAccountResponse
	mark := g.failures.mark()
	err := g.client.CallResult(ctx, "getAccount", getAccountRequest{Address: address}, &resp)
	if err != nil {
		if rpcErr, ok := serverError(err, g.failures, mark); ok && isNotFound(rpcErr) {
			return Account{}, fmt.Errorf("%w: %s: %s", ErrAccountNotFound, address, rpcErr.Message)
		} else if ok {
			return Account{}, networkError("getAccount", errors.New(errorPayload(rpcErr)))
		}
		return Account{}, networkError("getAccount", err)
	}

	seq, err := strconv.ParseInt(resp.Sequence, 10, 64)
	if err != nil {
		return Account{}, networkError("getAccount", fmt.Errorf("error parsing int: %w", err))
	}

	return Account{Address: address, Sequence: seq}, nil
}

// Submit calls submitTransaction with the base64 XDR envelope
func (g *JSONRPCGateway) Submit(ctx context.Context, env xdr.TransactionEnvelope) (SubmitResult, error) {
	encoded, err := xdr.MarshalBase64(env)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to encode envelope: %w", err)
	}

	var resp submitTransactionResponse
	mark := g.failures.mark()
	err = g.client.CallResult(ctx, "submitTransaction", submitTransactionRequest{Transaction: encoded}, &resp)
	if err != nil {
		if rpcErr, ok := serverError(err, g.failures, mark); ok {
			return SubmitResult{}, &RejectedError{Status: "RPC_ERROR", Payload: errorPayload(rpcErr)}
		}
		return SubmitResult{}, networkError("submitTransaction", err)
	}

	if resp.Status == "error" || resp.Error != nil {
		payload := ""
		if resp.Error != nil {
			payload = fmt.Sprintf("%s: %s", resp.Error.Code, resp.Error.Message)
			if resp.Error.Data != "" {
				payload += ": " + resp.Error.Data
			}
		}
		return SubmitResult{}, &RejectedError{Status: resp.Status, Payload: payload}
	}

	hash := resp.Hash
	if hash == "" {
		hash = resp.ID
	}
	return SubmitResult{Hash: hash, Status: resp.Status}, nil
}

// Close shuts down the client
func (g *JSONRPCGateway) Close() error {
	return g.client.Close()
}
