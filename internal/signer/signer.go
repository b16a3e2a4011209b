package signer

import (
	"errors"
	"fmt"

	"sorobancli/internal/secret"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

var (
	// ErrInvalidSecretKey is returned when the seed does not decode to an ed25519 keypair
	ErrInvalidSecretKey = errors.New("cannot parse secret key")
	// ErrBadSignature is returned by Verify when the envelope is not signed by the expected account
	ErrBadSignature = errors.New("envelope signature does not verify")
)

// ParseSecretKey decodes an 'S...' seed held in buf into a full keypair
func ParseSecretKey(buf *secret.Buffer) (*keypair.Full, error) {
	var kp *keypair.Full
	err := buf.Use(func(seed []byte) error {
		raw, err := strkey.Decode(strkey.VersionByteSeed, string(seed))
		if err != nil {
			return err
		}
		defer secret.Zero(raw)

		if len(raw) != 32 {
			return fmt.Errorf("seed is %d bytes, expected 32", len(raw))
		}
		var rawSeed [32]byte
		copy(rawSeed[:], raw)
		defer secret.Zero(rawSeed[:])

		kp, err = keypair.FromRawSeed(rawSeed)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSecretKey, err)
	}
	return kp, nil
}

// Hash returns the network-specific hash of tx that signatures are computed over:
// sha256(sha256(passphrase) || ENVELOPE_TYPE_TX || tx).
func Hash(tx xdr.Transaction, passphrase string) ([32]byte, error) {
	if passphrase == "" {
		return [32]byte{}, fmt.Errorf("network passphrase is empty")
	}
	h, err := network.HashTransaction(tx, passphrase)
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to hash transaction: %w", err)
	}
	return h, nil
}

// Sign signs tx for the network identified by passphrase and wraps it in an envelope
func Sign(tx xdr.Transaction, kp *keypair.Full, passphrase string) (xdr.TransactionEnvelope, error) {
	h, err := Hash(tx, passphrase)
	if err != nil {
		return xdr.TransactionEnvelope{}, err
	}

	sig, err := kp.SignDecorated(h[:])
	if err != nil {
		return xdr.TransactionEnvelope{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	return xdr.TransactionEnvelope{
		Type: xdr.EnvelopeTypeEnvelopeTypeTx,
		V1: &xdr.TransactionV1Envelope{
			Tx:         tx,
			Signatures: []xdr.DecoratedSignature{sig},
		},
	}, nil
}

// Verify checks that env carries a valid signature from address on the given network
func Verify(env xdr.TransactionEnvelope, address, passphrase string) error {
	v1, ok := env.GetV1()
	if !ok {
		return fmt.Errorf("unsupported envelope type %s", env.Type)
	}

	kp, err := keypair.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", address, err)
	}

	h, err := Hash(v1.Tx, passphrase)
	if err != nil {
		return err
	}

	hint := kp.Hint()
	for _, sig := range v1.Signatures {
		if sig.Hint != xdr.SignatureHint(hint) {
			continue
		}
		if kp.Verify(h[:], sig.Signature) == nil {
			return nil
		}
	}
	return ErrBadSignature
}

// EncodeEnvelope returns the base64 XDR form of env used on the wire
func EncodeEnvelope(env xdr.TransactionEnvelope) (string, error) {
	s, err := xdr.MarshalBase64(env)
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope: %w", err)
	}
	return s, nil
}
