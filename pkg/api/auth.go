package api

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/openpredict/rangebook/pkg/crypto"
)

// Request authentication. Every mutating request carries a 65-byte hex
// signature over the Keccak256 hash of a canonical pipe-joined string. The
// cmd/opsign tool produces operator signatures in the same format.

var errNotOperator = errors.New("signer is not a configured operator")

func PlaceDigest(r *PlaceOrderRequest) []byte {
	msg := fmt.Sprintf("rangebook/place|%s|%s|%s|%d|%d|%t|%s",
		r.Pool, r.Owner, r.Direction, r.Lower, r.Upper, r.Partial, r.Amount)
	return ethcrypto.Keccak256([]byte(msg))
}

func CancelDigest(r *CancelOrderRequest) []byte {
	msg := fmt.Sprintf("rangebook/cancel|%s|%d|%s|%s",
		r.Pool, r.OrderID, r.Caller, r.MinProceeds)
	return ethcrypto.Keccak256([]byte(msg))
}

func ResolveExecutionDigest(r *ResolveExecutionRequest) []byte {
	msg := fmt.Sprintf("rangebook/resolve-execution|%s|%s", r.Pool, r.Key)
	return ethcrypto.Keccak256([]byte(msg))
}

func ResolvePaymentDigest(r *ResolvePaymentRequest) []byte {
	msg := fmt.Sprintf("rangebook/resolve-payment|%s", r.Key)
	return ethcrypto.Keccak256([]byte(msg))
}

func SetPriceDigest(pool string, price int64) []byte {
	msg := fmt.Sprintf("rangebook/set-price|%s|%d", pool, price)
	return ethcrypto.Keccak256([]byte(msg))
}

// recoverSigner decodes a hex signature and recovers the address that signed
// the digest.
func recoverSigner(digest []byte, sigHex string) (common.Address, error) {
	sig := common.FromHex(sigHex)
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	// Accept both recovery-id conventions (0/1 and 27/28).
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	return crypto.RecoverAddress(digest, sig)
}

// verifySigner checks that sigHex over digest recovers to expected.
func verifySigner(expected common.Address, digest []byte, sigHex string) error {
	signer, err := recoverSigner(digest, sigHex)
	if err != nil {
		return err
	}
	if signer != expected {
		return fmt.Errorf("signature recovers to %s, expected %s", signer.Hex(), expected.Hex())
	}
	return nil
}

// verifyOperator checks that sigHex over digest recovers to a configured
// operator.
func (s *Server) verifyOperator(digest []byte, sigHex string) (common.Address, error) {
	signer, err := recoverSigner(digest, sigHex)
	if err != nil {
		return common.Address{}, err
	}
	if !s.operators[signer] {
		return common.Address{}, errNotOperator
	}
	return signer, nil
}
