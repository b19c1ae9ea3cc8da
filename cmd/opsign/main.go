// opsign produces signatures for the API's mutating endpoints. It signs the
// same canonical digests the server verifies, so its output can be pasted
// straight into a request body's "signature" field.
//
// Usage:
//
//	opsign -keygen
//	opsign -key <hex> -op place -pool 0x.. -owner 0x.. -dir rising -lower 100 -upper 200 -amount 1000
//	opsign -key <hex> -op cancel -pool 0x.. -id 7 -caller 0x..
//	opsign -key <hex> -op resolve-execution -pool 0x.. -hash 0x..
//	opsign -key <hex> -op resolve-payment -hash 0x..
//	opsign -key <hex> -op set-price -pool 0x.. -price 250
package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openpredict/rangebook/pkg/api"
	"github.com/openpredict/rangebook/pkg/crypto"
)

func main() {
	var (
		keygen  = flag.Bool("keygen", false, "generate a new key pair and exit")
		keyHex  = flag.String("key", "", "hex private key")
		op      = flag.String("op", "", "place | cancel | resolve-execution | resolve-payment | set-price")
		pool    = flag.String("pool", "", "pool address")
		owner   = flag.String("owner", "", "order owner address (place)")
		caller  = flag.String("caller", "", "caller address (cancel)")
		dir     = flag.String("dir", "rising", "order direction (place)")
		lower   = flag.Int64("lower", 0, "range lower bound (place)")
		upper   = flag.Int64("upper", 0, "range upper bound (place)")
		partial = flag.Bool("partial", false, "enable partial fills (place)")
		amount  = flag.String("amount", "", "deposit amount (place)")
		id      = flag.Uint64("id", 0, "order id (cancel)")
		minOut  = flag.String("min-proceeds", "", "minimum proceeds (cancel)")
		hash    = flag.String("hash", "", "batch or payment key (resolve)")
		price   = flag.Int64("price", 0, "new pool price (set-price)")
	)
	flag.Parse()

	if *keygen {
		signer, err := crypto.GenerateKey()
		if err != nil {
			log.Fatalf("keygen: %v", err)
		}
		fmt.Printf("address: %s\nprivate: %s\n", signer.Address().Hex(), signer.PrivateKeyHex())
		return
	}

	signer, err := crypto.FromPrivateKeyHex(*keyHex)
	if err != nil {
		log.Fatalf("key: %v", err)
	}

	var digest []byte
	switch *op {
	case "place":
		digest = api.PlaceDigest(&api.PlaceOrderRequest{
			Pool:      *pool,
			Owner:     *owner,
			Direction: *dir,
			Lower:     *lower,
			Upper:     *upper,
			Partial:   *partial,
			Amount:    *amount,
		})
	case "cancel":
		digest = api.CancelDigest(&api.CancelOrderRequest{
			Pool:        *pool,
			OrderID:     *id,
			Caller:      *caller,
			MinProceeds: *minOut,
		})
	case "resolve-execution":
		digest = api.ResolveExecutionDigest(&api.ResolveExecutionRequest{
			Pool: *pool,
			Key:  common.HexToHash(*hash).Hex(),
		})
	case "resolve-payment":
		digest = api.ResolvePaymentDigest(&api.ResolvePaymentRequest{
			Key: common.HexToHash(*hash).Hex(),
		})
	case "set-price":
		digest = api.SetPriceDigest(common.HexToAddress(*pool).Hex(), *price)
	default:
		log.Fatalf("unknown op %s", strconv.Quote(*op))
	}

	sig, err := signer.Sign(digest)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}
	fmt.Printf("signer:    %s\nsignature: 0x%x\n", signer.Address().Hex(), sig)
}
