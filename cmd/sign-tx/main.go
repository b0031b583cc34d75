// Command sign-tx builds, signs, and encodes a single PlaceOrder
// transaction for manual testing against dexd's /execute_txs endpoint:
// generate-or-load a key, build an order, sign it, and print the result
// and a ready-to-submit encoding.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/dexcore/perpchain/internal/tx"
	"github.com/dexcore/perpchain/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sign-tx:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		privateKeyHex = flag.String("key", "", "hex-encoded private key (generates a new one if empty)")
		market        = flag.Uint64("market", 1, "market id")
		side          = flag.String("side", "buy", "buy or sell")
		price         = flag.Uint64("price", 50000, "limit price, a multiple of the market's tick size (0 for a market order)")
		size          = flag.Uint64("size", 100, "order size")
		tif           = flag.String("tif", "gtc", "gtc, ioc, or fok")
		reduceOnly    = flag.Bool("reduce-only", false, "mark the order reduce-only")
		postOnly      = flag.Bool("post-only", false, "mark the order post-only")
		nonce         = flag.Uint64("nonce", 0, "sender nonce")
	)
	flag.Parse()

	signer, err := loadOrGenerateSigner(*privateKeyHex)
	if err != nil {
		return fmt.Errorf("load signer: %w", err)
	}

	orderSide, err := parseSide(*side)
	if err != nil {
		return err
	}
	orderTIF, err := parseTIF(*tif)
	if err != nil {
		return err
	}

	transaction := &tx.Transaction{
		Nonce:  *nonce,
		Sender: signer.Address(),
		Payload: tx.PlaceOrder{
			Market:     types.MarketID(*market),
			Side:       orderSide,
			Price:      *price,
			Size:       *size,
			TIF:        orderTIF,
			ReduceOnly: *reduceOnly,
			PostOnly:   *postOnly,
		},
	}
	if err := transaction.Sign(signer); err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}

	encoded, err := transaction.Encode()
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}
	hash, err := transaction.Hash()
	if err != nil {
		return fmt.Errorf("hash transaction: %w", err)
	}
	recovered, err := transaction.RecoverSigner()
	if err != nil {
		return fmt.Errorf("recover signer: %w", err)
	}

	fmt.Printf("Address:        %s\n", signer.Address().Hex())
	if *privateKeyHex == "" {
		fmt.Printf("Private Key:    %s (generated — keep secret)\n", signer.PrivateKeyHex())
	}
	fmt.Printf("Market:         %d\n", *market)
	fmt.Printf("Side:           %s\n", *side)
	fmt.Printf("Price:          %d\n", *price)
	fmt.Printf("Size:           %d\n", *size)
	fmt.Printf("TIF:            %s\n", *tif)
	fmt.Printf("Nonce:          %d\n", *nonce)
	fmt.Printf("Tx Hash:        0x%x\n", hash)
	fmt.Printf("Recovered OK:   %v\n", recovered == signer.Address())
	fmt.Printf("Encoded Tx:     0x%s\n", hex.EncodeToString(encoded))
	return nil
}

func loadOrGenerateSigner(privateKeyHex string) (*tx.Signer, error) {
	if privateKeyHex == "" {
		return tx.GenerateSigner()
	}
	return tx.SignerFromPrivateKeyHex(privateKeyHex)
}

func parseSide(s string) (types.Side, error) {
	switch s {
	case "buy":
		return types.SideBuy, nil
	case "sell":
		return types.SideSell, nil
	default:
		return 0, fmt.Errorf("invalid side %q: want buy or sell", s)
	}
}

func parseTIF(s string) (types.TimeInForce, error) {
	switch s {
	case "gtc":
		return types.TIFGTC, nil
	case "ioc":
		return types.TIFIOC, nil
	case "fok":
		return types.TIFFOK, nil
	default:
		return 0, fmt.Errorf("invalid tif %q: want gtc, ioc, or fok", s)
	}
}
