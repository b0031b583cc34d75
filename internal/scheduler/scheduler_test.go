package scheduler

import (
	"context"
	"math/big"
	"testing"

	"github.com/dexcore/perpchain/internal/tx"
	"github.com/dexcore/perpchain/internal/types"
)

func newSigner(t *testing.T) *tx.Signer {
	t.Helper()
	signer, err := tx.GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	return signer
}

func encode(t *testing.T, signer *tx.Signer, nonce uint64, payload tx.Payload) []byte {
	t.Helper()
	txn := &tx.Transaction{Nonce: nonce, Sender: signer.Address(), Payload: payload}
	if err := txn.Sign(signer); err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw, err := txn.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return raw
}

func TestIndependentGroupsOnDistinctMarketsParallelize(t *testing.T) {
	a, b := newSigner(t), newSigner(t)
	rawTxs := [][]byte{
		encode(t, a, 0, tx.PlaceOrder{Market: 1, Side: types.SideBuy, Price: 100, Size: 1, TIF: types.TIFGTC}),
		encode(t, b, 0, tx.PlaceOrder{Market: 2, Side: types.SideSell, Price: 200, Size: 1, TIF: types.TIFGTC}),
	}

	analysis, err := Analyze(context.Background(), rawTxs)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if analysis.NumGroups != 1 {
		t.Fatalf("expected orders on distinct markets to form 1 group, got %d", analysis.NumGroups)
	}
	if analysis.ParallelismScore != 2.0 {
		t.Fatalf("expected parallelism score 2.0, got %f", analysis.ParallelismScore)
	}
}

func TestIndependentGroupsOnSameMarketSerialize(t *testing.T) {
	a, b := newSigner(t), newSigner(t)
	rawTxs := [][]byte{
		encode(t, a, 0, tx.PlaceOrder{Market: 1, Side: types.SideBuy, Price: 100, Size: 1, TIF: types.TIFGTC}),
		encode(t, b, 0, tx.PlaceOrder{Market: 1, Side: types.SideSell, Price: 100, Size: 1, TIF: types.TIFGTC}),
	}

	analysis, err := Analyze(context.Background(), rawTxs)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if analysis.NumGroups != 2 {
		t.Fatalf("expected orders on the same market to serialize into 2 groups, got %d", analysis.NumGroups)
	}
}

func TestSequentialNoncesFromSameSenderSerialize(t *testing.T) {
	a := newSigner(t)
	rawTxs := [][]byte{
		encode(t, a, 0, tx.PayloadDepositT{Asset: 0, Amount: bigOne()}),
		encode(t, a, 1, tx.PayloadDepositT{Asset: 0, Amount: bigOne()}),
	}

	analysis, err := Analyze(context.Background(), rawTxs)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if analysis.NumGroups != 2 {
		t.Fatalf("expected same-sender transactions to serialize on the nonce, got %d groups", analysis.NumGroups)
	}
	if analysis.ShouldParallelize() {
		t.Fatalf("a 2-tx block should never meet the >=10 tx parallelize heuristic")
	}
}

func bigOne() *big.Int { return big.NewInt(1) }
