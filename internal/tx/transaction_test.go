package tx

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/dexcore/perpchain/internal/types"
)

func signedPlaceOrder(t *testing.T, signer *Signer, nonce uint64) *Transaction {
	t.Helper()
	txn := &Transaction{
		Nonce:  nonce,
		Sender: signer.Address(),
		Payload: PlaceOrder{
			Market:     0,
			Side:       types.SideBuy,
			Price:      50_000,
			Size:       10,
			TIF:        types.TIFGTC,
			ReduceOnly: false,
			PostOnly:   false,
		},
	}
	if err := txn.Sign(signer); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return txn
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	signer, err := GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}

	cases := []Payload{
		PayloadDepositT{Asset: 0, Amount: big.NewInt(1000)},
		PayloadWithdrawT{Asset: 0, Amount: big.NewInt(500)},
		PlaceOrder{Market: 1, Side: types.SideSell, Price: 49000, Size: 5, TIF: types.TIFFOK, ReduceOnly: true},
		CancelOrder{Market: 1, OrderID: 42},
		ModifyOrder{Market: 1, OrderID: 42, NewPrice: 48000, NewSize: 3},
		ClosePosition{Market: 1},
		SetAgent{Agent: types.Address{0x02}, Permissions: types.PermPlaceOrder | types.PermCancelOrder},
		RemoveAgent{Agent: types.Address{0x02}},
		Transfer{To: types.Address{0x03}, Asset: 0, Amount: big.NewInt(7)},
		BridgeDeposit{To: types.Address{0x04}, Asset: 0, Amount: big.NewInt(9), ExternalTxHash: [32]byte{0xaa}},
		BridgeWithdraw{From: types.Address{0x05}, Asset: 0, Amount: big.NewInt(3), ExternalTxHash: [32]byte{0xbb}},
	}

	for i, payload := range cases {
		txn := &Transaction{Nonce: uint64(i), Sender: signer.Address(), Payload: payload}
		if err := txn.Sign(signer); err != nil {
			t.Fatalf("case %d sign: %v", i, err)
		}
		enc, err := txn.Encode()
		if err != nil {
			t.Fatalf("case %d encode: %v", i, err)
		}
		decoded, err := Decode(enc)
		if err != nil {
			t.Fatalf("case %d decode: %v", i, err)
		}
		reEnc, err := decoded.Encode()
		if err != nil {
			t.Fatalf("case %d re-encode: %v", i, err)
		}
		if !bytes.Equal(enc, reEnc) {
			t.Fatalf("case %d: encode not idempotent across decode", i)
		}
		if decoded.Nonce != txn.Nonce || decoded.Sender != txn.Sender {
			t.Fatalf("case %d: header mismatch after decode", i)
		}
	}
}

func TestSigningHashStableAcrossResign(t *testing.T) {
	signer, err := GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	txn := signedPlaceOrder(t, signer, 7)
	h1, err := txn.SigningHash()
	if err != nil {
		t.Fatalf("signing hash: %v", err)
	}

	txn2 := signedPlaceOrder(t, signer, 7)
	h2, err := txn2.SigningHash()
	if err != nil {
		t.Fatalf("signing hash 2: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("signing hash changed across re-signs with same key and nonce")
	}
}

func TestRecoverSignerMatchesSender(t *testing.T) {
	signer, err := GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	txn := signedPlaceOrder(t, signer, 1)

	recovered, err := txn.RecoverSigner()
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != signer.Address() {
		t.Fatalf("recovered %x, want %x", recovered, signer.Address())
	}
}

func TestDecodeRejectsOversizedInput(t *testing.T) {
	oversized := make([]byte, MaxEncodedSize+1)
	if _, err := Decode(oversized); err == nil {
		t.Fatalf("expected error decoding oversized transaction")
	}
}
