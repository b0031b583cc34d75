package tx

import (
	"crypto/sha256"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/dexcore/perpchain/internal/types"
)

// Transaction is the signed envelope the executor decodes and dispatches.
// Signature is 65 bytes, r‖s‖v, secp256k1.
type Transaction struct {
	Nonce     uint64
	Sender    types.Address
	Payload   Payload
	Signature [65]byte
}

// encodePayload is shared by SigningHash and Encode: it always writes the
// discriminant byte followed by the payload's own fields.
func encodePayload(w *Writer, p Payload) error {
	w.PutU8(uint8(p.Type()))
	return p.encode(w)
}

// SigningHash is sha256(nonce || sender || canonical(payload)), computed
// without the signature.
func (t *Transaction) SigningHash() ([32]byte, error) {
	w := NewWriter()
	w.PutU64(t.Nonce)
	w.PutAddress(t.Sender)
	if err := encodePayload(w, t.Payload); err != nil {
		return [32]byte{}, fmt.Errorf("tx: encode payload for signing hash: %w", err)
	}
	return sha256.Sum256(w.Bytes()), nil
}

// Encode produces the canonical wire encoding, including the signature.
// Encode∘Decode is identity for every variant.
func (t *Transaction) Encode() ([]byte, error) {
	w := NewWriter()
	w.PutU64(t.Nonce)
	w.PutAddress(t.Sender)
	if err := encodePayload(w, t.Payload); err != nil {
		return nil, fmt.Errorf("tx: encode payload: %w", err)
	}
	w.buf = append(w.buf, t.Signature[:]...)
	out := w.Bytes()
	if len(out) > MaxEncodedSize {
		return nil, fmt.Errorf("%w: encoded size %d exceeds %d", types.ErrTxTooLarge, len(out), MaxEncodedSize)
	}
	return out, nil
}

// Decode parses a canonical wire encoding, rejecting anything over
// MaxEncodedSize before doing any further work: a hard size cap rejects
// pathological payloads before any cryptographic work runs.
func Decode(b []byte) (*Transaction, error) {
	if len(b) > MaxEncodedSize {
		return nil, fmt.Errorf("%w: encoded size %d exceeds %d", types.ErrTxTooLarge, len(b), MaxEncodedSize)
	}
	r := NewReader(b)
	nonce, err := r.U64()
	if err != nil {
		return nil, err
	}
	sender, err := r.Address()
	if err != nil {
		return nil, err
	}
	typeByte, err := r.U8()
	if err != nil {
		return nil, err
	}
	payload, err := decodePayload(r, PayloadType(typeByte))
	if err != nil {
		return nil, err
	}
	if r.pos+65 != len(r.buf) {
		return nil, fmt.Errorf("%w: unexpected trailing or missing signature bytes", types.ErrTxMalformed)
	}
	var sig [65]byte
	copy(sig[:], r.buf[r.pos:r.pos+65])
	return &Transaction{Nonce: nonce, Sender: sender, Payload: payload, Signature: sig}, nil
}

// Hash is the transaction id: the digest of the full encoded transaction,
// including the signature.
func (t *Transaction) Hash() ([32]byte, error) {
	enc, err := t.Encode()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(enc), nil
}

// Sign computes the signing hash and signs it with key, setting Signature.
func (t *Transaction) Sign(key *Signer) error {
	hash, err := t.SigningHash()
	if err != nil {
		return err
	}
	sig, err := key.Sign(hash[:])
	if err != nil {
		return fmt.Errorf("tx: sign: %w", err)
	}
	copy(t.Signature[:], sig)
	return nil
}

// RecoverSigner recovers the address that produced Signature over
// SigningHash(). It does not check that the recovered address matches
// Sender or an authorized agent — that is internal/auth's job.
func (t *Transaction) RecoverSigner() (types.Address, error) {
	hash, err := t.SigningHash()
	if err != nil {
		return types.Address{}, err
	}
	return RecoverAddress(hash[:], t.Signature[:])
}

// RecoverAddress recovers the secp256k1 signer address from a 32-byte hash
// and a 65-byte r‖s‖v signature.
func RecoverAddress(hash []byte, signature []byte) (types.Address, error) {
	if len(signature) != 65 {
		return types.Address{}, fmt.Errorf("tx: signature must be 65 bytes, got %d", len(signature))
	}
	pub, err := ethcrypto.SigToPub(hash, signature)
	if err != nil {
		return types.Address{}, fmt.Errorf("tx: recover public key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
