// Package codec provides the canonical binary encoding primitives shared
// by every package that persists typed values into internal/state:
// fixed-width little-endian integers, u32-length-prefixed byte sequences,
// u128 amounts, and signed 64/128-bit integers. No floating point — every
// amount is an exact integer, matching the encoding internal/tx uses for
// transactions.
package codec

import (
	"fmt"
	"math/big"

	"github.com/dexcore/perpchain/internal/types"
)

type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{buf: make([]byte, 0, 64)} }

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) PutU8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) PutU32(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (w *Writer) PutU64(v uint64) {
	w.buf = append(w.buf,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

// PutI64 writes a two's-complement signed 64-bit integer, little-endian.
func (w *Writer) PutI64(v int64) { w.PutU64(uint64(v)) }

// PutU128 writes a non-negative value as 16 little-endian bytes.
func (w *Writer) PutU128(v *big.Int) error {
	if v == nil {
		v = new(big.Int)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("codec: negative amount %s does not fit in u128", v)
	}
	if v.BitLen() > 128 {
		return fmt.Errorf("codec: amount %s overflows u128", v)
	}
	be := v.FillBytes(make([]byte, 16))
	le := make([]byte, 16)
	for i := 0; i < 16; i++ {
		le[i] = be[15-i]
	}
	w.buf = append(w.buf, le...)
	return nil
}

// PutI128 writes a signed 128-bit integer as 16 little-endian bytes using
// two's-complement representation (used for the funding cumulative index,
// which may go negative).
func (w *Writer) PutI128(v *big.Int) error {
	if v == nil {
		v = new(big.Int)
	}
	bound := new(big.Int).Lsh(big.NewInt(1), 127)
	if v.CmpAbs(bound) > 0 || (v.Sign() >= 0 && v.Cmp(bound) >= 0) {
		return fmt.Errorf("codec: value %s overflows i128", v)
	}
	var mag *big.Int
	if v.Sign() < 0 {
		twoToThe128 := new(big.Int).Lsh(big.NewInt(1), 128)
		mag = new(big.Int).Add(twoToThe128, v)
	} else {
		mag = v
	}
	be := mag.FillBytes(make([]byte, 16))
	le := make([]byte, 16)
	for i := 0; i < 16; i++ {
		le[i] = be[15-i]
	}
	w.buf = append(w.buf, le...)
	return nil
}

func (w *Writer) PutBytes(b []byte) {
	w.PutU32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *Writer) PutString(s string) { w.PutBytes([]byte(s)) }

func (w *Writer) PutAddress(a types.Address) { w.buf = append(w.buf, a[:]...) }

func (w *Writer) PutBool(b bool) {
	if b {
		w.PutU8(1)
	} else {
		w.PutU8(0)
	}
}

type Reader struct {
	buf []byte
	pos int
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("%w: truncated at offset %d, need %d more bytes", types.ErrSerialization, r.pos, n)
	}
	return nil
}

func (r *Reader) U8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) U32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	b := r.buf[r.pos : r.pos+4]
	r.pos += 4
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func (r *Reader) U64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	b := r.buf[r.pos : r.pos+8]
	r.pos += 8
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

func (r *Reader) I64() (int64, error) {
	v, err := r.U64()
	return int64(v), err
}

func (r *Reader) U128() (*big.Int, error) {
	if err := r.need(16); err != nil {
		return nil, err
	}
	le := r.buf[r.pos : r.pos+16]
	r.pos += 16
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[i] = le[15-i]
	}
	return new(big.Int).SetBytes(be), nil
}

func (r *Reader) I128() (*big.Int, error) {
	if err := r.need(16); err != nil {
		return nil, err
	}
	le := r.buf[r.pos : r.pos+16]
	r.pos += 16
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[i] = le[15-i]
	}
	mag := new(big.Int).SetBytes(be)
	bound := new(big.Int).Lsh(big.NewInt(1), 127)
	if mag.Cmp(bound) >= 0 {
		twoToThe128 := new(big.Int).Lsh(big.NewInt(1), 128)
		mag.Sub(mag, twoToThe128)
	}
	return mag, nil
}

func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

func (r *Reader) String() (string, error) {
	b, err := r.Bytes()
	return string(b), err
}

func (r *Reader) Address() (types.Address, error) {
	if err := r.need(20); err != nil {
		return types.Address{}, err
	}
	var a types.Address
	copy(a[:], r.buf[r.pos:r.pos+20])
	r.pos += 20
	return a, nil
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.U8()
	return v != 0, err
}

func (r *Reader) AtEnd() bool { return r.pos == len(r.buf) }
