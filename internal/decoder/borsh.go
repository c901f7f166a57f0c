package decoder

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// maxStringLen caps Borsh string lengths; program strings are at most 50 bytes.
const maxStringLen = 1024

// reader walks a Borsh-encoded buffer.
type reader struct {
	buf []byte
	off int
}

func (r *reader) need(n int) error {
	if r.off+n > len(r.buf) {
		return fmt.Errorf("short buffer: need %d bytes at offset %d, have %d", n, r.off, len(r.buf)-r.off)
	}
	return nil
}

func (r *reader) pubkey() (string, error) {
	if err := r.need(32); err != nil {
		return "", err
	}
	s := base58.Encode(r.buf[r.off : r.off+32])
	r.off += 32
	return s, nil
}

func (r *reader) str() (string, error) {
	if err := r.need(4); err != nil {
		return "", err
	}
	n := int(binary.LittleEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	if n > maxStringLen {
		return "", fmt.Errorf("string length %d exceeds %d", n, maxStringLen)
	}
	if err := r.need(n); err != nil {
		return "", err
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n
	return s, nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) u64() (decimal.Decimal, error) {
	if err := r.need(8); err != nil {
		return decimal.Zero, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0), nil
}

func (r *reader) i64() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.LittleEndian.Uint64(r.buf[r.off:]))
	r.off += 8
	return v, nil
}

// writer builds a Borsh-encoded buffer.
type writer struct {
	buf []byte
	err error
}

func (w *writer) pubkey(s string) {
	if w.err != nil {
		return
	}
	b, err := base58.Decode(s)
	if err != nil || len(b) != 32 {
		w.err = fmt.Errorf("invalid pubkey %q", s)
		return
	}
	w.buf = append(w.buf, b...)
}

func (w *writer) str(s string) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) u64(d decimal.Decimal) {
	if w.err != nil {
		return
	}
	if !d.IsInteger() || d.IsNegative() || !d.BigInt().IsUint64() {
		w.err = fmt.Errorf("amount %s does not fit u64", d)
		return
	}
	w.buf = binary.LittleEndian.AppendUint64(w.buf, d.BigInt().Uint64())
}

func (w *writer) i64(v int64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v))
}
