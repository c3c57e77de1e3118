package types

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/btcsuite/btcd/wire"
)

const (
	// baseCoinsSize is the in-memory size of a Coins value without its script
	// on a 64-bit platform: height, flag, value and the script slice header.
	baseCoinsSize = 4 + 1 + 8 + 24

	// maxScriptLen bounds a stored script when decoding.
	maxScriptLen = wire.MaxMessagePayload
)

// Coins is one still unspent transaction output.
type Coins struct {
	Height     uint32
	IsCoinbase bool
	TxOut      wire.TxOut
}

// NewCoins copies the script of out.
func NewCoins(height uint32, isCoinbase bool, out *wire.TxOut) *Coins {
	script := make([]byte, len(out.PkScript))
	copy(script, out.PkScript)
	return &Coins{
		Height:     height,
		IsCoinbase: isCoinbase,
		TxOut:      wire.TxOut{Value: out.Value, PkScript: script},
	}
}

// Clone returns a deep copy. Cloning nil returns nil.
func (c *Coins) Clone() *Coins {
	if c == nil {
		return nil
	}
	return NewCoins(c.Height, c.IsCoinbase, &c.TxOut)
}

// Equal reports whether both values describe the same output. Two nil values are equal.
func (c *Coins) Equal(o *Coins) bool {
	if c == nil || o == nil {
		return c == nil && o == nil
	}
	return c.Height == o.Height &&
		c.IsCoinbase == o.IsCoinbase &&
		c.TxOut.Value == o.TxOut.Value &&
		bytes.Equal(c.TxOut.PkScript, o.TxOut.PkScript)
}

// Size is the approximate number of bytes the value holds in memory.
func (c *Coins) Size() uint64 {
	if c == nil {
		return 0
	}
	return baseCoinsSize + uint64(len(c.TxOut.PkScript))
}

// headerCode packs the height and the coinbase flag.
func (c *Coins) headerCode() uint64 {
	code := uint64(c.Height) << 1
	if c.IsCoinbase {
		code |= 0x01
	}
	return code
}

// Serialise encodes the value as
// varint(height<<1 | coinbase) ++ 8 byte LE value ++ varbytes(script).
func (c *Coins) Serialise() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(9 + 8 + 9 + len(c.TxOut.PkScript))

	if err := wire.WriteVarInt(&buf, 0, c.headerCode()); err != nil {
		return nil, err
	}
	var value [8]byte
	binary.LittleEndian.PutUint64(value[:], uint64(c.TxOut.Value))
	buf.Write(value[:])
	if err := wire.WriteVarBytes(&buf, 0, c.TxOut.PkScript); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserialiseCoins decodes a value written by Serialise.
func DeserialiseCoins(data []byte) (*Coins, error) {
	r := bytes.NewReader(data)
	c, err := readCoins(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, serializationErrorf("%d trailing bytes after coins", r.Len())
	}
	return c, nil
}

func readCoins(r *bytes.Reader) (*Coins, error) {
	code, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, serializationErrorf("coins header: %v", err)
	}
	if code>>1 > math.MaxUint32 {
		return nil, serializationErrorf("coins height %d out of range", code>>1)
	}

	var value [8]byte
	if _, err := io.ReadFull(r, value[:]); err != nil {
		return nil, serializationErrorf("coins value: %v", err)
	}
	script, err := wire.ReadVarBytes(r, 0, maxScriptLen, "pkScript")
	if err != nil {
		return nil, serializationErrorf("coins script: %v", err)
	}

	return &Coins{
		Height:     uint32(code >> 1),
		IsCoinbase: code&0x01 == 0x01,
		TxOut: wire.TxOut{
			Value:    int64(binary.LittleEndian.Uint64(value[:])),
			PkScript: script,
		},
	}, nil
}

// UnspentOutput pairs an outpoint with its state. Coins is nil when the output
// is spent or was never created.
type UnspentOutput struct {
	OutPoint wire.OutPoint
	Coins    *Coins
}

func PairFactoryUnspentOutput() Pair {
	var pair Pair = &UnspentOutput{}
	return pair
}

// NewUnspentOutput builds an entry, coins may be nil.
func NewUnspentOutput(op wire.OutPoint, coins *Coins) *UnspentOutput {
	return &UnspentOutput{OutPoint: op, Coins: coins}
}

// IsSpent reports whether the output carries no spendable value.
func (u *UnspentOutput) IsSpent() bool {
	return u == nil || u.Coins == nil
}

func (u *UnspentOutput) SerialiseKey() ([]byte, error) {
	return OutPointKey(u.OutPoint), nil
}

func (u *UnspentOutput) SerialiseData() ([]byte, error) {
	if u.Coins == nil {
		return nil, serializationErrorf("spent output %s has no data", u.OutPoint)
	}
	return u.Coins.Serialise()
}

func (u *UnspentOutput) DeSerialiseKey(key []byte) error {
	op, err := ParseOutPoint(key)
	if err != nil {
		return err
	}
	u.OutPoint = op
	return nil
}

func (u *UnspentOutput) DeSerialiseData(data []byte) error {
	c, err := DeserialiseCoins(data)
	if err != nil {
		return err
	}
	u.Coins = c
	return nil
}
