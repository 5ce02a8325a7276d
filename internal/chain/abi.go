package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

// wordSize is the ABI head word size in bytes.
const wordSize = 32

// Quantity is an EVM uint256 value.
type Quantity = *big.Int

// EventTopic returns the keccak256 topic hash for a canonical event
// signature, e.g. "Transfer(address,address,uint256)".
func EventTopic(signature string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// NormalizeAddress lowercases a hex address. Addresses are normalized once
// at decode time and compared directly everywhere else.
func NormalizeAddress(addr string) string {
	return strings.ToLower(addr)
}

// ParseQuantity decodes a 0x-prefixed hex quantity.
func ParseQuantity(s string) (Quantity, error) {
	hexDigits := strings.TrimPrefix(strings.ToLower(s), "0x")
	if hexDigits == "" {
		return nil, fmt.Errorf("empty quantity")
	}
	n, ok := new(big.Int).SetString(hexDigits, 16)
	if !ok {
		return nil, fmt.Errorf("malformed quantity %q", s)
	}
	return n, nil
}

// TopicAddress extracts the address from an indexed address topic
// (the low 20 bytes of the 32-byte word), lowercased.
func TopicAddress(topic string) (string, error) {
	raw, err := decodeHex(topic)
	if err != nil {
		return "", fmt.Errorf("decode topic: %w", err)
	}
	if len(raw) != wordSize {
		return "", fmt.Errorf("topic is %d bytes, want %d", len(raw), wordSize)
	}
	return "0x" + hex.EncodeToString(raw[12:]), nil
}

// TopicQuantity extracts a uint256 from an indexed value topic.
func TopicQuantity(topic string) (Quantity, error) {
	raw, err := decodeHex(topic)
	if err != nil {
		return nil, fmt.Errorf("decode topic: %w", err)
	}
	if len(raw) != wordSize {
		return nil, fmt.Errorf("topic is %d bytes, want %d", len(raw), wordSize)
	}
	return new(big.Int).SetBytes(raw), nil
}

// Args is a decoded ABI data section. Index positions refer to the
// non-indexed arguments of the event, in declaration order.
type Args struct {
	data []byte
}

// DecodeArgs decodes the hex data section of a log.
func DecodeArgs(data string) (*Args, error) {
	raw, err := decodeHex(data)
	if err != nil {
		return nil, fmt.Errorf("decode log data: %w", err)
	}
	if len(raw)%wordSize != 0 {
		return nil, fmt.Errorf("log data length %d is not word-aligned", len(raw))
	}
	return &Args{data: raw}, nil
}

// Uint reads argument i as uint256.
func (a *Args) Uint(i int) (Quantity, error) {
	w, err := a.word(i)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(w), nil
}

// Bool reads argument i as bool (any non-zero word is true).
func (a *Args) Bool(i int) (bool, error) {
	w, err := a.word(i)
	if err != nil {
		return false, err
	}
	for _, b := range w {
		if b != 0 {
			return true, nil
		}
	}
	return false, nil
}

// String reads argument i as a dynamic string: the head word holds the
// byte offset of the tail, which holds a length word followed by data.
func (a *Args) String(i int) (string, error) {
	w, err := a.word(i)
	if err != nil {
		return "", err
	}

	offset := new(big.Int).SetBytes(w)
	if !offset.IsInt64() || offset.Int64()+wordSize > int64(len(a.data)) {
		return "", fmt.Errorf("string argument %d: tail offset %s out of range", i, offset)
	}
	tail := offset.Int64()

	length := new(big.Int).SetBytes(a.data[tail : tail+wordSize])
	if !length.IsInt64() || tail+wordSize+length.Int64() > int64(len(a.data)) {
		return "", fmt.Errorf("string argument %d: length %s out of range", i, length)
	}

	start := tail + wordSize
	return string(a.data[start : start+length.Int64()]), nil
}

// word returns head word i.
func (a *Args) word(i int) ([]byte, error) {
	start := i * wordSize
	if start < 0 || start+wordSize > len(a.data) {
		return nil, fmt.Errorf("argument %d out of range (%d data bytes)", i, len(a.data))
	}
	return a.data[start : start+wordSize], nil
}

// EncodeAddressWord pads an address to a 32-byte ABI word. Used to build
// eth_call arguments.
func EncodeAddressWord(addr string) (string, error) {
	raw, err := decodeHex(addr)
	if err != nil {
		return "", fmt.Errorf("decode address: %w", err)
	}
	if len(raw) != 20 {
		return "", fmt.Errorf("address is %d bytes, want 20", len(raw))
	}
	padded := make([]byte, wordSize)
	copy(padded[12:], raw)
	return hex.EncodeToString(padded), nil
}

// decodeHex decodes a 0x-prefixed hex string.
func decodeHex(s string) ([]byte, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	return hex.DecodeString(trimmed)
}
