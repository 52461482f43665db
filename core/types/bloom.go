package types

import (
	"encoding/binary"

	"github.com/eth2030/devchain/crypto"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

type bloomPos struct {
	idx  uint
	mask byte
}

// bloomBits returns, for data, the three (byte index, bit mask) positions it
// occupies in a 2048-bit bloom. Each position is an 11-bit value taken from
// consecutive byte pairs of keccak(data), addressed from the most
// significant byte.
func bloomBits(h *crypto.Hasher, data []byte) [3]bloomPos {
	digest := h.Keccak256(data)
	var out [3]bloomPos
	for i := 0; i < 3; i++ {
		bit := uint(binary.BigEndian.Uint16(digest[2*i:])) & 0x7FF
		out[i].idx = gethtypes.BloomByteLength - 1 - bit/8
		out[i].mask = 1 << (bit % 8)
	}
	return out
}

// BloomAdd sets the bits for data in bloom.
func BloomAdd(h *crypto.Hasher, bloom *gethtypes.Bloom, data []byte) {
	for _, p := range bloomBits(h, data) {
		bloom[p.idx] |= p.mask
	}
}

// BloomContains reports whether data may be in bloom.
func BloomContains(h *crypto.Hasher, bloom gethtypes.Bloom, data []byte) bool {
	for _, p := range bloomBits(h, data) {
		if bloom[p.idx]&p.mask == 0 {
			return false
		}
	}
	return true
}

// LogsBloom builds the bloom over every log's address and topics.
func LogsBloom(h *crypto.Hasher, logs []*gethtypes.Log) gethtypes.Bloom {
	var bloom gethtypes.Bloom
	for _, l := range logs {
		BloomAdd(h, &bloom, l.Address.Bytes())
		for _, topic := range l.Topics {
			BloomAdd(h, &bloom, topic.Bytes())
		}
	}
	return bloom
}

// MergeBlooms ORs blooms together.
func MergeBlooms(blooms ...gethtypes.Bloom) gethtypes.Bloom {
	var out gethtypes.Bloom
	for _, b := range blooms {
		for i := range out {
			out[i] |= b[i]
		}
	}
	return out
}
