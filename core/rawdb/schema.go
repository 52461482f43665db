package rawdb

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// Key prefixes of the chain schema. The state store in core/state owns the
// 'a', 'o' and 'C' prefixes of the same key space.
var (
	headerPrefix       = []byte("h") // h + num + hash -> header RLP
	headerNumberPrefix = []byte("H") // H + hash -> num
	canonicalPrefix    = []byte("c") // c + num -> hash
	bodyPrefix         = []byte("b") // b + num + hash -> RLP([]tx hash)
	txPrefix           = []byte("t") // t + tx hash -> tx binary
	txLookupPrefix     = []byte("l") // l + tx hash -> RLP(TxLocation)
	receiptPrefix      = []byte("r") // r + tx hash -> RLP(storedReceipt)
	logsPrefix         = []byte("L") // L + num -> RLP([]storedLog)
	bloomPrefix        = []byte("B") // B + num -> 256-byte block bloom

	headBlockKey = []byte("HeadBlock") // -> hash of the head block
)

// encodeBlockNumber encodes a block number as an 8-byte big-endian value.
func encodeBlockNumber(number uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

func key(prefix []byte, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p)
	}
	k := make([]byte, 0, n)
	k = append(k, prefix...)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

func headerKey(number uint64, hash common.Hash) []byte {
	return key(headerPrefix, encodeBlockNumber(number), hash[:])
}

func headerNumberKey(hash common.Hash) []byte { return key(headerNumberPrefix, hash[:]) }

func canonicalKey(number uint64) []byte { return key(canonicalPrefix, encodeBlockNumber(number)) }

func bodyKey(number uint64, hash common.Hash) []byte {
	return key(bodyPrefix, encodeBlockNumber(number), hash[:])
}

func txKey(hash common.Hash) []byte       { return key(txPrefix, hash[:]) }
func txLookupKey(hash common.Hash) []byte { return key(txLookupPrefix, hash[:]) }
func receiptKey(hash common.Hash) []byte  { return key(receiptPrefix, hash[:]) }
func logsKey(number uint64) []byte        { return key(logsPrefix, encodeBlockNumber(number)) }
func bloomKey(number uint64) []byte       { return key(bloomPrefix, encodeBlockNumber(number)) }
