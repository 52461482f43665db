package rawdb

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/eth2030/devchain/core/types"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/rlp"
)

// --- Header and body ---

// WriteBlock stores the header, the hash->number mapping, the canonical
// number->hash mapping and the ordered transaction hashes.
func WriteBlock(db ethdb.KeyValueWriter, block *types.Block) error {
	num := block.Number()
	enc, err := rlp.EncodeToBytes(block.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	body, err := rlp.EncodeToBytes(block.Transactions)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	if err := db.Put(headerKey(num, block.Hash), enc); err != nil {
		return err
	}
	if err := db.Put(headerNumberKey(block.Hash), encodeBlockNumber(num)); err != nil {
		return err
	}
	if err := db.Put(bodyKey(num, block.Hash), body); err != nil {
		return err
	}
	return db.Put(canonicalKey(num), block.Hash[:])
}

// ReadBlock loads the block with the given number and hash.
func ReadBlock(db ethdb.KeyValueReader, number uint64, hash common.Hash) (*types.Block, error) {
	enc, err := read(db, headerKey(number, hash))
	if err != nil {
		return nil, err
	}
	header := new(gethtypes.Header)
	if err := rlp.DecodeBytes(enc, header); err != nil {
		return nil, fmt.Errorf("decode header %d: %w", number, err)
	}
	var txs []common.Hash
	if body, err := read(db, bodyKey(number, hash)); err == nil {
		if err := rlp.DecodeBytes(body, &txs); err != nil {
			return nil, fmt.Errorf("decode body %d: %w", number, err)
		}
	} else if err != ErrNotFound {
		return nil, err
	}
	return &types.Block{Header: header, Hash: hash, Transactions: txs}, nil
}

// ReadHeaderNumber maps a block hash to its number.
func ReadHeaderNumber(db ethdb.KeyValueReader, hash common.Hash) (uint64, error) {
	data, err := read(db, headerNumberKey(hash))
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt number entry for %x", hash)
	}
	return binary.BigEndian.Uint64(data), nil
}

// ReadCanonicalHash maps a number to the canonical block hash.
func ReadCanonicalHash(db ethdb.KeyValueReader, number uint64) (common.Hash, error) {
	data, err := read(db, canonicalKey(number))
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(data), nil
}

// DeleteBlock removes every record WriteBlock created.
func DeleteBlock(db ethdb.KeyValueWriter, number uint64, hash common.Hash) error {
	for _, k := range [][]byte{headerKey(number, hash), headerNumberKey(hash), bodyKey(number, hash), canonicalKey(number)} {
		if err := db.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// --- Head ---

// WriteHeadBlockHash marks hash as the chain head.
func WriteHeadBlockHash(db ethdb.KeyValueWriter, hash common.Hash) error {
	return db.Put(headBlockKey, hash[:])
}

// ReadHeadBlockHash returns the head hash, or ErrNotFound on an empty chain.
func ReadHeadBlockHash(db ethdb.KeyValueReader) (common.Hash, error) {
	data, err := read(db, headBlockKey)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(data), nil
}

// --- Transactions ---

// WriteTransaction stores a transaction and its position in the chain.
func WriteTransaction(db ethdb.KeyValueWriter, tx *gethtypes.Transaction, loc types.TxLocation) error {
	enc, err := tx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode tx: %w", err)
	}
	lookup, err := rlp.EncodeToBytes(&loc)
	if err != nil {
		return fmt.Errorf("encode tx lookup: %w", err)
	}
	if err := db.Put(txKey(tx.Hash()), enc); err != nil {
		return err
	}
	return db.Put(txLookupKey(tx.Hash()), lookup)
}

// ReadTransaction loads a transaction and its location.
func ReadTransaction(db ethdb.KeyValueReader, hash common.Hash) (*gethtypes.Transaction, *types.TxLocation, error) {
	enc, err := read(db, txKey(hash))
	if err != nil {
		return nil, nil, err
	}
	tx := new(gethtypes.Transaction)
	if err := tx.UnmarshalBinary(enc); err != nil {
		return nil, nil, fmt.Errorf("decode tx %x: %w", hash, err)
	}
	loc, err := ReadTxLocation(db, hash)
	if err != nil {
		return nil, nil, err
	}
	return tx, loc, nil
}

// ReadTxLocation returns where a transaction was included.
func ReadTxLocation(db ethdb.KeyValueReader, hash common.Hash) (*types.TxLocation, error) {
	enc, err := read(db, txLookupKey(hash))
	if err != nil {
		return nil, err
	}
	loc := new(types.TxLocation)
	if err := rlp.DecodeBytes(enc, loc); err != nil {
		return nil, fmt.Errorf("decode tx lookup %x: %w", hash, err)
	}
	return loc, nil
}

// DeleteTransaction removes a transaction, its lookup and its receipt.
func DeleteTransaction(db ethdb.KeyValueWriter, hash common.Hash) error {
	for _, k := range [][]byte{txKey(hash), txLookupKey(hash), receiptKey(hash)} {
		if err := db.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// --- Receipts ---

// storedLog is the persisted form of a log. Block number and hash come from
// the enclosing record.
type storedLog struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
	TxHash  common.Hash
	TxIndex uint64
	Index   uint64
}

func toStoredLogs(logs []*gethtypes.Log) []*storedLog {
	out := make([]*storedLog, len(logs))
	for i, l := range logs {
		out[i] = &storedLog{Address: l.Address, Topics: l.Topics, Data: l.Data, TxHash: l.TxHash, TxIndex: uint64(l.TxIndex), Index: uint64(l.Index)}
	}
	return out
}

func fromStoredLogs(logs []*storedLog, number uint64, blockHash common.Hash) []*gethtypes.Log {
	out := make([]*gethtypes.Log, len(logs))
	for i, l := range logs {
		out[i] = &gethtypes.Log{
			Address:     l.Address,
			Topics:      l.Topics,
			Data:        l.Data,
			BlockNumber: number,
			BlockHash:   blockHash,
			TxHash:      l.TxHash,
			TxIndex:     uint(l.TxIndex),
			Index:       uint(l.Index),
		}
	}
	return out
}

type storedReceipt struct {
	Type              uint8
	Status            uint64
	CumulativeGasUsed uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	ContractAddress   common.Address
	Bloom             gethtypes.Bloom
	Logs              []*storedLog
}

// WriteReceipt stores a receipt under its transaction hash.
func WriteReceipt(db ethdb.KeyValueWriter, r *gethtypes.Receipt) error {
	price := r.EffectiveGasPrice
	if price == nil {
		price = new(big.Int)
	}
	enc, err := rlp.EncodeToBytes(&storedReceipt{
		Type:              r.Type,
		Status:            r.Status,
		CumulativeGasUsed: r.CumulativeGasUsed,
		GasUsed:           r.GasUsed,
		EffectiveGasPrice: price,
		ContractAddress:   r.ContractAddress,
		Bloom:             r.Bloom,
		Logs:              toStoredLogs(r.Logs),
	})
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	return db.Put(receiptKey(r.TxHash), enc)
}

// ReadReceipt loads a receipt and fills in its chain position.
func ReadReceipt(db ethdb.KeyValueReader, txHash common.Hash) (*gethtypes.Receipt, error) {
	enc, err := read(db, receiptKey(txHash))
	if err != nil {
		return nil, err
	}
	var sr storedReceipt
	if err := rlp.DecodeBytes(enc, &sr); err != nil {
		return nil, fmt.Errorf("decode receipt %x: %w", txHash, err)
	}
	loc, err := ReadTxLocation(db, txHash)
	if err != nil {
		return nil, err
	}
	return &gethtypes.Receipt{
		Type:              sr.Type,
		Status:            sr.Status,
		CumulativeGasUsed: sr.CumulativeGasUsed,
		Bloom:             sr.Bloom,
		Logs:              fromStoredLogs(sr.Logs, loc.BlockNumber, loc.BlockHash),
		TxHash:            txHash,
		ContractAddress:   sr.ContractAddress,
		GasUsed:           sr.GasUsed,
		EffectiveGasPrice: sr.EffectiveGasPrice,
		BlockHash:         loc.BlockHash,
		BlockNumber:       new(big.Int).SetUint64(loc.BlockNumber),
		TransactionIndex:  uint(loc.Index),
	}, nil
}

// --- Logs and blooms ---

// WriteLogs stores every log of block number in block order.
func WriteLogs(db ethdb.KeyValueWriter, number uint64, logs []*gethtypes.Log) error {
	enc, err := rlp.EncodeToBytes(toStoredLogs(logs))
	if err != nil {
		return fmt.Errorf("encode logs: %w", err)
	}
	return db.Put(logsKey(number), enc)
}

// ReadLogs returns the logs of block number. A block without a log record
// has no logs.
func ReadLogs(db ethdb.KeyValueReader, number uint64, blockHash common.Hash) ([]*gethtypes.Log, error) {
	enc, err := read(db, logsKey(number))
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var logs []*storedLog
	if err := rlp.DecodeBytes(enc, &logs); err != nil {
		return nil, fmt.Errorf("decode logs %d: %w", number, err)
	}
	return fromStoredLogs(logs, number, blockHash), nil
}

// WriteBloom stores the block-level bloom.
func WriteBloom(db ethdb.KeyValueWriter, number uint64, bloom gethtypes.Bloom) error {
	return db.Put(bloomKey(number), bloom.Bytes())
}

// ReadBloom loads the block-level bloom.
func ReadBloom(db ethdb.KeyValueReader, number uint64) (gethtypes.Bloom, error) {
	data, err := read(db, bloomKey(number))
	if err != nil {
		return gethtypes.Bloom{}, err
	}
	return gethtypes.BytesToBloom(data), nil
}

// DeleteLogs removes the logs and bloom of block number.
func DeleteLogs(db ethdb.KeyValueWriter, number uint64) error {
	if err := db.Delete(logsKey(number)); err != nil {
		return err
	}
	return db.Delete(bloomKey(number))
}
