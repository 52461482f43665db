package node

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/eth2030/devchain/core"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
)

var (
	// PUSH1 42 PUSH1 0 MSTORE PUSH1 32 PUSH1 0 RETURN
	returnCode = common.FromHex("602a60005260206000f3")
	// PUSH1 0 PUSH1 0 REVERT
	revertCode = common.FromHex("60006000fd")

	returnAddr  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	revertAddr  = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	accessAddr  = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	touchedAddr = common.HexToAddress("0x00000000000000000000000000000000000000bb")

	// PUSH20 touchedAddr BALANCE POP PUSH1 1 SLOAD POP STOP
	accessCode = common.FromHex("73" + common.Bytes2Hex(touchedAddr.Bytes()) + "31506001545000")

	blockAddr = common.HexToAddress("0x00000000000000000000000000000000000000c4")
	// NUMBER PUSH1 0 MSTORE PUSH20 testTo BALANCE PUSH1 32 MSTORE
	// PUSH1 64 PUSH1 0 RETURN
	blockCode = common.FromHex("4360005273" + common.Bytes2Hex(testTo.Bytes()) + "3160205260406000f3")
)

func newContractNode(t *testing.T) *Node {
	t.Helper()
	n := newTestNode(t, testConfig())
	ctx := context.Background()
	for addr, code := range map[common.Address][]byte{
		returnAddr: returnCode,
		revertAddr: revertCode,
		accessAddr: accessCode,
	} {
		if err := n.SetCode(ctx, addr, code); err != nil {
			t.Fatalf("SetCode(%v): %v", addr, err)
		}
	}
	return n
}

func TestCall(t *testing.T) {
	n := newContractNode(t)
	ctx := context.Background()

	res, err := n.Call(ctx, CallMsg{From: testAddr, To: &returnAddr}, LatestBlockNumber)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !res.Success || res.Error != "" {
		t.Fatalf("result = %+v", res)
	}
	if want := common.LeftPadBytes([]byte{42}, 32); !cmp.Equal(res.ReturnData, want) {
		t.Errorf("return data = %x, want %x", res.ReturnData, want)
	}
	if res.GasUsed <= core.TxGas {
		t.Errorf("gas used = %d, want more than %d", res.GasUsed, core.TxGas)
	}

	res, err = n.Call(ctx, CallMsg{From: testAddr, To: &revertAddr}, PendingBlockNumber)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Success || res.Error != "execution reverted" {
		t.Errorf("revert result = %+v", res)
	}

	res, err = n.Call(ctx, CallMsg{From: testAddr, To: &returnAddr, Gas: 1000}, LatestBlockNumber)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Success || res.Error == "" {
		t.Errorf("low gas result = %+v", res)
	}
}

func TestCallPendingDuringMining(t *testing.T) {
	const blocks = 20
	cfg := testConfig()
	cfg.AutoMine = false
	n := newTestNode(t, cfg)
	ctx := context.Background()
	if err := n.SetCode(ctx, blockAddr, blockCode); err != nil {
		t.Fatalf("SetCode: %v", err)
	}

	var stop atomic.Bool
	var g errgroup.Group
	g.Go(func() error {
		for !stop.Load() {
			res, err := n.Call(ctx, CallMsg{From: testAddr, To: &blockAddr}, PendingBlockNumber)
			if err != nil {
				return err
			}
			if !res.Success || len(res.ReturnData) != 64 {
				return fmt.Errorf("call result = %+v", res)
			}
			number := new(big.Int).SetBytes(res.ReturnData[:32]).Uint64()
			bal := new(big.Int).SetBytes(res.ReturnData[32:]).Uint64()
			// One wei reaches testTo per mined block.
			if number != bal+1 {
				return fmt.Errorf("pending block %d ran against the state of block %d", number, bal)
			}
		}
		return nil
	})

	for i := range uint64(blocks) {
		if _, err := n.SendTransaction(ctx, transferTx(t, n, i, testTo, 1)); !errors.Is(err, core.ErrNotYetMined) {
			t.Fatalf("SendTransaction: %v", err)
		}
		if _, err := n.Mine(ctx, 1); err != nil {
			t.Fatalf("Mine: %v", err)
		}
	}
	stop.Store(true)
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestCallDoesNotCommit(t *testing.T) {
	n := newContractNode(t)
	ctx := context.Background()
	value := oneEther.Clone()
	value.Rsh(value, 1)

	res, err := n.Call(ctx, CallMsg{From: testAddr, To: &testTo, Value: value}, LatestBlockNumber)
	if err != nil || !res.Success {
		t.Fatalf("Call = %+v, %v", res, err)
	}
	if got := balance(t, n, testTo); !got.IsZero() {
		t.Errorf("recipient balance = %v after call, want 0", got)
	}
	if got := blockNumber(t, n); got != 0 {
		t.Errorf("head = %d, want 0", got)
	}
}

func TestEstimateGas(t *testing.T) {
	n := newContractNode(t)
	ctx := context.Background()

	gas, err := n.EstimateGas(ctx, CallMsg{From: testAddr, To: &testTo}, LatestBlockNumber)
	if err != nil {
		t.Fatalf("EstimateGas: %v", err)
	}
	if gas != core.TxGas {
		t.Errorf("transfer estimate = %d, want %d", gas, core.TxGas)
	}

	gas, err = n.EstimateGas(ctx, CallMsg{From: testAddr, To: &returnAddr}, LatestBlockNumber)
	if err != nil {
		t.Fatalf("EstimateGas: %v", err)
	}
	// The estimate is the exact boundary.
	ok, err := n.Call(ctx, CallMsg{From: testAddr, To: &returnAddr, Gas: gas}, LatestBlockNumber)
	if err != nil || !ok.Success {
		t.Errorf("call with %d gas = %+v, %v", gas, ok, err)
	}
	short, err := n.Call(ctx, CallMsg{From: testAddr, To: &returnAddr, Gas: gas - 1}, LatestBlockNumber)
	if err != nil || short.Success {
		t.Errorf("call with %d gas = %+v, %v", gas-1, short, err)
	}

	// The estimate is enough for a real transaction.
	tx := signTx(t, n, &gethtypes.LegacyTx{To: &returnAddr, Gas: gas, GasPrice: gwei})
	res, err := n.SendTransaction(ctx, tx)
	if err != nil || !res.Success {
		t.Errorf("send with estimate = %+v, %v", res, err)
	}

	if _, err := n.EstimateGas(ctx, CallMsg{From: testAddr, To: &revertAddr}, LatestBlockNumber); !errors.Is(err, ErrExecutionFailed) {
		t.Errorf("revert estimate err = %v, want %v", err, ErrExecutionFailed)
	}
}

func TestEstimateContractCreationGas(t *testing.T) {
	n := newContractNode(t)
	ctx := context.Background()

	// Init code returning the 10 byte runtime of returnCode.
	// PUSH1 10 PUSH1 12 PUSH1 0 CODECOPY PUSH1 10 PUSH1 0 RETURN
	initCode := append(common.FromHex("600a600c600039600a6000f3"), returnCode...)
	res, err := n.EstimateContractCreationGas(ctx, CallMsg{From: testAddr, Data: initCode}, LatestBlockNumber)
	if err != nil {
		t.Fatalf("EstimateContractCreationGas: %v", err)
	}
	if !res.Success || !cmp.Equal(res.ReturnData, returnCode) {
		t.Fatalf("result = %+v", res)
	}

	tx := signTx(t, n, &gethtypes.LegacyTx{Gas: 200_000, GasPrice: gwei, Data: initCode})
	sent, err := n.SendTransaction(ctx, tx)
	if err != nil || !sent.Success {
		t.Fatalf("deploy = %+v, %v", sent, err)
	}
	if sent.GasUsed != res.GasUsed {
		t.Errorf("deploy gas = %d, estimate %d", sent.GasUsed, res.GasUsed)
	}
	code, err := n.GetCode(ctx, *sent.ContractAddress, LatestBlockNumber)
	if err != nil || !cmp.Equal(code, returnCode) {
		t.Errorf("deployed code = %x, %v", code, err)
	}
}

func TestCreateAccessList(t *testing.T) {
	n := newContractNode(t)
	ctx := context.Background()

	res, err := n.CreateAccessList(ctx, CallMsg{From: testAddr, To: &accessAddr}, LatestBlockNumber)
	if err != nil {
		t.Fatalf("CreateAccessList: %v", err)
	}
	if res.Error != "" {
		t.Fatalf("error = %q", res.Error)
	}
	want := gethtypes.AccessList{
		{Address: touchedAddr, StorageKeys: []common.Hash{}},
		{Address: accessAddr, StorageKeys: []common.Hash{common.BigToHash(common.Big1)}},
	}
	if diff := cmp.Diff(want, res.AccessList); diff != "" {
		t.Errorf("access list mismatch (-want +got):\n%s", diff)
	}
	if res.GasUsed <= core.TxGas {
		t.Errorf("gas used = %d", res.GasUsed)
	}

	// A plain transfer touches nothing beyond sender and recipient.
	res, err = n.CreateAccessList(ctx, CallMsg{From: testAddr, To: &testTo}, LatestBlockNumber)
	if err != nil {
		t.Fatalf("CreateAccessList: %v", err)
	}
	if len(res.AccessList) != 0 || res.GasUsed != core.TxGas {
		t.Errorf("transfer access list = %+v", res)
	}

	res, err = n.CreateAccessList(ctx, CallMsg{From: testAddr, To: &revertAddr}, LatestBlockNumber)
	if err != nil {
		t.Fatalf("CreateAccessList: %v", err)
	}
	if res.Error == "" || res.AccessList == nil {
		t.Errorf("revert access list = %+v", res)
	}
}
