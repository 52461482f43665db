package crypto

import (
	"encoding/hex"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestKeccak256Vectors(t *testing.T) {
	h := NewHasher()
	tests := []struct {
		in   string
		want string
	}{
		{"", "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"},
		{"hello", "1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8"},
	}
	for _, tt := range tests {
		got := hex.EncodeToString(h.Keccak256([]byte(tt.in)))
		if got != tt.want {
			t.Errorf("Keccak256(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestKeccak256MultipleInputs(t *testing.T) {
	h := NewHasher()
	if h.Hash([]byte("helloworld")) != h.Hash([]byte("hello"), []byte("world")) {
		t.Fatal("split input hashed differently from concatenated input")
	}
}

func TestKeccak256Concurrent(t *testing.T) {
	h := NewHasher()
	want := h.Hash([]byte("devchain"))
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if got := h.Hash([]byte("devchain")); got != want {
					t.Errorf("hash = %x, want %x", got, want)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestCreateAddress(t *testing.T) {
	h := NewHasher()
	sender := common.HexToAddress("0x6ac7ea33f8831ea9dcc53393aaa88b25a785dbf0")
	// Well-known deployments from this sender.
	tests := []struct {
		nonce uint64
		want  common.Address
	}{
		{0, common.HexToAddress("0xcd234a471b72ba2f1ccf0a70fcaba648a5eecd8d")},
		{1, common.HexToAddress("0x343c43a37d37dff08ae8c4a11544c718abb4fcf8")},
		{2, common.HexToAddress("0xf778b86fa74e846c4f0a1fbd1335fe81c00a0c91")},
	}
	for _, tt := range tests {
		if got := h.CreateAddress(sender, tt.nonce); got != tt.want {
			t.Errorf("CreateAddress(nonce=%d) = %s, want %s", tt.nonce, got, tt.want)
		}
		if got := gethcrypto.CreateAddress(sender, tt.nonce); got != tt.want {
			t.Errorf("reference CreateAddress(nonce=%d) = %s, want %s", tt.nonce, got, tt.want)
		}
	}
}
