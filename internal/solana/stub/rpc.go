package stub

import (
	"context"
	"sort"
	"sync"

	"captable-indexer/internal/solana"
)

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	mu           sync.Mutex
	Transactions map[string]*solana.Transaction
	Signatures   map[string][]solana.SignatureInfo
	// FailTransactions makes GetTransaction return the mapped error.
	FailTransactions map[string]error
	Calls            int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Transactions:     make(map[string]*solana.Transaction),
		Signatures:       make(map[string][]solana.SignatureInfo),
		FailTransactions: make(map[string]error),
	}
}

// GetTransaction retrieves a transaction by signature from the stub store.
// Unknown signatures return nil, nil like the real node.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls++

	if err, ok := c.FailTransactions[signature]; ok {
		return nil, err
	}
	return c.Transactions[signature], nil
}

// GetSignaturesForAddress returns stored signatures newest first, honoring Before and Limit.
func (c *RPCClient) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sigs := append([]solana.SignatureInfo(nil), c.Signatures[address]...)
	sort.SliceStable(sigs, func(i, j int) bool {
		return sigs[i].Slot > sigs[j].Slot
	})

	if opts != nil && opts.Before != "" {
		for i, s := range sigs {
			if s.Signature == opts.Before {
				sigs = sigs[i+1:]
				break
			}
		}
	}
	if opts != nil && opts.Limit > 0 && opts.Limit < len(sigs) {
		sigs = sigs[:opts.Limit]
	}
	return sigs, nil
}

// AddTransaction adds a transaction and its signature entry for address.
func (c *RPCClient) AddTransaction(address string, tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Transactions[tx.Signature] = tx
	var txErr interface{}
	if tx.Meta != nil {
		txErr = tx.Meta.Err
	}
	c.Signatures[address] = append(c.Signatures[address], solana.SignatureInfo{
		Signature: tx.Signature,
		Slot:      tx.Slot,
		Err:       txErr,
	})
}

// AddSignatures adds signatures for an address to the stub store.
func (c *RPCClient) AddSignatures(address string, sigs []solana.SignatureInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Signatures[address] = append(c.Signatures[address], sigs...)
}

var _ solana.RPCClient = (*RPCClient)(nil)
