package collaborators

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockChainClient is a development stand-in for the real chain client
// (§1 Non-goals: "the underlying blockchain client... assumed"). It
// understands one conventional wire format so the rest of the relay can
// be exercised end to end without a live RPC endpoint: a signed
// transaction is the string "tx:<feePayer>:<userAccount>:<nonce>",
// mirroring how api/billing's mock gateway encodes its fake ledger
// entries as delimited strings instead of a real wire format.
type MockChainClient struct {
	mu       sync.Mutex
	balances map[string]int64 // account -> native balance
	sent     map[string]bool  // signature -> submitted
	nonce    int64
}

// NewMockChainClient builds a chain client with the given starting
// balances (keyed by account pubkey).
func NewMockChainClient(balances map[string]int64) *MockChainClient {
	b := make(map[string]int64, len(balances))
	for k, v := range balances {
		b[k] = v
	}
	return &MockChainClient{balances: b, sent: make(map[string]bool)}
}

func (c *MockChainClient) LatestBlockhash(ctx context.Context, rpcURL string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonce++
	return fmt.Sprintf("blockhash-%d", c.nonce), nil
}

func (c *MockChainClient) SimulateTransaction(ctx context.Context, rpcURL string, raw []byte) error {
	if len(raw) == 0 {
		return fmt.Errorf("collaborators: empty transaction")
	}
	return nil
}

func (c *MockChainClient) SendTransaction(ctx context.Context, rpcURL string, raw []byte) (string, error) {
	sig := signatureOf(raw)
	c.mu.Lock()
	c.sent[sig] = true
	c.mu.Unlock()
	return sig, nil
}

func (c *MockChainClient) ConfirmTransaction(ctx context.Context, rpcURL string, signature string, timeout time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[signature], nil
}

// CoSign appends a "signed:" marker so the mock can tell an unsigned
// transaction from a co-signed one without a real signature scheme.
func (c *MockChainClient) CoSign(raw []byte, feePayerPubkey string) ([]byte, error) {
	parts := strings.Split(string(raw), ":")
	if len(parts) < 3 || parts[0] != "tx" {
		return nil, fmt.Errorf("collaborators: malformed transaction")
	}
	if parts[1] != feePayerPubkey {
		return nil, fmt.Errorf("collaborators: fee payer mismatch during co-sign")
	}
	return append(raw, []byte(":signed")...), nil
}

// IsFeePayerSigned reports whether raw already carries the ":signed"
// marker CoSign appends, i.e. whether the service has already co-signed
// this transaction once.
func (c *MockChainClient) IsFeePayerSigned(raw []byte, feePayerPubkey string) (bool, error) {
	parts := strings.Split(string(raw), ":")
	if len(parts) < 2 || parts[0] != "tx" {
		return false, fmt.Errorf("collaborators: malformed transaction")
	}
	return strings.HasSuffix(string(raw), ":signed"), nil
}

func (c *MockChainClient) VerifyUserSignature(raw []byte, userAccount string) (bool, error) {
	parts := strings.Split(string(raw), ":")
	if len(parts) < 3 {
		return false, fmt.Errorf("collaborators: malformed transaction")
	}
	return parts[2] == userAccount, nil
}

func (c *MockChainClient) ExtractFeePayer(raw []byte) (string, error) {
	parts := strings.Split(string(raw), ":")
	if len(parts) < 2 || parts[0] != "tx" {
		return "", fmt.Errorf("collaborators: malformed transaction")
	}
	return parts[1], nil
}

func (c *MockChainClient) TokenAccountBalance(ctx context.Context, rpcURL, account string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[account], nil
}

func (c *MockChainClient) EnsureTokenAccount(ctx context.Context, rpcURL, owner, mint string) (string, error) {
	return owner + "-" + mint, nil
}

func signatureOf(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
