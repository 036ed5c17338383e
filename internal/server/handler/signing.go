package handler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerpool/internal/crypto"
	"github.com/alanyoungcy/wagerpool/internal/domain"
)

const (
	// maxActionSkew bounds how old a signed participant action may be.
	maxActionSkew = 5 * time.Minute
	maxNonceLen   = 64
)

// Action is a participant request that can be authorised with an EIP-191
// personal signature over its Message. Nonce is chosen by the client and
// may be used once per account.
type Action struct {
	Name      string // bet, cancel, withdraw, fund
	Pool      common.Address
	Account   common.Address
	Outcome   domain.Outcome
	Amount    string
	Nonce     string
	Timestamp int64
}

// Message is the text the account signs.
func (a Action) Message() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "wagerpool %s\n", a.Name)
	fmt.Fprintf(&b, "pool: %s\n", a.Pool.Hex())
	fmt.Fprintf(&b, "account: %s\n", a.Account.Hex())
	if a.Outcome != domain.OutcomeNone {
		fmt.Fprintf(&b, "outcome: %s\n", a.Outcome)
	}
	if a.Amount != "" {
		fmt.Fprintf(&b, "amount: %s\n", a.Amount)
	}
	fmt.Fprintf(&b, "nonce: %s\n", a.Nonce)
	fmt.Fprintf(&b, "timestamp: %d", a.Timestamp)
	return []byte(b.String())
}

// verifyAction checks that sig was produced by a.Account over a recent
// message.
func verifyAction(a Action, sig []byte, now time.Time) error {
	if len(sig) == 0 {
		return fmt.Errorf("signature required: %w", domain.ErrInvalidSignature)
	}
	if a.Nonce == "" || len(a.Nonce) > maxNonceLen {
		return fmt.Errorf("nonce must be 1-%d characters: %w", maxNonceLen, domain.ErrInvalidSignature)
	}
	if skew := now.Sub(time.Unix(a.Timestamp, 0)); skew > maxActionSkew || skew < -maxActionSkew {
		return fmt.Errorf("timestamp outside allowed window: %w", domain.ErrInvalidSignature)
	}
	signer, err := crypto.RecoverMessage(a.Message(), sig)
	if err != nil {
		return err
	}
	if signer != a.Account {
		return fmt.Errorf("signed by %s: %w", signer.Hex(), domain.ErrInvalidSignature)
	}
	return nil
}

// NonceStore claims signed-action nonces. Claim reports false when key was
// already used.
type NonceStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// nonceTTL outlives every timestamp verifyAction still accepts.
const nonceTTL = 2*maxActionSkew + time.Minute

func nonceKey(a Action) string {
	return a.Account.Hex() + ":" + a.Nonce
}

// localNonces is the single-process NonceStore used when none is wired.
type localNonces struct {
	mu   sync.Mutex
	now  func() time.Time
	seen map[string]time.Time
}

func newLocalNonces(now func() time.Time) *localNonces {
	return &localNonces{now: now, seen: make(map[string]time.Time)}
}

func (l *localNonces) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, exp := range l.seen {
		if now.After(exp) {
			delete(l.seen, k)
		}
	}
	if _, ok := l.seen[key]; ok {
		return false, nil
	}
	l.seen[key] = now.Add(ttl)
	return true, nil
}
