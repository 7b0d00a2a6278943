package httpapi

import (
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Calls that move a caller's funds carry a secp256k1 signature over the raw
// JSON body and a millisecond timestamp, the same way a signed transaction
// binds the sender.
const (
	HeaderTimestamp = "X-Blitz-Timestamp"
	HeaderSignature = "X-Blitz-Signature"

	signatureWindow = time.Minute
	signedPrefix    = "\x19Blitz Signed Call:\n"
)

func callDigest(body []byte, ts int64) []byte {
	buf := make([]byte, 0, len(signedPrefix)+20+len(body))
	buf = append(buf, signedPrefix...)
	buf = strconv.AppendInt(buf, ts, 10)
	buf = append(buf, '\n')
	buf = append(buf, body...)
	return crypto.Keccak256(buf)
}

// SignCall signs body at timestamp ts (unix milliseconds) and returns the
// 0x-prefixed 65-byte signature.
func SignCall(key *ecdsa.PrivateKey, body []byte, ts int64) (string, error) {
	sig, err := crypto.Sign(callDigest(body, ts), key)
	if err != nil {
		return "", fmt.Errorf("httpapi.SignCall: %w", err)
	}
	return hexutil.Encode(sig), nil
}

// recoverSigner returns the address that produced sig over body at ts.
func recoverSigner(body []byte, ts int64, sig string) (common.Address, error) {
	raw, err := hexutil.Decode(sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature is %d bytes, want %d", len(raw), crypto.SignatureLength)
	}
	pub, err := crypto.SigToPub(callDigest(body, ts), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// replayGuard remembers signatures accepted inside the signature window.
type replayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newReplayGuard() *replayGuard {
	return &replayGuard{seen: map[string]time.Time{}}
}

// fresh records sig and reports whether it had not been used yet.
func (g *replayGuard) fresh(sig string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for s, at := range g.seen {
		if now.Sub(at) > 2*signatureWindow {
			delete(g.seen, s)
		}
	}
	if _, ok := g.seen[sig]; ok {
		return false
	}
	g.seen[sig] = now
	return true
}
