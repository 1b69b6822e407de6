package handler

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
)

const (
	// HeaderCaller carries the address the request acts for.
	HeaderCaller    = "X-Caller-Address"
	HeaderTimestamp = "X-Caller-Timestamp"
	HeaderNonce     = "X-Caller-Nonce"
	HeaderSignature = "X-Caller-Signature"

	DefaultCallerSkew = 5 * time.Minute

	maxSignedBody = 1 << 20
	maxNonceLen   = 128
)

var (
	errMissingCaller = errors.New("missing or invalid " + HeaderCaller + " header")
	errStaleRequest  = errors.New("request timestamp outside the accepted window")
	errMissingNonce  = errors.New("missing or oversized " + HeaderNonce + " header")
	errBadSignature  = errors.New("signature does not match caller")
	errReplayed      = errors.New("request nonce already used")
)

// CallerDigest is the hash a caller signs: the Keccak-256 of method, path,
// body, timestamp and nonce joined by "|", wrapped as an Ethereum signed
// text message so wallets can produce it with personal_sign.
func CallerDigest(method, path string, body []byte, timestamp, nonce string) []byte {
	payload := strings.Join([]string{strings.ToUpper(method), path, string(body), timestamp, nonce}, "|")
	return accounts.TextHash(crypto.Keccak256([]byte(payload)))
}

// SignCaller returns the hex signature of a request for HeaderSignature.
func SignCaller(key *ecdsa.PrivateKey, method, path string, body []byte, timestamp, nonce string) (string, error) {
	sig, err := crypto.Sign(CallerDigest(method, path, body, timestamp, nonce), key)
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// CallerAuth authenticates the caller of state-changing requests. The caller
// signs each request with the key behind its address. Timestamps outside skew
// are refused and nonces are accepted once within the window.
type CallerAuth struct {
	skew time.Duration
	now  func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewCallerAuth(skew time.Duration, now func() time.Time) *CallerAuth {
	if skew <= 0 {
		skew = DefaultCallerSkew
	}
	if now == nil {
		now = time.Now
	}
	return &CallerAuth{skew: skew, now: now, seen: make(map[string]time.Time)}
}

// RequireCaller rejects requests whose signature does not recover to the
// claimed caller and stores the verified address in the context.
func (a *CallerAuth) RequireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSignedBody+1))
		if err != nil || len(body) > maxSignedBody {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "could not read request body", Reason: "BAD_REQUEST"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		caller, err := a.verify(c.Request, body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: err.Error(), Reason: "UNAUTHORIZED"})
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func (a *CallerAuth) verify(r *http.Request, body []byte) (common.Address, error) {
	raw := strings.TrimSpace(r.Header.Get(HeaderCaller))
	if !common.IsHexAddress(raw) {
		return common.Address{}, errMissingCaller
	}
	claimed := common.HexToAddress(raw)

	timestamp := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return common.Address{}, errStaleRequest
	}
	now := a.now()
	signedAt := time.Unix(unix, 0)
	if signedAt.Before(now.Add(-a.skew)) || signedAt.After(now.Add(a.skew)) {
		return common.Address{}, errStaleRequest
	}

	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	if nonce == "" || len(nonce) > maxNonceLen {
		return common.Address{}, errMissingNonce
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(r.Header.Get(HeaderSignature)), "0x"))
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, errBadSignature
	}
	// Wallets produce V as 27 or 28.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(CallerDigest(r.Method, r.URL.RequestURI(), body, timestamp, nonce), sig)
	if err != nil || crypto.PubkeyToAddress(*pub) != claimed {
		return common.Address{}, errBadSignature
	}

	if !a.remember(claimed.Hex()+"|"+nonce, now) {
		return common.Address{}, errReplayed
	}
	return claimed, nil
}

// remember records key and reports whether it was new. Entries expire once
// their timestamp could no longer pass the skew check.
func (a *CallerAuth) remember(key string, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for k, expires := range a.seen {
		if now.After(expires) {
			delete(a.seen, k)
		}
	}
	if _, used := a.seen[key]; used {
		return false
	}
	a.seen[key] = now.Add(2 * a.skew)
	return true
}
