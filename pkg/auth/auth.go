// Package auth identifies callers of the daemon. Wallets sign in with an EIP-4361 message and get
// a JWT carrying their address, which is then required on every state changing request.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/spruceid/siwe-go"
)

const (
	// WalletKey is the gin context key holding the authenticated wallet.
	WalletKey = "userWallet"

	nonceTTL = 10 * time.Minute
)

var (
	ErrInvalidMessage   = errors.New("invalid sign in message")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidToken     = errors.New("invalid token")
)

type VerifySiwe struct {
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

type Claims struct {
	UserWallet string `json:"userWallet"`
	jwt.StandardClaims
}

type Authenticator struct {
	secret []byte
	domain string
	ttl    time.Duration

	mu     sync.Mutex
	nonces map[string]time.Time
}

// New returns an authenticator signing tokens with secret. When domain is not empty sign in
// messages must be issued for it.
func New(secret, domain string, ttl time.Duration) *Authenticator {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{
		secret: []byte(secret),
		domain: domain,
		ttl:    ttl,
		nonces: map[string]time.Time{},
	}
}

// Nonce hands out a single use nonce to embed in a sign in message.
func (a *Authenticator) Nonce() string {
	nonce := siwe.GenerateNonce()
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()
	for n, expiry := range a.nonces {
		if now.After(expiry) {
			delete(a.nonces, n)
		}
	}
	a.nonces[nonce] = now.Add(nonceTTL)
	return nonce
}

func (a *Authenticator) consumeNonce(nonce string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	expiry, ok := a.nonces[nonce]
	if !ok {
		return false
	}
	delete(a.nonces, nonce)
	return time.Now().Before(expiry)
}

// Verify checks a signed sign in message and returns a token for the signing wallet.
func (a *Authenticator) Verify(req VerifySiwe) (string, error) {
	message, err := siwe.ParseMessage(req.Message)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	valid, err := message.ValidNow()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if !valid {
		return "", fmt.Errorf("%w: message expired", ErrInvalidMessage)
	}
	if a.domain != "" && message.GetDomain() != a.domain {
		return "", fmt.Errorf("%w: unexpected domain %q", ErrInvalidMessage, message.GetDomain())
	}
	if !a.consumeNonce(message.GetNonce()) {
		return "", fmt.Errorf("%w: unknown nonce", ErrInvalidMessage)
	}

	signer, err := verifySignature(message.String(), req.Signature)
	if err != nil {
		return "", err
	}
	if signer != message.GetAddress() {
		return "", fmt.Errorf("%w: signed by %v instead of %v", ErrInvalidSignature, signer.Hex(), message.GetAddress().Hex())
	}
	return a.Issue(signer.Hex())
}

// Issue signs a token for wallet.
func (a *Authenticator) Issue(wallet string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserWallet: strings.ToLower(wallet),
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: now.Add(a.ttl).Unix(),
			IssuedAt:  now.Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates a token and returns the wallet it was issued for.
func (a *Authenticator) Parse(tokenString string) (string, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("invalid signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserWallet == "" {
		return "", fmt.Errorf("%w: invalid token claims", ErrInvalidToken)
	}
	return claims.UserWallet, nil
}

// Wallet returns the wallet the server stored under WalletKey.
func Wallet(ctx *gin.Context) (string, bool) {
	wallet := ctx.GetString(WalletKey)
	return wallet, wallet != ""
}

func verifySignature(msg string, signature string) (common.Address, error) {
	sigBytes, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sigBytes) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: bad length %d", ErrInvalidSignature, len(sigBytes))
	}
	if sigBytes[64] != 27 && sigBytes[64] != 28 {
		return common.Address{}, fmt.Errorf("%w: invalid recovery byte", ErrInvalidSignature)
	}
	sigBytes[64] -= 27
	pubkey, err := crypto.SigToPub(accounts.TextHash([]byte(msg)), sigBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pubkey), nil
}
