// Package auth establishes who is calling. A bearer JWT names the owner
// identity; a base58 ed25519 signature by that identity over the request
// marks the request as signed.
package auth

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/models"
)

const (
	DefaultMaxSkew = 5 * time.Minute
	maxNonceLength = 128
)

var (
	ErrInvalidToken      = errors.New("invalid or expired token")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrStaleSignature    = errors.New("signature timestamp outside the accepted window")
	ErrReplayedSignature = errors.New("signature nonce already used")
)

// Claims carries the owner's base58 public key in the subject.
type Claims struct {
	jwt.RegisteredClaims
}

// SignedRequest is the part of an HTTP request an owner signs.
type SignedRequest struct {
	Method    string
	Path      string
	Body      []byte
	Timestamp string
	Nonce     string
	Signature string
}

type Authenticator struct {
	secret  []byte
	issuer  string
	nonces  NonceStore
	maxSkew time.Duration
	now     func() time.Time
}

type Option func(*Authenticator)

// WithNonceStore sets where used signature nonces are recorded. Instances
// behind one load balancer must share it.
func WithNonceStore(store NonceStore) Option {
	return func(a *Authenticator) { a.nonces = store }
}

// WithMaxSkew bounds how far a signature timestamp may drift from now.
func WithMaxSkew(d time.Duration) Option {
	return func(a *Authenticator) { a.maxSkew = d }
}

func NewAuthenticator(secret []byte, issuer string, opts ...Option) *Authenticator {
	a := &Authenticator{
		secret:  secret,
		issuer:  issuer,
		maxSkew: DefaultMaxSkew,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.nonces == nil {
		a.nonces = NewMemoryNonceStore()
	}
	return a
}

// IssueToken signs an HS256 token for owner valid for ttl.
func (a *Authenticator) IssueToken(owner models.PublicKey, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner.String(),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ParseToken validates tokenString and returns the owner it names.
func (a *Authenticator) ParseToken(tokenString string) (models.PublicKey, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return models.PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	owner, err := models.ParsePublicKey(claims.Subject)
	if err != nil {
		return models.PublicKey{}, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	return owner, nil
}

// SigningPayload is the byte string an owner signs for a request:
// method, path, timestamp and nonce on their own lines, then the raw body.
func SigningPayload(method, path, timestamp, nonce string, body []byte) []byte {
	var buf bytes.Buffer
	for _, part := range []string{method, path, timestamp, nonce} {
		buf.WriteString(part)
		buf.WriteByte('\n')
	}
	buf.Write(body)
	return buf.Bytes()
}

// VerifySignature checks a base58 ed25519 signature by owner over payload.
func VerifySignature(owner models.PublicKey, payload []byte, signature string) error {
	sig, err := base58.Decode(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(owner[:]), payload, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the base58 signature of payload.
func Sign(key ed25519.PrivateKey, payload []byte) string {
	return base58.Encode(ed25519.Sign(key, payload))
}

// SignRequest fills in a fresh timestamp, nonce and signature for the
// request. Clients and tests use it to build the X-Signature headers.
func SignRequest(key ed25519.PrivateKey, method, path string, body []byte, at time.Time) SignedRequest {
	req := SignedRequest{
		Method:    method,
		Path:      path,
		Body:      body,
		Timestamp: strconv.FormatInt(at.Unix(), 10),
		Nonce:     uuid.NewString(),
	}
	req.Signature = Sign(key, SigningPayload(req.Method, req.Path, req.Timestamp, req.Nonce, req.Body))
	return req
}

// Authenticate resolves the caller from a bearer token and an optional
// request signature. No signature yields an unsigned caller. A signature
// that fails verification, is stale, or reuses a nonce is an error.
func (a *Authenticator) Authenticate(ctx context.Context, tokenString string, req SignedRequest) (models.Caller, error) {
	owner, err := a.ParseToken(tokenString)
	if err != nil {
		return models.Caller{}, err
	}
	caller := models.Caller{Identity: owner}
	if req.Signature == "" {
		return caller, nil
	}

	if req.Nonce == "" || len(req.Nonce) > maxNonceLength {
		return models.Caller{}, ErrInvalidSignature
	}
	payload := SigningPayload(req.Method, req.Path, req.Timestamp, req.Nonce, req.Body)
	if err := VerifySignature(owner, payload, req.Signature); err != nil {
		return models.Caller{}, err
	}

	ts, err := strconv.ParseInt(req.Timestamp, 10, 64)
	if err != nil {
		return models.Caller{}, ErrStaleSignature
	}
	if skew := a.now().Sub(time.Unix(ts, 0)); skew > a.maxSkew || skew < -a.maxSkew {
		return models.Caller{}, ErrStaleSignature
	}

	// Anything older than the window is already refused above, so a nonce
	// only has to be remembered for the width of the window.
	fresh, err := a.nonces.Claim(ctx, owner.String()+":"+req.Nonce, 2*a.maxSkew)
	if err != nil {
		return models.Caller{}, fmt.Errorf("claim nonce: %w", err)
	}
	if !fresh {
		return models.Caller{}, ErrReplayedSignature
	}

	caller.Signed = true
	return caller, nil
}
