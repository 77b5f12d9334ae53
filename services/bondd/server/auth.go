package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	jwt "github.com/golang-jwt/jwt/v5"

	"bondvault/crypto"
	"bondvault/observability/logging"
)

const (
	// HeaderTimestamp carries the unix second the request was signed at.
	HeaderTimestamp = "X-Bond-Timestamp"
	// HeaderSignature carries the hex secp256k1 signature over SignaturePayload.
	HeaderSignature = "X-Bond-Signature"

	maxBodyBytes = 1 << 20
)

var (
	errNoCredentials = errors.New("no credentials presented")
	errReplay        = errors.New("signature already used")
)

// AuthConfig configures request authentication.
type AuthConfig struct {
	JWTSecret       string
	Issuer          string
	Audience        string
	ClockSkew       time.Duration
	SignatureWindow time.Duration
}

// Principal is the authenticated identity a request acts as.
type Principal struct {
	Address crypto.Address
	Method  string
}

type principalContextKey struct{}

// PrincipalFromContext extracts the authenticated principal from the request context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	principal, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || principal == nil {
		return nil, false
	}
	return principal, true
}

// Authenticator resolves the caller identity either from a request signed
// with the caller's key or from an HS256 bearer token whose subject is the
// caller's address.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewAuthenticator constructs an authenticator from configuration.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) (*Authenticator, error) {
	secret := strings.TrimSpace(cfg.JWTSecret)
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes")
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 30 * time.Second
	}
	if cfg.SignatureWindow <= 0 {
		cfg.SignatureWindow = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		cfg:    cfg,
		secret: []byte(secret),
		logger: logger,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}, nil
}

// Middleware enforces authentication for identity-bearing endpoints.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.authenticate(r)
		if err != nil {
			a.logger.Warn("bondd: authentication rejected",
				"route", r.URL.Path,
				"reason", err.Error(),
				logging.MaskField("authorization", r.Header.Get("Authorization")),
				logging.MaskField("signature", r.Header.Get(HeaderSignature)))
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated", Message: err.Error()})
			return
		}
		ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(r *http.Request) (*Principal, error) {
	if r.Header.Get(HeaderSignature) != "" {
		return a.authenticateSignature(r)
	}
	if token := extractBearer(r.Header.Get("Authorization")); token != "" {
		return a.authenticateToken(token)
	}
	return nil, errNoCredentials
}

func (a *Authenticator) authenticateSignature(r *http.Request) (*Principal, error) {
	ts, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderTimestamp)), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s header", HeaderTimestamp)
	}
	now := a.now()
	signedAt := time.Unix(ts, 0)
	if drift := now.Sub(signedAt); drift > a.cfg.SignatureWindow || drift < -a.cfg.ClockSkew {
		return nil, fmt.Errorf("signature timestamp outside window")
	}
	sigHex := strings.TrimPrefix(strings.TrimSpace(r.Header.Get(HeaderSignature)), "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding")
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	payload := SignaturePayload(r.Method, r.URL.RequestURI(), ts, body)
	addr, err := crypto.RecoverAddress(payload, sig)
	if err != nil {
		return nil, err
	}
	if err := a.markSeen(replayKey(payload, addr), now); err != nil {
		return nil, err
	}
	return &Principal{Address: addr, Method: "signature"}, nil
}

// replayKey identifies a signed request by what was signed and who signed it,
// independent of the signature encoding.
func replayKey(payload []byte, signer crypto.Address) string {
	return hex.EncodeToString(ethcrypto.Keccak256(payload)) + ":" + signer.Hex()
}

func (a *Authenticator) markSeen(key string, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for old, at := range a.seen {
		if now.Sub(at) > a.cfg.SignatureWindow+a.cfg.ClockSkew {
			delete(a.seen, old)
		}
	}
	if _, ok := a.seen[key]; ok {
		return errReplay
	}
	a.seen[key] = now
	return nil
}

func (a *Authenticator) authenticateToken(tokenString string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	addr, err := crypto.ParseAddress(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("token subject: %w", err)
	}
	if addr.IsZero() {
		return nil, errors.New("token subject is the zero address")
	}
	return &Principal{Address: addr, Method: "jwt"}, nil
}

// SignaturePayload is the byte string a client signs: method, request URI,
// timestamp and the Keccak256 of the body, newline separated.
func SignaturePayload(method, requestURI string, timestamp int64, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(strings.ToUpper(method))
	buf.WriteByte('\n')
	buf.WriteString(requestURI)
	buf.WriteByte('\n')
	buf.WriteString(strconv.FormatInt(timestamp, 10))
	buf.WriteByte('\n')
	buf.WriteString(hex.EncodeToString(ethcrypto.Keccak256(body)))
	return buf.Bytes()
}

// SignRequest sets the signature headers on req for key. body must be the
// exact bytes sent as the request body.
func SignRequest(req *http.Request, key *crypto.PrivateKey, body []byte, now time.Time) error {
	ts := now.Unix()
	sig, err := key.Sign(SignaturePayload(req.Method, req.URL.RequestURI(), ts, body))
	if err != nil {
		return err
	}
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))
	return nil
}

// TokenClaims parameterises IssueToken.
type TokenClaims struct {
	Subject  crypto.Address
	Issuer   string
	Audience string
	TTL      time.Duration
}

// IssueToken mints an HS256 bearer token for the subject address.
func IssueToken(secret string, claims TokenClaims, now time.Time) (string, error) {
	if len(strings.TrimSpace(secret)) < 32 {
		return "", fmt.Errorf("jwt secret must be at least 32 bytes")
	}
	if claims.Subject.IsZero() {
		return "", fmt.Errorf("token subject required")
	}
	ttl := claims.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	registered := jwt.RegisteredClaims{
		Subject:   claims.Subject.String(),
		Issuer:    claims.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if claims.Audience != "" {
		registered.Audience = jwt.ClaimStrings{claims.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, registered).SignedString([]byte(strings.TrimSpace(secret)))
}

func extractBearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
