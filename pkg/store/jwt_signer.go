package store

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultJWTIssuer   = "bookstore-api"
	defaultJWTAudience = "bookstore-clients"
	defaultKeyID       = "jwt-active"
)

var defaultJWTLeeway = 30 * time.Second

var (
	// ErrInvalidToken covers malformed, expired, mis-signed or mis-addressed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenRevoked is returned for tokens revoked by jti or by user cutoff.
	ErrTokenRevoked = errors.New("token revoked")
)

// JWTOptions configures JWT claim validation behavior.
type JWTOptions struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Principal is the identity embedded in an access token.
type Principal struct {
	UserID   string
	Username string
	Role     string
}

// Claims are the access token claims.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Principal returns the identity carried by the claims.
func (c Claims) Principal() Principal {
	return Principal{UserID: c.Subject, Username: c.Username, Role: c.Role}
}

// JWTSigner issues and validates RS256 access tokens with kid/JWKS support.
type JWTSigner struct {
	ttl     time.Duration
	revoker TokenRevoker

	rsaSigner    *rsa.PrivateKey
	rsaSignerKid string
	rsaVerifiers map[string]*rsa.PublicKey

	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewJWTSigner builds a signer from an in-memory key. verifiers maps kid to
// additional public keys accepted during key rotation.
func NewJWTSigner(
	privateKey *rsa.PrivateKey,
	keyID string,
	verifiers map[string]*rsa.PublicKey,
	ttl time.Duration,
	revoker TokenRevoker,
	opts JWTOptions,
) (*JWTSigner, error) {
	if privateKey == nil {
		return nil, errors.New("jwt private key required")
	}
	if ttl <= 0 {
		return nil, errors.New("jwt ttl must be positive")
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		keyID = defaultKeyID
	}
	all := make(map[string]*rsa.PublicKey, len(verifiers)+1)
	for kid, pub := range verifiers {
		if kid = strings.TrimSpace(kid); kid != "" && pub != nil {
			all[kid] = pub
		}
	}
	if _, ok := all[keyID]; !ok {
		all[keyID] = &privateKey.PublicKey
	}
	opts = normalizeJWTOptions(opts)
	return &JWTSigner{
		ttl:          ttl,
		revoker:      revoker,
		rsaSigner:    privateKey,
		rsaSignerKid: keyID,
		rsaVerifiers: all,
		issuer:       opts.Issuer,
		audience:     opts.Audience,
		leeway:       opts.Leeway,
		now:          time.Now,
	}, nil
}

// NewJWTSignerFromPEM builds a signer from PEM files.
// verifyKeyFiles maps kid -> public key path and can include previous keys.
func NewJWTSignerFromPEM(
	privateKeyPath string,
	publicKeyPath string,
	keyID string,
	verifyKeyFiles map[string]string,
	ttl time.Duration,
	revoker TokenRevoker,
	opts JWTOptions,
) (*JWTSigner, error) {
	privateKey, err := loadRSAPrivateKeyFromPEMFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load jwt private key: %w", err)
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		keyID = defaultKeyID
	}

	verifiers := make(map[string]*rsa.PublicKey)
	activePub := &privateKey.PublicKey
	if strings.TrimSpace(publicKeyPath) != "" {
		activePub, err = loadRSAPublicKeyFromPEMFile(publicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load jwt public key: %w", err)
		}
	}
	verifiers[keyID] = activePub

	for kid, path := range verifyKeyFiles {
		kid = strings.TrimSpace(kid)
		path = strings.TrimSpace(path)
		if kid == "" || path == "" {
			continue
		}
		pub, err := loadRSAPublicKeyFromPEMFile(path)
		if err != nil {
			return nil, fmt.Errorf("load verify key %q: %w", kid, err)
		}
		verifiers[kid] = pub
	}
	return NewJWTSigner(privateKey, keyID, verifiers, ttl, revoker, opts)
}

// TTL is the lifetime of issued access tokens.
func (s *JWTSigner) TTL() time.Duration { return s.ttl }

// Issue signs an access token for p.
func (s *JWTSigner) Issue(p Principal) (string, Claims, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return "", Claims{}, errors.New("token subject required")
	}
	now := s.now().UTC()
	claims := Claims{
		Username: p.Username,
		Role:     p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        randomHexID(12),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.rsaSignerKid
	signed, err := token.SignedString(s.rsaSigner)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify validates signature, issuer, audience and time claims, then checks
// revocation by jti and by user cutoff.
func (s *JWTSigner) Verify(token string) (Claims, error) {
	claims, err := s.parse(token, true)
	if err != nil {
		return Claims{}, err
	}
	if err := s.checkRevoked(claims); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// ParseExpired validates signature, issuer and audience but accepts tokens past
// their expiry. It is used to identify the caller during refresh.
func (s *JWTSigner) ParseExpired(token string) (Claims, error) {
	claims, err := s.parse(token, false)
	if err != nil {
		return Claims{}, err
	}
	if claims.Issuer != s.issuer || !slices.Contains([]string(claims.Audience), s.audience) {
		return Claims{}, fmt.Errorf("%w: issuer or audience mismatch", ErrInvalidToken)
	}
	return claims, nil
}

// Revoke blocks the token's jti until it would have expired.
// Tokens that no longer verify are ignored.
func (s *JWTSigner) Revoke(token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parse(token, true)
	if err != nil || claims.ExpiresAt == nil {
		return nil
	}
	return s.revoker.Revoke(claims.ID, time.Until(claims.ExpiresAt.Time))
}

// RevokeUser rejects every token issued to userID at or before since.
func (s *JWTSigner) RevokeUser(userID string, since time.Time) error {
	if s.revoker == nil {
		return nil
	}
	userRevoker, ok := s.revoker.(UserTokenRevoker)
	if !ok {
		return errors.New("token revoker does not support user revocation")
	}
	return userRevoker.RevokeUser(userID, since)
}

// JWKS returns the public keys accepted by Verify.
func (s *JWTSigner) JWKS() []JWK {
	kids := make([]string, 0, len(s.rsaVerifiers))
	for kid := range s.rsaVerifiers {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	out := make([]JWK, 0, len(kids))
	for _, kid := range kids {
		pub := s.rsaVerifiers[kid]
		out = append(out, JWK{
			Kty: "RSA",
			Use: "sig",
			Kid: kid,
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return out
}

func (s *JWTSigner) checkRevoked(claims Claims) error {
	if s.revoker == nil {
		return nil
	}
	revoked, err := s.revoker.IsRevoked(claims.ID)
	if err != nil {
		return fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return ErrTokenRevoked
	}
	userRevoker, ok := s.revoker.(UserTokenRevoker)
	if !ok {
		return nil
	}
	cutoff, err := userRevoker.RevokedAfter(claims.Subject)
	if err != nil {
		return fmt.Errorf("check user revocation: %w", err)
	}
	if cutoff.IsZero() {
		return nil
	}
	if claims.IssuedAt == nil || !claims.IssuedAt.Time.UTC().After(cutoff) {
		return ErrTokenRevoked
	}
	return nil
}

func (s *JWTSigner) parse(token string, validateClaims bool) (Claims, error) {
	claims := Claims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if validateClaims {
		parserOptions = append(parserOptions,
			jwt.WithIssuedAt(),
			jwt.WithLeeway(s.leeway),
			jwt.WithIssuer(s.issuer),
			jwt.WithAudience(s.audience),
		)
	} else {
		parserOptions = append(parserOptions, jwt.WithoutClaimsValidation())
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		kid = strings.TrimSpace(kid)
		if kid == "" {
			return nil, errors.New("token key id required")
		}
		pub, ok := s.rsaVerifiers[kid]
		if !ok {
			return nil, errors.New("unknown token key")
		}
		return pub, nil
	}, parserOptions...)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.ID) == "" {
		return Claims{}, fmt.Errorf("%w: jti missing", ErrInvalidToken)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	return claims, nil
}

func loadRSAPrivateKeyFromPEMFile(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if pkcs1, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return pkcs1, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	privateKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return privateKey, nil
}

func loadRSAPublicKeyFromPEMFile(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}

	if pubAny, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		pub, ok := pubAny.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not rsa")
		}
		return pub, nil
	}
	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("certificate public key is not rsa")
		}
		return pub, nil
	}
	return nil, errors.New("failed to parse rsa public key")
}

func randomHexID(nBytes int) string {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", buf)
}

func normalizeJWTOptions(opts JWTOptions) JWTOptions {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Issuer == "" {
		opts.Issuer = defaultJWTIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultJWTAudience
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultJWTLeeway
	}
	return opts
}
