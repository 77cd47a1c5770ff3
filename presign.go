package carton

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxPresignTTL caps token lifetimes at 7 days.
	MaxPresignTTL = 7 * 24 * time.Hour

	// TokenParam is the query parameter carrying the capability token.
	TokenParam = "token"
)

// PreSignedURL is the issued capability: a URL embedding a signed token, and
// the instant it stops being honored.
type PreSignedURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenClaims are the fields decoded out of a validated token.
type TokenClaims struct {
	Bucket    string
	Key       string
	Version   string
	Operation Operation
	ExpiresAt time.Time
}

// Signer issues and validates pre-signed URLs.
//
// Tokens are fully self-describing: base64(payload) + "." + hex(signature),
// where the canonical payload is bucket:key:operation:version:expiresAt and
// the signature is HMAC-SHA256 under the deployment secret. No server-side
// state is created for a token, so validity survives process restarts and
// holds on any node sharing the secret.
type Signer struct {
	Secret  []byte
	BaseURL string

	// Now is the clock used for expiry decisions; nil means time.Now.
	Now func() time.Time
}

// NewSigner creates a Signer. baseURL is the externally reachable prefix the
// issued URLs are rooted at, e.g. "https://storage.example.com".
func NewSigner(secret []byte, baseURL string) *Signer {
	return &Signer{Secret: secret, BaseURL: strings.TrimRight(baseURL, "/")}
}

func (s *Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Generate issues a pre-signed URL granting op on the referenced object for
// ttl. The URL path is keyed by operation:
//
//	{base}/ps/{operation}/{bucket}/{key}?token=...
func (s *Signer) Generate(ref ObjectRef, op Operation, ttl time.Duration) (PreSignedURL, error) {
	if err := ref.Validate(); err != nil {
		return PreSignedURL{}, fmt.Errorf("generate presigned url: %w", err)
	}
	if !op.IsValid() {
		return PreSignedURL{}, fmt.Errorf("generate presigned url: %w: invalid operation: %s", ErrInvalidArgument, op)
	}
	// The payload is colon-delimited and parsed from the right, so the key
	// may contain colons but the bucket and version must not.
	if strings.ContainsRune(ref.Bucket, ':') {
		return PreSignedURL{}, fmt.Errorf("generate presigned url: %w: bucket cannot contain ':'", ErrInvalidArgument)
	}
	if strings.ContainsRune(ref.Version, ':') {
		return PreSignedURL{}, fmt.Errorf("generate presigned url: %w: version cannot contain ':'", ErrInvalidArgument)
	}
	if ttl <= 0 || ttl > MaxPresignTTL {
		return PreSignedURL{}, fmt.Errorf("generate presigned url: %w: ttl must be between 1s and %s", ErrInvalidArgument, MaxPresignTTL)
	}

	expiresAt := s.now().Add(ttl).Truncate(time.Second)
	payload := canonicalPayload(ref.Bucket, ref.Key, op, ref.Version, expiresAt.Unix())
	token := base64.URLEncoding.EncodeToString([]byte(payload)) + "." + Sign([]byte(payload), s.Secret)

	u := fmt.Sprintf("%s/ps/%s/%s/%s?%s=%s",
		s.BaseURL,
		op,
		url.PathEscape(ref.Bucket),
		escapeKeyPath(ref.Key),
		TokenParam,
		url.QueryEscape(token),
	)

	return PreSignedURL{URL: u, ExpiresAt: expiresAt}, nil
}

// Validate checks a full pre-signed URL against the caller-supplied bucket
// and key. The token's signature must verify, its decoded bucket and key must
// match both the URL path and the supplied values, and its expiry must lie in
// the future. No lookup of any kind is performed.
func (s *Signer) Validate(rawURL, bucket, key string) (TokenClaims, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return TokenClaims{}, fmt.Errorf("validate presigned url: %w: malformed url", ErrUnauthorized)
	}

	token := u.Query().Get(TokenParam)
	if token == "" {
		return TokenClaims{}, fmt.Errorf("validate presigned url: %w: missing token", ErrUnauthorized)
	}

	return s.ValidateToken(token, bucket, key)
}

// ValidateToken validates a bare token against the caller-supplied bucket and
// key.
func (s *Signer) ValidateToken(token, bucket, key string) (TokenClaims, error) {
	payloadB64, signature, found := strings.Cut(token, ".")
	if !found {
		return TokenClaims{}, fmt.Errorf("validate token: %w: malformed token", ErrUnauthorized)
	}

	payload, err := base64.URLEncoding.DecodeString(payloadB64)
	if err != nil {
		return TokenClaims{}, fmt.Errorf("validate token: %w: invalid payload encoding", ErrUnauthorized)
	}

	if !VerifySignature(payload, signature, s.Secret) {
		return TokenClaims{}, fmt.Errorf("validate token: %w: signature mismatch", ErrUnauthorized)
	}

	claims, err := parsePayload(string(payload))
	if err != nil {
		return TokenClaims{}, err
	}

	if claims.Bucket != bucket || claims.Key != key {
		return TokenClaims{}, fmt.Errorf("validate token: %w: token does not grant access to %s/%s", ErrUnauthorized, bucket, key)
	}

	if !s.now().Before(claims.ExpiresAt) {
		return TokenClaims{}, fmt.Errorf("validate token: %w: token expired", ErrUnauthorized)
	}

	return claims, nil
}

func canonicalPayload(bucket, key string, op Operation, version string, expiresAt int64) string {
	return fmt.Sprintf("%s:%s:%s:%s:%d", bucket, key, op, version, expiresAt)
}

// parsePayload splits the canonical payload. The trailing three fields
// (operation, version, expiry) never contain ':', so they are taken from the
// right and the key keeps any ':' it legitimately contains.
func parsePayload(payload string) (TokenClaims, error) {
	parts := strings.Split(payload, ":")
	if len(parts) < 5 {
		return TokenClaims{}, fmt.Errorf("validate token: %w: malformed payload", ErrUnauthorized)
	}

	expiresUnix, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return TokenClaims{}, fmt.Errorf("validate token: %w: malformed expiry", ErrUnauthorized)
	}

	op, err := ParseOperation(parts[len(parts)-3])
	if err != nil {
		return TokenClaims{}, fmt.Errorf("validate token: %w: unknown operation", ErrUnauthorized)
	}

	return TokenClaims{
		Bucket:    parts[0],
		Key:       strings.Join(parts[1:len(parts)-3], ":"),
		Version:   parts[len(parts)-2],
		Operation: op,
		ExpiresAt: time.Unix(expiresUnix, 0),
	}, nil
}

// escapeKeyPath escapes a key for use in a URL path while preserving its
// segment separators.
func escapeKeyPath(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
