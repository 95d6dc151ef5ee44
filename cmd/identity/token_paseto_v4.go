package identity

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Claims is the identity envelope carried by an access token.
type Claims struct {
	User      User
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenConfig holds the verification rules for access tokens.
type TokenConfig struct {
	Issuer    string
	ClockSkew time.Duration
	TTL       time.Duration
}

// TokenVerifier verifies PASETO v4.public access tokens with a public key only.
type TokenVerifier struct {
	issuer    string
	clockSkew time.Duration
	public    paseto.V4AsymmetricPublicKey
}

// NewTokenVerifier builds a verifier from a hex-encoded Ed25519 public key.
func NewTokenVerifier(publicKeyHex string, cfg TokenConfig) (*TokenVerifier, error) {
	pub, err := paseto.NewV4AsymmetricPublicKeyFromHex(strings.TrimSpace(publicKeyHex))
	if err != nil {
		return nil, OpError{Op: "identity.NewTokenVerifier", Kind: ErrConfig, Msg: "invalid public key"}
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, OpError{Op: "identity.NewTokenVerifier", Kind: ErrConfig, Msg: "missing issuer"}
	}
	return &TokenVerifier{issuer: cfg.Issuer, clockSkew: cfg.ClockSkew, public: pub}, nil
}

// Verify checks signature, issuer and validity window and returns the claims.
func (v *TokenVerifier) Verify(token string, now time.Time) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, OpError{Op: "identity.Verify", Kind: ErrUnauthenticated, Msg: "missing token"}
	}

	// Validate slightly in the future to tolerate "nbf" drift between hosts.
	validNow := now.Add(v.clockSkew)

	// Fresh parser per call so rules do not accumulate.
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(v.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(v.public, token, nil)
	if err != nil {
		return Claims{}, OpError{Op: "identity.Verify", Kind: ErrInvalidToken}
	}

	uid, err := parsed.GetString("uid")
	if err != nil || strings.TrimSpace(uid) == "" {
		return Claims{}, OpError{Op: "identity.Verify", Kind: ErrInvalidToken, Msg: "missing uid"}
	}
	// Display name is optional; fall back to the id.
	name, _ := parsed.GetString("name")
	name = NormalizeDisplayName(name)
	if name == "" {
		name = uid
	}

	iss, _ := parsed.GetIssuer()
	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()

	return Claims{
		User:      User{ID: uid, DisplayName: name},
		Issuer:    iss,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}

// TokenIssuer signs access tokens. It exists for local tooling and tests; production
// tokens come from the account service.
type TokenIssuer struct {
	issuer string
	ttl    time.Duration
	secret paseto.V4AsymmetricSecretKey
}

// NewTokenIssuer builds an issuer from a hex-encoded secret key. An empty key generates
// a fresh keypair.
func NewTokenIssuer(secretKeyHex string, cfg TokenConfig) (*TokenIssuer, error) {
	var secret paseto.V4AsymmetricSecretKey
	if strings.TrimSpace(secretKeyHex) == "" {
		secret = paseto.NewV4AsymmetricSecretKey()
	} else {
		s, err := paseto.NewV4AsymmetricSecretKeyFromHex(strings.TrimSpace(secretKeyHex))
		if err != nil {
			return nil, OpError{Op: "identity.NewTokenIssuer", Kind: ErrConfig, Msg: "invalid secret key"}
		}
		secret = s
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, OpError{Op: "identity.NewTokenIssuer", Kind: ErrConfig, Msg: "missing issuer"}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	return &TokenIssuer{issuer: cfg.Issuer, ttl: cfg.TTL, secret: secret}, nil
}

// PublicKeyHex returns the verification key for this issuer.
func (i *TokenIssuer) PublicKeyHex() string { return i.secret.Public().ExportHex() }

// Issue signs a token for u valid from now until now+TTL.
func (i *TokenIssuer) Issue(u User, now time.Time) (string, time.Time, error) {
	if !u.Valid() {
		return "", time.Time{}, OpError{Op: "identity.Issue", Kind: ErrInvalidInput, Msg: "missing user id"}
	}
	exp := now.Add(i.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(i.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetString("uid", u.ID)
	if name := NormalizeDisplayName(u.DisplayName); name != "" {
		tok.SetString("name", name)
	}

	return tok.V4Sign(i.secret, nil), exp, nil
}
