// Package session handles the client-held partial-progress state.
//
// The snapshot and the rate-limit window travel as signed, size-bounded
// payloads held entirely by the visitor's browser. No server-side session
// table backs them; the signed token is the only source of truth for resume
// and abandonment reconstruction.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/leadqualifier/leadqualifier/internal/models"
)

// Opts holds configuration options for the Codec.
type Opts struct {
	Secret  []byte
	Horizon time.Duration
	Now     func() time.Time
}

// Option defines a configuration option for the Codec.
type Option func(*Opts)

// WithSecret sets the HMAC signing secret.
func WithSecret(secret []byte) Option {
	return func(o *Opts) { o.Secret = secret }
}

// WithHorizon overrides the default snapshot validity horizon.
func WithHorizon(d time.Duration) Option {
	return func(o *Opts) { o.Horizon = d }
}

// WithClock injects a clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Codec signs and verifies the client-held payloads.
type Codec struct {
	secret  []byte
	horizon time.Duration
	now     func() time.Time
}

// NewCodec creates a Codec. The secret is required; the horizon defaults to
// seven days of snapshot validity.
func NewCodec(opts ...Option) (*Codec, error) {
	cfg := Opts{
		Horizon: models.SnapshotHorizon,
		Now:     time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Secret) == 0 {
		slog.Error("NewCodec: signing secret not set")
		return nil, fmt.Errorf("session signing secret not set")
	}
	return &Codec{secret: cfg.Secret, horizon: cfg.Horizon, now: cfg.Now}, nil
}

type snapshotClaims struct {
	Snapshot models.ProgressSnapshot `json:"snap"`
	jwt.RegisteredClaims
}

type windowClaims struct {
	Window models.RateLimitWindow `json:"win"`
	jwt.RegisteredClaims
}

// EncodeSnapshot signs a snapshot for the client to hold. The write is a
// strict overwrite: each token fully replaces the previous one.
func (c *Codec) EncodeSnapshot(s models.ProgressSnapshot) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	if len(raw) > models.MaxSnapshotBytes {
		slog.Error("Codec.EncodeSnapshot: snapshot over size bound", "bytes", len(raw), "max", models.MaxSnapshotBytes)
		return "", fmt.Errorf("snapshot exceeds %d bytes", models.MaxSnapshotBytes)
	}

	now := c.now()
	claims := snapshotClaims{
		Snapshot: s,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.horizon)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign snapshot: %w", err)
	}
	slog.Debug("Codec.EncodeSnapshot: snapshot signed", "session_id", s.SessionID, "phase", s.LastPhase, "bytes", len(raw))
	return token, nil
}

// DecodeSnapshot verifies a snapshot token. A token past the horizon or with
// a bad signature decodes to nil with no error: the caller treats both the
// same as "no snapshot", since tampered and expired state are equally unusable.
func (c *Codec) DecodeSnapshot(token string) *models.ProgressSnapshot {
	if token == "" {
		return nil
	}
	var claims snapshotClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, c.keyFunc, jwt.WithTimeFunc(c.now), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			slog.Debug("Codec.DecodeSnapshot: snapshot past horizon")
		} else {
			slog.Warn("Codec.DecodeSnapshot: invalid snapshot token", "error", err)
		}
		return nil
	}
	if !parsed.Valid {
		return nil
	}
	return &claims.Snapshot
}

// EncodeWindow signs the rate-limit window. This write is never debounced:
// the updated window must reach the client before the response completes.
func (c *Codec) EncodeWindow(w models.RateLimitWindow) (string, error) {
	now := c.now()
	claims := windowClaims{
		Window: w,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(models.RateWindow)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign rate window: %w", err)
	}
	return token, nil
}

// DecodeWindow verifies a rate-window token. Invalid or expired tokens decode
// to a zero window, which the limiter treats as a fresh budget.
func (c *Codec) DecodeWindow(token string) models.RateLimitWindow {
	if token == "" {
		return models.RateLimitWindow{}
	}
	var claims windowClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, c.keyFunc, jwt.WithTimeFunc(c.now), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		slog.Debug("Codec.DecodeWindow: invalid or expired window token, starting fresh")
		return models.RateLimitWindow{}
	}
	return claims.Window
}

func (c *Codec) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return c.secret, nil
}
