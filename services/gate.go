package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nazim05-hub/MessengerX/models"
)

// ErrAuthRejected covers every reason a credential is refused
var ErrAuthRejected = errors.New("authentication rejected")

// UserLookup is the part of Directory the gate needs
type UserLookup interface {
	GetUser(ctx context.Context, userID uint) (*models.User, error)
}

// SessionGate turns a bearer token into a verified, existing user
type SessionGate struct {
	secret    []byte
	algorithm string
	users     UserLookup
}

func NewSessionGate(secret, algorithm string, users UserLookup) *SessionGate {
	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	return &SessionGate{
		secret:    []byte(secret),
		algorithm: algorithm,
		users:     users,
	}
}

// Authenticate validates the token and confirms the account still exists.
// All failures wrap ErrAuthRejected except store outages, which are
// returned as-is so callers can tell them apart.
func (g *SessionGate) Authenticate(ctx context.Context, tokenString string) (*models.User, error) {
	userID, err := g.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}

	user, err := g.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: user %d does not exist", ErrAuthRejected, userID)
		}
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	return user, nil
}

// VerifyToken checks signature and expiry and returns the subject user ID
func (g *SessionGate) VerifyToken(tokenString string) (uint, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return 0, fmt.Errorf("%w: missing token", ErrAuthRejected)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the alg is what we expect
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return g.secret, nil
	}, jwt.WithValidMethods([]string{g.algorithm}))
	if err != nil || !token.Valid {
		return 0, fmt.Errorf("%w: invalid token: %v", ErrAuthRejected, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("%w: invalid token claims", ErrAuthRejected)
	}

	for _, name := range []string{"sub", "user_id"} {
		if raw, present := claims[name]; present {
			id, err := claimToUserID(raw)
			if err != nil {
				return 0, fmt.Errorf("%w: claim %s: %v", ErrAuthRejected, name, err)
			}
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: token has no subject", ErrAuthRejected)
}

func claimToUserID(raw interface{}) (uint, error) {
	switch v := raw.(type) {
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not a numeric id: %q", v)
		}
		if n == 0 {
			return 0, errors.New("zero id")
		}
		return uint(n), nil
	case float64:
		if v <= 0 || v != math.Trunc(v) || v > 1<<53 {
			return 0, fmt.Errorf("not a valid id: %v", v)
		}
		return uint(v), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
}
