package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/hanko-field/marketplace/internal/platform/config"
)

// ErrTokenRevoked signals that the token was issued before the user's sessions were revoked.
var ErrTokenRevoked = errors.New("auth: firebase id token revoked")

var errVerifierUnavailable = errors.New("auth: firebase verifier not initialised")

// adminAuth is the subset of the Admin SDK auth client the verifier calls.
type adminAuth interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*firebaseauth.Token, error)
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

// FirebaseVerifier verifies shopper, vendor and admin ID tokens against Firebase Auth. Tokens whose
// role claim is in the revocation set cost an extra round trip to confirm the session is still live.
type FirebaseVerifier struct {
	client       adminAuth
	timeout      time.Duration
	roleClaim    string
	checkAll     bool
	revokedRoles map[string]struct{}
}

type FirebaseOption func(*FirebaseVerifier)

func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(v *FirebaseVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithRevocationCheck checks revocation for every token, not only privileged roles.
func WithRevocationCheck(all bool) FirebaseOption {
	return func(v *FirebaseVerifier) { v.checkAll = all }
}

// WithRevocationRoles replaces the roles whose tokens are checked for revocation. Admin by default.
func WithRevocationRoles(roles ...string) FirebaseOption {
	return func(v *FirebaseVerifier) {
		v.revokedRoles = make(map[string]struct{}, len(roles))
		for _, role := range roles {
			if role = normaliseRole(role); role != "" {
				v.revokedRoles[role] = struct{}{}
			}
		}
	}
}

func withAdminAuth(client adminAuth) FirebaseOption {
	return func(v *FirebaseVerifier) { v.client = client }
}

// NewFirebaseVerifier initialises the Admin SDK for cfg.ProjectID. The SDK honours
// FIREBASE_AUTH_EMULATOR_HOST on its own.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("firebase project id is required")
	}
	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}
	opts = append([]FirebaseOption{withAdminAuth(client), WithRevocationCheck(cfg.CheckRevoked)}, opts...)
	return newFirebaseVerifier(opts...), nil
}

func newFirebaseVerifier(opts ...FirebaseOption) *FirebaseVerifier {
	v := &FirebaseVerifier{
		timeout:      defaultVerifyTimeout,
		roleClaim:    defaultRoleClaim,
		revokedRoles: map[string]struct{}{RoleAdmin: {}},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// VerifyIDToken checks the signature and expiry, then revocation when the token's role requires it.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errVerifierUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	if v.checkAll {
		return v.checkRevoked(ctx, idToken)
	}
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	if _, ok := v.revokedRoles[normaliseRole(claimAsString(token.Claims, v.roleClaim))]; ok {
		return v.checkRevoked(ctx, idToken)
	}
	return token, nil
}

func (v *FirebaseVerifier) checkRevoked(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	token, err := v.client.VerifyIDTokenAndCheckRevoked(ctx, idToken)
	if err != nil {
		if firebaseauth.IsIDTokenRevoked(err) {
			return nil, fmt.Errorf("%w: %v", ErrTokenRevoked, err)
		}
		return nil, err
	}
	return token, nil
}

// GetUser loads the Firebase user record behind uid.
func (v *FirebaseVerifier) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	if v == nil || v.client == nil {
		return nil, errVerifierUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return v.client.GetUser(ctx, uid)
}
