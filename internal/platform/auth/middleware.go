package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/marketplace/internal/platform/httpx"
)

const (
	defaultRoleClaim     = "role"
	defaultStoreClaim    = "storeId"
	defaultEmailClaim    = "email"
	defaultVerifyTimeout = 5 * time.Second
)

var (
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// UserGetter retrieves Firebase user records.
type UserGetter interface {
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

// rejection is an authentication outcome rendered as an error envelope.
type rejection struct {
	status  int
	code    string
	message string
}

func unauthorized(code, message string) *rejection {
	return &rejection{status: http.StatusUnauthorized, code: code, message: message}
}

func forbidden(code, message string) *rejection {
	return &rejection{status: http.StatusForbidden, code: code, message: message}
}

func (rj *rejection) write(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError(rj.code, rj.message, rj.status))
}

// Authenticator turns bearer tokens into marketplace identities: a shopper, a vendor bound to one
// store through the store claim, or an admin.
type Authenticator struct {
	verifier TokenVerifier
	users    UserGetter

	roleClaim    string
	storeClaim   string
	fallbackRole string
	timeout      time.Duration
}

type Option func(*Authenticator)

// WithUserGetter lets handlers lazily load the caller's Firebase user record.
func WithUserGetter(getter UserGetter) Option {
	return func(a *Authenticator) { a.users = getter }
}

func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

func WithStoreClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.storeClaim = claim
		}
	}
}

// WithFallbackRole sets the role of tokens carrying no role claim. Shoppers by default.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) {
		if role = normaliseRole(role); role != "" {
			a.fallbackRole = role
		}
	}
}

func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		roleClaim:    defaultRoleClaim,
		storeClaim:   defaultStoreClaim,
		fallbackRole: RoleUser,
		timeout:      defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth admits callers holding one of roles, or any known role when roles is empty.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			allowed[role] = true
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, rj := a.authenticate(r)
			if rj == nil && len(allowed) > 0 && !allowed[identity.Role] {
				rj = forbidden("insufficient_role", "identity does not have required role")
			}
			if rj != nil {
				rj.write(r.Context(), w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) authenticate(r *http.Request) (*Identity, *rejection) {
	raw, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, unauthorized("unauthenticated", "authorization header missing or invalid")
	}
	if a == nil || a.verifier == nil {
		return nil, unauthorized("unauthenticated", "authorization service unavailable")
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	token, err := a.verifier.VerifyIDToken(ctx, raw)
	cancel()
	if err != nil {
		return nil, verificationRejection(err)
	}

	identity := a.identityFromToken(token)
	switch {
	case !knownRole(identity.Role):
		return nil, forbidden("unknown_role", "identity role is not recognised")
	case identity.Role == RoleVendor && identity.StoreID == "":
		return nil, forbidden("missing_store", "vendor identity is not bound to a store")
	}
	return identity, nil
}

func (a *Authenticator) identityFromToken(token *firebaseauth.Token) *Identity {
	identity := &Identity{
		UID:     token.UID,
		Email:   claimAsString(token.Claims, defaultEmailClaim),
		Role:    normaliseRole(claimAsString(token.Claims, a.roleClaim)),
		StoreID: claimAsString(token.Claims, a.storeClaim),
		token:   token,
	}
	if identity.Role == "" {
		identity.Role = a.fallbackRole
	}
	if a.users != nil {
		users, timeout := a.users, a.timeout
		identity.userLoader = func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return users.GetUser(ctx, uid)
		}
	}
	return identity
}

func verificationRejection(err error) *rejection {
	switch {
	case errors.Is(err, ErrTokenRevoked):
		return unauthorized("token_revoked", "firebase id token revoked")
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		return unauthorized("token_expired", "firebase id token expired")
	case errors.Is(err, ErrTokenInvalid), firebaseauth.IsIDTokenInvalid(err):
		return unauthorized("invalid_token", "firebase id token invalid")
	default:
		return unauthorized("invalid_token", "firebase id token verification failed")
	}
}

func knownRole(role string) bool {
	return role == RoleUser || role == RoleVendor || role == RoleAdmin
}

func claimAsString(claims map[string]interface{}, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
