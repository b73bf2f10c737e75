package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

const testAudience = "https://api.example.com/internal"

type oidcFixture struct {
	validator *OIDCValidator
	key       *rsa.PrivateKey
	fetches   *atomic.Int32
	now       time.Time
}

func newOIDCFixture(t *testing.T, jwksStatus int) oidcFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "svc-key", Algorithm: "RS256", Use: "sig"}

	fetches := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		if jwksStatus != http.StatusOK {
			w.WriteHeader(jwksStatus)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(server.Close)

	now := time.Unix(1_700_000_000, 0)
	original := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.TimeFunc = original })

	cache := NewJWKSCache(server.URL, server.Client(), func() time.Time { return now })
	return oidcFixture{validator: NewOIDCValidator(cache, nil), key: key, fetches: fetches, now: now}
}

func (f oidcFixture) token(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"aud":   testAudience,
		"iss":   "https://accounts.google.com",
		"sub":   "catalog-sync",
		"email": "catalog@project.iam.gserviceaccount.com",
		"exp":   float64(f.now.Add(time.Hour).Unix()),
		"iat":   float64(f.now.Unix()),
	}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "svc-key"
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (f oidcFixture) handler(t *testing.T, reached *bool) http.Handler {
	return f.validator.RequireOIDC(testAudience, []string{"https://accounts.google.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok || !identity.HasRole(RoleService) || identity.UID != "catalog-sync" {
			t.Fatalf("unexpected service identity %+v", identity)
		}
		*reached = true
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestRequireOIDC_AcceptsValidTokenAndCachesKeys(t *testing.T) {
	f := newOIDCFixture(t, http.StatusOK)
	var reached bool
	handler := f.handler(t, &reached)

	for i := 0; i < 2; i++ {
		rr := serve(t, handler, "Bearer "+f.token(t, nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d %s", rr.Code, rr.Body.String())
		}
	}
	if !reached {
		t.Fatal("expected handler to run")
	}
	if got := f.fetches.Load(); got != 1 {
		t.Fatalf("expected one jwks fetch, got %d", got)
	}
}

func TestRequireOIDC_RejectsAudienceMismatch(t *testing.T) {
	f := newOIDCFixture(t, http.StatusOK)
	var reached bool
	token := f.token(t, func(c jwt.MapClaims) { c["aud"] = "https://other.example.com" })

	rr := serve(t, f.handler(t, &reached), "Bearer "+token)
	if rr.Code != http.StatusUnauthorized || reached {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireOIDC_RejectsIssuerMismatch(t *testing.T) {
	f := newOIDCFixture(t, http.StatusOK)
	var reached bool
	token := f.token(t, func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" })

	rr := serve(t, f.handler(t, &reached), "Bearer "+token)
	if rr.Code != http.StatusUnauthorized || reached {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireOIDC_JWKSUnavailable(t *testing.T) {
	f := newOIDCFixture(t, http.StatusInternalServerError)
	var reached bool

	rr := serve(t, f.handler(t, &reached), "Bearer "+f.token(t, nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestMaxAge(t *testing.T) {
	if got := maxAge("public, max-age=120, must-revalidate"); got != 2*time.Minute {
		t.Fatalf("expected 2m, got %s", got)
	}
	if got := maxAge("no-cache"); got != defaultJWKSRefreshInterval {
		t.Fatalf("expected default interval, got %s", got)
	}
}
