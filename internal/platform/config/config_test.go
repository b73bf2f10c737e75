package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "shop-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "shop-dev" {
		t.Errorf("expected pubsub project to follow firestore, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.StatusTopic != defaultStatusTopic {
		t.Errorf("expected default status topic, got %s", cfg.PubSub.StatusTopic)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("expected redis disabled by default, got %s", cfg.Redis.Addr)
	}
	if cfg.Orders.IDPrefix != "ORD" || cfg.Orders.LegacyMarker != "#" {
		t.Errorf("unexpected order id scheme: %+v", cfg.Orders)
	}
	if cfg.Orders.ExpressShipping != 100 || cfg.Orders.SameDayShipping != 200 {
		t.Errorf("unexpected shipping defaults: %+v", cfg.Orders)
	}
	if cfg.Orders.CounterID != "orders" {
		t.Errorf("unexpected counter id %s", cfg.Orders.CounterID)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.OIDC.JWKSURL != defaultOIDCJWKSURL {
		t.Errorf("expected default jwks url %s, got %s", defaultOIDCJWKSURL, cfg.Security.OIDC.JWKSURL)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 || cfg.Security.OIDC.Issuers[0] != defaultSecurityIssuer {
		t.Errorf("expected default issuers, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatch {
		t.Errorf("unexpected default cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":               "9090",
		"API_SERVER_READ_TIMEOUT":       "20s",
		"API_FIREBASE_PROJECT_ID":       "shop-prod",
		"API_FIRESTORE_PROJECT_ID":      "shop-fire",
		"API_PUBSUB_STATUS_TOPIC":       "order-events",
		"API_REDIS_ADDR":                "redis:6379",
		"API_REDIS_PASSWORD":            "sm://redis/password",
		"API_REDIS_DB":                  "2",
		"API_ORDERS_ID_PREFIX":          "SHP",
		"API_ORDERS_SHIPPING_EXPRESS":   "150",
		"API_ORDERS_SHIPPING_SAME_DAY":  "300",
		"API_ORDERS_CURRENCY":           "usd",
		"API_PSP_STRIPE_API_KEY":        "secret://stripe/api",
		"API_PSP_STRIPE_WEBHOOK_SECRET": "secret://stripe/webhook",
		"API_SECURITY_ENVIRONMENT":      "PROD",
		"API_SECURITY_OIDC_AUDIENCE":    "https://api.example.com",
		"API_SECURITY_OIDC_ISSUERS":     "https://accounts.google.com, accounts.google.com",
		"API_IDEMPOTENCY_TTL":           "1h",
	}

	secrets := map[string]string{
		"secret://stripe/api":     "sk_live",
		"secret://stripe/webhook": "whsec",
		"secret://redis/password": "redis-pass",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		value, ok := secrets[ref]
		if !ok {
			return "", errors.New("unknown secret " + ref)
		}
		return value, nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "shop-fire" || cfg.PubSub.ProjectID != "shop-fire" {
		t.Errorf("unexpected project ids firestore=%s pubsub=%s", cfg.Firestore.ProjectID, cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.StatusTopic != "order-events" {
		t.Errorf("unexpected topic %s", cfg.PubSub.StatusTopic)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Redis.Password != "redis-pass" || cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
	if cfg.Orders.IDPrefix != "SHP" || cfg.Orders.ExpressShipping != 150 || cfg.Orders.SameDayShipping != 300 {
		t.Errorf("unexpected orders config %+v", cfg.Orders)
	}
	if cfg.Orders.Currency != "USD" {
		t.Errorf("expected currency upper-cased, got %s", cfg.Orders.Currency)
	}
	if cfg.PSP.StripeAPIKey != "sk_live" || cfg.PSP.StripeWebhookSecret != "whsec" {
		t.Errorf("unexpected psp config %+v", cfg.PSP)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected environment lower-cased, got %s", cfg.Security.Environment)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("expected two issuers, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.TTL != time.Hour {
		t.Errorf("unexpected ttl %s", cfg.Idempotency.TTL)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nexport API_FIREBASE_PROJECT_ID=shop-local\nAPI_ORDERS_ID_PREFIX=\"LOC\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(path), WithEnvMap(map[string]string{
		"API_SERVER_PORT": "7070",
	}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "shop-local" {
		t.Errorf("expected dotenv project, got %s", cfg.Firebase.ProjectID)
	}
	if cfg.Orders.IDPrefix != "LOC" {
		t.Errorf("expected quoted dotenv value to be trimmed, got %s", cfg.Orders.IDPrefix)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected env map to override dotenv, got %s", cfg.Server.Port)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(map[string]string{
		"API_ORDERS_LEGACY_MARKER": "9",
	}))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := strings.Join(verr.Fields(), ",")
	for _, want := range []string{"Firebase.ProjectID", "Firestore.ProjectID", "Orders.LegacyMarker"} {
		if !strings.Contains(fields, want) {
			t.Errorf("expected %s in %s", want, fields)
		}
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
		"API_PSP_STRIPE_API_KEY":  "secret://stripe/api",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var serr *SecretError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected resolver not configured, got %v", err)
	}
	if serr.Ref != "secret://stripe/api" {
		t.Errorf("unexpected ref %s", serr.Ref)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeWebhookSecret"))
	var merr *MissingSecretsError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	if names := merr.Names(); len(names) != 1 || names[0] != "PSP.StripeWebhookSecret" {
		t.Errorf("unexpected names %v", names)
	}
	if strings.Contains(merr.Error(), "Stripe") {
		t.Errorf("expected redacted error message, got %s", merr.Error())
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("A=dotenv\nB=dotenv\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	values, err := EnvironmentValues(WithoutSystemEnv(), WithEnvFile(path), WithEnvMap(map[string]string{"B": "map"}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}
	if values["A"] != "dotenv" || values["B"] != "map" {
		t.Errorf("unexpected values %v", values)
	}
}
