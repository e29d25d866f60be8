package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_FIREBASE_PROJECT_ID": "checkout-dev",
		"API_AUTH_HMAC_SECRET":    "dev-secret",
		"API_PAYMENT_BASE_URL":    "https://pay.example.com",
	}
}

func load(t *testing.T, env map[string]string, opts ...Option) (Config, error) {
	t.Helper()
	all := append([]Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}, opts...)
	return Load(context.Background(), all...)
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := load(t, baseEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "checkout-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Datastore.Driver != DatastoreFirestore {
		t.Errorf("expected firestore driver, got %s", cfg.Datastore.Driver)
	}
	if cfg.Auth.Mode() != "hmac" {
		t.Errorf("expected hmac auth mode, got %q", cfg.Auth.Mode())
	}
	if !reflect.DeepEqual(cfg.Auth.StaffRoles, []string{"staff", "admin"}) {
		t.Errorf("unexpected staff roles %v", cfg.Auth.StaffRoles)
	}
	if cfg.Payment.Provider != PaymentHosted || cfg.Payment.VerifyAttempts != 3 || cfg.Payment.Currency != "GHS" {
		t.Errorf("unexpected payment defaults %+v", cfg.Payment)
	}
	if cfg.Events.Driver != EventsLog || cfg.Events.Topic != defaultOrderTopic {
		t.Errorf("unexpected events defaults %+v", cfg.Events)
	}
	if cfg.Redis.Addr != "" || cfg.Redis.ProductTTL != 5*time.Minute {
		t.Errorf("unexpected redis defaults %+v", cfg.Redis)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected info log level, got %s", cfg.Logging.Level)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_ENVIRONMENT":               "PROD",
		"API_SERVER_PORT":               "9090",
		"API_SERVER_WRITE_TIMEOUT":      "25s",
		"API_DATASTORE_DRIVER":          "memory",
		"API_AUTH_JWKS_URL":             "https://auth.example.com/.well-known/jwks.json",
		"API_AUTH_ISSUER":               "https://auth.example.com/",
		"API_AUTH_AUDIENCE":             "checkout",
		"API_AUTH_STAFF_ROLES":          "ops, support",
		"API_PAYMENT_PROVIDER":          "Stripe",
		"API_PAYMENT_SECRET_KEY":        "sm://payments/stripe",
		"API_PAYMENT_CURRENCY":          "usd",
		"API_PAYMENT_VERIFY_ATTEMPTS":   "5",
		"API_PAYMENT_TIMEOUT":           "4s",
		"API_EVENTS_DRIVER":             "kafka",
		"API_EVENTS_KAFKA_BROKERS":      "kafka-1:9092, kafka-2:9092",
		"API_EVENTS_ORDER_TOPIC":        "orders",
		"API_REDIS_ADDR":                "localhost:6379",
		"API_REDIS_PASSWORD":            "secret://redis/password",
		"API_REDIS_PRODUCT_TTL":         "90s",
		"LOG_LEVEL":                     "DEBUG",
		"API_FIRESTORE_EMULATOR_HOST":   "localhost:8081",
		"API_FIREBASE_CREDENTIALS_FILE": "/etc/creds.json",
	}
	secrets := map[string]string{
		"secret://payments/stripe": "sk_test_123",
		"secret://redis/password":  "hunter2",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("unknown")
	})

	cfg, err := load(t, env, WithSecretResolver(resolver), WithRequiredSecrets("Payment.SecretKey"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Environment != "prod" || cfg.Server.Port != "9090" || cfg.Server.WriteTimeout != 25*time.Second {
		t.Errorf("unexpected server config %+v env=%s", cfg.Server, cfg.Environment)
	}
	if cfg.Datastore.Driver != DatastoreMemory {
		t.Errorf("expected memory driver, got %s", cfg.Datastore.Driver)
	}
	if cfg.Auth.Mode() != "jwks" || cfg.Auth.Audience != "checkout" {
		t.Errorf("unexpected auth config %+v", cfg.Auth)
	}
	if !reflect.DeepEqual(cfg.Auth.StaffRoles, []string{"ops", "support"}) {
		t.Errorf("unexpected staff roles %v", cfg.Auth.StaffRoles)
	}
	if cfg.Payment.Provider != PaymentStripe || cfg.Payment.SecretKey != "sk_test_123" {
		t.Errorf("unexpected payment config %+v", cfg.Payment)
	}
	if cfg.Payment.Currency != "USD" || cfg.Payment.VerifyAttempts != 5 || cfg.Payment.Timeout != 4*time.Second {
		t.Errorf("unexpected payment tuning %+v", cfg.Payment)
	}
	if !reflect.DeepEqual(cfg.Events.KafkaBrokers, []string{"kafka-1:9092", "kafka-2:9092"}) || cfg.Events.Topic != "orders" {
		t.Errorf("unexpected events config %+v", cfg.Events)
	}
	if cfg.Redis.Password != "hunter2" || cfg.Redis.ProductTTL != 90*time.Second {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
}

func TestLoadRequiresExactlyOneAuthKeySource(t *testing.T) {
	cases := map[string]map[string]string{
		"none": {},
		"two": {
			"API_AUTH_JWKS_URL":            "https://auth.example.com/jwks",
			"API_AUTH_FIREBASE_PROJECT_ID": "checkout-dev",
		},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			env := baseEnv()
			delete(env, "API_AUTH_HMAC_SECRET")
			for k, v := range overrides {
				env[k] = v
			}
			_, err := load(t, env)
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !reflect.DeepEqual(validation.Fields(), []string{"Auth.KeySource"}) {
				t.Fatalf("unexpected fields %v", validation.Fields())
			}
		})
	}
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"API_AUTH_FIREBASE_PROJECT_ID": "checkout-dev",
		"API_DATASTORE_DRIVER":         "postgres",
		"API_PAYMENT_PROVIDER":         "hosted",
		"API_PAYMENT_VERIFY_ATTEMPTS":  "0",
		"API_EVENTS_DRIVER":            "pubsub",
	}
	_, err := load(t, env)
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	want := []string{"Datastore.Driver", "Payment.BaseURL", "Payment.VerifyAttempts", "Events.PubSubProject"}
	if !reflect.DeepEqual(validation.Fields(), want) {
		t.Fatalf("expected %v, got %v", want, validation.Fields())
	}
}

func TestLoadSecretResolutionFailure(t *testing.T) {
	env := baseEnv()
	env["API_AUTH_HMAC_SECRET"] = "secret://auth/hmac"

	_, err := load(t, env)
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://auth/hmac" {
		t.Errorf("unexpected ref %s", secretErr.Ref)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Errorf("expected unwrap to resolver error, got %v", err)
	}
}

func TestLoadReportsMissingRequiredSecrets(t *testing.T) {
	_, err := load(t, baseEnv(), WithRequiredSecrets("Payment.SecretKey", "Payment.SecretKey"))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	if !reflect.DeepEqual(missing.Names(), []string{"Payment.SecretKey"}) {
		t.Fatalf("unexpected names %v", missing.Names())
	}
	if len(missing.RedactedNames()) != 1 || missing.RedactedNames()[0] == "Payment.SecretKey" {
		t.Fatalf("expected redacted name, got %v", missing.RedactedNames())
	}
}

func TestLoadReadsDotEnvWithLowestPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\n" +
		"export API_SERVER_PORT=7070\n" +
		"API_FIREBASE_PROJECT_ID=\"from-dotenv\"\n" +
		"API_AUTH_HMAC_SECRET=dotenv-secret\n" +
		"API_PAYMENT_BASE_URL=https://pay.example.com\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvFile(path),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"API_SERVER_PORT": "6060"}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("explicit map should win over .env, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "from-dotenv" {
		t.Errorf("expected project from .env, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadIgnoresMissingDotEnv(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvFile(filepath.Join(t.TempDir(), "absent.env")),
		WithoutSystemEnv(),
		WithEnvMap(baseEnv()),
	)
	if err != nil {
		t.Fatalf("expected missing .env to be ignored, got %v", err)
	}
}

func TestEnvironmentValuesPrecedence(t *testing.T) {
	t.Setenv("API_CONFIG_TEST_VALUE", "system")

	values, err := EnvironmentValues(WithEnvFile(""), WithEnvMap(map[string]string{"API_OTHER": "explicit"}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}
	if values["API_CONFIG_TEST_VALUE"] != "system" || values["API_OTHER"] != "explicit" {
		t.Fatalf("unexpected values %v", values)
	}

	values, err = EnvironmentValues(WithEnvFile(""), WithEnvMap(map[string]string{"API_CONFIG_TEST_VALUE": "explicit"}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}
	if values["API_CONFIG_TEST_VALUE"] != "explicit" {
		t.Fatalf("explicit map should override system env, got %s", values["API_CONFIG_TEST_VALUE"])
	}
}
