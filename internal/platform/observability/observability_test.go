package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/requestctx"
	"github.com/hanko-field/checkout/internal/services"
)

func TestNewLoggerLevels(t *testing.T) {
	logger, err := NewLogger("debug")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug enabled")
	}
	logger, err = NewLogger("nonsense")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) || !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info default for unknown level")
	}
}

func TestEventLoggerPrefersContextLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.DebugLevel)
	ctxCore, ctxLogs := observer.New(zapcore.DebugLevel)
	hook := EventLogger(zap.New(baseCore))

	hook(context.Background(), "cart.item_added", map[string]any{"product_id": "prod_1"})
	ctx := requestctx.WithLogger(context.Background(), zap.New(ctxCore))
	hook(ctx, "checkout.payment_failed", map[string]any{"error": "declined"})

	if baseLogs.Len() != 1 || ctxLogs.Len() != 1 {
		t.Fatalf("expected one entry each, got base=%d ctx=%d", baseLogs.Len(), ctxLogs.Len())
	}
	entry := ctxLogs.All()[0]
	if entry.Level != zapcore.WarnLevel || entry.Message != "checkout.payment_failed" {
		t.Fatalf("unexpected entry %+v", entry.Entry)
	}
	if entry.ContextMap()["error"] != "declined" {
		t.Fatalf("missing error field: %v", entry.ContextMap())
	}
}

func TestMetricsCountsCheckoutTransitions(t *testing.T) {
	m := NewMetrics()
	var recorder services.CheckoutMetrics = m
	recorder.CheckoutTransition(domain.Storefront("accra"), services.CheckoutStateStarted)
	recorder.CheckoutTransition(domain.Storefront("accra"), services.CheckoutStateStarted)
	recorder.CheckoutTransition(domain.Storefront("accra"), services.CheckoutStateFailed)

	if got := testutil.ToFloat64(m.checkouts.WithLabelValues("accra", "STARTED")); got != 2 {
		t.Fatalf("expected 2 started, got %v", got)
	}
	if got := testutil.ToFloat64(m.checkouts.WithLabelValues("accra", "FAILED")); got != 1 {
		t.Fatalf("expected 1 failed, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "checkout_state_transitions_total") {
		t.Fatal("expected exposition to include checkout counter")
	}
}

func TestRequestPipelineLogsAndMeasures(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	m := NewMetrics()

	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)))
	router.Use(TraceMiddleware("proj-1"))
	router.Use(RequestLoggerMiddleware(m))
	authenticate := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithIdentity(r.Context(), &auth.Identity{UserID: "user-1"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
	router.With(AnnotateStorefront, authenticate, AnnotateIdentity).Get("/api/v1/storefronts/{storefront}/cart", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/storefronts/accra/cart", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if got := rec.Header().Get(cloudTraceHeader); !strings.HasPrefix(got, "4bf92f3577b34da6a3ce929d0e0e4736/") {
		t.Fatalf("unexpected cloud trace header %q", got)
	}

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion line, got %d", len(completed))
	}
	fields := completed[0].ContextMap()
	if completed[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn for 4xx, got %s", completed[0].Level)
	}
	if fields["storefront"] != "accra" || fields["user_id"] != "user-1" {
		t.Fatalf("missing annotations: %v", fields)
	}
	if fields["route"] != "/api/v1/storefronts/{storefront}/cart" {
		t.Fatalf("unexpected route %v", fields["route"])
	}
	if fields["logging.googleapis.com/trace"] != "projects/proj-1/traces/4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("unexpected trace resource %v", fields["logging.googleapis.com/trace"])
	}

	count := testutil.ToFloat64(m.requests.WithLabelValues("/api/v1/storefronts/{storefront}/cart", http.MethodGet, "409"))
	if count != 1 {
		t.Fatalf("expected request counted once, got %v", count)
	}
}

func TestRecoveryMiddlewareWritesJSON(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error":"internal"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatal("expected panic to be logged")
	}
}

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatal("expected header to parse")
	}
	if sc.SpanID().String() != "0000000000000001" || !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("unexpected span context %+v", sc)
	}
	for _, bad := range []string{"", "nope", "xyz/1;o=1", "105445aa7843bc8bf206b12000100000/abc"} {
		if _, ok := parseCloudTraceContext(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
	info := requestctx.TraceInfo{TraceID: "105445aa7843bc8bf206b12000100000", SpanID: "00000000000000ff", Sampled: true}
	if got := formatCloudTraceHeader(info); got != "105445aa7843bc8bf206b12000100000/255;o=1" {
		t.Fatalf("unexpected header %q", got)
	}
}
