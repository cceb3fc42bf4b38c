package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tealshop/storefront/internal/platform/requestctx"
)

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.InfoLevel)
	requestCore, requestLogs := observer.New(zapcore.InfoLevel)

	log := EventLogger(zap.New(fallbackCore))
	ctx := requestctx.WithLogger(context.Background(), zap.New(requestCore))
	log(ctx, "checkout.placed", map[string]any{"orderId": "o-1"})

	if fallbackLogs.Len() != 0 {
		t.Fatalf("expected fallback logger unused")
	}
	entries := requestLogs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["orderId"] != "o-1" || entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
}

func TestEventLoggerWarnsOnFailures(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := EventLogger(zap.New(core))
	log(context.Background(), "cart.persist_failed", map[string]any{"error": "boom"})

	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected a warning, got %+v", entries)
	}
}

func TestSanitizeStripsControlCharacters(t *testing.T) {
	if got := SanitizeRoute("/cart\x00\n"); got != "/cart" {
		t.Fatalf("unexpected route %q", got)
	}
	if got := SanitizeRoute(""); got != "/" {
		t.Fatalf("expected root, got %q", got)
	}
}
