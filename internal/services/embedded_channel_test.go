package services

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tableside/ordering/internal/domain"
)

type embeddedFixture struct {
	*routerFixture
	channel EmbeddedChannel
}

func newEmbeddedFixture(t *testing.T) *embeddedFixture {
	t.Helper()

	rf := newRouterFixture(t, nil, nil)
	channel, err := NewEmbeddedChannel(EmbeddedChannelDeps{
		Router:         rf.router,
		PendingState:   rf.pending,
		Records:        rf.records,
		CustomerID:     "kiosk-1",
		ExpectedOrigin: "https://pay.example.com",
		SurfaceURL:     "https://pay.example.com/embed",
		TaxRate:        decimal.RequireFromString("0.04"),
		UseProvidedTax: true,
		TenantID:       "t-1",
		RestaurantName: "Corner Bistro",
		BankRouting:    "021000021",
		AccountNumber:  "000123456789",
		TeardownDelay:  1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewEmbeddedChannel: %v", err)
	}
	return &embeddedFixture{routerFixture: rf, channel: channel}
}

func (f *embeddedFixture) placeOnline(t *testing.T) domain.Order {
	t.Helper()
	if err := f.cart.Add("tea", decimal.RequireFromString("3.00"), 1, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	result, err := f.router.PlaceOrder(context.Background(), placeRequest(domain.PaymentMethodOnline))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	return result.Order
}

func TestMountWithoutOrderFailsTerminally(t *testing.T) {
	f := newEmbeddedFixture(t)
	if _, err := f.channel.Mount(context.Background()); !errors.Is(err, ErrEmbeddedNoOrder) {
		t.Fatalf("expected ErrEmbeddedNoOrder, got %v", err)
	}
}

func TestMountBuildsSurfaceURLWithOrderParameters(t *testing.T) {
	f := newEmbeddedFixture(t)
	order := f.placeOnline(t)

	raw, err := f.channel.Mount(context.Background())
	if err != nil {
		t.Fatalf("Mount returned error: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("surface url does not parse: %v", err)
	}

	query := parsed.Query()
	if got := query.Get("orderId"); got != order.ID {
		t.Fatalf("expected orderId %q, got %q", order.ID, got)
	}
	if got := query.Get("subtotal"); got != "3.00" {
		t.Fatalf("expected subtotal 3.00, got %q", got)
	}
	if got := query.Get("taxes"); got != "0.12" {
		t.Fatalf("expected taxes 0.12, got %q", got)
	}
	if got := query.Get("total"); got != "3.12" {
		t.Fatalf("expected total 3.12, got %q", got)
	}
	if got := query.Get("useProvidedTax"); got != "true" {
		t.Fatalf("expected useProvidedTax true, got %q", got)
	}
	if got := query.Get("restaurantId"); got != "t-1" {
		t.Fatalf("expected restaurantId t-1, got %q", got)
	}
	if got := query.Get("customerPhone"); got != "555-0101" {
		t.Fatalf("expected billing phone carried, got %q", got)
	}
}

func TestForeignOriginMessagesAreIgnored(t *testing.T) {
	f := newEmbeddedFixture(t)
	f.placeOnline(t)

	signal, err := f.channel.HandleMessage(context.Background(),
		"https://evil.example.net", []byte(`{"type":"PAYMENT_SUCCESS"}`))
	if err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}
	if signal.Kind != SignalNone {
		t.Fatalf("expected none signal, got %q", signal.Kind)
	}
	if f.router.State() != RouterStateAwaitingEmbeddedResult {
		t.Fatalf("foreign message must not move the router, got %q", f.router.State())
	}
}

func TestPaymentSuccessClearsStorageAndCart(t *testing.T) {
	f := newEmbeddedFixture(t)
	f.placeOnline(t)

	signal, err := f.channel.HandleMessage(context.Background(),
		"https://pay.example.com", []byte(`{"type":"PAYMENT_SUCCESS"}`))
	if err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}
	if signal.Kind != SignalSuccess {
		t.Fatalf("expected success signal, got %q", signal.Kind)
	}
	if signal.Delay != 1500*time.Millisecond {
		t.Fatalf("expected teardown delay, got %v", signal.Delay)
	}

	if f.router.State() != RouterStateResolved {
		t.Fatalf("expected resolved router, got %q", f.router.State())
	}
	if len(f.cart.Lines()) != 0 {
		t.Fatal("expected cart cleared on success")
	}
	if _, ok, _ := f.pending.Load(); ok {
		t.Fatal("expected durable in-flight state cleared on success")
	}
	if _, ok := f.pending.PendingOrderID(); ok {
		t.Fatal("expected session order id cleared on success")
	}

	remote := f.records.snapshot()
	if len(remote) != 1 || remote[0].PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected remote order paid, got %#v", remote)
	}
}

func TestPaymentCancelledClearsStorageButKeepsCart(t *testing.T) {
	f := newEmbeddedFixture(t)
	f.placeOnline(t)

	signal, err := f.channel.HandleMessage(context.Background(),
		"https://pay.example.com", []byte(`{"type":"PAYMENT_CANCELLED"}`))
	if err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}
	if signal.Kind != SignalAbandoned {
		t.Fatalf("expected abandoned signal, got %q", signal.Kind)
	}

	if f.router.State() != RouterStateIdle {
		t.Fatalf("expected idle router, got %q", f.router.State())
	}
	if len(f.cart.Lines()) != 1 {
		t.Fatal("cancel must leave the cart intact")
	}
	if _, ok, _ := f.pending.Load(); ok {
		t.Fatal("expected in-flight state cleared on cancel")
	}
	if len(f.records.snapshot()) != 0 {
		t.Fatal("expected janitor to remove the unpaid order")
	}
}

func TestPaymentErrorBehavesLikeCancelWithMessage(t *testing.T) {
	f := newEmbeddedFixture(t)
	f.placeOnline(t)

	signal, err := f.channel.HandleMessage(context.Background(),
		"https://pay.example.com",
		[]byte(`{"type":"PAYMENT_ERROR","payload":{"message":"card declined"}}`))
	if err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}
	if signal.Kind != SignalAbandoned {
		t.Fatalf("expected abandoned signal, got %q", signal.Kind)
	}
	if signal.Message != "card declined" {
		t.Fatalf("expected failure message surfaced, got %q", signal.Message)
	}
	if len(f.cart.Lines()) != 1 {
		t.Fatal("payment error must leave the cart intact")
	}
}

func TestMethodSelectedWritesSubMethodBestEffort(t *testing.T) {
	f := newEmbeddedFixture(t)
	order := f.placeOnline(t)

	signal, err := f.channel.HandleMessage(context.Background(),
		"https://pay.example.com",
		[]byte(`{"type":"PAYMENT_METHOD_SELECTED","payload":{"paymentMethod":"promptpay"}}`))
	if err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}
	if signal.Kind != SignalNone {
		t.Fatalf("expected none signal, got %q", signal.Kind)
	}

	remote := f.records.snapshot()
	if len(remote) != 1 || remote[0].ID != order.ID {
		t.Fatalf("unexpected remote orders: %#v", remote)
	}
	if remote[0].OnlinePaymentMethod != "promptpay" {
		t.Fatalf("expected sub-method recorded, got %q", remote[0].OnlinePaymentMethod)
	}
	if f.router.State() != RouterStateAwaitingEmbeddedResult {
		t.Fatalf("method selection must not move the router, got %q", f.router.State())
	}
}

func TestMethodSelectedWriteFailureIsNonFatal(t *testing.T) {
	f := newEmbeddedFixture(t)
	f.placeOnline(t)
	f.records.transformFn = func(context.Context, string, func([]domain.Order) ([]domain.Order, bool)) error {
		return errors.New("record offline")
	}

	signal, err := f.channel.HandleMessage(context.Background(),
		"https://pay.example.com",
		[]byte(`{"type":"PAYMENT_METHOD_SELECTED","payload":{"paymentMethod":"card"}}`))
	if err != nil {
		t.Fatalf("sub-method write failure must not surface, got %v", err)
	}
	if signal.Kind != SignalNone {
		t.Fatalf("expected none signal, got %q", signal.Kind)
	}
}

func TestMalformedMessagesAreIgnored(t *testing.T) {
	f := newEmbeddedFixture(t)
	f.placeOnline(t)

	for _, raw := range []string{`not json`, `{"type":"SOMETHING_ELSE"}`} {
		signal, err := f.channel.HandleMessage(context.Background(), "https://pay.example.com", []byte(raw))
		if err != nil {
			t.Fatalf("HandleMessage(%q) returned error: %v", raw, err)
		}
		if signal.Kind != SignalNone {
			t.Fatalf("expected none signal for %q, got %q", raw, signal.Kind)
		}
	}
	if f.router.State() != RouterStateAwaitingEmbeddedResult {
		t.Fatalf("malformed messages must not move the router, got %q", f.router.State())
	}
}

func TestBackAbandonsInFlightOrder(t *testing.T) {
	f := newEmbeddedFixture(t)
	f.placeOnline(t)

	if err := f.channel.Back(context.Background()); err != nil {
		t.Fatalf("Back returned error: %v", err)
	}
	if f.router.State() != RouterStateIdle {
		t.Fatalf("expected idle after back, got %q", f.router.State())
	}
	if len(f.records.snapshot()) != 0 {
		t.Fatal("expected unpaid order removed on back")
	}
}

func TestParseEmbeddedMessageTypes(t *testing.T) {
	msg, err := ParseEmbeddedMessage([]byte(`{"type":"PAYMENT_METHOD_SELECTED","payload":{"paymentMethod":" qr "}}`))
	if err != nil {
		t.Fatalf("parse method selected: %v", err)
	}
	selected, ok := msg.(MethodSelectedMessage)
	if !ok || selected.PaymentMethod != "qr" {
		t.Fatalf("expected trimmed method selection, got %#v", msg)
	}

	if _, err := ParseEmbeddedMessage([]byte(`{"type":"PAYMENT_REFUND"}`)); err == nil {
		t.Fatal("expected unknown type to be rejected")
	}
}
