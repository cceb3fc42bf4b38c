package cart

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/tealshop/storefront/internal/domain"
)

type recordingPersister struct {
	loaded  domain.Cart
	loadErr error
	saves   []domain.Cart
	saveErr error
}

func (p *recordingPersister) Load(context.Context) (domain.Cart, error) {
	if p.loadErr != nil {
		return domain.Cart{}, p.loadErr
	}
	return p.loaded, nil
}

func (p *recordingPersister) Save(_ context.Context, cart domain.Cart) error {
	p.saves = append(p.saves, cart)
	return p.saveErr
}

func item(slug string, price float64, stock int) domain.LineItem {
	return domain.LineItem{ProductID: "id-" + slug, Slug: slug, Name: "Product " + slug, Price: price, Stock: stock}
}

func openStore(t *testing.T, p Persister) *Store {
	t.Helper()
	store, err := Open(context.Background(), StoreDeps{Persister: p})
	require.NoError(t, err)
	return store
}

func TestOpenRequiresPersister(t *testing.T) {
	_, err := Open(context.Background(), StoreDeps{})
	require.Error(t, err)
}

func TestOpenSeedsFromPersistedSnapshot(t *testing.T) {
	p := &recordingPersister{loaded: domain.Cart{Items: []domain.LineItem{{Slug: "a", Quantity: 2, Stock: 5}}}}
	store := openStore(t, p)
	assert.Equal(t, 2, store.Quantity())
	assert.Empty(t, p.saves)
}

func TestOpenToleratesUnreadableSnapshot(t *testing.T) {
	var events []string
	store, err := Open(context.Background(), StoreDeps{
		Persister: &recordingPersister{loadErr: errors.New("corrupt")},
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})
	require.NoError(t, err)
	assert.Empty(t, store.Snapshot().Items)
	assert.Equal(t, []string{"cart.load_failed"}, events)
}

func TestAddItemReplacesQuantityForExistingSlug(t *testing.T) {
	p := &recordingPersister{loadErr: ErrNotPersisted}
	store := openStore(t, p)
	ctx := context.Background()

	_, err := store.AddItem(ctx, item("a", 10, 10), 1)
	require.NoError(t, err)
	cart, err := store.AddItem(ctx, item("a", 10, 10), 3)
	require.NoError(t, err)

	require.Len(t, cart.Items, 1)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	require.Len(t, p.saves, 2)
	assert.Equal(t, 3, p.saves[1].Items[0].Quantity)
}

func TestAddItemKeepsInsertionOrder(t *testing.T) {
	store := openStore(t, &recordingPersister{loadErr: ErrNotPersisted})
	ctx := context.Background()

	for _, slug := range []string{"c", "a", "b"} {
		_, err := store.AddItem(ctx, item(slug, 1, 5), 1)
		require.NoError(t, err)
	}
	cart, err := store.AddItem(ctx, item("a", 1, 5), 4)
	require.NoError(t, err)

	slugs := []string{cart.Items[0].Slug, cart.Items[1].Slug, cart.Items[2].Slug}
	assert.Equal(t, []string{"c", "a", "b"}, slugs)
	assert.Equal(t, 4, cart.Items[1].Quantity)
}

func TestAddItemRejectsQuantityAboveStock(t *testing.T) {
	p := &recordingPersister{loadErr: ErrNotPersisted}
	store := openStore(t, p)

	_, err := store.AddItem(context.Background(), item("a", 10, 2), 3)

	var oos *domain.OutOfStockError
	require.ErrorAs(t, err, &oos)
	require.Len(t, oos.Items, 1)
	assert.Equal(t, 3, oos.Items[0].Requested)
	assert.Equal(t, 2, oos.Items[0].Available)
	assert.Empty(t, store.Snapshot().Items)
	assert.Empty(t, p.saves)
}

func TestAddItemValidatesInput(t *testing.T) {
	store := openStore(t, &recordingPersister{loadErr: ErrNotPersisted})
	ctx := context.Background()

	_, err := store.AddItem(ctx, item("a", 10, 5), 0)
	assert.True(t, domain.IsValidation(err))

	_, err = store.AddItem(ctx, item(" ", 10, 5), 1)
	assert.True(t, domain.IsValidation(err))

	_, err = store.AddItem(ctx, item("a", -1, 5), 1)
	assert.True(t, domain.IsValidation(err))
}

func TestUpdateQuantityBounds(t *testing.T) {
	store := openStore(t, &recordingPersister{loadErr: ErrNotPersisted})
	ctx := context.Background()
	_, err := store.AddItem(ctx, item("a", 10, 4), 1)
	require.NoError(t, err)

	_, err = store.UpdateQuantity(ctx, "a", 5)
	assert.True(t, domain.IsValidation(err))
	_, err = store.UpdateQuantity(ctx, "a", 0)
	assert.True(t, domain.IsValidation(err))

	cart, err := store.UpdateQuantity(ctx, "a", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, cart.Items[0].Quantity)

	_, err = store.UpdateQuantity(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestRemoveItemIsNoopWhenAbsent(t *testing.T) {
	p := &recordingPersister{loadErr: ErrNotPersisted}
	store := openStore(t, p)
	ctx := context.Background()
	_, err := store.AddItem(ctx, item("a", 10, 4), 1)
	require.NoError(t, err)

	cart, err := store.RemoveItem(ctx, "zzz")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)

	cart, err = store.RemoveItem(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Len(t, p.saves, 3)
}

func TestClearKeepsAddressAndPaymentMethod(t *testing.T) {
	store := openStore(t, &recordingPersister{loadErr: ErrNotPersisted})
	ctx := context.Background()
	_, err := store.AddItem(ctx, item("a", 10, 4), 2)
	require.NoError(t, err)
	_, err = store.SetShippingAddress(ctx, domain.Address{FullName: "Ada", Address: "1 Loop", City: "Paris", PostalCode: "75001", Country: "FR"})
	require.NoError(t, err)
	_, err = store.SetPaymentMethod(ctx, domain.PaymentMethodStripe)
	require.NoError(t, err)

	cart, err := store.Clear(ctx)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	require.NotNil(t, cart.ShippingAddress)
	assert.Equal(t, "Ada", cart.ShippingAddress.FullName)
	assert.Equal(t, domain.PaymentMethodStripe, cart.PaymentMethod)
}

func TestSetShippingAddressValidatesFields(t *testing.T) {
	p := &recordingPersister{loadErr: ErrNotPersisted}
	store := openStore(t, p)

	_, err := store.SetShippingAddress(context.Background(), domain.Address{FullName: "Ada"})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "country")
	assert.Nil(t, store.Snapshot().ShippingAddress)
	assert.Empty(t, p.saves)
}

func TestSetPaymentMethodRejectsUnknown(t *testing.T) {
	store := openStore(t, &recordingPersister{loadErr: ErrNotPersisted})
	_, err := store.SetPaymentMethod(context.Background(), domain.PaymentMethod("Bitcoin"))
	assert.True(t, domain.IsValidation(err))
}

func TestPersistFailureKeepsInMemoryState(t *testing.T) {
	var events []string
	p := &recordingPersister{loadErr: ErrNotPersisted, saveErr: errors.New("disk full")}
	store, err := Open(context.Background(), StoreDeps{
		Persister: p,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})
	require.NoError(t, err)

	cart, err := store.AddItem(context.Background(), item("a", 10, 4), 2)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
	assert.EqualError(t, store.LastPersistError(), "disk full")
	assert.Equal(t, []string{"cart.persist_failed"}, events)
}

func TestQuantityAndSubtotal(t *testing.T) {
	store := openStore(t, &recordingPersister{loadErr: ErrNotPersisted})
	ctx := context.Background()
	_, _ = store.AddItem(ctx, item("a", 10.1, 9), 3)
	_, _ = store.AddItem(ctx, item("b", 0.2, 9), 1)

	assert.Equal(t, 4, store.Quantity())
	assert.Equal(t, 30.5, store.Subtotal())
}

func TestSnapshotIsACopy(t *testing.T) {
	store := openStore(t, &recordingPersister{loadErr: ErrNotPersisted})
	_, _ = store.AddItem(context.Background(), item("a", 1, 9), 1)

	snap := store.Snapshot()
	snap.Items[0].Quantity = 99
	assert.Equal(t, 1, store.Snapshot().Items[0].Quantity)
}

func TestDecodeDropsInvalidItems(t *testing.T) {
	cart, err := Decode([]byte(`{"cartItems":[{"slug":"a","quantity":1},{"slug":"","quantity":2},{"slug":"b","quantity":0},{"slug":"a","quantity":4}],"paymentMethod":"Gold"}`))
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 4, cart.Items[0].Quantity)
	assert.Equal(t, domain.PaymentMethod(""), cart.PaymentMethod)
}

func TestEncodeUsesCartKeys(t *testing.T) {
	data, err := Encode(domain.Cart{PaymentMethod: domain.PaymentMethodPayPal})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cartItems":[],"paymentMethod":"PayPal"}`, string(data))
}

func TestCheckoutNonceIsStableUntilClear(t *testing.T) {
	ctx := context.Background()
	p := &recordingPersister{}
	store := openStore(t, p)
	_, err := store.AddItem(ctx, item("a", 10, 5), 1)
	require.NoError(t, err)

	nonce := store.CheckoutNonce(ctx)
	require.NotEmpty(t, nonce)
	assert.Equal(t, nonce, store.CheckoutNonce(ctx))
	assert.Equal(t, nonce, p.saves[len(p.saves)-1].CheckoutNonce)

	_, err = store.UpdateQuantity(ctx, "a", 2)
	require.NoError(t, err)
	assert.Equal(t, nonce, store.CheckoutNonce(ctx))

	cleared, err := store.Clear(ctx)
	require.NoError(t, err)
	assert.Empty(t, cleared.CheckoutNonce)
	assert.NotEqual(t, nonce, store.CheckoutNonce(ctx))
}
