package commerce

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/live-commerce/internal/model"
	"github.com/iliyamo/live-commerce/internal/queue"
	"github.com/iliyamo/live-commerce/internal/repository"
)

const (
	shopID   = uint64(7)
	sellerID = uint64(100)
)

type fakeUpstream struct {
	products   map[uint64]*model.Product
	variants   map[uint64]*model.Variant
	promotions map[uint64]*model.PromotionWindow
	err        error
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		products:   make(map[uint64]*model.Product),
		variants:   make(map[uint64]*model.Variant),
		promotions: make(map[uint64]*model.PromotionWindow),
	}
}

func (f *fakeUpstream) addProduct(id uint64, price int64, stock int) {
	f.products[id] = &model.Product{ID: id, Name: "p", BasePrice: price, Stock: stock, ShopID: shopID}
}

func (f *fakeUpstream) GetProduct(_ context.Context, id uint64) (*model.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.products[id], nil
}

func (f *fakeUpstream) GetVariant(_ context.Context, productID, variantID uint64) (*model.Variant, error) {
	if f.err != nil {
		return nil, f.err
	}
	v := f.variants[variantID]
	if v == nil || v.ProductID != productID {
		return nil, nil
	}
	return v, nil
}

func (f *fakeUpstream) GetPromotion(_ context.Context, id uint64) (*model.PromotionWindow, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.promotions[id], nil
}

func (f *fakeUpstream) ShopOwnsProduct(_ context.Context, productID, shop uint64) (bool, error) {
	p := f.products[productID]
	return p != nil && p.ShopID == shop, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []queue.ProductEvent
}

func (r *recordingSink) Publish(_ context.Context, ev queue.ProductEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store    *repository.MemoryStore
	upstream *fakeUpstream
	sink     *recordingSink
	catalog  *Catalog
	session  *model.Session
	now      time.Time
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		store:    repository.NewMemoryStore(),
		upstream: newFakeUpstream(),
		sink:     &recordingSink{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	for id := uint64(1); id <= 5; id++ {
		f.upstream.addProduct(id, 500, 50)
	}
	base := []Option{WithEvents(f.sink), WithClock(func() time.Time { return f.now })}
	f.catalog = NewCatalog(f.store, f.store, f.upstream, f.upstream, append(base, opts...)...)
	f.session = &model.Session{ShopID: shopID, SellerID: sellerID, Title: "spring drop"}
	if err := f.store.Create(context.Background(), f.session); err != nil {
		panic(err)
	}
	return f
}

func ptr[T any](v T) *T { return &v }

func (f *fixture) countPinned() int {
	list, err := f.store.ListBySession(context.Background(), f.session.ID)
	if err != nil {
		panic(err)
	}
	n := 0
	for _, p := range list {
		if p.Pinned {
			n++
		}
	}
	return n
}
