package services_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	awspkg "github.com/Receptionally/firewood-marketplace/pkg/aws"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/models"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/repository"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/services"
)

var (
	_ repository.ChargeLedger          = fakeLedger{}
	_ repository.OrderRepository       = fakeOrders{}
	_ repository.SellerRepository      = fakeSellers{}
	_ services.PaymentProvider         = (*fakeProvider)(nil)
	_ services.OrderLocker             = (*fakeLocker)(nil)
	_ services.UnrecordedChargeJournal = (*fakeJournal)(nil)
	_ awspkg.SNSPublisher              = (*fakeSNS)(nil)
	_ services.BillingQueue            = (*fakeQueue)(nil)
)

// fakeStore is an in-memory stand-in for Postgres shared by the ledger,
// order and seller fakes so the ledger write and the flag flip stay atomic.
type fakeStore struct {
	mu      sync.Mutex
	orders  map[uuid.UUID]*models.Order
	sellers map[uuid.UUID]*models.Seller
	charges map[uuid.UUID]models.SubscriptionCharge
	failed  []models.FailedCharge

	findErr     error
	recordFails int
	failedErr   error
	recordCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:  map[uuid.UUID]*models.Order{},
		sellers: map[uuid.UUID]*models.Seller{},
		charges: map[uuid.UUID]models.SubscriptionCharge{},
	}
}

func (s *fakeStore) addSeller(customerID string, totalOrders int64) *models.Seller {
	s.mu.Lock()
	defer s.mu.Unlock()
	seller := &models.Seller{ID: uuid.New(), Name: "Oak & Ash Firewood", TotalOrders: totalOrders}
	if customerID != "" {
		seller.StripeCustomerID = &customerID
	}
	s.sellers[seller.ID] = seller
	return seller
}

func (s *fakeStore) addOrder(sellerID uuid.UUID) *models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := &models.Order{
		ID:                  uuid.New(),
		SellerID:            sellerID,
		CustomerName:        "Dana",
		CustomerEmail:       "dana@example.com",
		Quantity:            1,
		Status:              models.OrderStatusPending,
		StripePaymentStatus: models.ProviderStatusPending,
	}
	s.orders[o.ID] = o
	return o
}

func (s *fakeStore) flag(orderID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[orderID].SubscriptionChargeProcessed
}

func (s *fakeStore) chargeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.charges)
}

func (s *fakeStore) failedMarkers() []models.FailedCharge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.FailedCharge(nil), s.failed...)
}

type fakeLedger struct{ s *fakeStore }

func (l fakeLedger) RecordCharge(ctx context.Context, c *models.SubscriptionCharge) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %v", repository.ErrChargeFailed, err)
	}
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.recordCalls++
	if l.s.recordFails > 0 {
		l.s.recordFails--
		return false, fmt.Errorf("%w: connection refused", repository.ErrChargeFailed)
	}
	if o, ok := l.s.orders[c.OrderID]; ok {
		o.SubscriptionChargeProcessed = true
	}
	if _, ok := l.s.charges[c.OrderID]; ok {
		return true, nil
	}
	c.ID = uuid.New()
	c.ChargeType = models.ChargeTypeSubscription
	c.Status = models.ChargeStatusSucceeded
	c.CreatedAt = time.Now()
	l.s.charges[c.OrderID] = *c
	return false, nil
}

func (l fakeLedger) FindSucceededCharge(ctx context.Context, orderID uuid.UUID) (*models.SubscriptionCharge, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if l.s.findErr != nil {
		return nil, l.s.findErr
	}
	c, ok := l.s.charges[orderID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (l fakeLedger) ListSellerCharges(ctx context.Context, sellerID uuid.UUID) ([]models.SubscriptionCharge, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var out []models.SubscriptionCharge
	for _, c := range l.s.charges {
		if c.SellerID == sellerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (l fakeLedger) RecordFailedCharge(ctx context.Context, f *models.FailedCharge) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if l.s.failedErr != nil {
		return l.s.failedErr
	}
	l.s.failed = append(l.s.failed, *f)
	return nil
}

type fakeOrders struct{ s *fakeStore }

func (r fakeOrders) CreateForSeller(ctx context.Context, order *models.Order) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seller, ok := r.s.sellers[order.SellerID]
	if !ok {
		return 0, repository.ErrSellerNotFound
	}
	var prior int64
	for _, o := range r.s.orders {
		if o.SellerID == order.SellerID {
			prior++
		}
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	copied := *order
	r.s.orders[order.ID] = &copied
	seller.TotalOrders++
	return prior, nil
}

func (r fakeOrders) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	copied := *o
	return &copied, nil
}

func (r fakeOrders) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.Status = status
	return nil
}

func (r fakeOrders) MarkChargeProcessed(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if o, ok := r.s.orders[id]; ok {
		o.SubscriptionChargeProcessed = true
	}
	return nil
}

type fakeSellers struct{ s *fakeStore }

func (r fakeSellers) FindByID(ctx context.Context, id uuid.UUID) (*models.Seller, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seller, ok := r.s.sellers[id]
	if !ok {
		return nil, repository.ErrSellerNotFound
	}
	copied := *seller
	return &copied, nil
}

func (r fakeSellers) ListWithUnchargedOrders(ctx context.Context, minTotalOrders int64, limit int) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []uuid.UUID
	for id, seller := range r.s.sellers {
		if seller.StripeCustomerID == nil || seller.TotalOrders <= minTotalOrders {
			continue
		}
		for _, o := range r.s.orders {
			if o.SellerID == id && !o.SubscriptionChargeProcessed {
				ids = append(ids, id)
				break
			}
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

// fakeProvider behaves like Stripe with idempotency keys: a repeated key
// returns the original payment intent instead of charging again.
type fakeProvider struct {
	mu            sync.Mutex
	paymentMethod string
	pmErr         error
	chargeErrs    []error
	status        string
	intents       map[string]*services.ProviderPayment
	requests      []services.OffSessionCharge
	listed        []models.ProviderCharge
	onCharge      func()
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{paymentMethod: "pm_card_visa", status: "succeeded", intents: map[string]*services.ProviderPayment{}}
}

func (p *fakeProvider) DefaultPaymentMethod(ctx context.Context, customerID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pmErr != nil {
		return "", p.pmErr
	}
	return p.paymentMethod, nil
}

func (p *fakeProvider) CreateOffSessionCharge(ctx context.Context, req services.OffSessionCharge) (*services.ProviderPayment, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	if len(p.chargeErrs) > 0 {
		err := p.chargeErrs[0]
		p.chargeErrs = p.chargeErrs[1:]
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	pi, ok := p.intents[req.IdempotencyKey]
	if !ok {
		pi = &services.ProviderPayment{
			PaymentIntentID: fmt.Sprintf("pi_%d", len(p.intents)+1),
			Status:          p.status,
			Amount:          req.Amount,
			Currency:        req.Currency,
		}
		p.intents[req.IdempotencyKey] = pi
	}
	hook := p.onCharge
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	copied := *pi
	return &copied, nil
}

func (p *fakeProvider) ListSubscriptionCharges(ctx context.Context, customerID string) ([]models.ProviderCharge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ProviderCharge(nil), p.listed...), nil
}

func (p *fakeProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *fakeProvider) distinctCharges() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.intents)
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[uuid.UUID]bool
	err      error
	released int
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: map[uuid.UUID]bool{}} }

func (l *fakeLocker) TryLock(ctx context.Context, orderID uuid.UUID) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held[orderID] {
		return nil, false, nil
	}
	l.held[orderID] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, orderID)
		l.released++
	}, true, nil
}

type fakeJournal struct {
	mu      sync.Mutex
	entries map[string]models.UnrecordedCharge
	putErr  error
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{entries: map[string]models.UnrecordedCharge{}}
}

func (j *fakeJournal) Put(ctx context.Context, e models.UnrecordedCharge) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.putErr != nil {
		return j.putErr
	}
	if _, ok := j.entries[e.OrderID]; !ok {
		j.entries[e.OrderID] = e
	}
	return nil
}

func (j *fakeJournal) List(ctx context.Context, limit int32) ([]models.UnrecordedCharge, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []models.UnrecordedCharge
	for _, e := range j.entries {
		out = append(out, e)
		if int32(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (j *fakeJournal) Delete(ctx context.Context, orderID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, orderID)
	return nil
}

func (j *fakeJournal) size() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

type fakeSNS struct {
	mu       sync.Mutex
	messages [][]byte
}

func (f *fakeSNS) Publish(ctx context.Context, topicArn string, message []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeSNS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type queuedRequest struct {
	req   models.BillingRequest
	delay time.Duration
}

type fakeQueue struct {
	mu      sync.Mutex
	items   []queuedRequest
	failFor int
}

func (q *fakeQueue) Enqueue(ctx context.Context, req models.BillingRequest, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failFor > 0 {
		q.failFor--
		return errors.New("queue unavailable")
	}
	q.items = append(q.items, queuedRequest{req: req, delay: delay})
	return nil
}

func (q *fakeQueue) Start(ctx context.Context, handler awspkg.MessageHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (q *fakeQueue) queued() []queuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queuedRequest(nil), q.items...)
}
