package billing_test

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/studyflow/studyflow/pkg/activity"
	"github.com/studyflow/studyflow/pkg/billing"
)

type memSubStore struct {
	mu   sync.Mutex
	subs []*billing.Subscription
}

func (s *memSubStore) GetByUserID(_ context.Context, userID uuid.UUID) (*billing.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.UserID == userID && userID != uuid.Nil {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, billing.ErrSubscriptionNotFound
}

func (s *memSubStore) GetByProcessorSubID(_ context.Context, processorSubID string) (*billing.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.ProcessorSubscriptionID == processorSubID && processorSubID != "" {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, billing.ErrSubscriptionNotFound
}

func (s *memSubStore) Upsert(_ context.Context, sub *billing.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	for i, existing := range s.subs {
		byUser := sub.UserID != uuid.Nil && existing.UserID == sub.UserID
		byProcessor := sub.ProcessorSubscriptionID != "" && existing.ProcessorSubscriptionID == sub.ProcessorSubscriptionID
		if byUser || byProcessor {
			s.subs[i] = &cp
			return nil
		}
	}
	s.subs = append(s.subs, &cp)
	return nil
}

type memPaymentStore struct {
	mu       sync.Mutex
	payments []billing.Payment
}

func (s *memPaymentStore) Insert(_ context.Context, payment *billing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.payments {
		if existing.ID == payment.ID {
			return nil
		}
	}
	s.payments = append(s.payments, *payment)
	return nil
}

func (s *memPaymentStore) ListByUserID(_ context.Context, userID uuid.UUID, limit int64) ([]billing.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []billing.Payment
	for _, p := range s.payments {
		if p.UserID == userID && int64(len(out)) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

type memUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*billing.User
}

func newMemUserStore(users ...*billing.User) *memUserStore {
	s := &memUserStore{users: make(map[uuid.UUID]*billing.User)}
	for _, u := range users {
		cp := *u
		s.users[u.ID] = &cp
	}
	return s
}

func (s *memUserStore) Get(_ context.Context, userID uuid.UUID) (*billing.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, billing.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (s *memUserStore) SetPlan(_ context.Context, userID uuid.UUID, plan billing.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return billing.ErrUserNotFound
	}
	user.Plan = plan
	return nil
}

func (s *memUserStore) plan(userID uuid.UUID) billing.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID].Plan
}

type memActivityStore struct {
	mu      sync.Mutex
	entries []activity.Entry
}

func (s *memActivityStore) Insert(_ context.Context, entry activity.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) CreateOrGetCustomer(ctx context.Context, params billing.CustomerParams) (string, error) {
	args := m.Called(ctx, params)
	return args.String(0), args.Error(1)
}

func (m *mockProcessor) CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CheckoutSession), args.Error(1)
}

func (m *mockProcessor) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*billing.PortalSession, error) {
	args := m.Called(ctx, customerID, returnURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.PortalSession), args.Error(1)
}

func (m *mockProcessor) CancelSubscription(ctx context.Context, processorSubID string, immediate bool) error {
	args := m.Called(ctx, processorSubID, immediate)
	return args.Error(0)
}

func (m *mockProcessor) ResumeSubscription(ctx context.Context, processorSubID string) error {
	args := m.Called(ctx, processorSubID)
	return args.Error(0)
}

func (m *mockProcessor) FetchSubscription(ctx context.Context, processorSubID string) (*billing.SubscriptionSnapshot, error) {
	args := m.Called(ctx, processorSubID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.SubscriptionSnapshot), args.Error(1)
}

func (m *mockProcessor) ListInvoices(ctx context.Context, customerID string, limit int64) ([]billing.InvoiceSummary, error) {
	args := m.Called(ctx, customerID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]billing.InvoiceSummary), args.Error(1)
}

func (m *mockProcessor) ListPaymentMethods(ctx context.Context, customerID string) ([]billing.PaymentMethodSummary, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]billing.PaymentMethodSummary), args.Error(1)
}
