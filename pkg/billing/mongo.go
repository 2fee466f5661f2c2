package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	colSubscriptions = "subscriptions"
	colPayments      = "payments"
	colUsers         = "users"
)

var (
	_ SubscriptionStore = (*MongoSubscriptionStore)(nil)
	_ PaymentStore      = (*MongoPaymentStore)(nil)
	_ UserStore         = (*MongoUserStore)(nil)
)

// EnsureIndexes creates the billing indexes. Safe to run on every startup:
// index creation is idempotent on the server side.
//
// Uniqueness on user_id and processor_subscription_id is partial because a
// subscription record can exist with either key empty while the other side
// of the linkage has not arrived yet.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	subIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"user_id": bson.M{"$gt": ""}}),
		},
		{
			Keys: bson.D{{Key: "processor_subscription_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"processor_subscription_id": bson.M{"$gt": ""}}),
		},
	}
	if _, err := db.Collection(colSubscriptions).Indexes().CreateMany(ctx, subIndexes); err != nil {
		return fmt.Errorf("billing: create subscription indexes: %w", err)
	}

	paymentIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	if _, err := db.Collection(colPayments).Indexes().CreateMany(ctx, paymentIndexes); err != nil {
		return fmt.Errorf("billing: create payment indexes: %w", err)
	}
	return nil
}

// subscriptionDoc is the persisted shape. IDs are stored as strings so the
// partial unique indexes can filter on the empty value.
type subscriptionDoc struct {
	UserID                  string     `bson:"user_id"`
	Plan                    string     `bson:"plan"`
	Status                  string     `bson:"status"`
	ProcessorCustomerID     string     `bson:"processor_customer_id"`
	ProcessorSubscriptionID string     `bson:"processor_subscription_id"`
	ProcessorPriceID        string     `bson:"processor_price_id"`
	CurrentPeriodStart      *time.Time `bson:"current_period_start,omitempty"`
	CurrentPeriodEnd        *time.Time `bson:"current_period_end,omitempty"`
	CancelAtPeriodEnd       bool       `bson:"cancel_at_period_end"`
	TrialStart              *time.Time `bson:"trial_start,omitempty"`
	TrialEnd                *time.Time `bson:"trial_end,omitempty"`
	CanceledAt              *time.Time `bson:"canceled_at,omitempty"`
	CreatedAt               time.Time  `bson:"created_at"`
	UpdatedAt               time.Time  `bson:"updated_at"`
}

func toSubscriptionDoc(sub *Subscription) *subscriptionDoc {
	doc := &subscriptionDoc{
		Plan:                    string(sub.Plan),
		Status:                  string(sub.Status),
		ProcessorCustomerID:     sub.ProcessorCustomerID,
		ProcessorSubscriptionID: sub.ProcessorSubscriptionID,
		ProcessorPriceID:        sub.ProcessorPriceID,
		CurrentPeriodStart:      sub.CurrentPeriodStart,
		CurrentPeriodEnd:        sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:       sub.CancelAtPeriodEnd,
		TrialStart:              sub.TrialStart,
		TrialEnd:                sub.TrialEnd,
		CanceledAt:              sub.CanceledAt,
		CreatedAt:               sub.CreatedAt,
		UpdatedAt:               sub.UpdatedAt,
	}
	if sub.UserID != uuid.Nil {
		doc.UserID = sub.UserID.String()
	}
	return doc
}

func fromSubscriptionDoc(doc *subscriptionDoc) (*Subscription, error) {
	sub := &Subscription{
		Plan:                    Plan(doc.Plan),
		Status:                  Status(doc.Status),
		ProcessorCustomerID:     doc.ProcessorCustomerID,
		ProcessorSubscriptionID: doc.ProcessorSubscriptionID,
		ProcessorPriceID:        doc.ProcessorPriceID,
		CurrentPeriodStart:      doc.CurrentPeriodStart,
		CurrentPeriodEnd:        doc.CurrentPeriodEnd,
		CancelAtPeriodEnd:       doc.CancelAtPeriodEnd,
		TrialStart:              doc.TrialStart,
		TrialEnd:                doc.TrialEnd,
		CanceledAt:              doc.CanceledAt,
		CreatedAt:               doc.CreatedAt,
		UpdatedAt:               doc.UpdatedAt,
	}
	if doc.UserID != "" {
		id, err := uuid.Parse(doc.UserID)
		if err != nil {
			return nil, fmt.Errorf("billing: corrupt user_id in subscription document: %w", err)
		}
		sub.UserID = id
	}
	return sub, nil
}

// MongoSubscriptionStore persists subscription mirrors in MongoDB.
type MongoSubscriptionStore struct {
	coll *mongo.Collection
}

// NewMongoSubscriptionStore creates the store.
func NewMongoSubscriptionStore(db *mongo.Database) *MongoSubscriptionStore {
	if db == nil {
		panic("billing: database is required")
	}
	return &MongoSubscriptionStore{coll: db.Collection(colSubscriptions)}
}

func (s *MongoSubscriptionStore) GetByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return s.findOne(ctx, bson.M{"user_id": userID.String()})
}

func (s *MongoSubscriptionStore) GetByProcessorSubID(ctx context.Context, processorSubID string) (*Subscription, error) {
	if processorSubID == "" {
		return nil, ErrSubscriptionNotFound
	}
	return s.findOne(ctx, bson.M{"processor_subscription_id": processorSubID})
}

func (s *MongoSubscriptionStore) findOne(ctx context.Context, filter bson.M) (*Subscription, error) {
	var doc subscriptionDoc
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("billing: find subscription: %w", err)
	}
	return fromSubscriptionDoc(&doc)
}

func (s *MongoSubscriptionStore) Upsert(ctx context.Context, sub *Subscription) error {
	// Match on either key so a record created from an early event (known
	// only by processor subscription id) is replaced, not duplicated, when
	// the user linkage is back-filled.
	var filter bson.M
	switch {
	case sub.UserID != uuid.Nil && sub.ProcessorSubscriptionID != "":
		filter = bson.M{"$or": []bson.M{
			{"user_id": sub.UserID.String()},
			{"processor_subscription_id": sub.ProcessorSubscriptionID},
		}}
	case sub.UserID != uuid.Nil:
		filter = bson.M{"user_id": sub.UserID.String()}
	default:
		filter = bson.M{"processor_subscription_id": sub.ProcessorSubscriptionID}
	}

	_, err := s.coll.ReplaceOne(ctx, filter, toSubscriptionDoc(sub), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("billing: upsert subscription: %w", err)
	}
	return nil
}

type paymentDoc struct {
	ID                 string    `bson:"_id"`
	UserID             string    `bson:"user_id"`
	SubscriptionID     string    `bson:"subscription_id"`
	ProcessorInvoiceID string    `bson:"processor_invoice_id"`
	Amount             float64   `bson:"amount"`
	Currency           string    `bson:"currency"`
	Status             string    `bson:"status"`
	Description        string    `bson:"description,omitempty"`
	CreatedAt          time.Time `bson:"created_at"`
}

func fromPaymentDoc(doc *paymentDoc) (Payment, error) {
	payment := Payment{
		ID:                 doc.ID,
		SubscriptionID:     doc.SubscriptionID,
		ProcessorInvoiceID: doc.ProcessorInvoiceID,
		Amount:             doc.Amount,
		Currency:           doc.Currency,
		Status:             PaymentStatus(doc.Status),
		Description:        doc.Description,
		CreatedAt:          doc.CreatedAt,
	}
	if doc.UserID != "" {
		id, err := uuid.Parse(doc.UserID)
		if err != nil {
			return Payment{}, fmt.Errorf("billing: corrupt user_id in payment document: %w", err)
		}
		payment.UserID = id
	}
	return payment, nil
}

// MongoPaymentStore persists the payment ledger in MongoDB. The entry id is
// the document _id, so the collection's primary key enforces the ledger's
// insert-once semantics.
type MongoPaymentStore struct {
	coll *mongo.Collection
}

// NewMongoPaymentStore creates the store.
func NewMongoPaymentStore(db *mongo.Database) *MongoPaymentStore {
	if db == nil {
		panic("billing: database is required")
	}
	return &MongoPaymentStore{coll: db.Collection(colPayments)}
}

func (s *MongoPaymentStore) Insert(ctx context.Context, payment *Payment) error {
	doc := &paymentDoc{
		ID:                 payment.ID,
		SubscriptionID:     payment.SubscriptionID,
		ProcessorInvoiceID: payment.ProcessorInvoiceID,
		Amount:             payment.Amount,
		Currency:           payment.Currency,
		Status:             string(payment.Status),
		Description:        payment.Description,
		CreatedAt:          payment.CreatedAt,
	}
	if payment.UserID != uuid.Nil {
		doc.UserID = payment.UserID.String()
	}

	_, err := s.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return nil // replayed delivery, entry already booked
	}
	if err != nil {
		return fmt.Errorf("billing: insert payment: %w", err)
	}
	return nil
}

func (s *MongoPaymentStore) ListByUserID(ctx context.Context, userID uuid.UUID, limit int64) ([]Payment, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := s.coll.Find(ctx, bson.M{"user_id": userID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("billing: list payments: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []paymentDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("billing: decode payments: %w", err)
	}

	payments := make([]Payment, 0, len(docs))
	for i := range docs {
		payment, err := fromPaymentDoc(&docs[i])
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, nil
}

type userDoc struct {
	ID        string    `bson:"_id"`
	Email     string    `bson:"email"`
	Name      string    `bson:"name"`
	Plan      string    `bson:"plan"`
	IsAdmin   bool      `bson:"is_admin"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoUserStore reads users and writes their plan.
type MongoUserStore struct {
	coll *mongo.Collection
}

// NewMongoUserStore creates the store.
func NewMongoUserStore(db *mongo.Database) *MongoUserStore {
	if db == nil {
		panic("billing: database is required")
	}
	return &MongoUserStore{coll: db.Collection(colUsers)}
}

func (s *MongoUserStore) Get(ctx context.Context, userID uuid.UUID) (*User, error) {
	var doc userDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": userID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("billing: find user: %w", err)
	}

	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("billing: corrupt user document id: %w", err)
	}
	return &User{
		ID:        id,
		Email:     doc.Email,
		Name:      doc.Name,
		Plan:      Plan(doc.Plan),
		IsAdmin:   doc.IsAdmin,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (s *MongoUserStore) SetPlan(ctx context.Context, userID uuid.UUID, plan Plan) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": userID.String()},
		bson.M{"$set": bson.M{"plan": string(plan), "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("billing: set user plan: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CollectionCounter returns a CounterFunc that counts a user's documents in
// the named collection. Collections are expected to index user_id.
func CollectionCounter(db *mongo.Database, collection string) CounterFunc {
	coll := db.Collection(collection)
	return func(ctx context.Context, userID uuid.UUID) (int64, error) {
		count, err := coll.CountDocuments(ctx, bson.M{"user_id": userID.String()})
		if err != nil {
			return 0, fmt.Errorf("billing: count %s: %w", collection, err)
		}
		return count, nil
	}
}
