package paymentRepo

import (
	"context"
	"fmt"
	"time"

	"rentora/database"
	"rentora/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoPaymentSessionRepo implements PaymentSessionRepository using MongoDB.
type MongoPaymentSessionRepo struct {
	coll *mongo.Collection
}

// NewMongoPaymentSessionRepo creates a new instance of PaymentSessionRepository using MongoDB.
func NewMongoPaymentSessionRepo() PaymentSessionRepository {
	coll := database.MongoClient.Database("rentora").Collection("payment_sessions")
	repo := &MongoPaymentSessionRepo{coll: coll}

	if err := repo.ensureIndexes(); err != nil {
		fmt.Printf("failed to create indexes: %v\n", err)
	}
	return repo
}

// newContext creates a context with the given timeout.
func newContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// GetByID retrieves a session by its payment ID.
func (r *MongoPaymentSessionRepo) GetByID(paymentID string) (*models.PaymentSession, error) {
	ctx, cancel := newContext(5 * time.Second)
	defer cancel()

	var session models.PaymentSession
	err := r.coll.FindOne(ctx, bson.M{"_id": paymentID}).Decode(&session)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payment session %s: %w", paymentID, err)
	}
	return &session, nil
}

// FindReusable retrieves the pending/processing unexpired session for a resource.
func (r *MongoPaymentSessionRepo) FindReusable(resourceID string, now time.Time) (*models.PaymentSession, error) {
	ctx, cancel := newContext(5 * time.Second)
	defer cancel()

	filter := bson.M{
		"resourceId": resourceID,
		"status":     bson.M{"$in": []string{models.PaymentStatusPending, models.PaymentStatusProcessing}},
		"expiresAt":  bson.M{"$gt": now},
	}
	var session models.PaymentSession
	err := r.coll.FindOne(ctx, filter).Decode(&session)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find reusable session for %s: %w", resourceID, err)
	}
	return &session, nil
}

// Create inserts a new session record.
func (r *MongoPaymentSessionRepo) Create(session *models.PaymentSession) error {
	ctx, cancel := newContext(5 * time.Second)
	defer cancel()

	if _, err := r.coll.InsertOne(ctx, session); err != nil {
		return fmt.Errorf("failed to create payment session: %w", err)
	}
	return nil
}

// UpdateStatus moves a session to the given status.
func (r *MongoPaymentSessionRepo) UpdateStatus(paymentID, status string) error {
	ctx, cancel := newContext(5 * time.Second)
	defer cancel()

	update := bson.M{"$set": bson.M{"status": status, "updatedAt": time.Now()}}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": paymentID}, update)
	if err != nil {
		return fmt.Errorf("failed to update payment session %s: %w", paymentID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("payment session %s not found", paymentID)
	}
	return nil
}

// SetOrder records the gateway order id for a session. The status stays
// pending; processing is reserved for in-flight verification.
func (r *MongoPaymentSessionRepo) SetOrder(paymentID, orderID string) error {
	ctx, cancel := newContext(5 * time.Second)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"orderId":   orderID,
		"updatedAt": time.Now(),
	}}
	if _, err := r.coll.UpdateOne(ctx, bson.M{"_id": paymentID}, update); err != nil {
		return fmt.Errorf("failed to set order on session %s: %w", paymentID, err)
	}
	return nil
}

// SetReceipt records the verified receipt reference and completes the session.
func (r *MongoPaymentSessionRepo) SetReceipt(paymentID, receiptRef string) error {
	ctx, cancel := newContext(5 * time.Second)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"receiptRef": receiptRef,
		"status":     models.PaymentStatusCompleted,
		"updatedAt":  time.Now(),
	}}
	if _, err := r.coll.UpdateOne(ctx, bson.M{"_id": paymentID}, update); err != nil {
		return fmt.Errorf("failed to set receipt on session %s: %w", paymentID, err)
	}
	return nil
}

// CancelStale marks pending sessions whose expiry passed before cutoff as cancelled.
func (r *MongoPaymentSessionRepo) CancelStale(cutoff time.Time) (int64, error) {
	ctx, cancel := newContext(10 * time.Second)
	defer cancel()

	filter := bson.M{
		"status":    bson.M{"$in": []string{models.PaymentStatusPending, models.PaymentStatusProcessing}},
		"expiresAt": bson.M{"$lt": cutoff},
	}
	update := bson.M{"$set": bson.M{"status": models.PaymentStatusCancelled, "updatedAt": time.Now()}}
	res, err := r.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale sessions: %w", err)
	}
	return res.ModifiedCount, nil
}
