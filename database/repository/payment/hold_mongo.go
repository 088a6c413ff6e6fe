package paymentRepo

import (
	"fmt"
	"time"

	"rentora/database"
	"rentora/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoBookingHoldRepo implements BookingHoldRepository using MongoDB. The
// booking subsystem owns the collection; this repo only reads the hold that
// bounds the payment window.
type MongoBookingHoldRepo struct {
	coll *mongo.Collection
}

// NewMongoBookingHoldRepo creates a new instance of BookingHoldRepository using MongoDB.
func NewMongoBookingHoldRepo() BookingHoldRepository {
	coll := database.MongoClient.Database("rentora").Collection("booking_holds")
	return &MongoBookingHoldRepo{coll: coll}
}

// GetHold retrieves the booking hold for a resource.
func (r *MongoBookingHoldRepo) GetHold(resourceID string) (*models.BookingHold, error) {
	ctx, cancel := newContext(5 * time.Second)
	defer cancel()

	var hold models.BookingHold
	err := r.coll.FindOne(ctx, bson.M{"_id": resourceID}).Decode(&hold)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch booking hold %s: %w", resourceID, err)
	}
	return &hold, nil
}
