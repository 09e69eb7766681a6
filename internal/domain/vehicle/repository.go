package vehicle

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/evcarbon/carbon-credit-api/internal/domain/idempotency"
)

const collectionName = "vehicles"

// Repository defines vehicle data access. Mutations of trips and key lists
// are guarded by Vehicle.Version and fail with ErrConcurrentUpdate when the
// document moved on since it was read.
type Repository interface {
	Create(ctx context.Context, v *Vehicle) error
	GetByID(ctx context.Context, id string) (*Vehicle, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Vehicle, error)
	AppendTrips(ctx context.Context, v *Vehicle, trips []Trip, importKeys []idempotency.Entry) error
	SetKeys(ctx context.Context, v *Vehicle, importKeys, creditKeys []idempotency.Entry) error
	ListKeyHolders(ctx context.Context) ([]*Vehicle, error)
}

// MongoRepository stores vehicles as documents with embedded trips
type MongoRepository struct {
	coll *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(collectionName)}
}

// EnsureIndexes creates the unique plate index and the owner listing index
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "license_plate", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	})
	return err
}

func (r *MongoRepository) Create(ctx context.Context, v *Vehicle) error {
	if v.Trips == nil {
		v.Trips = []Trip{}
	}
	if v.ImportKeys == nil {
		v.ImportKeys = []idempotency.Entry{}
	}
	if v.CreditRequestKeys == nil {
		v.CreditRequestKeys = []idempotency.Entry{}
	}
	_, err := r.coll.InsertOne(ctx, v)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicatePlate
	}
	return err
}

func (r *MongoRepository) GetByID(ctx context.Context, id string) (*Vehicle, error) {
	var v Vehicle
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrVehicleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *MongoRepository) ListByOwner(ctx context.Context, ownerID string) ([]*Vehicle, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetProjection(bson.M{"trips": 0, "import_keys": 0, "credit_request_keys": 0})

	cur, err := r.coll.Find(ctx, bson.M{"user_id": ownerID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	vehicles := []*Vehicle{}
	if err := cur.All(ctx, &vehicles); err != nil {
		return nil, err
	}
	return vehicles, nil
}

// AppendTrips pushes trips, bumps the running totals and, when importKeys is
// non-nil, replaces the import key list, all in one document update.
func (r *MongoRepository) AppendTrips(ctx context.Context, v *Vehicle, trips []Trip, importKeys []idempotency.Entry) error {
	now := time.Now().UTC()
	update, dist, co2 := appendTripsUpdate(trips, importKeys, now)

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": v.ID, "version": v.Version}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrConcurrentUpdate
	}

	v.Trips = append(v.Trips, trips...)
	v.TotalDistance += dist
	v.TotalCO2Saved += co2
	v.TripsCount += len(trips)
	if importKeys != nil {
		v.ImportKeys = importKeys
	}
	v.Version++
	v.UpdatedAt = now
	return nil
}

func (r *MongoRepository) SetKeys(ctx context.Context, v *Vehicle, importKeys, creditKeys []idempotency.Entry) error {
	update := bson.M{
		"$set": bson.M{
			"import_keys":         importKeys,
			"credit_request_keys": creditKeys,
		},
		"$inc": bson.M{"version": 1},
	}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": v.ID, "version": v.Version}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrConcurrentUpdate
	}
	v.ImportKeys = importKeys
	v.CreditRequestKeys = creditKeys
	v.Version++
	return nil
}

// appendTripsUpdate builds the AppendTrips update document. With no trips it
// only records the key list: $each rejects a null array.
func appendTripsUpdate(trips []Trip, importKeys []idempotency.Entry, now time.Time) (bson.M, float64, float64) {
	var dist, co2 float64
	for _, t := range trips {
		dist += t.Distance
		co2 += t.CO2Saved
	}

	set := bson.M{"updated_at": now}
	if importKeys != nil {
		set["import_keys"] = importKeys
	}
	update := bson.M{
		"$inc": bson.M{"version": 1},
		"$set": set,
	}
	if len(trips) > 0 {
		update["$push"] = bson.M{"trips": bson.M{"$each": trips}}
		update["$inc"] = bson.M{
			"total_distance_km":  dist,
			"total_co2_saved_kg": co2,
			"trips_count":        len(trips),
			"version":            1,
		}
	}
	return update, dist, co2
}

// ListKeyHolders returns every vehicle with only its key lists loaded
func (r *MongoRepository) ListKeyHolders(ctx context.Context) ([]*Vehicle, error) {
	opts := options.Find().SetProjection(bson.M{"import_keys": 1, "credit_request_keys": 1, "version": 1})
	cur, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var vehicles []*Vehicle
	if err := cur.All(ctx, &vehicles); err != nil {
		return nil, err
	}
	return vehicles, nil
}
