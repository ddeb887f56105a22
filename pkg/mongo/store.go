package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/trailpost/billing/pkg/catalog"
	"github.com/trailpost/billing/pkg/subscription"
)

// DefaultCollection holds one document per user.
const DefaultCollection = "subscriptions"

// SubscriptionStore is a subscription.Store and subscription.Lister backed
// by a MongoDB collection. Updates are conditional on the stored version;
// usage increments are a single guarded findAndModify.
type SubscriptionStore struct {
	coll *mongo.Collection
}

// NewSubscriptionStore uses the collection name in db.
func NewSubscriptionStore(db *mongo.Database, collection string) *SubscriptionStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &SubscriptionStore{coll: db.Collection(collection)}
}

// EnsureIndexes creates the unique user index and the sweep index.
func (s *SubscriptionStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "due_at", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "plan", Value: 1}}},
	})
	if err != nil {
		return errors.Join(ErrFailedToCreateIndexes, err)
	}
	return nil
}

// Get implements subscription.Store.
func (s *SubscriptionStore) Get(ctx context.Context, userID string) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	err := s.coll.FindOne(ctx, bson.D{{Key: "user_id", Value: userID}}).Decode(&sub)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, subscription.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, errors.Join(ErrQueryFailed, err)
	}
	return normalize(&sub), nil
}

// Insert implements subscription.Store.
func (s *SubscriptionStore) Insert(ctx context.Context, sub *subscription.Subscription) error {
	doc := sub.Clone()
	doc.Version = 1
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return subscription.ErrAlreadyExists
		}
		return errors.Join(ErrQueryFailed, err)
	}
	sub.Version = 1
	return nil
}

// Update implements subscription.Store.
func (s *SubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	doc := sub.Clone()
	doc.Version = sub.Version + 1

	res, err := s.coll.ReplaceOne(ctx, bson.D{
		{Key: "user_id", Value: sub.UserID},
		{Key: "version", Value: sub.Version},
	}, doc)
	if err != nil {
		return errors.Join(ErrQueryFailed, err)
	}
	if res.MatchedCount == 0 {
		return s.missOrConflict(ctx, sub.UserID, subscription.ErrVersionConflict)
	}
	sub.Version = doc.Version
	return nil
}

// IncrementUsage implements subscription.Store.
func (s *SubscriptionStore) IncrementUsage(ctx context.Context, inc subscription.UsageIncrement) (*subscription.Subscription, error) {
	filter, err := usageFilter(inc)
	if err != nil {
		return nil, err
	}
	update := bson.D{
		{Key: "$inc", Value: bson.D{
			{Key: "limits.usage." + inc.Key, Value: inc.Delta},
			{Key: "version", Value: 1},
		}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: inc.Now.UTC()}}},
	}

	var sub subscription.Subscription
	err = s.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&sub)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, s.missOrConflict(ctx, inc.UserID, subscription.ErrUsageGuard)
	}
	if err != nil {
		return nil, errors.Join(ErrQueryFailed, err)
	}
	return normalize(&sub), nil
}

// List implements subscription.Lister. Results are ordered by user ID.
func (s *SubscriptionStore) List(ctx context.Context, f subscription.Filter) ([]*subscription.Subscription, error) {
	cur, err := s.coll.Find(ctx, listFilter(f), options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}}))
	if err != nil {
		return nil, errors.Join(ErrQueryFailed, err)
	}
	var subs []*subscription.Subscription
	if err := cur.All(ctx, &subs); err != nil {
		return nil, errors.Join(ErrQueryFailed, err)
	}
	for _, sub := range subs {
		normalize(sub)
	}
	return subs, nil
}

// missOrConflict tells a missing document from a failed condition.
func (s *SubscriptionStore) missOrConflict(ctx context.Context, userID string, conflict error) error {
	n, err := s.coll.CountDocuments(ctx, bson.D{{Key: "user_id", Value: userID}})
	if err != nil {
		return errors.Join(ErrQueryFailed, err)
	}
	if n == 0 {
		return subscription.ErrSubscriptionNotFound
	}
	return conflict
}

func usageFilter(inc subscription.UsageIncrement) (bson.D, error) {
	if inc.Key == "" || strings.ContainsAny(inc.Key, ".$") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFieldKey, inc.Key)
	}
	filter := bson.D{
		{Key: "user_id", Value: inc.UserID},
		{Key: "plan", Value: inc.Plan},
		{Key: "status", Value: bson.D{{Key: "$in", Value: bson.A{subscription.StatusActive, subscription.StatusTrial}}}},
		{Key: strings.Join(inc.LimitPath(), "."), Value: inc.LimitValue()},
	}
	if inc.Limit == catalog.Unlimited {
		return filter, nil
	}
	if inc.Delta > inc.Limit {
		// Matches nothing, same as an exhausted counter.
		return append(filter, bson.E{Key: "_id", Value: bson.D{{Key: "$exists", Value: false}}}), nil
	}
	field := "limits.usage." + inc.Key
	return append(filter, bson.E{Key: "$or", Value: bson.A{
		bson.D{{Key: field, Value: bson.D{{Key: "$lte", Value: inc.Limit - inc.Delta}}}},
		bson.D{{Key: field, Value: bson.D{{Key: "$exists", Value: false}}}},
	}}), nil
}

func listFilter(f subscription.Filter) bson.D {
	filter := bson.D{}
	if len(f.Statuses) > 0 {
		filter = append(filter, bson.E{Key: "status", Value: bson.D{{Key: "$in", Value: f.Statuses}}})
	}
	if len(f.Plans) > 0 {
		filter = append(filter, bson.E{Key: "plan", Value: bson.D{{Key: "$in", Value: f.Plans}}})
	}
	if !f.DueBefore.IsZero() {
		filter = append(filter, bson.E{Key: "due_at", Value: bson.D{{Key: "$lte", Value: f.DueBefore.UTC()}}})
	}
	return filter
}

// normalize restores empty maps dropped by omitempty and UTC times.
func normalize(s *subscription.Subscription) *subscription.Subscription {
	if s.Limits.Usage == nil {
		s.Limits.Usage = make(map[string]int64)
	}
	if s.Limits.CustomLimits == nil {
		s.Limits.CustomLimits = make(map[string]int64)
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	s.Window.StartDate = s.Window.StartDate.UTC()
	s.Limits.ResetDate = s.Limits.ResetDate.UTC()
	return s
}
