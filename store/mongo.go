package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cppla/countdownstack/models"
)

const (
	dashboardsCollection = "dashboards"
	eventsCollection     = "events"
	viewLogsCollection   = "viewLogs"
)

// MongoStore is the document backend. Dashboards, events and view logs live in
// separate collections joined by dashboardId.
type MongoStore struct {
	db         *mongo.Database
	dashboards *mongo.Collection
	events     *mongo.Collection
	viewLogs   *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		db:         db,
		dashboards: db.Collection(dashboardsCollection),
		events:     db.Collection(eventsCollection),
		viewLogs:   db.Collection(viewLogsCollection),
	}
}

// EnsureIndexes creates the indexes the queries rely on. It is idempotent.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	specs := map[*mongo.Collection][]mongo.IndexModel{
		s.dashboards: {
			{Keys: bson.D{{Key: models.FieldSlug, Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: models.FieldLastActivityAt, Value: 1}}},
			{Keys: bson.D{{Key: models.FieldTrendingScore, Value: -1}}},
			{Keys: bson.D{{Key: models.FieldCreatedAt, Value: -1}}},
		},
		s.events: {
			{Keys: bson.D{{Key: "dashboardId", Value: 1}, {Key: models.FieldEventDate, Value: 1}}},
		},
		s.viewLogs: {
			{Keys: bson.D{{Key: "dashboardId", Value: 1}, {Key: "viewedAt", Value: 1}}},
			{Keys: bson.D{{Key: "viewedAt", Value: 1}}},
		},
	}
	for coll, idx := range specs {
		if _, err := coll.Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

func (s *MongoStore) CreateDashboard(ctx context.Context, d *models.Dashboard) error {
	d.EnsureDefaults(time.Now())
	if _, err := s.dashboards.InsertOne(ctx, d); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrSlugTaken
		}
		return fmt.Errorf("insert dashboard: %w", err)
	}
	return nil
}

func (s *MongoStore) findDashboard(ctx context.Context, filter bson.M) (*models.Dashboard, error) {
	var d models.Dashboard
	if err := s.dashboards.FindOne(ctx, filter).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find dashboard: %w", err)
	}
	return &d, nil
}

func (s *MongoStore) GetDashboard(ctx context.Context, id string) (*models.Dashboard, error) {
	return s.findDashboard(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetDashboardBySlug(ctx context.Context, slug string) (*models.Dashboard, error) {
	return s.findDashboard(ctx, bson.M{models.FieldSlug: slug})
}

func (s *MongoStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	n, err := s.dashboards.CountDocuments(ctx, bson.M{models.FieldSlug: slug}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count slug: %w", err)
	}
	return n > 0, nil
}

func (s *MongoStore) ListDashboards(ctx context.Context, opts ListOptions) ([]models.Dashboard, error) {
	filter := bson.M{}
	if opts.PublicOnly {
		filter[models.FieldIsPrivate] = false
	}
	if q := strings.TrimSpace(opts.Search); q != "" {
		re := bson.M{"$regex": regexp.QuoteMeta(q), "$options": "i"}
		filter["$or"] = bson.A{
			bson.M{models.FieldTitle: re},
			bson.M{models.FieldDescription: re},
			bson.M{models.FieldSlug: re},
		}
	}

	sort := bson.D{}
	switch opts.Sort {
	case SortTrending:
		sort = append(sort, bson.E{Key: models.FieldTrendingScore, Value: -1})
	case SortViews:
		sort = append(sort, bson.E{Key: models.FieldViewCount, Value: -1})
	}
	sort = append(sort, bson.E{Key: models.FieldCreatedAt, Value: -1}, bson.E{Key: "_id", Value: 1})

	findOpts := options.Find().SetSort(sort)
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	return s.decodeDashboards(ctx, filter, findOpts)
}

func (s *MongoStore) decodeDashboards(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Dashboard, error) {
	cur, err := s.dashboards.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find dashboards: %w", err)
	}
	defer cur.Close(ctx)
	out := []models.Dashboard{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode dashboards: %w", err)
	}
	return out, nil
}

func (s *MongoStore) ListInactiveDashboards(ctx context.Context, cutoff time.Time) ([]models.Dashboard, error) {
	filter := bson.M{models.FieldLastActivityAt: bson.M{"$lt": cutoff}}
	return s.decodeDashboards(ctx, filter, options.Find().SetSort(bson.D{{Key: models.FieldLastActivityAt, Value: 1}}))
}

func (s *MongoStore) UpdateDashboard(ctx context.Context, id string, fields Fields) error {
	if len(fields) == 0 {
		_, err := s.GetDashboard(ctx, id)
		return err
	}
	res, err := s.dashboards.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M(fields)})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrSlugTaken
		}
		return fmt.Errorf("update dashboard: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) IncrementDashboard(ctx context.Context, id string, field string, delta int64) error {
	res, err := s.dashboards.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{field: delta}})
	if err != nil {
		return fmt.Errorf("increment dashboard %s: %w", field, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteDashboard(ctx context.Context, id string) error {
	res, err := s.dashboards.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete dashboard: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) CreateEvent(ctx context.Context, e *models.Event) error {
	e.EnsureDefaults(time.Now())
	if _, err := s.events.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *MongoStore) GetEvent(ctx context.Context, dashboardID, id string) (*models.Event, error) {
	var e models.Event
	err := s.events.FindOne(ctx, bson.M{"_id": id, "dashboardId": dashboardID}).Decode(&e)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find event: %w", err)
	}
	return &e, nil
}

func (s *MongoStore) ListEvents(ctx context.Context, dashboardID string) ([]models.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: models.FieldEventDate, Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.events.Find(ctx, bson.M{"dashboardId": dashboardID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	defer cur.Close(ctx)
	out := []models.Event{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return out, nil
}

func (s *MongoStore) UpdateEvent(ctx context.Context, dashboardID, id string, fields Fields) error {
	if len(fields) == 0 {
		_, err := s.GetEvent(ctx, dashboardID, id)
		return err
	}
	res, err := s.events.UpdateOne(ctx, bson.M{"_id": id, "dashboardId": dashboardID}, bson.M{"$set": bson.M(fields)})
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteEvent(ctx context.Context, dashboardID, id string) error {
	res, err := s.events.DeleteOne(ctx, bson.M{"_id": id, "dashboardId": dashboardID})
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteEventsByDashboard(ctx context.Context, dashboardID string) (int64, error) {
	res, err := s.events.DeleteMany(ctx, bson.M{"dashboardId": dashboardID})
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) InsertViewLog(ctx context.Context, v *models.ViewLog) error {
	v.EnsureDefaults(time.Now())
	if _, err := s.viewLogs.InsertOne(ctx, v); err != nil {
		return fmt.Errorf("insert view log: %w", err)
	}
	return nil
}

// CountViewWindows runs a single aggregation so every window is counted from
// the same snapshot; a wider window can never report fewer views than a narrower one.
func (s *MongoStore) CountViewWindows(ctx context.Context, dashboardID string, now time.Time, cutoffs []time.Time) ([]int64, error) {
	counts := make([]int64, len(cutoffs))
	if len(cutoffs) == 0 {
		return counts, nil
	}
	group := bson.M{"_id": nil}
	for i, c := range cutoffs {
		group[fmt.Sprintf("w%d", i)] = bson.M{
			"$sum": bson.M{"$cond": bson.A{bson.M{"$gte": bson.A{"$viewedAt", c}}, 1, 0}},
		}
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"dashboardId": dashboardID,
			"viewedAt":    bson.M{"$gte": minTime(cutoffs), "$lte": now},
		}}},
		{{Key: "$group", Value: group}},
	}
	cur, err := s.viewLogs.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate view windows: %w", err)
	}
	defer cur.Close(ctx)
	var rows []bson.M
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode view windows: %w", err)
	}
	if len(rows) == 0 {
		return counts, nil
	}
	for i := range cutoffs {
		counts[i] = bsonInt(rows[0][fmt.Sprintf("w%d", i)])
	}
	return counts, nil
}

func bsonInt(v any) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func (s *MongoStore) ListViewLogIDsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "viewedAt", Value: 1}})
	cur, err := s.viewLogs.Find(ctx, bson.M{"viewedAt": bson.M{"$lt": cutoff}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find expired view logs: %w", err)
	}
	defer cur.Close(ctx)
	var ids []string
	for cur.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode view log id: %w", err)
		}
		ids = append(ids, row.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate view logs: %w", err)
	}
	return ids, nil
}

func (s *MongoStore) DeleteViewLogs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.viewLogs.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("delete view logs: %w", err)
	}
	return res.DeletedCount, nil
}
