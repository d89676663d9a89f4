package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nao1215/fastcrawl/internal/model"
)

const (
	recordsCollection = "records"
	runsCollection    = "runs"
)

// MongoStore writes records and runs to MongoDB.
type MongoStore struct {
	client  *mongo.Client
	records *mongo.Collection
	runs    *mongo.Collection
}

// OpenMongo connects to uri and prepares the collections of database.
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	store := &MongoStore{
		client:  client,
		records: db.Collection(recordsCollection),
		runs:    db.Collection(runsCollection),
	}
	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

func (m *MongoStore) createIndexes(ctx context.Context) error {
	_, err := m.records.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "stage", Value: 1}}},
		{Keys: bson.D{{Key: "last_seen", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Close disconnects from the server.
func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// UpsertRecords writes records keyed by fingerprint and returns how many
// were new.
func (m *MongoStore) UpsertRecords(ctx context.Context, records []*model.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	writes := make([]mongo.WriteModel, 0, len(records))
	for _, r := range records {
		stored, err := NewStoredRecord(r)
		if err != nil {
			return 0, err
		}
		update := bson.M{
			"$setOnInsert": bson.M{
				"stage":      r.Stage,
				"record":     recordDocument(r),
				"first_seen": now,
			},
			"$set": bson.M{"url": r.URL, "last_seen": now},
			"$inc": bson.M{"times_seen": 1},
		}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": stored.Fingerprint}).
			SetUpdate(update).
			SetUpsert(true))
	}

	res, err := m.records.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("failed to write records: %w", err)
	}
	return int(res.UpsertedCount), nil
}

// SaveRun stores the statistics of one stage run.
func (m *MongoStore) SaveRun(ctx context.Context, st model.StageStats) error {
	_, err := m.runs.InsertOne(ctx, bson.D{
		{Key: "chain", Value: st.Chain},
		{Key: "stage", Value: st.Stage},
		{Key: "started_at", Value: st.StartedAt},
		{Key: "finished_at", Value: st.FinishedAt},
		{Key: "batches", Value: st.Batches},
		{Key: "requests", Value: st.Requests},
		{Key: "records", Value: st.Records},
		{Key: "fetch_failures", Value: st.FetchFailures},
		{Key: "extract_failures", Value: st.ExtractFailures},
		{Key: "discovered", Value: st.Discovered},
		{Key: "handed_off", Value: st.HandedOff},
		{Key: "stopped", Value: st.Stopped},
		{Key: "error", Value: st.Error},
	})
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// CountRecords returns the number of records of stage, or of every stage
// when stage is empty.
func (m *MongoStore) CountRecords(ctx context.Context, stage string) (int64, error) {
	filter := bson.M{}
	if stage != "" {
		filter["stage"] = stage
	}
	return m.records.CountDocuments(ctx, filter)
}

// recordDocument converts r to an ordered BSON document.
func recordDocument(r *model.Record) bson.D {
	fields := r.Fields()
	doc := make(bson.D, 0, len(fields))
	for _, f := range fields {
		doc = append(doc, bson.E{Key: f.Name, Value: bsonValue(f.Value)})
	}
	return doc
}

func bsonValue(v any) any {
	switch t := v.(type) {
	case *model.Record:
		if t == nil {
			return nil
		}
		return recordDocument(t)
	case []any:
		out := bson.A{}
		for _, e := range t {
			out = append(out, bsonValue(e))
		}
		return out
	default:
		return v
	}
}
