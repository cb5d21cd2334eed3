package store

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/vectra-player/core/internal/money"
)

// Checkpoint wraps the MongoDB client and database used to durably
// persist ServerState and session summaries across restarts, the same
// upsert-by-key shape the teacher's persist.Store/Snapshotter use for
// order-book/RNG state.
type Checkpoint struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewCheckpoint connects to MongoDB and returns a Checkpoint. The URI
// should include the database name (e.g. mongodb://localhost:27017/vectra);
// "vectra" is used if the URI carries none.
func NewCheckpoint(ctx context.Context, uri string) (*Checkpoint, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	dbName := "vectra"
	if u, err := url.Parse(uri); err == nil {
		if name := strings.TrimPrefix(u.Path, "/"); name != "" {
			dbName = name
		}
	}

	log.Printf("store: connected to MongoDB checkpoint store (db=%s)", dbName)
	return &Checkpoint{client: client, db: client.Database(dbName)}, nil
}

// Close disconnects from MongoDB.
func (c *Checkpoint) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// Migrate creates the unique player_id and session_id indexes that
// SaveServerState and SaveSessionSummary upsert against. Call once at
// startup before any Save*.
func (c *Checkpoint) Migrate(ctx context.Context) error {
	indexes := []struct {
		collection string
		model      mongo.IndexModel
	}{
		{
			collection: "server_state",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "player_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: "sessions",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "session_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
	for _, i := range indexes {
		if _, err := c.db.Collection(i.collection).Indexes().CreateOne(ctx, i.model); err != nil {
			return fmt.Errorf("create index on %s: %w", i.collection, err)
		}
	}
	return nil
}

// ServerStateDoc is the durable checkpoint of the §4.9/§3 ServerState
// entity, keyed by player id.
type ServerStateDoc struct {
	PlayerID       string    `bson:"player_id"`
	Username       string    `bson:"username,omitempty"`
	Balance        string    `bson:"balance"`
	PositionQty    string    `bson:"position_qty"`
	AvgCost        string    `bson:"avg_cost"`
	CumulativePnL  string    `bson:"cumulative_pnl"`
	TotalInvested  string    `bson:"total_invested"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

// SaveServerState upserts the current server-truth checkpoint for playerID.
func (c *Checkpoint) SaveServerState(ctx context.Context, doc ServerStateDoc) error {
	doc.UpdatedAt = time.Now()
	_, err := c.db.Collection("server_state").UpdateOne(ctx,
		bson.M{"player_id": doc.PlayerID},
		bson.M{"$set": doc},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save server state: %w", err)
	}
	return nil
}

// LoadServerState returns the last checkpointed ServerState for playerID,
// or ok=false if none exists.
func (c *Checkpoint) LoadServerState(ctx context.Context, playerID string) (doc ServerStateDoc, ok bool, err error) {
	res := c.db.Collection("server_state").FindOne(ctx, bson.M{"player_id": playerID})
	if err := res.Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return ServerStateDoc{}, false, nil
		}
		return ServerStateDoc{}, false, fmt.Errorf("load server state: %w", err)
	}
	return doc, true, nil
}

// SessionSummaryDoc mirrors the fields of Manifest persisted to Mongo in
// addition to the on-disk session_<id>.json, so a dashboard/offline tool
// can query session history without scanning the data directory.
type SessionSummaryDoc struct {
	SessionID     string           `bson:"session_id"`
	StartedAt     time.Time        `bson:"started_at"`
	EndedAt       time.Time        `bson:"ended_at"`
	CountsPerDoc  map[string]int64 `bson:"counts_per_doc_type"`
	CleanShutdown bool             `bson:"clean_shutdown"`
	GamesRecorded int              `bson:"games_recorded"`
}

// SaveSessionSummary upserts a session's summary document by session id.
func (c *Checkpoint) SaveSessionSummary(ctx context.Context, doc SessionSummaryDoc) error {
	_, err := c.db.Collection("sessions").UpdateOne(ctx,
		bson.M{"session_id": doc.SessionID},
		bson.M{"$set": doc},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save session summary: %w", err)
	}
	return nil
}

// MoneyToString renders a decimal for storage in a ServerStateDoc field.
func MoneyToString(d money.D) string { return d.String() }
