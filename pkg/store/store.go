// Package store persists finished recordings and meeting minutes in MongoDB.
package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	recordingsCollection = "recordings"
	minutesCollection    = "minutes"
)

var ErrEmptyURI = errors.New("empty mongo uri")

// Recording is one participant's deliverable for a meeting.
type Recording struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	MeetingID   string             `bson:"meeting_id" json:"meeting_id"`
	Participant string             `bson:"participant" json:"participant"`
	SessionID   string             `bson:"session_id" json:"session_id"`
	Path        string             `bson:"path" json:"path"`
	Uploaded    bool               `bson:"uploaded" json:"uploaded"`
	Start       time.Time          `bson:"start" json:"start"`
	End         time.Time          `bson:"end" json:"end"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
}

// Minute is one transcribed segment. SpeakerLabel is the diarization label,
// which is not a participant identity.
type Minute struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	MeetingID    string             `bson:"meeting_id" json:"meeting_id"`
	SpeakerLabel string             `bson:"speaker_label" json:"speaker_label"`
	Content      string             `bson:"content" json:"content"`
	Start        float64            `bson:"start" json:"start"`
	End          float64            `bson:"end" json:"end"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
}

type Store interface {
	InsertRecording(ctx context.Context, rec Recording) error
	InsertMinutes(ctx context.Context, minutes []Minute) error
	Recordings(ctx context.Context, meetingID string) ([]Recording, error)
	Minutes(ctx context.Context, meetingID string) ([]Minute, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type mongoStore struct {
	client     *mongo.Client
	recordings *mongo.Collection
	minutes    *mongo.Collection
}

func Connect(ctx context.Context, uri string, database string) (Store, error) {
	if uri == "" {
		return nil, ErrEmptyURI
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	db := client.Database(database)
	return &mongoStore{
		client:     client,
		recordings: db.Collection(recordingsCollection),
		minutes:    db.Collection(minutesCollection),
	}, nil
}

func (s *mongoStore) InsertRecording(ctx context.Context, rec Recording) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.recordings.InsertOne(ctx, rec)
	return err
}

func (s *mongoStore) InsertMinutes(ctx context.Context, minutes []Minute) error {
	if len(minutes) == 0 {
		return nil
	}
	now := time.Now().UTC()
	docs := make([]interface{}, 0, len(minutes))
	for _, m := range minutes {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		docs = append(docs, m)
	}
	_, err := s.minutes.InsertMany(ctx, docs)
	return err
}

func (s *mongoStore) Recordings(ctx context.Context, meetingID string) ([]Recording, error) {
	cur, err := s.recordings.Find(ctx, bson.M{"meeting_id": meetingID},
		options.Find().SetSort(bson.D{{Key: "start", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var out []Recording
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *mongoStore) Minutes(ctx context.Context, meetingID string) ([]Minute, error) {
	cur, err := s.minutes.Find(ctx, bson.M{"meeting_id": meetingID},
		options.Find().SetSort(bson.D{{Key: "start", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var out []Minute
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *mongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *mongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
