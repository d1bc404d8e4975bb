package persistence

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/weftlabs/weft/pkg/api"
)

// MongoRunStore is a RunStore backed by MongoDB. Runs and step records live
// in two collections; state snapshots are stored as gob blobs so the codec
// stays the single serialization point across backends.
type MongoRunStore struct {
	runs  *mongo.Collection
	steps *mongo.Collection
}

var _ RunStore = (*MongoRunStore)(nil)

// NewMongoRunStore creates a Mongo-backed run store.
// dbName defaults to "weft" if empty.
func NewMongoRunStore(client *mongo.Client, dbName string) *MongoRunStore {
	if dbName == "" {
		dbName = "weft"
	}
	db := client.Database(dbName)
	return &MongoRunStore{
		runs:  db.Collection("runs"),
		steps: db.Collection("run_steps"),
	}
}

type mongoRunDoc struct {
	ID         string `bson:"_id"`
	Graph      string `bson:"graph_name"`
	Status     string `bson:"status"`
	Supersteps int    `bson:"supersteps"`
	Final      []byte `bson:"final_state,omitempty"`
	Error      string `bson:"error,omitempty"`
	Seq        int64  `bson:"seq"`
}

type mongoStepDoc struct {
	RunID     string   `bson:"run_id"`
	Superstep int      `bson:"superstep"`
	Nodes     []string `bson:"nodes"`
	State     []byte   `bson:"state,omitempty"`
}

func (s *MongoRunStore) SaveRun(ctx context.Context, run *api.Run) error {
	doc, err := toMongoRunDoc(run)
	if err != nil {
		return err
	}
	doc.Seq = int64(0)
	n, err := s.runs.CountDocuments(ctx, bson.D{})
	if err != nil {
		return err
	}
	doc.Seq = n + 1
	_, err = s.runs.InsertOne(ctx, doc)
	return err
}

func (s *MongoRunStore) UpdateRun(ctx context.Context, run *api.Run) error {
	doc, err := toMongoRunDoc(run)
	if err != nil {
		return err
	}
	res, err := s.runs.UpdateOne(ctx,
		bson.M{"_id": run.ID},
		bson.M{"$set": bson.M{
			"graph_name":  doc.Graph,
			"status":      doc.Status,
			"supersteps":  doc.Supersteps,
			"final_state": doc.Final,
			"error":       doc.Error,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *MongoRunStore) AppendStep(ctx context.Context, runID string, superstep int, nodes []string, state api.State) error {
	encoded, err := EncodeState(state)
	if err != nil {
		return err
	}
	_, err = s.steps.InsertOne(ctx, mongoStepDoc{
		RunID:     runID,
		Superstep: superstep,
		Nodes:     nodes,
		State:     encoded,
	})
	return err
}

func (s *MongoRunStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	var doc mongoRunDoc
	err := s.runs.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromMongoRunDoc(&doc)
}

func (s *MongoRunStore) ListRuns(ctx context.Context, filter api.RunFilter) ([]*api.Run, error) {
	query := bson.M{}
	if filter.Graph != "" {
		query["graph_name"] = filter.Graph
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	cur, err := s.runs.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*api.Run
	for cur.Next(ctx) {
		var doc mongoRunDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		run, err := fromMongoRunDoc(&doc)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, cur.Err()
}

func (s *MongoRunStore) ListSteps(ctx context.Context, runID string) ([]StepRecord, error) {
	cur, err := s.steps.Find(ctx,
		bson.M{"run_id": runID},
		options.Find().SetSort(bson.D{{Key: "superstep", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []StepRecord
	for cur.Next(ctx) {
		var doc mongoStepDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		state, err := DecodeState(doc.State)
		if err != nil {
			return nil, err
		}
		out = append(out, StepRecord{
			RunID:     doc.RunID,
			Superstep: doc.Superstep,
			Nodes:     doc.Nodes,
			State:     state,
		})
	}
	return out, cur.Err()
}

func toMongoRunDoc(run *api.Run) (*mongoRunDoc, error) {
	final, err := EncodeState(run.Final)
	if err != nil {
		return nil, err
	}
	return &mongoRunDoc{
		ID:         run.ID,
		Graph:      run.Graph,
		Status:     string(run.Status),
		Supersteps: run.Supersteps,
		Final:      final,
		Error:      errString(run.Err),
	}, nil
}

func fromMongoRunDoc(doc *mongoRunDoc) (*api.Run, error) {
	final, err := DecodeState(doc.Final)
	if err != nil {
		return nil, err
	}
	run := &api.Run{
		ID:         doc.ID,
		Graph:      doc.Graph,
		Status:     api.RunStatus(doc.Status),
		Supersteps: doc.Supersteps,
		Final:      final,
	}
	if doc.Error != "" {
		run.Err = errors.New(doc.Error)
	}
	return run, nil
}
