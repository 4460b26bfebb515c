// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package history

import (
	"context"
	"sort"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoDB struct {
	client *mongo.Client
	dbName string
	prefix string
}

func (db *MongoDB) collection() *mongo.Collection {
	return db.client.Database(db.dbName).Collection(db.prefix + "evaluations")
}

func (db *MongoDB) Init(ctx context.Context) error {
	d := db.client.Database(db.dbName)
	collections, err := d.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return errors.Trace(err)
	}
	if !lo.Contains(collections, db.prefix+"evaluations") {
		if err = d.CreateCollection(ctx, db.prefix+"evaluations"); err != nil {
			return errors.Trace(err)
		}
	}
	_, err = db.collection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.M{"run_id": 1},
	})
	return errors.Trace(err)
}

// Insert stores evaluations. Documents are identified by ObjectIDs so ID is left zero.
func (db *MongoDB) Insert(ctx context.Context, evaluations ...Evaluation) error {
	if len(evaluations) == 0 {
		return nil
	}
	docs := make([]any, len(evaluations))
	for i := range evaluations {
		docs[i] = evaluations[i]
	}
	_, err := db.collection().InsertMany(ctx, docs)
	return errors.Trace(err)
}

func (db *MongoDB) List(ctx context.Context, runID string) ([]Evaluation, error) {
	cursor, err := db.collection().Find(ctx, bson.M{"run_id": runID},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Trace(err)
	}
	var evaluations []Evaluation
	if err = cursor.All(ctx, &evaluations); err != nil {
		return nil, errors.Trace(err)
	}
	return evaluations, nil
}

func (db *MongoDB) Runs(ctx context.Context) ([]string, error) {
	values, err := db.collection().Distinct(ctx, "run_id", bson.M{})
	if err != nil {
		return nil, errors.Trace(err)
	}
	runs := make([]string, 0, len(values))
	for _, value := range values {
		if run, ok := value.(string); ok {
			runs = append(runs, run)
		}
	}
	sort.Strings(runs)
	return runs, nil
}

func (db *MongoDB) Close() error {
	return db.client.Disconnect(context.Background())
}
