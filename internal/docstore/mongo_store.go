package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// Reserved fields of every stored document. The MongoDB collection is the
// last segment of the collection path, so users/{a}/cart and users/{b}/cart
// share the "cart" collection and are told apart by parentField.
const (
	parentField = "_parent"
	docIDField  = "_doc_id"
)

// MongoStore implements Store on MongoDB. Transactions and batches run in
// multi-document transactions and therefore need a replica set.
type MongoStore struct {
	db    *mongo.Database
	clock Clock
	retry RetryPolicy
}

// ConnectMongoDB opens a client with majority read/write concerns so that
// transactions observe committed data only.
func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10).
		SetReadConcern(readconcern.Majority()).
		SetWriteConcern(writeconcern.Majority())

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

func NewMongoStore(db *mongo.Database, policy RetryPolicy) *MongoStore {
	return &MongoStore{db: db, clock: time.Now, retry: policy}
}

// CreateIndexes indexes the parent path of every given collection id so
// collection queries never scan other users' documents.
func (m *MongoStore) CreateIndexes(ctx context.Context, collections ...string) error {
	for _, c := range collections {
		_, err := m.db.Collection(c).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: parentField, Value: 1}},
		})
		if err != nil {
			return fmt.Errorf("failed to create index on %s: %w", c, err)
		}
	}
	return nil
}

func (m *MongoStore) collectionFor(path string) (*mongo.Collection, string, string, error) {
	parentColl, id, err := splitDocPath(path)
	if err != nil {
		return nil, "", "", err
	}
	parent, coll := splitCollectionPath(parentColl)
	return m.db.Collection(coll), parent, id, nil
}

func (m *MongoStore) Get(ctx context.Context, path string) (*Snapshot, error) {
	coll, _, id, err := m.collectionFor(path)
	if err != nil {
		return nil, err
	}

	var raw bson.M
	err = coll.FindOne(ctx, bson.M{"_id": path}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &Snapshot{Path: path, ID: id}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", path, err)
	}
	return &Snapshot{Path: path, ID: id, Data: stripReserved(raw)}, nil
}

func (m *MongoStore) Query(ctx context.Context, q Query) ([]*Snapshot, error) {
	if err := validateCollectionPath(q.collection); err != nil {
		return nil, err
	}
	parent, coll := splitCollectionPath(q.collection)

	filterDoc := bson.D{{Key: parentField, Value: parent}}
	for _, f := range q.filters {
		filterDoc = append(filterDoc, bson.E{Key: f.field, Value: cloneValue(f.value)})
	}

	opts := options.Find()
	if q.orderBy != "" {
		dir := 1
		if q.direction == Desc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.orderBy, Value: dir}, {Key: "_id", Value: 1}})
	} else {
		opts.SetSort(bson.D{{Key: "_id", Value: 1}})
	}
	if q.limit > 0 {
		opts.SetLimit(int64(q.limit))
	}

	cur, err := m.db.Collection(coll).Find(ctx, filterDoc, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.collection, err)
	}
	defer cur.Close(ctx)

	var out []*Snapshot
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", q.collection, err)
		}
		id, _ := raw[docIDField].(string)
		path, _ := raw["_id"].(string)
		out = append(out, &Snapshot{Path: path, ID: id, Data: stripReserved(raw)})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("cursor error on %s: %w", q.collection, err)
	}
	return out, nil
}

func (m *MongoStore) Create(ctx context.Context, path string, data Data) error {
	return m.apply(ctx, write{kind: writeCreate, path: path, data: data})
}

func (m *MongoStore) Set(ctx context.Context, path string, data Data, opts ...SetOption) error {
	return m.apply(ctx, write{kind: writeSet, path: path, data: data, merge: applySetOptions(opts).merge})
}

func (m *MongoStore) Update(ctx context.Context, path string, data Data) error {
	return m.apply(ctx, write{kind: writeUpdate, path: path, data: data})
}

func (m *MongoStore) Delete(ctx context.Context, path string) error {
	return m.apply(ctx, write{kind: writeDelete, path: path})
}

func (m *MongoStore) apply(ctx context.Context, w write) error {
	coll, parent, id, err := m.collectionFor(w.path)
	if err != nil {
		return err
	}

	fields := cloneData(w.data)
	resolveTimestamps(fields, m.clock())

	switch w.kind {
	case writeCreate:
		doc := bson.M{"_id": w.path, parentField: parent, docIDField: id}
		for k, v := range fields {
			doc[k] = v
		}
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("%w: %s", ErrAlreadyExists, w.path)
			}
			return fmt.Errorf("failed to create %s: %w", w.path, err)
		}

	case writeSet:
		if w.merge {
			set := bson.M{parentField: parent, docIDField: id}
			for k, v := range fields {
				set[k] = v
			}
			_, err := coll.UpdateOne(ctx, bson.M{"_id": w.path}, bson.M{"$set": set}, options.Update().SetUpsert(true))
			if err != nil {
				return fmt.Errorf("failed to merge %s: %w", w.path, err)
			}
			return nil
		}
		doc := bson.M{parentField: parent, docIDField: id}
		for k, v := range fields {
			doc[k] = v
		}
		_, err := coll.ReplaceOne(ctx, bson.M{"_id": w.path}, doc, options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("failed to set %s: %w", w.path, err)
		}

	case writeUpdate:
		res, err := coll.UpdateOne(ctx, bson.M{"_id": w.path}, bson.M{"$set": bson.M(fields)})
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", w.path, err)
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, w.path)
		}

	case writeDelete:
		if _, err := coll.DeleteOne(ctx, bson.M{"_id": w.path}); err != nil {
			return fmt.Errorf("failed to delete %s: %w", w.path, err)
		}
	}
	return nil
}

func (m *MongoStore) Batch() WriteBatch {
	return &mongoBatch{store: m}
}

func (m *MongoStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return m.retry.Do(ctx, isTransientTxError, func() error {
		sess, err := m.db.Client().StartSession()
		if err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
		defer sess.EndSession(context.Background())

		return mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
			if err := sess.StartTransaction(); err != nil {
				return fmt.Errorf("failed to start transaction: %w", err)
			}
			if err := fn(sc, &mongoTx{store: m, ctx: sc}); err != nil {
				_ = sess.AbortTransaction(context.Background())
				return err
			}
			if err := sess.CommitTransaction(sc); err != nil {
				_ = sess.AbortTransaction(context.Background())
				return err
			}
			return nil
		})
	})
}

func (m *MongoStore) Close(ctx context.Context) error {
	return m.db.Client().Disconnect(ctx)
}

// isTransientTxError reports write conflicts and other errors MongoDB labels
// safe to retry as a whole transaction.
func isTransientTxError(err error) bool {
	if IsConflict(err) {
		return true
	}
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorLabel("TransientTransactionError")
}

type mongoBatch struct {
	store  *MongoStore
	writes []write
}

func (b *mongoBatch) Set(path string, data Data, opts ...SetOption) WriteBatch {
	b.writes = append(b.writes, write{kind: writeSet, path: path, data: data, merge: applySetOptions(opts).merge})
	return b
}

func (b *mongoBatch) Update(path string, data Data) WriteBatch {
	b.writes = append(b.writes, write{kind: writeUpdate, path: path, data: data})
	return b
}

func (b *mongoBatch) Delete(path string) WriteBatch {
	b.writes = append(b.writes, write{kind: writeDelete, path: path})
	return b
}

func (b *mongoBatch) Commit(ctx context.Context) error {
	return b.store.RunTransaction(ctx, func(ctx context.Context, _ Tx) error {
		for _, w := range b.writes {
			if err := b.store.apply(ctx, w); err != nil {
				return err
			}
		}
		return nil
	})
}

// mongoTx writes straight through the session; MongoDB provides the
// read-your-writes view and discards everything on abort.
type mongoTx struct {
	store *MongoStore
	ctx   mongo.SessionContext
}

func (t *mongoTx) Get(path string) (*Snapshot, error) {
	return t.store.Get(t.ctx, path)
}

func (t *mongoTx) Create(path string, data Data) error {
	return t.store.apply(t.ctx, write{kind: writeCreate, path: path, data: data})
}

func (t *mongoTx) Set(path string, data Data, opts ...SetOption) error {
	return t.store.apply(t.ctx, write{kind: writeSet, path: path, data: data, merge: applySetOptions(opts).merge})
}

func (t *mongoTx) Update(path string, data Data) error {
	return t.store.apply(t.ctx, write{kind: writeUpdate, path: path, data: data})
}

func (t *mongoTx) Delete(path string) error {
	return t.store.apply(t.ctx, write{kind: writeDelete, path: path})
}

func stripReserved(raw bson.M) Data {
	out := make(Data, len(raw))
	for k, v := range raw {
		if k == "_id" || k == parentField || k == docIDField {
			continue
		}
		out[k] = normalize(v)
	}
	return out
}
