package store

import (
	"context"
	"iter"
	"time"

	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/sells-group/venue-geocoder/internal/model"
)

// MongoStore implements Store on a MongoDB collection. Venue ids are exposed
// as strings: ObjectIDs by their hex form, string ids verbatim.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// mongoVenue is the stored venue document. Geolocation is a pointer so an
// absent or null field can be told apart from an empty array.
type mongoVenue struct {
	Name        string             `bson:"name"`
	Address     model.Address      `bson:"address"`
	Geolocation *[]model.Candidate `bson:"geolocation"`
}

// NewMongo connects to MongoDB and returns a store on database.collection.
func NewMongo(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, eris.Wrap(err, "mongo: connect")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background()) //nolint:errcheck
		return nil, eris.Wrap(err, "mongo: ping")
	}
	return &MongoStore{client: client, coll: client.Database(database).Collection(collection)}, nil
}

// InitSchema is a no-op: collections are created on first write.
func (s *MongoStore) InitSchema(context.Context) error {
	return nil
}

func (s *MongoStore) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return eris.Wrap(s.client.Disconnect(ctx), "mongo: disconnect")
}

func (s *MongoStore) Count(ctx context.Context, f Filter) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, mongoFilter(f))
	if err != nil {
		return 0, eris.Wrap(err, "mongo: count venues")
	}
	return n, nil
}

func (s *MongoStore) Find(ctx context.Context, f Filter) iter.Seq2[model.Venue, error] {
	return func(yield func(model.Venue, error) bool) {
		cur, err := s.coll.Find(ctx, mongoFilter(f))
		if err != nil {
			yield(model.Venue{}, eris.Wrap(err, "mongo: find venues"))
			return
		}
		defer cur.Close(context.WithoutCancel(ctx)) //nolint:errcheck

		for cur.Next(ctx) {
			if !yield(decodeMongoVenue(cur.Current)) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(model.Venue{}, eris.Wrap(err, "mongo: iterate venues"))
		}
	}
}

func (s *MongoStore) UpdateGeolocation(ctx context.Context, id string, candidates []model.Candidate) error {
	if candidates == nil {
		candidates = []model.Candidate{}
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": mongoIDFilter(id)},
		bson.M{"$set": bson.M{"geolocation": candidates}},
	)
	if err != nil {
		return eris.Wrapf(err, "mongo: update geolocation for venue %s", id)
	}
	if res.MatchedCount == 0 {
		return eris.Wrapf(ErrNotFound, "venue %s", id)
	}
	return nil
}

func decodeMongoVenue(raw bson.Raw) (model.Venue, error) {
	id := mongoIDString(raw.Lookup("_id"))
	var doc mongoVenue
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return model.Venue{ID: id}, &MalformedRecordError{ID: id, Err: err}
	}
	v := model.Venue{ID: id, Name: doc.Name, Address: doc.Address}
	if doc.Geolocation != nil {
		v.Geolocation = *doc.Geolocation
		v.HasGeolocation = true
	}
	return v, nil
}

func mongoIDString(rv bson.RawValue) string {
	if oid, ok := rv.ObjectIDOK(); ok {
		return oid.Hex()
	}
	if s, ok := rv.StringValueOK(); ok {
		return s
	}
	return rv.String()
}

// mongoIDFilter matches a venue by its string id. A 24-digit hex id may be
// stored either as an ObjectID or as a plain string.
func mongoIDFilter(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"$in": bson.A{oid, id}}
	}
	return id
}

// mongoFilter returns the query for f. Pending venues have no geolocation
// array, an array holding something other than candidate documents, or an
// empty array unless EmptyIsMigrated is set.
func mongoFilter(f Filter) bson.M {
	if !f.PendingOnly {
		return bson.M{}
	}
	pending := bson.A{
		bson.M{"geolocation": bson.M{"$not": bson.M{"$type": "array"}}},
		bson.M{"geolocation": bson.M{"$elemMatch": bson.M{"$not": bson.M{"$type": "object"}}}},
	}
	if !f.EmptyIsMigrated {
		pending = append(pending, bson.M{"geolocation": bson.M{"$size": 0}})
	}
	return bson.M{"$or": pending}
}
