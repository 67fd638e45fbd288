package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/sells-group/venue-geocoder/internal/model"
)

func mongoAddress(line1 string) bson.D {
	return bson.D{
		{Key: "line1", Value: line1},
		{Key: "city", Value: "Bristol"},
		{Key: "country", Value: "UK"},
		{Key: "postCode", Value: "BS1 4DJ"},
	}
}

func TestMongoStore_Find(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("decodes venues and isolates malformed documents", func(mt *mtest.T) {
		s := &MongoStore{coll: mt.Coll}
		oid := primitive.NewObjectID()

		first := mtest.CreateCursorResponse(1, "venues.venue", mtest.FirstBatch,
			bson.D{
				{Key: "_id", Value: oid},
				{Key: "name", Value: "Colston Hall"},
				{Key: "address", Value: mongoAddress("Colston St")},
			},
			bson.D{
				{Key: "_id", Value: "legacy-7"},
				{Key: "name", Value: "Old Vic"},
				{Key: "address", Value: mongoAddress("King St")},
				{Key: "geolocation", Value: bson.A{}},
			},
		)
		second := mtest.CreateCursorResponse(0, "venues.venue", mtest.NextBatch,
			bson.D{
				{Key: "_id", Value: "bad-1"},
				{Key: "name", Value: "Broken"},
				{Key: "geolocation", Value: "somewhere"},
			},
			bson.D{
				{Key: "_id", Value: "done-1"},
				{Key: "name", Value: "Thekla"},
				{Key: "address", Value: mongoAddress("The Grove")},
				{Key: "geolocation", Value: bson.A{
					bson.D{{Key: "lat", Value: 51.45}, {Key: "lng", Value: -2.59}, {Key: "formattedAddress", Value: "The Grove, Bristol"}},
				}},
			},
		)
		mt.AddMockResponses(first, second)

		venues, errs := collect(t, s, Filter{})
		require.Len(t, venues, 3)
		require.Len(t, errs, 1)

		assert.Equal(t, oid.Hex(), venues[0].ID)
		assert.Equal(t, "Colston St", venues[0].Address.Line1)
		assert.False(t, venues[0].HasGeolocation)

		assert.Equal(t, "legacy-7", venues[1].ID)
		assert.True(t, venues[1].HasGeolocation)
		assert.Empty(t, venues[1].Geolocation)

		assert.Equal(t, "done-1", venues[2].ID)
		require.Len(t, venues[2].Geolocation, 1)
		assert.Equal(t, model.Candidate{Lat: 51.45, Lng: -2.59, FormattedAddress: "The Grove, Bristol"}, venues[2].Geolocation[0])

		var mre *MalformedRecordError
		require.ErrorAs(t, errs[0], &mre)
		assert.Equal(t, "bad-1", mre.ID)
	})

	mt.Run("find error ends the sequence", func(mt *mtest.T) {
		s := &MongoStore{coll: mt.Coll}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    13,
			Name:    "Unauthorized",
			Message: "not authorized on venues",
		}))

		venues, errs := collect(t, s, Filter{PendingOnly: true})
		assert.Empty(t, venues)
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), "mongo: find venues")
	})
}

func TestMongoStore_Count(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("returns the aggregate count", func(mt *mtest.T) {
		s := &MongoStore{coll: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "venues.venue", mtest.FirstBatch,
			bson.D{{Key: "n", Value: int32(42)}},
		))

		n, err := s.Count(context.Background(), Filter{PendingOnly: true})
		require.NoError(t, err)
		assert.Equal(t, int64(42), n)
	})
}

func TestMongoStore_UpdateGeolocation(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("matched", func(mt *mtest.T) {
		s := &MongoStore{coll: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		err := s.UpdateGeolocation(context.Background(), primitive.NewObjectID().Hex(), []model.Candidate{{Lat: 1, Lng: 2}})
		require.NoError(t, err)
	})

	mt.Run("no match", func(mt *mtest.T) {
		s := &MongoStore{coll: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))

		err := s.UpdateGeolocation(context.Background(), "missing", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	mt.Run("write error", func(mt *mtest.T) {
		s := &MongoStore{coll: mt.Coll}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Name:    "BadValue",
			Message: "bad value",
		}))

		err := s.UpdateGeolocation(context.Background(), "v1", []model.Candidate{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mongo: update geolocation for venue v1")
	})
}

func TestMongoFilter(t *testing.T) {
	assert.Equal(t, bson.M{}, mongoFilter(Filter{}))

	notArray := bson.M{"geolocation": bson.M{"$not": bson.M{"$type": "array"}}}
	nonObject := bson.M{"geolocation": bson.M{"$elemMatch": bson.M{"$not": bson.M{"$type": "object"}}}}
	assert.Equal(t,
		bson.M{"$or": bson.A{notArray, nonObject}},
		mongoFilter(Filter{PendingOnly: true, EmptyIsMigrated: true}),
	)
	assert.Equal(t,
		bson.M{"$or": bson.A{notArray, nonObject, bson.M{"geolocation": bson.M{"$size": 0}}}},
		mongoFilter(Filter{PendingOnly: true}),
	)
}

func TestMongoIDFilter(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, bson.M{"$in": bson.A{oid, oid.Hex()}}, mongoIDFilter(oid.Hex()))
	assert.Equal(t, "legacy-7", mongoIDFilter("legacy-7"))
}
