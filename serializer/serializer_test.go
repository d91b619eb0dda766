package serializer_test

import (
	"testing"

	"github.com/devrev/docmap/docwrap"
	"github.com/devrev/docmap/identity"
	"github.com/devrev/docmap/serializer"
	"github.com/devrev/docmap/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type order struct {
	docwrap.Base
}

func newOrder() *order {
	o := &order{}
	o.Init(o)
	return o
}

func (o *order) CollectionName() string { return "Order" }

func newOrderDoc() docwrap.Document { return newOrder() }

func orderSchema() serializer.Schema {
	return serializer.Schema{
		DocType:              "Order",
		CollectionName:       "Order",
		ScalarProperties:     []string{"Name", "Total"},
		SingleReferences:     []string{"Parent"},
		CollectionReferences: []string{"Items"},
		New:                  newOrderDoc,
	}
}

func TestSerializer_EncodeOrdersFieldsPerSpec(t *testing.T) {
	s := serializer.New(orderSchema())

	doc := newOrder()
	id := identity.New()
	doc.SetDocumentID(id)
	doc.SetProperty("Name", "alpha")
	doc.SetProperty("Total", 42.0)
	parentID := identity.New()
	doc.SetReference("Parent", parentID)
	itemIDs := []identity.ID{identity.New(), identity.New()}
	doc.SetReference("Items", itemIDs)

	encoded := s.Encode(doc)

	require.Len(t, encoded, 5)
	assert.Equal(t, "_id", encoded[0].Key)
	assert.Equal(t, "Name", encoded[1].Key)
	assert.Equal(t, "Total", encoded[2].Key)
	assert.Equal(t, "Parent", encoded[3].Key)
	assert.Equal(t, "Items", encoded[4].Key)
}

func TestSerializer_RoundTripPreservesIdentityAndScalars(t *testing.T) {
	s := serializer.New(orderSchema())
	manager := tracking.NewManager(10)

	doc := newOrder()
	id := identity.New()
	doc.SetDocumentID(id)
	doc.SetProperty("Name", "alpha")
	doc.SetProperty("Total", 42.0)

	encoded := s.Encode(doc)
	raw, err := bson.Marshal(encoded)
	require.NoError(t, err)

	decoded, entry, err := s.Decode(bson.Raw(raw), manager)
	require.NoError(t, err)

	assert.Equal(t, id, decoded.DocumentID())
	assert.Equal(t, "alpha", decoded.Property("Name"))
	assert.Equal(t, 42.0, decoded.Property("Total"))
	assert.Equal(t, tracking.Unchanged, entry.State())
}

func TestSerializer_DecodeTwiceReturnsSameInstance(t *testing.T) {
	s := serializer.New(orderSchema())
	manager := tracking.NewManager(10)

	doc := newOrder()
	id := identity.New()
	doc.SetDocumentID(id)
	doc.SetProperty("Name", "alpha")

	raw, err := bson.Marshal(s.Encode(doc))
	require.NoError(t, err)

	first, _, err := s.Decode(bson.Raw(raw), manager)
	require.NoError(t, err)

	second, _, err := s.Decode(bson.Raw(raw), manager)
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestSerializer_DecodeSuppressesTrackingDuringHydration(t *testing.T) {
	s := serializer.New(orderSchema())
	manager := tracking.NewManager(10)

	doc := newOrder()
	id := identity.New()
	doc.SetDocumentID(id)
	doc.SetProperty("Name", "alpha")

	raw, err := bson.Marshal(s.Encode(doc))
	require.NoError(t, err)

	_, entry, err := s.Decode(bson.Raw(raw), manager)
	require.NoError(t, err)

	// Hydration writes must not have left any modified-property bookkeeping.
	assert.False(t, entry.IsPropertyChanged("Name"))
	assert.Equal(t, tracking.Unchanged, entry.State())
}

func TestRegistry_GetMissingReturnsSerializerMissingError(t *testing.T) {
	r := serializer.NewRegistry()
	_, err := r.Get("Order")
	require.Error(t, err)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := serializer.NewRegistry()
	s := serializer.New(orderSchema())
	r.Register(s)

	got, err := r.Get("Order")
	require.NoError(t, err)
	assert.Same(t, s, got)
}
