// Package identity defines the 12-byte, timestamp-ordered identifier spec
// §6 describes. It is a thin named type over the MongoDB driver's
// primitive.ObjectID, which already has exactly this shape: a 4-byte
// big-endian timestamp prefix followed by 8 bytes of per-process entropy
// and counter, giving chronological ordering across generated identities
// without a central sequence.
package identity

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ID uniquely names one document across all collections (spec GLOSSARY).
type ID primitive.ObjectID

// Empty is the distinguished empty identity (spec §6).
var Empty ID

// New generates a fresh identity with the current time as its prefix.
func New() ID {
	return ID(primitive.NewObjectID())
}

// FromHex parses the 24-character hex form produced by Hex.
func FromHex(s string) (ID, error) {
	oid, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return Empty, err
	}
	return ID(oid), nil
}

// IsZero reports whether id is the distinguished empty value.
func (id ID) IsZero() bool {
	return id == Empty
}

// Timestamp returns the creation time embedded in id's prefix.
func (id ID) Timestamp() time.Time {
	return primitive.ObjectID(id).Timestamp()
}

// Hex renders id as a 24-character lowercase hex string.
func (id ID) Hex() string {
	return primitive.ObjectID(id).Hex()
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return id.Hex()
}

// Before reports whether id was generated before other, using the
// timestamp prefix first and the full byte ordering as a tiebreaker so
// distinct identities within the same second still order deterministically.
func (id ID) Before(other ID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// MarshalBSONValue implements bson.ValueMarshaler so identities round-trip
// as native BSON ObjectIds rather than as nested documents.
func (id ID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	oid := primitive.ObjectID(id)
	return bsontype.ObjectID, oid[:], nil
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (id *ID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t != bsontype.ObjectID {
		return fmt.Errorf("identity: cannot unmarshal BSON type %s into an ID", t)
	}
	if len(data) != 12 {
		return fmt.Errorf("identity: an ObjectID must be exactly 12 bytes long (got %d)", len(data))
	}
	var oid primitive.ObjectID
	copy(oid[:], data)
	*id = ID(oid)
	return nil
}
