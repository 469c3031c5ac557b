package models

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Decimal is a fixed-point amount stored as BSON Decimal128 and rendered in
// JSON as a string, so money never passes through float64.
type Decimal struct {
	decimal.Decimal
}

// NewDecimal wraps a shopspring decimal.
func NewDecimal(d decimal.Decimal) Decimal {
	return Decimal{Decimal: d}
}

// MustDecimal parses s and panics on malformed input. Only for constants.
func MustDecimal(s string) Decimal {
	return Decimal{Decimal: decimal.RequireFromString(s)}
}

// ParseDecimal parses a decimal string such as "50.00".
func ParseDecimal(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{Decimal: d}, nil
}

// ZeroDecimal returns 0.
func ZeroDecimal() Decimal {
	return Decimal{Decimal: decimal.Zero}
}

// Plus returns d + o.
func (d Decimal) Plus(o Decimal) Decimal {
	return Decimal{Decimal: d.Decimal.Add(o.Decimal)}
}

// MarshalBSONValue implements bson.ValueMarshaler.
func (d Decimal) MarshalBSONValue() (bsontype.Type, []byte, error) {
	d128, err := primitive.ParseDecimal128(d.Decimal.String())
	if err != nil {
		return 0, nil, fmt.Errorf("encode decimal %s: %w", d.Decimal.String(), err)
	}
	return bson.MarshalValue(d128)
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler. Legacy documents that
// stored doubles or integers are accepted as well.
func (d *Decimal) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	switch t {
	case bsontype.Decimal128:
		parsed, err := decimal.NewFromString(raw.Decimal128().String())
		if err != nil {
			return err
		}
		d.Decimal = parsed
	case bsontype.Double:
		d.Decimal = decimal.NewFromFloat(raw.Double())
	case bsontype.Int32:
		d.Decimal = decimal.NewFromInt32(raw.Int32())
	case bsontype.Int64:
		d.Decimal = decimal.NewFromInt(raw.Int64())
	case bsontype.String:
		parsed, err := decimal.NewFromString(raw.StringValue())
		if err != nil {
			return err
		}
		d.Decimal = parsed
	case bsontype.Null, bsontype.Undefined:
		d.Decimal = decimal.Zero
	default:
		return fmt.Errorf("cannot decode %s into Decimal", t)
	}
	return nil
}
