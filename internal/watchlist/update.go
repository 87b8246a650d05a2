package watchlist

import (
	"fmt"
	"sort"
)

// Field names a mutable column of the watchlist table.
type Field string

// Mutable item fields. Monitoring and price fields are written by
// independent flows and never overlap.
const (
	FieldKeepMonitoring  Field = "keepMonitoring"
	FieldDateUpdated     Field = "dateUpdated"
	FieldLowestPrice     Field = "lowestPrice"
	FieldCurrentPrice    Field = "currentPrice"
	FieldCurrentDiscount Field = "currentDiscount"
)

var fieldOrder = map[Field]int{
	FieldKeepMonitoring:  0,
	FieldDateUpdated:     1,
	FieldLowestPrice:     2,
	FieldCurrentPrice:    3,
	FieldCurrentDiscount: 4,
}

// Update maps field names to their new values. Only the named columns are written.
type Update map[Field]any

// MonitoringUpdate builds the update written by the monitoring toggle.
func MonitoringUpdate(keep bool) Update {
	return Update{FieldKeepMonitoring: keep}
}

// PriceUpdate builds the update written after a merge.
func PriceUpdate(merged Item) Update {
	return Update{
		FieldDateUpdated:     merged.DateUpdated,
		FieldLowestPrice:     merged.LowestPrice,
		FieldCurrentPrice:    merged.CurrentPrice,
		FieldCurrentDiscount: merged.CurrentDiscount,
	}
}

// Fields returns the update's fields in stable column order.
func (u Update) Fields() []Field {
	fields := make([]Field, 0, len(u))
	for f := range u {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool {
		return fieldOrder[fields[i]] < fieldOrder[fields[j]]
	})
	return fields
}

// Validate rejects empty updates, unknown fields and mistyped values.
func (u Update) Validate() error {
	if len(u) == 0 {
		return fmt.Errorf("%w: empty update", ErrInvalidInput)
	}
	for f, v := range u {
		if _, ok := fieldOrder[f]; !ok {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidInput, f)
		}
		if !validValue(f, v) {
			return fmt.Errorf("%w: field %q has unexpected type %T", ErrInvalidInput, f, v)
		}
	}
	return nil
}

// Apply copies the update's values onto item.
func (u Update) Apply(item Item) Item {
	for f, v := range u {
		switch f {
		case FieldKeepMonitoring:
			item.KeepMonitoring = v.(bool)
		case FieldDateUpdated:
			s, _ := v.(*string)
			item.DateUpdated = copyString(s)
		case FieldLowestPrice:
			item.LowestPrice = asCents(v)
		case FieldCurrentPrice:
			item.CurrentPrice = asCents(v)
		case FieldCurrentDiscount:
			item.CurrentDiscount = asCents(v)
		}
	}
	return item
}

func validValue(f Field, v any) bool {
	if v == nil {
		return f != FieldKeepMonitoring
	}
	switch f {
	case FieldKeepMonitoring:
		_, ok := v.(bool)
		return ok
	case FieldDateUpdated:
		_, ok := v.(*string)
		return ok
	default:
		_, ok := v.(*int64)
		return ok
	}
}

func asCents(v any) *int64 {
	p, _ := v.(*int64)
	return copyCents(p)
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

// Arg returns the value of f as a database argument, with absent values as nil.
func (u Update) Arg(f Field) any {
	switch v := u[f].(type) {
	case *int64:
		if v == nil {
			return nil
		}
		return *v
	case *string:
		if v == nil {
			return nil
		}
		return *v
	default:
		return v
	}
}
