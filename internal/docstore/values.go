package docstore

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func (d Data) String(key string) string {
	s, _ := d[key].(string)
	return s
}

func (d Data) Bool(key string) bool {
	b, _ := d[key].(bool)
	return b
}

func (d Data) Int64(key string) int64 {
	switch v := d[key].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func (d Data) Time(key string) time.Time {
	t, _ := d[key].(time.Time)
	return t
}

func (d Data) Strings(key string) []string {
	switch v := d[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (d Data) Map(key string) Data {
	switch v := d[key].(type) {
	case Data:
		return v
	case map[string]any:
		return v
	}
	return nil
}

func (d Data) Slice(key string) []any {
	v, _ := d[key].([]any)
	return v
}

// cloneValue deep-copies maps and slices so stored documents never alias
// caller memory.
func cloneValue(v any) any {
	switch t := v.(type) {
	case Data:
		return cloneData(t)
	case map[string]any:
		return cloneData(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	case []Data:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneData(e)
		}
		return out
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case time.Time:
		return t.UTC()
	}
	return v
}

func cloneData(d Data) Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func resolveTimestamps(d Data, now time.Time) {
	for k, v := range d {
		switch t := v.(type) {
		case serverTimestamp:
			d[k] = now.UTC()
		case Data:
			resolveTimestamps(t, now)
		case map[string]any:
			resolveTimestamps(t, now)
		}
	}
}

// normalize converts values decoded from BSON into the plain types Data
// promises.
func normalize(v any) any {
	switch t := v.(type) {
	case primitive.M:
		out := make(Data, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case primitive.D:
		out := make(Data, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case map[string]any:
		out := make(Data, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case primitive.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	case int32:
		return int64(t)
	case int:
		return int64(t)
	}
	return v
}

func equalValues(a, b any) bool {
	a, b = cloneValue(a), cloneValue(b)
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case float64:
			return float64(x) == y
		}
		return false
	case float64:
		switch y := b.(type) {
		case int64:
			return x == float64(y)
		case float64:
			return x == y
		}
		return false
	case string, bool, nil:
		return a == b
	}
	return false
}

// compareValues orders values of the same kind. Missing values sort first.
func compareValues(a, b any) int {
	a, b = cloneValue(a), cloneValue(b)
	switch x := a.(type) {
	case nil:
		if b == nil {
			return 0
		}
		return -1
	case string:
		y, ok := b.(string)
		if !ok {
			return 1
		}
		return strings.Compare(x, y)
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 1
		}
		return x.Compare(y)
	case int64:
		return compareFloat(float64(x), b)
	case float64:
		return compareFloat(x, b)
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 1
		}
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	}
	return 0
}

func compareFloat(x float64, b any) int {
	var y float64
	switch t := b.(type) {
	case int64:
		y = float64(t)
	case float64:
		y = t
	default:
		return 1
	}
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}
