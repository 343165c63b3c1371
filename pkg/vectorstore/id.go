package vectorstore

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/minio/highwayhash"
)

var recordIDKey = []byte("ekaya-sync/record-id/v1-00000000")

// RecordID derives the stable record ID of a source row from its schema,
// table and primary key values (in key column order). The same row always
// maps to the same ID whether it was read by a bulk sync or carried by a
// change event.
func RecordID(schema, table string, key []any) string {
	var b strings.Builder
	b.WriteString(schema)
	b.WriteByte(0x1f)
	b.WriteString(table)
	for _, v := range key {
		b.WriteByte(0x1f)
		b.WriteString(canonicalKeyValue(v))
	}
	sum := highwayhash.Sum128([]byte(b.String()), recordIDKey)
	return schema + "." + table + ":" + hex.EncodeToString(sum[:])
}

// canonicalKeyValue renders a key value so numbers decoded from JSON
// (float64, json.Number) and from the driver (ints) agree.
func canonicalKeyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "\x00"
	case string:
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		if f, err := t.Float64(); err == nil {
			return canonicalFloat(f)
		}
		return t.String()
	case float64:
		return canonicalFloat(t)
	case float32:
		return canonicalFloat(float64(t))
	case int:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", t[0:4], t[4:6], t[6:8], t[8:10], t[10:16])
	default:
		return fmt.Sprint(t)
	}
}

func canonicalFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
