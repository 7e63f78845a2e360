package store

import (
	"encoding/json"
	"time"

	"github.com/trapsight/trap-telemetry/pkg/models"
)

// Helper functions to safely read values out of query result rows.

func getString(row map[string]interface{}, key string) string {
	if val, ok := row[key].(string); ok {
		return val
	}
	return ""
}

func getFloat(row map[string]interface{}, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	}
	return 0
}

func getInt64(row map[string]interface{}, key string) int64 {
	switch v := row[key].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case uint64:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

func getBool(row map[string]interface{}, key string) bool {
	if val, ok := row[key].(bool); ok {
		return val
	}
	return false
}

func getTime(row map[string]interface{}, key string) time.Time {
	if val, ok := row[key].(time.Time); ok {
		return val
	}
	return time.Time{}
}

// marshalJSON renders a value as a JSON string column. Encoding failures
// collapse to an empty object rather than failing the write.
func marshalJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func unmarshalStringMap(s string) map[string]string {
	out := make(map[string]string)
	if s != "" {
		json.Unmarshal([]byte(s), &out)
	}
	return out
}

func unmarshalAttackTypes(s string) map[models.AttackType]int {
	out := make(map[models.AttackType]int)
	if s != "" {
		json.Unmarshal([]byte(s), &out)
	}
	return out
}

func unmarshalStringSlice(s string) []string {
	var out []string
	if s != "" {
		json.Unmarshal([]byte(s), &out)
	}
	return out
}
