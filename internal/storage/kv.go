package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Update operations supported by UpdateRecord.
const (
	OpSet       = "set"
	OpIncrement = "increment"
	OpAppend    = "append"
	OpRemove    = "remove"
)

// StoreRecord stores a JSON value under key. A ttl of 0 means no expiry.
func (db *DB) StoreRecord(key string, value json.RawMessage, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	_, err := db.Exec(
		"INSERT OR REPLACE INTO kv_store (key, value, expires_at) VALUES (?, ?, ?)",
		key, string(value), expiresAt,
	)
	return err
}

// FetchRecord returns the JSON value stored under key, or ErrNotFound.
func (db *DB) FetchRecord(key string) (json.RawMessage, error) {
	var value string
	var expiresAt sql.NullTime

	err := db.QueryRow(
		"SELECT value, expires_at FROM kv_store WHERE key = ?",
		key,
	).Scan(&value, &expiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid && expiresAt.Time.Before(time.Now()) {
		db.Exec("DELETE FROM kv_store WHERE key = ?", key)
		return nil, ErrNotFound
	}

	return json.RawMessage(value), nil
}

// UpdateRecord applies op with attrs to the JSON object stored under key.
// The stored value must be a JSON object; attrs maps attribute names to
// operands (numbers for increment, values for set/append, ignored for remove).
func (db *DB) UpdateRecord(key, op string, attrs map[string]interface{}) error {
	raw, err := db.FetchRecord(key)
	if err != nil {
		return err
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ErrNotObject
	}

	switch op {
	case OpSet:
		for k, v := range attrs {
			obj[k] = v
		}
	case OpIncrement:
		for k, v := range attrs {
			delta, ok := toFloat(v)
			if !ok {
				return fmt.Errorf("%w: increment operand for %q is not a number", ErrInvalidOp, k)
			}
			current, _ := toFloat(obj[k])
			obj[k] = current + delta
		}
	case OpAppend:
		for k, v := range attrs {
			switch existing := obj[k].(type) {
			case []interface{}:
				obj[k] = append(existing, v)
			case nil:
				obj[k] = []interface{}{v}
			default:
				return fmt.Errorf("%w: attribute %q is not an array", ErrInvalidOp, k)
			}
		}
	case OpRemove:
		for k := range attrs {
			delete(obj, k)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOp, op)
	}

	updated, err := json.Marshal(obj)
	if err != nil {
		return err
	}

	// Preserve the existing expiry.
	_, err = db.Exec("UPDATE kv_store SET value = ? WHERE key = ?", string(updated), key)
	return err
}

// DeleteRecord removes the record stored under key.
func (db *DB) DeleteRecord(key string) error {
	result, err := db.Exec("DELETE FROM kv_store WHERE key = ?", key)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordExists reports whether a live (unexpired) record exists under key.
func (db *DB) RecordExists(key string) (bool, error) {
	var expiresAt sql.NullTime

	err := db.QueryRow(
		"SELECT expires_at FROM kv_store WHERE key = ?",
		key,
	).Scan(&expiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if expiresAt.Valid && expiresAt.Time.Before(time.Now()) {
		return false, nil
	}
	return true, nil
}

// CleanExpired removes expired records and returns the count removed.
func (db *DB) CleanExpired() (int64, error) {
	result, err := db.Exec(
		"DELETE FROM kv_store WHERE expires_at IS NOT NULL AND expires_at < ?",
		time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case nil:
		return 0, true
	default:
		return 0, false
	}
}
