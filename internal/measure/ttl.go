package measure

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TTL is a time to live in seconds. See the package documentation for the
// meaning of the special values.
type TTL float64

const (
	// DoNotPersist tells the caller not to store the value at all.
	DoNotPersist TTL = 0

	// StorageDefault defers the lifetime decision to the storage.
	StorageDefault TTL = -1
)

// Forever persists a value indefinitely.
var Forever = TTL(math.Inf(1))

// ErrInvalidTTL is returned when a value cannot be read as a TTL, or when a
// storage is asked to honor a TTL outside the enumeration.
var ErrInvalidTTL = errors.New("invalid ttl")

// IsForever reports whether t is +Inf.
func (t TTL) IsForever() bool {
	return math.IsInf(float64(t), 1)
}

// Validate checks that t is one of 0, -1, a positive finite number or +Inf.
func (t TTL) Validate() error {
	f := float64(t)
	switch {
	case math.IsNaN(f):
		return fmt.Errorf("%w: NaN", ErrInvalidTTL)
	case t == DoNotPersist, t == StorageDefault, f > 0:
		return nil
	default:
		return fmt.Errorf("%w: %v", ErrInvalidTTL, f)
	}
}

// maxDurationSeconds is the longest TTL a time.Duration can hold.
const maxDurationSeconds = float64(math.MaxInt64) / float64(time.Second)

// ExpiresAt returns the absolute expiry of a value saved at now.
// The second result is false when the value never expires, which includes
// TTLs too long for a time.Duration (about 292 years).
// Only positive TTLs are meaningful here; callers resolve 0 and -1 first.
func (t TTL) ExpiresAt(now time.Time) (time.Time, bool) {
	if t.IsForever() || t <= 0 || float64(t) >= maxDurationSeconds {
		return time.Time{}, false
	}
	return now.Add(time.Duration(float64(t) * float64(time.Second))), true
}

// Or returns fallback when t is StorageDefault, and t otherwise.
func (t TTL) Or(fallback TTL) TTL {
	if t == StorageDefault {
		return fallback
	}
	return t
}

// String renders +Inf as "Infinity" and everything else as a plain number.
func (t TTL) String() string {
	if t.IsForever() {
		return "Infinity"
	}
	return strconv.FormatFloat(float64(t), 'f', -1, 64)
}

// MarshalJSON encodes +Inf as the string "Infinity", which JSON cannot
// represent as a number.
func (t TTL) MarshalJSON() ([]byte, error) {
	if t.IsForever() {
		return []byte(`"Infinity"`), nil
	}
	if math.IsNaN(float64(t)) || math.IsInf(float64(t), -1) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTTL, float64(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalJSON accepts numbers and the string forms understood by ParseTTL.
func (t *TTL) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseTTL(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTTL converts a command argument to a TTL. Numbers of any Go numeric
// type are accepted, as are json.Number and the strings "Infinity", "inf"
// and "forever" for +Inf.
func ParseTTL(v any) (TTL, error) {
	switch val := v.(type) {
	case TTL:
		return val, nil
	case float64:
		return TTL(val), nil
	case float32:
		return TTL(val), nil
	case int:
		return TTL(val), nil
	case int8:
		return TTL(val), nil
	case int16:
		return TTL(val), nil
	case int32:
		return TTL(val), nil
	case int64:
		return TTL(val), nil
	case uint:
		return TTL(val), nil
	case uint8:
		return TTL(val), nil
	case uint16:
		return TTL(val), nil
	case uint32:
		return TTL(val), nil
	case uint64:
		return TTL(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTTL, val.String())
		}
		return TTL(f), nil
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "infinity", "+infinity", "inf", "+inf", "forever":
			return Forever, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTTL, val)
		}
		return TTL(f), nil
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidTTL, v)
	}
}
