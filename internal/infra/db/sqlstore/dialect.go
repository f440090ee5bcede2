package sqlstore

import (
	"fmt"
	"strings"
	"time"
)

// Dialect captures the SQL differences between the supported backends.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2, ...) instead of "?".
	Numbered bool
	// UpsertRecord is appended to the record INSERT to replace on file_path conflict.
	UpsertRecord string
	// InsertIgnore, when set, replaces "INSERT" for CreateIfAbsent; otherwise
	// IgnoreConflict is appended.
	InsertIgnore   string
	IgnoreConflict string
	// UpsertSetting is appended to the settings INSERT.
	UpsertSetting string
	// TimeAsText stores timestamps as fixed-width UTC text (SQLite).
	TimeAsText bool
	Schema     []string
}

// bind rewrites "?" placeholders for dialects that number them.
func (d Dialect) bind(q string) string {
	if !d.Numbered {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timeLayout sorts lexicographically in the same order as the instants.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func (d Dialect) timeArg(t time.Time) any {
	t = t.UTC().Truncate(time.Microsecond)
	if d.TimeAsText {
		return t.Format(timeLayout)
	}
	return t
}

// scanTime accepts the representations drivers hand back for timestamps.
type scanTime struct{ t *time.Time }

func (s scanTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*s.t = v.UTC()
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	case nil:
		*s.t = time.Time{}
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	return nil
}

func (s scanTime) parse(v string) error {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999"} {
		if t, err := time.Parse(layout, v); err == nil {
			*s.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable time %q", v)
}
