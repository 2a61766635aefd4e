// internal/ownership/record.go
package ownership

import (
	"strings"

	json "github.com/json-iterator/go"
)

// Record is one row of the reference dataset.
type Record struct {
	ChannelID       string     `json:"channel_id"`
	ChannelName     string     `json:"channel_name"`
	ChannelTag      string     `json:"channel_tag"`
	Owner           string     `json:"owner"`
	OwnershipType   string     `json:"ownership_type"`
	AcquisitionDate string     `json:"acquisition_date,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	SourceURLs      StringList `json:"source_url"`
}

// StringList decodes from either a JSON string or an array of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*l = nil
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var one string
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		if one == "" {
			*l = nil
			return nil
		}
		*l = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// Find matches query against the id, then name, then tag of every record,
// ignoring case and surrounding space. The first field with any match wins.
// A leading "@" is ignored when comparing tags. An empty query matches nothing.
func Find(records []Record, query string) *Record {
	q := normalize(query)
	if q == "" {
		return nil
	}
	fields := []func(*Record) string{
		func(r *Record) string { return normalize(r.ChannelID) },
		func(r *Record) string { return normalize(r.ChannelName) },
		func(r *Record) string { return strings.TrimPrefix(normalize(r.ChannelTag), "@") },
	}
	for i, field := range fields {
		want := q
		if i == 2 {
			want = strings.TrimPrefix(q, "@")
			if want == "" {
				return nil
			}
		}
		for j := range records {
			if field(&records[j]) == want {
				return &records[j]
			}
		}
	}
	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// OwnerName falls back to "Unknown owner".
func (r *Record) OwnerName() string {
	if strings.TrimSpace(r.Owner) == "" {
		return "Unknown owner"
	}
	return r.Owner
}

// TypeLabel is the ownership type as written, or "Ownership" when blank.
func (r *Record) TypeLabel() string {
	if t := strings.TrimSpace(r.OwnershipType); t != "" {
		return t
	}
	return "Ownership"
}

// TypeClass buckets the ownership type into full, partial or unknown.
func (r *Record) TypeClass() string {
	t := strings.ToLower(r.OwnershipType)
	switch {
	case strings.Contains(t, "full"):
		return "full"
	case strings.Contains(t, "partial"), strings.Contains(t, "minority"), strings.Contains(t, "majority"):
		return "partial"
	default:
		return "unknown"
	}
}
