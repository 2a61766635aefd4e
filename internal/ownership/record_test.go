// internal/ownership/record_test.go
package ownership

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = []Record{
	{ChannelID: "UC1", ChannelName: "Acme", ChannelTag: "acme", Owner: "Acme Holdings"},
	{ChannelID: "UC2", ChannelName: "Globex", ChannelTag: "globex", Owner: "Globex Media"},
	// Name of one row equals the id of another; id must win.
	{ChannelID: "UC3", ChannelName: "uc1", ChannelTag: "@shadow"},
}

func TestFind(t *testing.T) {
	tests := []struct {
		query string
		want  string // channel id, "" for no match
	}{
		{"UC2", "UC2"},
		{"uc2", "UC2"},
		{"  Uc2 ", "UC2"},
		{"globex", "UC2"},
		{"ACME", "UC1"},
		{"uc1", "UC1"},
		{"@shadow", "UC3"},
		{"shadow", "UC3"},
		{"@globex", "UC2"},
		{"missing", ""},
		{"", ""},
		{"   ", ""},
		{"@", ""},
	}
	for _, tt := range tests {
		got := Find(sample, tt.query)
		if tt.want == "" {
			assert.Nil(t, got, "query %q", tt.query)
			continue
		}
		require.NotNil(t, got, "query %q", tt.query)
		assert.Equal(t, tt.want, got.ChannelID, "query %q", tt.query)
	}
}

func TestStringList_Decode(t *testing.T) {
	var recs []Record
	data := []byte(`[
		{"channel_id":"a","source_url":"https://example.com/one"},
		{"channel_id":"b","source_url":["https://example.com/x","https://example.com/y"]},
		{"channel_id":"c","source_url":""},
		{"channel_id":"d","source_url":null},
		{"channel_id":"e"}
	]`)
	require.NoError(t, json.Unmarshal(data, &recs))

	got := make([][]string, len(recs))
	for i, r := range recs {
		got[i] = r.SourceURLs
	}
	want := [][]string{
		{"https://example.com/one"},
		{"https://example.com/x", "https://example.com/y"},
		nil, nil, nil,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("source urls mismatch (-want +got):\n%s", diff)
	}

	var bad []Record
	assert.Error(t, json.Unmarshal([]byte(`[{"source_url":42}]`), &bad))
}

func TestRecordPresentation(t *testing.T) {
	tests := []struct {
		ownershipType string
		class, label  string
	}{
		{"Full ownership", "full", "Full ownership"},
		{"Majority stake", "partial", "Majority stake"},
		{"minority investment", "partial", "minority investment"},
		{"Partial", "partial", "Partial"},
		{"Licensing deal", "unknown", "Licensing deal"},
		{"", "unknown", "Ownership"},
		{"   ", "unknown", "Ownership"},
	}
	for _, tt := range tests {
		r := Record{OwnershipType: tt.ownershipType}
		assert.Equal(t, tt.class, r.TypeClass(), tt.ownershipType)
		assert.Equal(t, tt.label, r.TypeLabel(), tt.ownershipType)
	}

	assert.Equal(t, "Unknown owner", (&Record{}).OwnerName())
	assert.Equal(t, "Acme", (&Record{Owner: "Acme"}).OwnerName())
}
