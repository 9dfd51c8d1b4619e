package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemValidation(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		item    WorkItem
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid item",
			item: WorkItem{
				ID:        "fg-1",
				ProjectID: "p1",
				Title:     "Valid item",
				Status:    StatusOpen,
				Priority:  2,
				Kind:      KindTask,
			},
		},
		{
			name:    "missing title",
			item:    WorkItem{ID: "fg-1", ProjectID: "p1", Status: StatusOpen, Kind: KindTask},
			wantErr: true,
			errMsg:  "title is required",
		},
		{
			name: "title too long",
			item: WorkItem{
				ID:        "fg-1",
				ProjectID: "p1",
				Title:     strings.Repeat("x", 501),
				Status:    StatusOpen,
				Kind:      KindTask,
			},
			wantErr: true,
			errMsg:  "title must be 500 characters or less",
		},
		{
			name:    "missing project",
			item:    WorkItem{Title: "t", Status: StatusOpen, Kind: KindTask},
			wantErr: true,
			errMsg:  "project is required",
		},
		{
			name:    "negative priority",
			item:    WorkItem{ProjectID: "p1", Title: "t", Status: StatusOpen, Kind: KindTask, Priority: -1},
			wantErr: true,
			errMsg:  "priority cannot be negative",
		},
		{
			name:    "invalid status",
			item:    WorkItem{ProjectID: "p1", Title: "t", Status: "done", Kind: KindTask},
			wantErr: true,
			errMsg:  "invalid status",
		},
		{
			name:    "empty kind",
			item:    WorkItem{ProjectID: "p1", Title: "t", Status: StatusOpen},
			wantErr: true,
			errMsg:  "invalid kind",
		},
		{
			name:    "complexity out of range",
			item:    WorkItem{ProjectID: "p1", Title: "t", Status: StatusOpen, Kind: KindTask, Complexity: intPtr(11)},
			wantErr: true,
			errMsg:  "complexity must be between 1 and 10",
		},
		{
			name:    "closed without completed_at",
			item:    WorkItem{ProjectID: "p1", Title: "t", Status: StatusClosed, Kind: KindTask},
			wantErr: true,
			errMsg:  "completed_at",
		},
		{
			name: "closed with completed_at",
			item: WorkItem{ProjectID: "p1", Title: "t", Status: StatusClosed, Kind: KindTask, CompletedAt: &now},
		},
		{
			name: "custom kind",
			item: WorkItem{ProjectID: "p1", Title: "t", Status: StatusOpen, Kind: "spike"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestStatusIsValid(t *testing.T) {
	for _, s := range []Status{StatusOpen, StatusInProgress, StatusBlocked, StatusClosed} {
		assert.True(t, s.IsValid(), s)
	}
	assert.False(t, Status("").IsValid())
	assert.False(t, Status("done").IsValid())
}

func TestDependencyTypeIsValid(t *testing.T) {
	assert.True(t, DepBlocks.IsValid())
	assert.True(t, DepParentChild.IsValid())
	assert.True(t, DepDiscoveredFrom.IsValid())
	assert.False(t, DependencyType("related").IsValid())

	assert.True(t, DepBlocks.AffectsReadyWork())
	assert.False(t, DepParentChild.AffectsReadyWork())
	assert.False(t, DepDiscoveredFrom.AffectsReadyWork())
}

func TestCloneIsDeep(t *testing.T) {
	started := time.Now()
	orig := &WorkItem{
		ID:         "fg-1",
		Labels:     []string{"a"},
		Complexity: intPtr(3),
		StartedAt:  &started,
		Extra:      Attributes{"k": String("v")},
	}
	c := orig.Clone()
	c.Labels[0] = "b"
	*c.Complexity = 9
	c.Extra["k"] = String("changed")

	assert.Equal(t, "a", orig.Labels[0])
	assert.Equal(t, 3, *orig.Complexity)
	v, _ := orig.Extra["k"].AsString()
	assert.Equal(t, "v", v)
	assert.Nil(t, (*WorkItem)(nil).Clone())
}

func TestNormalizeLabels(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, NormalizeLabels([]string{"b", " a ", "", "b"}))
	assert.Nil(t, NormalizeLabels([]string{" "}))
	assert.Nil(t, NormalizeLabels(nil))
}

func TestAttributesMerge(t *testing.T) {
	base := Attributes{
		AttrBlockReason: String("waiting"),
		"keep":          Int(1),
	}
	merged := base.Merge(Attributes{AttrBlockReason: String("cleared"), "new": Bool(true)})

	reason, ok := merged[AttrBlockReason].AsString()
	require.True(t, ok)
	assert.Equal(t, "cleared", reason)
	n, ok := merged["keep"].AsInt()
	require.True(t, ok)
	assert.EqualValues(t, 1, n)
	b, ok := merged["new"].AsBool()
	require.True(t, ok)
	assert.True(t, b)

	// Merge never mutates the receiver.
	orig, _ := base[AttrBlockReason].AsString()
	assert.Equal(t, "waiting", orig)
}

func TestValidateAttributeKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{AttrBlockReason, false},
		{"ci.run_id", false},
		{"_private", false},
		{"", true},
		{"9lives", true},
		{"has space", true},
		{"a-b", true},
		{"$.x", true},
	}
	for _, tt := range tests {
		err := ValidateAttributeKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateAttributeKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
	}

	i := &WorkItem{Title: "t", ProjectID: "p", Status: StatusOpen, Kind: KindTask,
		Extra: Attributes{"bad key": String("x")}}
	require.Error(t, i.Validate())
}

func TestAttributeJSON(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := Attributes{
		"s": String("x"),
		"i": Int(42),
		"b": Bool(true),
		"t": Time(ts),
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"int"`)

	var out Attributes
	require.NoError(t, json.Unmarshal(data, &out))
	got, ok := out["t"].AsTime()
	require.True(t, ok)
	assert.True(t, ts.Equal(got))
	_, ok = out["s"].AsInt()
	assert.False(t, ok, "string attribute must not read as int")
}

func TestAttributeUnknownKind(t *testing.T) {
	var a Attribute
	err := json.Unmarshal([]byte(`{"kind":"blob","value":1}`), &a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown attribute kind")
}

func TestItemFilterMatches(t *testing.T) {
	open := StatusOpen
	item := &WorkItem{Status: StatusOpen, Kind: KindBug, Labels: []string{"backend", "urgent"}}

	assert.True(t, (&ItemFilter{Status: &open}).Matches(item))
	assert.True(t, (&ItemFilter{Labels: []string{"urgent"}}).Matches(item))
	assert.False(t, (&ItemFilter{Labels: []string{"urgent", "frontend"}}).Matches(item))
	epic := KindEpic
	assert.False(t, (&ItemFilter{Kind: &epic}).Matches(item))
}

func intPtr(i int) *int {
	return &i
}
