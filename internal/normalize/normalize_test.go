package normalize

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ilia01/jira2drive/internal/models"
)

const issueJSON = `{
  "id": "10001",
  "key": "FTT-7139",
  "fields": {
    "summary": "Water leak in basement",
    "customfield_10050": 4711,
    "customfield_10051": {"value": "Acme Builders", "id": "3"},
    "customfield_10052": null,
    "resolution": null,
    "status": {"name": "In Progress", "id": "3"},
    "assignee": {"displayName": "Maria P.", "accountId": "x"},
    "labels": ["urgent", "basement"],
    "components": [{"name": "Plumbing"}, {"id": "7"}],
    "description": {"type": "doc", "version": 1, "content": [
      {"type": "paragraph", "content": [{"type": "text", "text": "Pipe burst"}, {"type": "hardBreak"}, {"type": "text", "text": "near meter"}]},
      {"type": "paragraph"},
      {"type": "paragraph", "content": [{"type": "text", "text": "Call owner"}]}
    ]},
    "timetracking": {},
    "flagged": true,
    "subtasks": [
      {"key": "FTT-7140", "fields": {"summary": "Inspect", "status": {"name": "Done"}, "priority": {"name": "High"}, "issuetype": {"name": "Sub-task"}}},
      {"key": "FTT-7141", "fields": {"summary": "Repair"}}
    ],
    "attachment": [
      {"filename": "photo.JPG", "author": {"displayName": "Nikos"}, "created": "2024-03-05T10:15:30.000+0200", "content": "https://x/att/1"},
      {"filename": "report.pdf", "created": "2024-03-06T09:00:00.000+0200", "content": "https://x/att/2"}
    ],
    "comment": {"comments": [
      {"author": {"displayName": "Nikos"}, "updateAuthor": {"displayName": "Maria P."}, "created": "2024-03-05T11:00:00.000+0200", "updated": "2024-03-05T12:00:00.000+0200",
       "body": {"type": "doc", "content": [{"type": "paragraph", "content": [{"type": "text", "text": "On my way"}]}]}}
    ], "total": 1}
  }
}`

func decodeIssue(t *testing.T, raw string) *models.RawIssue {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var issue models.RawIssue
	require.NoError(t, dec.Decode(&issue))
	return &issue
}

func testFieldMap() models.FieldMap {
	return models.NewFieldMap([]models.FieldDefinition{
		{ID: "summary", Name: "Summary"},
		{ID: "customfield_10050", Name: "ΑΚ"},
		{ID: "customfield_10051", Name: "Εταιρεία Ανάθεσης"},
		{ID: "customfield_10052", Name: "Building Id"},
		{ID: "resolution", Name: "Resolution"},
		{ID: "status", Name: "Status"},
		{ID: "assignee", Name: "Assignee"},
		{ID: "labels", Name: "Labels"},
		{ID: "components", Name: "Components"},
		{ID: "description", Name: "Description"},
		{ID: "timetracking", Name: "Time tracking"},
		{ID: "subtasks", Name: "Sub-tasks"},
		{ID: "attachment", Name: "Attachment"},
		{ID: "comment", Name: "Comment"},
	})
}

func TestNormalizeScalars(t *testing.T) {
	rec := Normalize(decodeIssue(t, issueJSON), testFieldMap())

	want := map[string]string{
		"Summary":           "Water leak in basement",
		"ΑΚ":                "4711",
		"Εταιρεία Ανάθεσης": "Acme Builders",
		"Status":            "In Progress",
		"Assignee":          "Maria P.",
		"Labels":            `"urgent", "basement"`,
		"Components":        `Plumbing, {"id":"7"}`,
		"Description":       "Pipe burst near meter Call owner",
		"Time tracking":     "{}",
		"flagged":           "true",
	}
	if diff := cmp.Diff(want, rec.Fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "FTT-7139", rec.Key)
}

func TestNormalizeDropsNullFields(t *testing.T) {
	rec := Normalize(decodeIssue(t, issueJSON), testFieldMap())

	for _, label := range []string{"Building Id", "Resolution", "customfield_10052", "resolution"} {
		_, ok := rec.Get(label)
		assert.False(t, ok, "null field %q must be absent", label)
	}
}

func TestNormalizeStructuredCollections(t *testing.T) {
	rec := Normalize(decodeIssue(t, issueJSON), testFieldMap())

	wantSubtasks := []models.Subtask{
		{Key: "FTT-7140", Summary: "Inspect", Status: "Done", Priority: "High", IssueType: "Sub-task"},
		{Key: "FTT-7141", Summary: "Repair"},
	}
	if diff := cmp.Diff(wantSubtasks, rec.Subtasks); diff != "" {
		t.Fatalf("subtasks mismatch (-want +got):\n%s", diff)
	}

	wantAttachments := []models.Attachment{
		{Filename: "photo.JPG", Author: "Nikos", Created: "2024-03-05T10:15:30.000+0200", ContentRef: "https://x/att/1"},
		{Filename: "report.pdf", Created: "2024-03-06T09:00:00.000+0200", ContentRef: "https://x/att/2"},
	}
	if diff := cmp.Diff(wantAttachments, rec.Attachments); diff != "" {
		t.Fatalf("attachments mismatch (-want +got):\n%s", diff)
	}

	wantComments := []models.Comment{{
		Author:       "Nikos",
		Text:         "On my way",
		UpdateAuthor: "Maria P.",
		Created:      "2024-03-05T11:00:00.000+0200",
		Updated:      "2024-03-05T12:00:00.000+0200",
	}}
	if diff := cmp.Diff(wantComments, rec.Comments); diff != "" {
		t.Fatalf("comments mismatch (-want +got):\n%s", diff)
	}

	for _, label := range []string{"Sub-tasks", "Attachment", "Comment"} {
		_, ok := rec.Get(label)
		assert.False(t, ok, "%q must not be a scalar field", label)
	}
}

func TestNormalizeUnmappedIDsPassThrough(t *testing.T) {
	rec := Normalize(decodeIssue(t, `{"key":"A-1","fields":{"customfield_99":"x"}}`), models.NewFieldMap(nil))
	v, ok := rec.Get("customfield_99")
	require.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestNormalizeCollectionsByLabelWhenIDsDiffer(t *testing.T) {
	fm := models.NewFieldMap([]models.FieldDefinition{{ID: "cf_sub", Name: "Sub-tasks"}})
	rec := Normalize(decodeIssue(t, `{"key":"A-1","fields":{"cf_sub":[{"key":"A-2"}]}}`), fm)
	require.Len(t, rec.Subtasks, 1)
	assert.Equal(t, "A-2", rec.Subtasks[0].Key)
}

func TestNormalizeLabelCollisionIsStable(t *testing.T) {
	fm := models.NewFieldMap([]models.FieldDefinition{
		{ID: "customfield_20", Name: "Site"},
		{ID: "customfield_10", Name: "Site"},
		{ID: "customfield_30", Name: "Owner"},
		{ID: "site", Name: "Owner"},
	})
	raw := decodeIssue(t, `{"key":"A-1","fields":{
		"customfield_20":"south","customfield_10":"north",
		"customfield_30":"custom owner","site":"system owner"}}`)

	for i := 0; i < 100; i++ {
		rec := Normalize(raw, fm)
		require.Equal(t, "north", rec.Fields["Site"], "run %d", i)
		require.Equal(t, "system owner", rec.Fields["Owner"], "run %d", i)
	}
}

func TestNormalizeCollisionSkipsNullValues(t *testing.T) {
	fm := models.NewFieldMap([]models.FieldDefinition{
		{ID: "customfield_1", Name: "Site"},
		{ID: "customfield_2", Name: "Site"},
	})
	rec := Normalize(decodeIssue(t, `{"key":"A-1","fields":{"customfield_1":null,"customfield_2":"east"}}`), fm)
	assert.Equal(t, "east", rec.Fields["Site"])
}

func TestNormalizeNilIssue(t *testing.T) {
	rec := Normalize(nil, models.NewFieldMap(nil))
	assert.Empty(t, rec.Fields)
	assert.Empty(t, rec.Key)
}
