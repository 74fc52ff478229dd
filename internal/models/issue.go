package models

import (
	"encoding/json"
	"sort"
)

// RawIssue is an issue exactly as the Jira REST API returns it. Field
// values keep their JSON shape; numbers are json.Number.
type RawIssue struct {
	ID     string         `json:"id"`
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields"`
}

// FieldDefinition is one entry of the /field listing.
type FieldDefinition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FieldMap translates raw field ids into their human labels.
type FieldMap struct {
	labels map[string]string
}

func NewFieldMap(defs []FieldDefinition) FieldMap {
	labels := make(map[string]string, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			continue
		}
		labels[d.ID] = d.Name
	}
	return FieldMap{labels: labels}
}

// Label returns the label for id, or id itself when it is unmapped.
func (m FieldMap) Label(id string) string {
	if label, ok := m.labels[id]; ok && label != "" {
		return label
	}
	return id
}

func (m FieldMap) Len() int { return len(m.labels) }

// Definitions returns the mapping sorted by id.
func (m FieldMap) Definitions() []FieldDefinition {
	defs := make([]FieldDefinition, 0, len(m.labels))
	for id, name := range m.labels {
		defs = append(defs, FieldDefinition{ID: id, Name: name})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

type Comment struct {
	Author       string `json:"author"`
	Text         string `json:"text"`
	UpdateAuthor string `json:"update author"`
	Created      string `json:"created"`
	Updated      string `json:"updated"`
}

type Attachment struct {
	Filename   string `json:"filename"`
	Author     string `json:"author"`
	Created    string `json:"created"`
	ContentRef string `json:"content"`
}

type Subtask struct {
	Key       string `json:"key"`
	Summary   string `json:"summary"`
	Status    string `json:"status"`
	Priority  string `json:"priority"`
	IssueType string `json:"issuetype"`
}

// FlatRecord is a normalized issue: scalar fields keyed by label plus the
// three structured collections. Fields never holds the structured
// collections, so filters on Fields cannot touch them.
type FlatRecord struct {
	Key         string
	Fields      map[string]string
	Comments    []Comment
	Attachments []Attachment
	Subtasks    []Subtask
}

func NewFlatRecord() *FlatRecord {
	return &FlatRecord{Fields: make(map[string]string)}
}

// Get returns a scalar field and whether it was present.
func (r *FlatRecord) Get(label string) (string, bool) {
	v, ok := r.Fields[label]
	return v, ok
}

// Labels returns the scalar field labels in ascending order.
func (r *FlatRecord) Labels() []string {
	labels := make([]string, 0, len(r.Fields))
	for label := range r.Fields {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// MarshalJSON writes the record as one flat object, the shape of the
// finalObj_<key>.json artifact.
func (r *FlatRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+4)
	for label, v := range r.Fields {
		out[label] = v
	}
	if r.Comments != nil {
		out["Comments"] = r.Comments
	}
	if r.Attachments != nil {
		out["Attachments"] = r.Attachments
	}
	if r.Subtasks != nil {
		out["Subtasks"] = r.Subtasks
	}
	out["key"] = r.Key
	return json.Marshal(out)
}
