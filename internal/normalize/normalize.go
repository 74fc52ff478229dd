// Package normalize flattens raw Jira issues into label-keyed records.
package normalize

import (
	"sort"
	"strings"

	"github.com/Ilia01/jira2drive/internal/models"
)

// System field ids and labels of the three structured collections.
const (
	subtasksID      = "subtasks"
	subtasksLabel   = "Sub-tasks"
	attachmentID    = "attachment"
	attachmentLabel = "Attachment"
	commentID       = "comment"
	commentLabel    = "Comment"
)

// Normalize flattens the fields of raw and translates their ids to labels.
// Null fields are dropped before flattening and never appear in the
// result. The record's Key is copied from the issue. When several ids share
// a label the first one in fieldOrder keeps it.
func Normalize(raw *models.RawIssue, fm models.FieldMap) *models.FlatRecord {
	rec := models.NewFlatRecord()
	if raw == nil {
		return rec
	}
	rec.Key = raw.Key

	for _, id := range fieldOrder(raw.Fields) {
		value := raw.Fields[id]
		if value == nil {
			continue
		}
		label := fm.Label(id)

		switch {
		case id == subtasksID || label == subtasksLabel:
			if items, ok := value.([]any); ok {
				rec.Subtasks = subtasks(items)
				continue
			}
		case id == attachmentID || label == attachmentLabel:
			if items, ok := value.([]any); ok {
				rec.Attachments = attachments(items)
				continue
			}
		case id == commentID || label == commentLabel:
			if container, ok := value.(map[string]any); ok {
				if items, ok := container["comments"].([]any); ok {
					rec.Comments = comments(items)
					continue
				}
			}
		}

		if _, taken := rec.Fields[label]; taken {
			continue
		}
		rec.Fields[label] = Resolve(value)
	}
	return rec
}

const customFieldPrefix = "customfield_"

// fieldOrder sorts system fields before custom fields, each by ascending id.
func fieldOrder(fields map[string]any) []string {
	ids := make([]string, 0, len(fields))
	for id := range fields {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ci := strings.HasPrefix(ids[i], customFieldPrefix)
		cj := strings.HasPrefix(ids[j], customFieldPrefix)
		if ci != cj {
			return cj
		}
		return ids[i] < ids[j]
	})
	return ids
}

func subtasks(items []any) []models.Subtask {
	out := make([]models.Subtask, 0, len(items))
	for _, item := range items {
		out = append(out, models.Subtask{
			Key:       str(item, "key"),
			Summary:   str(item, "fields", "summary"),
			Status:    str(item, "fields", "status", "name"),
			Priority:  str(item, "fields", "priority", "name"),
			IssueType: str(item, "fields", "issuetype", "name"),
		})
	}
	return out
}

func attachments(items []any) []models.Attachment {
	out := make([]models.Attachment, 0, len(items))
	for _, item := range items {
		out = append(out, models.Attachment{
			Filename:   str(item, "filename"),
			Author:     str(item, "author", "displayName"),
			Created:    str(item, "created"),
			ContentRef: str(item, "content"),
		})
	}
	return out
}

func comments(items []any) []models.Comment {
	out := make([]models.Comment, 0, len(items))
	for _, item := range items {
		var body any
		if m, ok := item.(map[string]any); ok {
			body = m["body"]
		}
		out = append(out, models.Comment{
			Author:       str(item, "author", "displayName"),
			Text:         ExtractText(body),
			UpdateAuthor: str(item, "updateAuthor", "displayName"),
			Created:      str(item, "created"),
			Updated:      str(item, "updated"),
		})
	}
	return out
}

// str walks nested objects along path and returns the string found there,
// or "" when any step is missing or of another type.
func str(v any, path ...string) string {
	cur := v
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[p]
	}
	s, _ := cur.(string)
	return s
}
