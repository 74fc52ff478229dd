package report

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Ilia01/jira2drive/internal/models"
)

// Field labels with a fixed place in the layout.
const (
	LabelSummary    = "Summary"
	LabelProject    = "Project"
	LabelIssueType  = "Issue Type"
	LabelAK         = "ΑΚ"
	LabelCompany    = "Εταιρεία Ανάθεσης"
	LabelBuilding   = "Building Id"
	LabelStatus     = "Status"
	LabelResolution = "Resolution"
	LabelAssignee   = "Assignee"
	LabelPriority   = "Priority"
	LabelCreated    = "Created"
	LabelStartDate  = "Start Date"
	LabelEndDate    = "End Date"
	LabelDuration   = "Διάρκεια"
	LabelParent     = "Parent"
	LabelKey        = "key"
)

const nullText = "null"

type fixedField struct {
	label   string
	display string
	date    bool
}

var mainFixed = []fixedField{
	{label: LabelIssueType, display: "Issue Type"},
	{label: LabelAK, display: "ΑΚ"},
	{label: LabelCompany, display: "Εταιρεία Ανάθεσης"},
	{label: LabelBuilding, display: "BID"},
	{label: LabelStatus, display: "Status"},
	{label: LabelResolution, display: "Resolution"},
	{label: LabelAssignee, display: "Assignee"},
	{label: LabelPriority, display: "Priority"},
	{label: LabelCreated, display: "Created", date: true},
	{label: LabelStartDate, display: "Start Date", date: true},
	{label: LabelEndDate, display: "End Date", date: true},
	{label: LabelDuration, display: "Διάρκεια"},
}

var subtaskFixed = []fixedField{
	{label: LabelIssueType, display: "Issue Type"},
	{label: LabelStatus, display: "Status"},
	{label: LabelResolution, display: "Resolution"},
	{label: LabelAssignee, display: "Assignee"},
	{label: LabelPriority, display: "Priority"},
	{label: LabelCreated, display: "Created", date: true},
	{label: LabelStartDate, display: "Start Date", date: true},
	{label: LabelEndDate, display: "End Date", date: true},
	{label: LabelDuration, display: "Διάρκεια"},
}

// Labels rendered in the title block or deliberately left out of the
// generic field listing.
var (
	mainTitleLabels    = []string{LabelSummary, LabelKey, LabelProject}
	subtaskTitleLabels = []string{LabelSummary, LabelKey, LabelParent}
)

// Composer turns flat records into report sections. Images are fetched
// while composing so the finished sections carry their bytes.
type Composer struct {
	fetcher Fetcher
	tempDir string
	log     *zap.Logger
}

// NewComposer returns a composer that downloads images through fetcher
// into short-lived files under tempDir.
func NewComposer(fetcher Fetcher, tempDir string, log *zap.Logger) *Composer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Composer{fetcher: fetcher, tempDir: tempDir, log: log}
}

// MainSection lays out the main issue: title, fixed fields, remaining
// fields, comments, attachments and the subtask index.
func (c *Composer) MainSection(ctx context.Context, rec *models.FlatRecord) Section {
	w := &sectionWriter{}

	w.line(16, Span{Text: value(rec, LabelSummary), Underline: true})
	w.line(14, Span{Text: fmt.Sprintf("%s - %s", rec.Key, value(rec, LabelProject))})
	w.space(1)

	w.fixedFields(rec, mainFixed)
	w.space(1)
	w.remainingFields(rec, mainFixed, mainTitleLabels)
	w.space(3)
	w.comments(rec.Comments)
	w.blocks = append(w.blocks, c.attachmentBlocks(ctx, rec.Key, rec.Attachments)...)
	w.subtaskIndex(rec.Subtasks)

	return Section{Kind: SectionMain, Key: rec.Key, Blocks: w.blocks}
}

// SubtaskSection lays out a subtask on a fresh page. The company
// attributes and the subtask index are omitted.
func (c *Composer) SubtaskSection(ctx context.Context, rec *models.FlatRecord) Section {
	w := &sectionWriter{}

	w.pageBreak()
	w.line(14, Span{Text: rec.Key})
	w.line(16, Span{Text: value(rec, LabelSummary), Underline: true})
	w.space(2)

	w.fixedFields(rec, subtaskFixed)
	w.space(2)
	w.remainingFields(rec, subtaskFixed, subtaskTitleLabels)
	w.space(3)
	w.comments(rec.Comments)
	w.blocks = append(w.blocks, c.attachmentBlocks(ctx, rec.Key, rec.Attachments)...)

	return Section{Kind: SectionSubtask, Key: rec.Key, Blocks: w.blocks}
}

// UnavailableSection stands in for a subtask that could not be fetched.
func UnavailableSection(key string, cause error) Section {
	w := &sectionWriter{}
	w.pageBreak()
	w.line(14, Span{Text: key})
	w.line(16, Span{Text: "Subtask unavailable", Underline: true})
	w.space(1)
	if cause != nil {
		w.line(10, Span{Text: cause.Error(), Color: Gray})
	}
	return Section{Kind: SectionUnavailable, Key: key, Blocks: w.blocks}
}

func value(rec *models.FlatRecord, label string) string {
	v, _ := rec.Get(label)
	return v
}

type sectionWriter struct {
	blocks []Block
}

func (w *sectionWriter) line(size float64, spans ...Span) {
	w.blocks = append(w.blocks, Block{Kind: BlockLine, Size: size, Spans: spans})
}

func (w *sectionWriter) space(lines float64) {
	w.blocks = append(w.blocks, Block{Kind: BlockSpace, Lines: lines})
}

func (w *sectionWriter) pageBreak() {
	w.blocks = append(w.blocks, Block{Kind: BlockPageBreak})
}

func (w *sectionWriter) field(size float64, label, val string) {
	w.line(size, Span{Text: label + ": "}, Span{Text: val, Color: Blue})
}

// fixedFields renders the fixed set in order. ΑΚ and the company share a
// line when both are part of the set.
func (w *sectionWriter) fixedFields(rec *models.FlatRecord, fields []fixedField) {
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if f.label == LabelAK && i+1 < len(fields) && fields[i+1].label == LabelCompany {
			next := fields[i+1]
			w.line(12,
				Span{Text: f.display + ": "},
				Span{Text: fixedValue(rec, f) + "     ", Color: Blue},
				Span{Text: next.display + ": "},
				Span{Text: fixedValue(rec, next), Color: Blue},
			)
			i++
			continue
		}
		w.field(12, f.display, fixedValue(rec, f))
	}
}

func fixedValue(rec *models.FlatRecord, f fixedField) string {
	v, ok := rec.Get(f.label)
	if !ok || v == "" {
		return nullText
	}
	if f.date {
		return formatDateField(v)
	}
	return v
}

// remainingFields renders every scalar not placed elsewhere, in label
// order: "" as null, timestamps formatted, anything else verbatim.
func (w *sectionWriter) remainingFields(rec *models.FlatRecord, fixed []fixedField, title []string) {
	skip := make(map[string]struct{}, len(fixed)+len(title))
	for _, f := range fixed {
		skip[f.label] = struct{}{}
	}
	for _, l := range title {
		skip[l] = struct{}{}
	}
	for _, label := range rec.Labels() {
		if _, ok := skip[label]; ok {
			continue
		}
		w.field(12, label, displayValue(rec.Fields[label]))
	}
}

func displayValue(v string) string {
	switch {
	case v == "":
		return nullText
	case IsTimestamp(v):
		return FormatDate(v)
	default:
		return v
	}
}

func (w *sectionWriter) comments(comments []models.Comment) {
	w.line(14, Span{Text: "Comments", Underline: true})
	w.space(1)
	for _, cm := range comments {
		w.line(10, Span{Text: cm.Author + "    "}, Span{Text: formatDateField(cm.Created)})
		w.line(12, Span{Text: "Text: "}, Span{Text: cm.Text, Color: Blue})
		w.line(10, Span{Text: "Update: "}, Span{Text: cm.UpdateAuthor + "    "}, Span{Text: formatDateField(cm.Updated)})
		w.space(2)
	}
}

func (w *sectionWriter) subtaskIndex(subtasks []models.Subtask) {
	w.pageBreak()
	w.line(16, Span{Text: "Subtasks", Underline: true})
	w.space(2)
	for _, st := range subtasks {
		w.line(12, Span{Text: st.Key, Color: Blue, Underline: true})
		w.line(12, Span{Text: st.Summary})
		w.field(12, "Status", st.Status)
		w.field(12, "Priority", st.Priority)
		w.field(12, "Issue Type", st.IssueType)
		w.space(1)
	}
}
