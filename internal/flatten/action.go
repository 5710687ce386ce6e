package flatten

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/rpattn/auditsync/internal/domain"
)

var (
	priorityLabels = map[int64]string{0: "None", 10: "Low", 20: "Medium", 30: "High"}
	statusLabels   = map[int64]string{0: "To Do", 10: "In Progress", 50: "Done", 60: "Cannot Do"}
)

// Action flattens an action body into a single row.
func Action(body []byte) (domain.Row, error) {
	doc, err := parse(body)
	if err != nil {
		return nil, err
	}
	actionID, err := required(doc, "action_id")
	if err != nil {
		return nil, err
	}
	modifiedAt, err := requiredTime(doc, "modified_at")
	if err != nil {
		return nil, err
	}

	var assignees []string
	doc.Get("assignees").ForEach(func(_, assignee gjson.Result) bool {
		if name := assignee.Get("name").String(); name != "" {
			assignees = append(assignees, name)
		}
		return true
	})

	row := domain.Row{
		"actionId":          actionID,
		"title":             optional(doc, "title"),
		"description":       optional(doc, "description"),
		"site":              site(doc),
		"assignee":          strings.Join(assignees, ", "),
		"dueDatetime":       optional(doc, "due_at"),
		"audit":             optional(doc, "audit.name"),
		"auditId":           optional(doc, "audit.audit_id"),
		"linkedToItem":      optional(doc, "item.label"),
		"linkedToItemId":    optional(doc, "item.item_id"),
		"creatorName":       optional(doc, "created_by.name"),
		"creatorId":         optional(doc, "created_by.user_id"),
		"createdDatetime":   optional(doc, "created_at"),
		"modifiedDatetime":  optional(doc, "modified_at"),
		"completedDatetime": optional(doc, "completed_at"),
		ColumnDatePK:        DatePK(modifiedAt),
	}
	row["priority"], row["priorityCode"] = coded(doc.Get("priority"), priorityLabels)
	row["status"], row["statusCode"] = coded(doc.Get("status"), statusLabels)
	return row, nil
}

func site(doc gjson.Result) string {
	value := doc.Get("site")
	if value.IsObject() {
		return value.Get("name").String()
	}
	return value.String()
}

func coded(value gjson.Result, labels map[int64]string) (string, string) {
	if !value.Exists() || value.Type == gjson.Null {
		return "", ""
	}
	code := value.Int()
	return labels[code], strconv.FormatInt(code, 10)
}
