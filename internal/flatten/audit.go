package flatten

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/rpattn/auditsync/internal/domain"
)

// headerLabels maps well-known header item labels onto their columns.
var headerLabels = map[string]string{
	"document no.":  "DocumentNo",
	"document no":   "DocumentNo",
	"conducted on":  "ConductedOn",
	"prepared by":   "PreparedBy",
	"location":      "Location",
	"personnel":     "Personnel",
	"client / site": "ClientSite",
	"client/site":   "ClientSite",
}

// Audit flattens an audit body into one row per header and body item. Every
// row carries the audit level columns and DatePK.
func Audit(body []byte) ([]domain.Row, error) {
	doc, err := parse(body)
	if err != nil {
		return nil, err
	}
	auditID, err := required(doc, "audit_id")
	if err != nil {
		return nil, err
	}
	modifiedAt, err := requiredTime(doc, "modified_at")
	if err != nil {
		return nil, err
	}

	common := domain.Row{
		"AuditID":              auditID,
		"DatePK":               DatePK(modifiedAt),
		"TemplateID":           optional(doc, "template_id"),
		"TemplateName":         optional(doc, "template_data.metadata.name"),
		"TemplateAuthor":       optional(doc, "template_data.authorship.author"),
		"TemplateAuthorID":     optional(doc, "template_data.authorship.author_id"),
		"AuditName":            optional(doc, "audit_data.name"),
		"AuditOwner":           optional(doc, "audit_data.authorship.owner"),
		"AuditOwnerID":         optional(doc, "audit_data.authorship.owner_id"),
		"AuditAuthor":          optional(doc, "audit_data.authorship.author"),
		"AuditAuthorID":        optional(doc, "audit_data.authorship.author_id"),
		"AuditScore":           optional(doc, "audit_data.score"),
		"AuditMaxScore":        optional(doc, "audit_data.total_score"),
		"AuditScorePercentage": optional(doc, "audit_data.score_percentage"),
		"AuditDuration":        optional(doc, "audit_data.duration"),
		"DateStarted":          optional(doc, "audit_data.date_started"),
		"DateCompleted":        optional(doc, "audit_data.date_completed"),
		"DateModified":         optional(doc, "audit_data.date_modified", "modified_at"),
		"AuditSite":            optional(doc, "audit_data.site.name"),
		"AuditArea":            optional(doc, "audit_data.site.area.name"),
		"AuditRegion":          optional(doc, "audit_data.site.region.name"),
		"Archived":             optional(doc, "archived"),
	}

	items := append(doc.Get("header_items").Array(), doc.Get("items").Array()...)
	byID := make(map[string]gjson.Result, len(items))
	for _, item := range items {
		if id := item.Get("item_id").String(); id != "" {
			byID[id] = item
		}
	}

	for _, item := range doc.Get("header_items").Array() {
		column, ok := headerLabels[strings.ToLower(strings.TrimSpace(item.Get("label").String()))]
		if !ok || common[column] != "" {
			continue
		}
		value, _ := response(item)
		common[column] = value
	}

	rows := make([]domain.Row, 0, len(items))
	for i, item := range items {
		itemID := item.Get("item_id").String()
		if itemID == "" {
			return nil, fmt.Errorf("%w: item %d of %s has no item_id", ErrMissingField, i, auditID)
		}

		row := make(domain.Row, len(AuditColumns)+1)
		for k, v := range common {
			row[k] = v
		}
		itemType := item.Get("type").String()
		value, responseIDs := response(item)

		row["SortingIndex"] = strconv.Itoa(i + 1)
		row["ItemType"] = itemType
		row["Label"] = item.Get("label").String()
		row["Response"] = value
		row["ResponseID"] = responseIDs
		row["ItemID"] = itemID
		row["ParentID"] = item.Get("parent_id").String()
		row["Mandatory"] = optional(item, "options.is_mandatory")
		row["FailedResponse"] = optional(item, "responses.failed")
		row["Inactive"] = optional(item, "inactive")
		row["ItemScore"] = optional(item, "scoring.combined_score", "scoring.score")
		row["ItemMaxScore"] = optional(item, "scoring.combined_max_score", "scoring.max_score")
		row["ItemScorePercentage"] = optional(item, "scoring.combined_score_percentage", "scoring.score_percentage")
		row["MediaHypertextReference"] = mediaLinks(item)
		row["ItemCategory"] = category(item, byID)

		coordinates := item.Get("responses.location.geometry.coordinates").Array()
		if len(coordinates) == 2 {
			row["Longitude"] = coordinates[0].String()
			row["Latitude"] = coordinates[1].String()
		}

		if itemType != "text" && itemType != "textsingle" {
			row["Comment"] = truncate(item.Get("responses.text").String(), MaxCommentLength)
		}

		rows = append(rows, row)
	}
	return rows, nil
}

// ActiveOnly drops the rows of items hidden by template logic and renumbers
// SortingIndex over the rows that remain.
func ActiveOnly(rows []domain.Row) []domain.Row {
	out := make([]domain.Row, 0, len(rows))
	for _, row := range rows {
		if row["Inactive"] == "true" {
			continue
		}
		row["SortingIndex"] = strconv.Itoa(len(out) + 1)
		out = append(out, row)
	}
	return out
}

// response renders an item's answer and the IDs of selected responses.
func response(item gjson.Result) (string, string) {
	responses := item.Get("responses")
	switch item.Get("type").String() {
	case "question", "list":
		var labels, ids []string
		responses.Get("selected").ForEach(func(_, selected gjson.Result) bool {
			labels = append(labels, selected.Get("label").String())
			ids = append(ids, selected.Get("id").String())
			return true
		})
		return strings.Join(labels, ", "), strings.Join(ids, ", ")
	case "text", "textsingle":
		return responses.Get("text").String(), ""
	case "datetime":
		return responses.Get("datetime").String(), ""
	case "address":
		return responses.Get("location_text").String(), ""
	case "signature":
		return responses.Get("name").String(), ""
	case "media", "drawing", "section", "category":
		return "", ""
	}
	return optional(item, "responses.value", "responses.text"), ""
}

func mediaLinks(item gjson.Result) string {
	var links []string
	for _, path := range []string{"media", "responses.media", "responses.image"} {
		eachObject(item.Get(path), func(m gjson.Result) {
			if href := m.Get("href").String(); href != "" {
				links = append(links, href)
			}
		})
	}
	return strings.Join(links, "\n")
}

// category walks up the parent chain to the nearest category item.
func category(item gjson.Result, byID map[string]gjson.Result) string {
	seen := make(map[string]struct{})
	parentID := item.Get("parent_id").String()
	for parentID != "" {
		if _, loop := seen[parentID]; loop {
			return ""
		}
		seen[parentID] = struct{}{}
		parent, ok := byID[parentID]
		if !ok {
			return ""
		}
		if parent.Get("type").String() == "category" {
			return parent.Get("label").String()
		}
		parentID = parent.Get("parent_id").String()
	}
	return ""
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
