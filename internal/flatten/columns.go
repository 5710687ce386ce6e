package flatten

// Column names shared by the file sinks and the database tables.
const (
	ColumnAuditID  = "AuditID"
	ColumnItemID   = "ItemID"
	ColumnDatePK   = "DatePK"
	ColumnActionID = "actionId"
	ColumnComment  = "Comment"
)

// AuditColumns is the column order of flattened audit rows. DatePK is not
// part of the file exports; tables append it.
var AuditColumns = []string{
	"SortingIndex",
	"ItemType",
	"Label",
	"Response",
	"Comment",
	"MediaHypertextReference",
	"Latitude",
	"Longitude",
	"ItemScore",
	"ItemMaxScore",
	"ItemScorePercentage",
	"Mandatory",
	"FailedResponse",
	"Inactive",
	"ItemID",
	"ResponseID",
	"ParentID",
	"AuditOwner",
	"AuditAuthor",
	"AuditOwnerID",
	"AuditAuthorID",
	"AuditName",
	"AuditScore",
	"AuditMaxScore",
	"AuditScorePercentage",
	"AuditDuration",
	"DateStarted",
	"DateCompleted",
	"DateModified",
	"AuditID",
	"TemplateID",
	"TemplateName",
	"TemplateAuthor",
	"TemplateAuthorID",
	"ItemCategory",
	"RepeatingSectionParentID",
	"DocumentNo",
	"ConductedOn",
	"PreparedBy",
	"Location",
	"Personnel",
	"ClientSite",
	"AuditSite",
	"AuditArea",
	"AuditRegion",
	"Archived",
}

// ActionColumns is the column order of flattened action rows.
var ActionColumns = []string{
	"actionId",
	"title",
	"description",
	"site",
	"assignee",
	"priority",
	"priorityCode",
	"status",
	"statusCode",
	"dueDatetime",
	"audit",
	"auditId",
	"linkedToItem",
	"linkedToItemId",
	"creatorName",
	"creatorId",
	"createdDatetime",
	"modifiedDatetime",
	"completedDatetime",
}

// MaxCommentLength bounds the Comment column.
const MaxCommentLength = 60000
