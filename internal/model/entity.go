package model

import (
	"encoding/json"
	"time"
)

// EntityKind identifies one of the fixed migration object types.
type EntityKind string

const (
	// KindProject represents a source project
	KindProject EntityKind = "project"
	// KindFolder represents a test case/cycle folder
	KindFolder EntityKind = "folder"
	// KindCustomField represents a custom field definition
	KindCustomField EntityKind = "custom_field"
	// KindTestCase represents a test case
	KindTestCase EntityKind = "test_case"
	// KindTestStep represents a test step within a test case
	KindTestStep EntityKind = "test_step"
	// KindTestCycle represents a test cycle
	KindTestCycle EntityKind = "test_cycle"
	// KindTestExecution represents a test execution result
	KindTestExecution EntityKind = "test_execution"
	// KindAttachment represents a binary attachment
	KindAttachment EntityKind = "attachment"
)

// KindLevels groups entity kinds into dependency levels. Kinds within one
// level have no references to each other and may be processed concurrently;
// a level must complete before the next level starts.
var KindLevels = [][]EntityKind{
	{KindProject},
	{KindFolder, KindCustomField},
	{KindTestCase},
	{KindTestStep, KindTestCycle},
	{KindTestExecution},
	{KindAttachment},
}

// AllKinds returns every entity kind in dependency order.
func AllKinds() []EntityKind {
	kinds := make([]EntityKind, 0, 8)
	for _, level := range KindLevels {
		kinds = append(kinds, level...)
	}
	return kinds
}

// IsValidKind reports whether k is one of the known entity kinds.
func IsValidKind(k EntityKind) bool {
	for _, known := range AllKinds() {
		if known == k {
			return true
		}
	}
	return false
}

// FieldType discriminates the custom field value union. The shape is
// resolved once at extraction time so later stages dispatch on a closed
// variant set instead of inspecting raw JSON.
type FieldType string

const (
	// FieldScalar is a plain string/number/bool value
	FieldScalar FieldType = "scalar"
	// FieldTable is a row/column structured value
	FieldTable FieldType = "table"
	// FieldHierarchical is a nested tree value
	FieldHierarchical FieldType = "hierarchical"
	// FieldUserRef is a reference to a user account
	FieldUserRef FieldType = "user_ref"
	// FieldDateLike is a value that looks like a date or timestamp
	FieldDateLike FieldType = "date_like"
)

// FieldValue is a tagged union over the custom field shapes the source
// system returns. Exactly one of the variant members is set, per Type.
type FieldValue struct {
	Type   FieldType   `json:"type"`
	Scalar string      `json:"scalar,omitempty"`
	Table  *TableValue `json:"table,omitempty"`
	Tree   []TreeNode  `json:"tree,omitempty"`
	User   *UserRef    `json:"user,omitempty"`
	Date   string      `json:"date,omitempty"`
}

// TableValue is a row/column structured custom field value.
type TableValue struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// TreeNode is one node of a hierarchical custom field value.
type TreeNode struct {
	Label    string     `json:"label"`
	Children []TreeNode `json:"children,omitempty"`
}

// UserRef identifies a user account in the source system.
type UserRef struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// CustomField pairs a field name with its resolved value.
type CustomField struct {
	Name  string     `json:"name"`
	Value FieldValue `json:"value"`
}

// SourceItem is one entity as read from the source system.
type SourceItem struct {
	ID          string                    `json:"id"`
	Kind        EntityKind                `json:"kind"`
	Key         string                    `json:"key,omitempty"`
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	Status      string                    `json:"status,omitempty"`
	Priority    string                    `json:"priority,omitempty"`
	ParentID    string                    `json:"parent_id,omitempty"`
	Refs        map[EntityKind]string     `json:"refs,omitempty"`
	Fields      []CustomField             `json:"fields,omitempty"`
	CreatedAt   string                    `json:"created_at,omitempty"`
	UpdatedAt   string                    `json:"updated_at,omitempty"`
	Extra       map[string]json.RawMessage `json:"extra,omitempty"`
}

// TargetItem is the target-shaped form of one entity produced by the
// mapping engine. Foreign references carry source identifiers until the
// load phase resolves them through the identifier map.
type TargetItem struct {
	Kind        EntityKind            `json:"kind"`
	SourceID    string                `json:"source_id"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Status      string                `json:"status,omitempty"`
	Priority    string                `json:"priority,omitempty"`
	ParentRef   string                `json:"parent_ref,omitempty"`
	Refs        map[EntityKind]string `json:"refs,omitempty"`
	Fields      map[string]string     `json:"fields,omitempty"`
	CreatedAt   *time.Time            `json:"created_at,omitempty"`
	UpdatedAt   *time.Time            `json:"updated_at,omitempty"`
	RawDates    map[string]string     `json:"raw_dates,omitempty"`
}

// WarningCode classifies a data-quality warning attached to a transformed
// record. Warnings never fail a transform.
type WarningCode string

const (
	// WarnUnknownStatus is recorded when a status/priority value has no
	// mapping table entry and the configured default was substituted
	WarnUnknownStatus WarningCode = "unknown_status"
	// WarnStructureLoss is recorded when a table or hierarchical field was
	// flattened into a display representation
	WarnStructureLoss WarningCode = "structure_loss"
	// WarnUnparsedDate is recorded when a date failed to parse and the raw
	// text was passed through
	WarnUnparsedDate WarningCode = "unparsed_date"
)

// Warning is a data-quality note attached to a transformed record.
type Warning struct {
	Code    WarningCode `json:"code"`
	Field   string      `json:"field,omitempty"`
	Message string      `json:"message"`
}

// Entity is one staged record in the entity store, carrying the source
// payload, the transformed payload once available, and its warnings.
type Entity struct {
	Project       string
	Kind          EntityKind
	SourceID      string
	TargetID      string
	Source        *SourceItem
	Transformed   *TargetItem
	Warnings      []Warning
	ExtractedAt   time.Time
	TransformedAt *time.Time
}

// IdentifierMapping is one durable source-id to target-id translation,
// written once per entity during the load phase.
type IdentifierMapping struct {
	Project   string
	Kind      EntityKind
	SourceID  string
	TargetID  string
	CreatedAt time.Time
}
