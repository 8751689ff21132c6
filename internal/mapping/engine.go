package mapping

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/heymumford/ztoq/internal/model"
)

// Engine converts extracted source items into target-shaped items. A
// transform is a pure function of the item and the mapping tables: it
// performs no I/O and never mutates its input, so the same input always
// yields the same output and warnings.
type Engine struct {
	statuses        map[string]string
	priorities      map[string]string
	defaultStatus   string
	defaultPriority string
	logger          *zap.Logger
}

// NewEngine creates a mapping engine
func NewEngine(tables *Tables, defaultStatus, defaultPriority string, logger *zap.Logger) *Engine {
	if tables == nil {
		tables = DefaultTables()
	}
	if defaultStatus == "" {
		defaultStatus = "Not Run"
	}
	if defaultPriority == "" {
		defaultPriority = "Medium"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		statuses:        normalizeTable(tables.Statuses),
		priorities:      normalizeTable(tables.Priorities),
		defaultStatus:   defaultStatus,
		defaultPriority: defaultPriority,
		logger:          logger,
	}
}

// normalizeKey folds case and surrounding whitespace so "pass", "Pass" and
// " PASS " all hit the same table entry.
func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func normalizeTable(table map[string]string) map[string]string {
	normalized := make(map[string]string, len(table))
	for from, to := range table {
		normalized[normalizeKey(from)] = to
	}
	return normalized
}

// Transform maps one source item to its target shape. A returned error
// marks the item as failed; warnings accompany a successful result and
// never fail the transform.
func (e *Engine) Transform(item *model.SourceItem) (*model.TargetItem, []model.Warning, error) {
	if item == nil {
		return nil, nil, fmt.Errorf("source item is nil")
	}
	if item.ID == "" {
		return nil, nil, fmt.Errorf("source item has no id")
	}
	if item.Name == "" && item.Kind != model.KindAttachment {
		return nil, nil, fmt.Errorf("%s %s has no name", item.Kind, item.ID)
	}

	var warnings []model.Warning

	target := &model.TargetItem{
		Kind:        item.Kind,
		SourceID:    item.ID,
		Name:        item.Name,
		Description: item.Description,
		ParentRef:   item.ParentID,
	}

	if len(item.Refs) > 0 {
		target.Refs = make(map[model.EntityKind]string, len(item.Refs))
		for kind, id := range item.Refs {
			target.Refs[kind] = id
		}
	}

	if item.Status != "" {
		mapped, ok := e.statuses[normalizeKey(item.Status)]
		if !ok {
			mapped = e.defaultStatus
			warnings = append(warnings, model.Warning{
				Code:    model.WarnUnknownStatus,
				Field:   "status",
				Message: fmt.Sprintf("unknown status %q, substituted %q", item.Status, mapped),
			})
		}
		target.Status = mapped
	}

	if item.Priority != "" {
		mapped, ok := e.priorities[normalizeKey(item.Priority)]
		if !ok {
			mapped = e.defaultPriority
			warnings = append(warnings, model.Warning{
				Code:    model.WarnUnknownStatus,
				Field:   "priority",
				Message: fmt.Sprintf("unknown priority %q, substituted %q", item.Priority, mapped),
			})
		}
		target.Priority = mapped
	}

	if len(item.Fields) > 0 {
		target.Fields = make(map[string]string, len(item.Fields))
		for _, field := range item.Fields {
			value, fieldWarnings := flattenField(field)
			target.Fields[field.Name] = value
			warnings = append(warnings, fieldWarnings...)
		}
	}

	warnings = append(warnings, e.mapDates(item, target)...)

	return target, warnings, nil
}

// mapDates normalizes the entity timestamps. An unparsable date is passed
// through raw so no information is lost, with a warning.
func (e *Engine) mapDates(item *model.SourceItem, target *model.TargetItem) []model.Warning {
	var warnings []model.Warning

	keep := func(field, raw string) {
		if target.RawDates == nil {
			target.RawDates = make(map[string]string)
		}
		target.RawDates[field] = raw
		warnings = append(warnings, model.Warning{
			Code:    model.WarnUnparsedDate,
			Field:   field,
			Message: fmt.Sprintf("could not parse date %q, passed through raw", raw),
		})
	}

	if item.CreatedAt != "" {
		if t, ok := parseDate(item.CreatedAt); ok {
			target.CreatedAt = &t
		} else {
			keep("created_at", item.CreatedAt)
		}
	}
	if item.UpdatedAt != "" {
		if t, ok := parseDate(item.UpdatedAt); ok {
			target.UpdatedAt = &t
		} else {
			keep("updated_at", item.UpdatedAt)
		}
	}
	return warnings
}

// flattenField renders one custom field value as the flat string the
// target system accepts. Structured shapes are flattened to a readable
// display form and the loss is recorded as a warning.
func flattenField(field model.CustomField) (string, []model.Warning) {
	switch field.Value.Type {
	case model.FieldScalar:
		return field.Value.Scalar, nil

	case model.FieldUserRef:
		if field.Value.User == nil {
			return "", nil
		}
		if field.Value.User.DisplayName != "" {
			return field.Value.User.DisplayName, nil
		}
		return field.Value.User.AccountID, nil

	case model.FieldDateLike:
		if t, ok := parseDate(field.Value.Date); ok {
			return t.Format("2006-01-02T15:04:05Z"), nil
		}
		return field.Value.Date, []model.Warning{{
			Code:    model.WarnUnparsedDate,
			Field:   field.Name,
			Message: fmt.Sprintf("could not parse date %q, passed through raw", field.Value.Date),
		}}

	case model.FieldTable:
		return flattenTable(field.Value.Table), []model.Warning{{
			Code:    model.WarnStructureLoss,
			Field:   field.Name,
			Message: "table field flattened to display text",
		}}

	case model.FieldHierarchical:
		return flattenTree(field.Value.Tree), []model.Warning{{
			Code:    model.WarnStructureLoss,
			Field:   field.Name,
			Message: "hierarchical field flattened to display text",
		}}

	default:
		return field.Value.Scalar, nil
	}
}

// flattenTable renders a row/column value as pipe-separated lines, header
// first.
func flattenTable(table *model.TableValue) string {
	if table == nil {
		return ""
	}
	lines := make([]string, 0, len(table.Rows)+1)
	if len(table.Columns) > 0 {
		lines = append(lines, strings.Join(table.Columns, " | "))
	}
	for _, row := range table.Rows {
		lines = append(lines, strings.Join(row, " | "))
	}
	return strings.Join(lines, "\n")
}

// flattenTree renders a hierarchical value as one root-to-node path per
// line.
func flattenTree(nodes []model.TreeNode) string {
	var lines []string
	var walk func(prefix string, node model.TreeNode)
	walk = func(prefix string, node model.TreeNode) {
		path := node.Label
		if prefix != "" {
			path = prefix + " > " + node.Label
		}
		lines = append(lines, path)
		for _, child := range node.Children {
			walk(path, child)
		}
	}
	for _, node := range nodes {
		walk("", node)
	}
	return strings.Join(lines, "\n")
}
