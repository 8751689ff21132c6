package mapping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heymumford/ztoq/internal/model"
)

func newTestEngine() *Engine {
	return NewEngine(DefaultTables(), "Not Run", "Medium", nil)
}

func TestTransformMapsStatusAndPriority(t *testing.T) {
	engine := newTestEngine()

	item := &model.SourceItem{
		ID:       "tc-1",
		Kind:     model.KindTestCase,
		Name:     "Login works",
		Status:   "Pass",
		Priority: "Highest",
	}

	target, warnings, err := engine.Transform(item)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "Passed", target.Status)
	assert.Equal(t, "Urgent", target.Priority)
	assert.Equal(t, "tc-1", target.SourceID)
}

func TestTransformNormalizesStatusAndPriorityCasing(t *testing.T) {
	engine := newTestEngine()

	cases := []struct {
		status       string
		priority     string
		wantStatus   string
		wantPriority string
	}{
		{"pass", "highest", "Passed", "Urgent"},
		{" Pass ", " High ", "Passed", "High"},
		{"FAIL", "LOWEST", "Failed", "Low"},
		{"not run", "normal", "Not Run", "Medium"},
	}

	for _, tc := range cases {
		target, warnings, err := engine.Transform(&model.SourceItem{
			ID:       "tc-1",
			Kind:     model.KindTestCase,
			Name:     "Login works",
			Status:   tc.status,
			Priority: tc.priority,
		})
		require.NoError(t, err)
		assert.Empty(t, warnings, "%q/%q must hit the table, not the default", tc.status, tc.priority)
		assert.Equal(t, tc.wantStatus, target.Status)
		assert.Equal(t, tc.wantPriority, target.Priority)
	}
}

func TestTransformUnknownStatusFallsBackWithWarning(t *testing.T) {
	engine := newTestEngine()

	item := &model.SourceItem{
		ID:     "tc-2",
		Kind:   model.KindTestCase,
		Name:   "Odd status",
		Status: "Quarantined",
	}

	target, warnings, err := engine.Transform(item)
	require.NoError(t, err)
	assert.Equal(t, "Not Run", target.Status)
	require.Len(t, warnings, 1)
	assert.Equal(t, model.WarnUnknownStatus, warnings[0].Code)
	assert.Equal(t, "status", warnings[0].Field)
}

func TestTransformMissingNameFails(t *testing.T) {
	engine := newTestEngine()

	_, _, err := engine.Transform(&model.SourceItem{
		ID:   "tc-3",
		Kind: model.KindTestCase,
	})
	require.Error(t, err)
}

func TestTransformAttachmentWithoutNameSucceeds(t *testing.T) {
	engine := newTestEngine()

	target, _, err := engine.Transform(&model.SourceItem{
		ID:   "att-1",
		Kind: model.KindAttachment,
	})
	require.NoError(t, err)
	assert.Equal(t, "att-1", target.SourceID)
}

func TestTransformFlattensTableField(t *testing.T) {
	engine := newTestEngine()

	item := &model.SourceItem{
		ID:   "tc-4",
		Kind: model.KindTestCase,
		Name: "Table field",
		Fields: []model.CustomField{
			{
				Name: "Environments",
				Value: model.FieldValue{
					Type: model.FieldTable,
					Table: &model.TableValue{
						Columns: []string{"OS", "Browser"},
						Rows:    [][]string{{"Linux", "Firefox"}, {"macOS", "Safari"}},
					},
				},
			},
		},
	}

	target, warnings, err := engine.Transform(item)
	require.NoError(t, err)
	assert.Equal(t, "OS | Browser\nLinux | Firefox\nmacOS | Safari", target.Fields["Environments"])
	require.Len(t, warnings, 1)
	assert.Equal(t, model.WarnStructureLoss, warnings[0].Code)
	assert.Equal(t, "Environments", warnings[0].Field)
}

func TestTransformFlattensHierarchicalField(t *testing.T) {
	engine := newTestEngine()

	item := &model.SourceItem{
		ID:   "tc-5",
		Kind: model.KindTestCase,
		Name: "Tree field",
		Fields: []model.CustomField{
			{
				Name: "Component",
				Value: model.FieldValue{
					Type: model.FieldHierarchical,
					Tree: []model.TreeNode{
						{
							Label: "Backend",
							Children: []model.TreeNode{
								{Label: "Auth"},
								{Label: "Billing"},
							},
						},
					},
				},
			},
		},
	}

	target, warnings, err := engine.Transform(item)
	require.NoError(t, err)
	assert.Equal(t, "Backend\nBackend > Auth\nBackend > Billing", target.Fields["Component"])
	require.Len(t, warnings, 1)
	assert.Equal(t, model.WarnStructureLoss, warnings[0].Code)
}

func TestTransformUserRefPrefersDisplayName(t *testing.T) {
	engine := newTestEngine()

	item := &model.SourceItem{
		ID:   "tc-6",
		Kind: model.KindTestCase,
		Name: "User field",
		Fields: []model.CustomField{
			{
				Name: "Owner",
				Value: model.FieldValue{
					Type: model.FieldUserRef,
					User: &model.UserRef{AccountID: "acc-9", DisplayName: "Dana Oliver"},
				},
			},
			{
				Name: "Reviewer",
				Value: model.FieldValue{
					Type: model.FieldUserRef,
					User: &model.UserRef{AccountID: "acc-10"},
				},
			},
		},
	}

	target, warnings, err := engine.Transform(item)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "Dana Oliver", target.Fields["Owner"])
	assert.Equal(t, "acc-10", target.Fields["Reviewer"])
}

func TestTransformNormalizesEntityDates(t *testing.T) {
	engine := newTestEngine()

	item := &model.SourceItem{
		ID:        "tc-7",
		Kind:      model.KindTestCase,
		Name:      "Dates",
		CreatedAt: "2024-03-05T10:30:00Z",
		UpdatedAt: "05/Mar/2024",
	}

	target, warnings, err := engine.Transform(item)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.NotNil(t, target.CreatedAt)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC), *target.CreatedAt)
	require.NotNil(t, target.UpdatedAt)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), *target.UpdatedAt)
}

func TestTransformKeepsUnparsableDateRaw(t *testing.T) {
	engine := newTestEngine()

	item := &model.SourceItem{
		ID:        "tc-8",
		Kind:      model.KindTestCase,
		Name:      "Bad date",
		CreatedAt: "around noon last Tuesday",
	}

	target, warnings, err := engine.Transform(item)
	require.NoError(t, err)
	assert.Nil(t, target.CreatedAt)
	assert.Equal(t, "around noon last Tuesday", target.RawDates["created_at"])
	require.Len(t, warnings, 1)
	assert.Equal(t, model.WarnUnparsedDate, warnings[0].Code)
}

func TestTransformIsDeterministic(t *testing.T) {
	engine := newTestEngine()

	item := &model.SourceItem{
		ID:       "tc-9",
		Kind:     model.KindTestCase,
		Name:     "Same in, same out",
		Status:   "Fail",
		Priority: "Low",
		Fields: []model.CustomField{
			{Name: "Note", Value: model.FieldValue{Type: model.FieldScalar, Scalar: "x"}},
		},
	}

	first, firstWarnings, err := engine.Transform(item)
	require.NoError(t, err)
	second, secondWarnings, err := engine.Transform(item)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstWarnings, secondWarnings)
}

func TestTransformDoesNotMutateInput(t *testing.T) {
	engine := newTestEngine()

	item := &model.SourceItem{
		ID:     "tc-10",
		Kind:   model.KindTestCase,
		Name:   "Immutable",
		Status: "Pass",
		Refs:   map[model.EntityKind]string{model.KindTestCycle: "cycle-1"},
	}

	_, _, err := engine.Transform(item)
	require.NoError(t, err)
	assert.Equal(t, "Pass", item.Status)
	assert.Equal(t, "cycle-1", item.Refs[model.KindTestCycle])
}
