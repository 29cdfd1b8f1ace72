package record_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulkimport/bulkimport/internal/importerr"
	"github.com/bulkimport/bulkimport/internal/record"
)

const imprintSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "isbn": {"type": "string"},
    "pages": {"type": "string"},
    "edition": {"type": "string"},
    "place": {"type": "string"},
    "volume": {"type": "string"},
    "series_name": {"type": "string"}
  }
}`

func validRecord() *record.Record {
	return &record.Record{
		Access: record.Access{Record: record.AccessPublic, Files: record.AccessPublic},
		Metadata: record.Metadata{
			ResourceType:    record.VocabRef{ID: "publication-article"},
			Title:           "A title",
			PublicationDate: "2024-05",
			Publisher:       "Acme Press",
			Creators: []record.Creatibutor{{
				PersonOrOrg: record.PersonOrOrg{Type: record.PersonalType, GivenName: "Jane", FamilyName: "Doe"},
			}},
		},
	}
}

func newValidator(t *testing.T) *record.Validator {
	t.Helper()
	v, err := record.NewValidator(record.ValidatorConfig{
		CustomFieldSchemas: map[string]string{"imprint:imprint": imprintSchema},
	})
	require.NoError(t, err)
	return v
}

func locs(errs importerr.List) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Loc)
	}
	return out
}

func TestValidator_ValidRecord(t *testing.T) {
	v := newValidator(t)
	assert.Empty(t, v.Validate(validRecord()))
}

func TestValidator_DiscriminantCompanions(t *testing.T) {
	v := newValidator(t)
	rec := validRecord()
	rec.Metadata.Creators = append(rec.Metadata.Creators,
		record.Creatibutor{PersonOrOrg: record.PersonOrOrg{Type: record.OrganizationalType}},
		record.Creatibutor{PersonOrOrg: record.PersonOrOrg{Type: record.PersonalType, GivenName: "Only"}},
	)

	errs := v.Validate(rec)
	assert.ElementsMatch(t, []string{
		"metadata.creators.1.person_or_org.name",
		"metadata.creators.2.person_or_org.family_name",
	}, locs(errs))
	for _, e := range errs {
		assert.Equal(t, importerr.TypeValidation, e.Type)
		assert.Equal(t, "Missing data for required field.", e.Msg)
	}
}

func TestValidator_RequiredFields(t *testing.T) {
	v := newValidator(t)
	errs := v.Validate(&record.Record{})
	assert.Subset(t, locs(errs), []string{
		"access.record",
		"access.files",
		"metadata.resource_type.id",
		"metadata.title",
		"metadata.publication_date",
		"metadata.publisher",
		"metadata.creators",
	})
}

func TestValidator_PublisherRequired(t *testing.T) {
	v := newValidator(t)
	rec := validRecord()
	require.Empty(t, v.Validate(rec))

	rec.Metadata.Publisher = ""
	errs := v.Validate(rec)
	require.Len(t, errs, 1)
	assert.Equal(t, "metadata.publisher", errs[0].Loc)
}

func TestValidator_PublicationDate(t *testing.T) {
	v := newValidator(t)
	tests := []struct {
		date  string
		valid bool
	}{
		{"2024", true},
		{"2024-02", true},
		{"2024-02-29", true},
		{"2020/2024-01", true},
		{"2023-02-30", false},
		{"2024-13", false},
		{"May 2024", false},
		{"2020/2021/2022", false},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			rec := validRecord()
			rec.Metadata.PublicationDate = tt.date
			errs := v.Validate(rec)
			if tt.valid {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Equal(t, "metadata.publication_date", errs[0].Loc)
		})
	}
}

func TestValidator_EmbargoNeedsUntil(t *testing.T) {
	v := newValidator(t)
	rec := validRecord()
	rec.Access.Embargo = &record.Embargo{Active: true, Reason: "pending"}

	errs := v.Validate(rec)
	require.Len(t, errs, 1)
	assert.Equal(t, "access.embargo.until", errs[0].Loc)

	rec.Access.Embargo.Until = "2030-01-01"
	assert.Empty(t, v.Validate(rec))
}

func TestValidator_CustomFields(t *testing.T) {
	v := newValidator(t)

	rec := validRecord()
	rec.CustomFields = map[string]interface{}{
		"imprint:imprint": map[string]interface{}{"isbn": "978-3-16-148410-0", "pages": "12"},
	}
	assert.Empty(t, v.Validate(rec))

	rec.CustomFields = map[string]interface{}{
		"imprint:imprint": map[string]interface{}{"pages": 12},
		"unknown:field":   "x",
	}
	errs := v.Validate(rec)
	assert.ElementsMatch(t, []string{"custom_fields.imprint:imprint.pages", "custom_fields.unknown:field"}, locs(errs))
}

func TestValidator_RejectsBadSchema(t *testing.T) {
	_, err := record.NewValidator(record.ValidatorConfig{
		CustomFieldSchemas: map[string]string{"broken": "{"},
	})
	assert.Error(t, err)
}
