package importerr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulkimport/bulkimport/internal/importerr"
)

func TestFlatten(t *testing.T) {
	messages := map[string]interface{}{
		"metadata": map[string]interface{}{
			"title": []interface{}{"Missing data for required field."},
			"creators": []interface{}{
				map[string]interface{}{"person_or_org": map[string]interface{}{"family_name": []interface{}{"Missing data."}}},
				map[string]interface{}{"role": "Invalid value."},
			},
		},
		"access": map[string]string{"record": "Must be one of: public, restricted."},
	}

	got := importerr.Flatten(messages, "", importerr.TypeValidation)
	assert.Equal(t, importerr.List{
		{Type: importerr.TypeValidation, Loc: "access.record", Msg: "Must be one of: public, restricted."},
		{Type: importerr.TypeValidation, Loc: "metadata.creators.0.person_or_org.family_name", Msg: "Missing data."},
		{Type: importerr.TypeValidation, Loc: "metadata.creators.1.role", Msg: "Invalid value."},
		{Type: importerr.TypeValidation, Loc: "metadata.title", Msg: "Missing data for required field."},
	}, got)
}

func TestFlatten_LeafList(t *testing.T) {
	got := importerr.Flatten([]interface{}{"first", errors.New("second")}, "files", importerr.TypeFileNotFound)
	require.Len(t, got, 2)
	assert.Equal(t, "files", got[0].Loc)
	assert.Equal(t, "second", got[1].Msg)
}

func TestList(t *testing.T) {
	var l importerr.List
	assert.True(t, l.Empty())

	l.Add(importerr.TypeFileNotFound, "files", "File 'a' not found in bucket.")
	l.Addf(importerr.TypeCommunityNotFound, "communities", "Community '%s' not found.", "x")
	l.Extend(importerr.List{{Type: importerr.TypeFileNotFound, Loc: "files", Msg: "other"}})

	assert.False(t, l.Empty())
	assert.True(t, l.HasType(importerr.TypeCommunityNotFound))
	assert.Equal(t, 2, l.Count(importerr.TypeFileNotFound))
	assert.Equal(t, []string{importerr.TypeFileNotFound, importerr.TypeCommunityNotFound}, l.Types())
	assert.Contains(t, l.Summary(), "community_not_found at communities: Community 'x' not found.")
}

func TestRunError(t *testing.T) {
	cause := errors.New("boom")
	err := importerr.NewRunError("publish", "rec-1", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "publish 'rec-1': boom", err.Error())
	assert.Equal(t, importerr.Error{Type: importerr.TypeRecordService, Loc: "record", Msg: "publish 'rec-1': boom"}, err.AsError())
}

func TestJoinAndIndex(t *testing.T) {
	assert.Equal(t, "metadata.creators", importerr.Join("", "metadata", "", "creators"))
	assert.Equal(t, "creators.2", importerr.Index("creators", 2))
}
