package grouping_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulkimport/bulkimport/internal/grouping"
)

func TestGroup_AlignsValuesByIndex(t *testing.T) {
	row := grouping.Row{
		"creators.type":        "personal\norganizational\npersonal",
		"creators.given_name":  "Jane\n\nJohn",
		"creators.family_name": "Doe\n\nSmith",
		"creators.name":        "\nCERN",
		"title":                "unrelated",
	}

	items := grouping.Group(row, "creators")
	require.Len(t, items, 3)

	assert.Equal(t, grouping.Item{"type": "personal", "given_name": "Jane", "family_name": "Doe"}, items[0])
	assert.Equal(t, grouping.Item{"type": "organizational", "name": "CERN"}, items[1])
	assert.Equal(t, grouping.Item{"type": "personal", "given_name": "John", "family_name": "Smith"}, items[2])
}

func TestGroup_DropsEmptyItems(t *testing.T) {
	row := grouping.Row{
		"identifiers.scheme":     "doi\n \nurl",
		"identifiers.identifier": "10.1/x\n\nhttps://x.org",
	}

	items := grouping.Group(row, "identifiers")
	require.Len(t, items, 2)
	assert.Equal(t, "url", items[1].Get("scheme"))
}

func TestGroup_MissingOrBlankColumns(t *testing.T) {
	assert.Empty(t, grouping.Group(grouping.Row{}, "creators"))
	assert.Empty(t, grouping.Group(grouping.Row{"creators.name": "  "}, "creators"))
}

func TestGroup_RoundTripsNPeople(t *testing.T) {
	given := []string{"Ada", "Grace", "Alan", "Edsger"}
	family := []string{"Lovelace", "Hopper", "Turing", "Dijkstra"}

	row := grouping.Row{}
	for i := range given {
		sep := ""
		if i > 0 {
			sep = grouping.ItemSeparator
		}
		row["creators.given_name"] += sep + given[i]
		row["creators.family_name"] += sep + family[i]
	}

	items := grouping.Group(row, "creators")
	require.Len(t, items, len(given))
	for i, item := range items {
		assert.Equal(t, given[i], item.Get("given_name"))
		assert.Equal(t, family[i], item.Get("family_name"))
	}
}

func TestNested_SplitsSubItems(t *testing.T) {
	item := grouping.Item{
		"type":              "personal",
		"affiliations.id":   "01ggx4157;",
		"affiliations.name": "CERN;Caltech",
	}

	nested := grouping.Nested(item, "affiliations")
	require.Len(t, nested, 2)
	assert.Equal(t, grouping.Item{"id": "01ggx4157", "name": "CERN"}, nested[0])
	assert.Equal(t, grouping.Item{"name": "Caltech"}, nested[1])
}

func TestByColumnTitle(t *testing.T) {
	row := grouping.Row{
		"description":              "main",
		"description.abstract":     "An abstract",
		"description.methods.eng":  "Method one\nMethod two",
		"description.notes.x.deep": "ignored",
	}

	got := grouping.ByColumnTitle(row, "description")
	assert.Equal(t, []grouping.Titled{
		{Value: "An abstract", Type: "abstract"},
		{Value: "Method one", Type: "methods", Lang: "eng"},
		{Value: "Method two", Type: "methods", Lang: "eng"},
	}, got)
}

func TestRow_List(t *testing.T) {
	row := grouping.Row{"files": "a.txt\n\n b.txt \n"}
	assert.Equal(t, []string{"a.txt", "b.txt"}, row.List("files"))
	assert.Nil(t, row.List("missing"))
}
