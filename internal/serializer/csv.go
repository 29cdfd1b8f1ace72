package serializer

import (
	"context"
	"io"
	"iter"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bulkimport/bulkimport/internal/grouping"
	"github.com/bulkimport/bulkimport/internal/importerr"
	"github.com/bulkimport/bulkimport/internal/record"
	"github.com/bulkimport/bulkimport/internal/repository"
)

// CSVName is the registry name of the CSV record serializer.
const CSVName = "csv"

// CSVConfig configures the CSV record serializer.
type CSVConfig struct {
	// Vocabulary resolves "subjects.subject"/"subjects.scheme" pairs.
	Vocabulary repository.VocabularyService
	// CustomFields are applied to every row.
	CustomFields []CustomField
	Logger       zerolog.Logger
}

// CSV transforms CSV rows into repository records.
type CSV struct {
	cfg CSVConfig
}

// NewCSV creates a CSV record serializer.
func NewCSV(cfg CSVConfig) *CSV {
	return &CSV{cfg: cfg}
}

// Name implements Serializer.
func (s *CSV) Name() string {
	return CSVName
}

// Load implements Serializer.
func (s *CSV) Load(r io.Reader) (iter.Seq2[grouping.Row, error], error) {
	return loadCSV(r)
}

// Transform implements Serializer.
func (s *CSV) Transform(ctx context.Context, row grouping.Row, mode record.Mode) (*Data, importerr.List) {
	var errs importerr.List

	data := &Data{
		ID:          row.Get("id"),
		Files:       row.List("filenames"),
		Communities: row.List("communities"),
	}
	if data.Files == nil {
		data.Files = []string{}
	}
	if data.Communities == nil {
		data.Communities = []string{}
	}

	if mode == record.ModeDelete {
		if data.ID == "" {
			errs.Add(importerr.TypeMissing, "id", "An 'id' is required to delete a record.")
		}
		return data, errs
	}

	rec := record.Record{
		Access:   loadAccess(row, &errs),
		Metadata: s.loadMetadata(ctx, row, &errs),
		Files:    record.FilesOptions{Enabled: len(data.Files) > 0},
	}
	if doi := row.Get("doi"); doi != "" {
		rec.PIDs = map[string]record.PID{
			record.PIDSchemeDOI: {Identifier: doi, Provider: record.ProviderExternal},
		}
	}
	for _, cf := range s.cfg.CustomFields {
		if v, ok := cf.Transform(row); ok {
			if rec.CustomFields == nil {
				rec.CustomFields = make(map[string]interface{})
			}
			rec.CustomFields[cf.Field] = v
		}
	}

	data.Record = rec
	if !errs.Empty() {
		s.cfg.Logger.Debug().Int("errors", len(errs)).Str("id", data.ID).Msg("row transform failed")
	}
	return data, errs
}

func loadAccess(row grouping.Row, errs *importerr.List) record.Access {
	access := record.Access{
		Record: orDefault(row.Get("access.record"), record.AccessPublic),
		Files:  orDefault(row.Get("access.files"), record.AccessPublic),
	}

	if !row.HasAny("access.embargo.active", "access.embargo.until", "access.embargo.reason") {
		return access
	}
	embargo := &record.Embargo{
		Until:  row.Get("access.embargo.until"),
		Reason: row.Get("access.embargo.reason"),
	}
	if raw := row.Get("access.embargo.active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			errs.Add(importerr.TypeValue, "access.embargo.active", "Not a valid boolean.")
		}
		embargo.Active = active
	}
	access.Embargo = embargo
	return access
}

func (s *CSV) loadMetadata(ctx context.Context, row grouping.Row, errs *importerr.List) record.Metadata {
	md := record.Metadata{
		Title:           row.Get("title"),
		PublicationDate: row.Get("publication_date"),
		Description:     row.Get("description"),
		Publisher:       row.Get("publisher"),
		Version:         row.Get("version"),
	}

	if rt := row.Get("resource_type.id"); rt != "" {
		md.ResourceType = record.VocabRef{ID: rt}
	} else {
		errs.Add(importerr.TypeMissing, "metadata.resource_type", "Missing 'resource_type.id'")
	}

	for _, lang := range row.List("languages.id") {
		md.Languages = append(md.Languages, record.VocabRef{ID: lang})
	}
	for _, ref := range row.List("references.reference") {
		md.References = append(md.References, record.Reference{Reference: ref})
	}

	md.Creators = loadCreatibutors(row, "creators", errs)
	md.Contributors = loadCreatibutors(row, "contributors", errs)
	md.Subjects = s.loadSubjects(ctx, row, errs)

	for _, t := range grouping.ByColumnTitle(row, "description") {
		md.AdditionalDescriptions = append(md.AdditionalDescriptions, record.AdditionalDescription{
			Description: t.Value,
			Type:        record.VocabRef{ID: t.Type},
			Lang:        langRef(t.Lang),
		})
	}
	for _, t := range grouping.ByColumnTitle(row, "additional_titles") {
		md.AdditionalTitles = append(md.AdditionalTitles, record.AdditionalTitle{
			Title: t.Value,
			Type:  record.VocabRef{ID: t.Type},
			Lang:  langRef(t.Lang),
		})
	}

	for _, item := range grouping.Group(row, "identifiers") {
		md.Identifiers = append(md.Identifiers, record.Identifier{
			Scheme:     item.Get("scheme"),
			Identifier: item.Get("identifier"),
		})
	}

	for _, item := range grouping.Group(row, "related_identifiers") {
		ri := record.RelatedIdentifier{
			Identifier:   item.Get("identifier"),
			Scheme:       item.Get("scheme"),
			RelationType: record.VocabRef{ID: item.Get("relation_type.id")},
		}
		if rt := item.Get("resource_type.id"); rt != "" {
			ri.ResourceType = &record.VocabRef{ID: rt}
		}
		md.RelatedIdentifiers = append(md.RelatedIdentifiers, ri)
	}

	for _, item := range grouping.Group(row, "rights") {
		md.Rights = append(md.Rights, record.Right{
			ID:    item.Get("id"),
			Title: item.Get("title"),
			Link:  item.Get("link"),
		})
	}

	md.Locations = loadLocations(row, errs)
	return md
}

// loadCreatibutors rebuilds creators or contributors. A bad discriminant is
// reported on its own item only; sibling items are kept as they are.
func loadCreatibutors(row grouping.Row, prefix string, errs *importerr.List) []record.Creatibutor {
	items := grouping.Group(row, prefix)
	out := make([]record.Creatibutor, 0, len(items))

	for i, item := range items {
		loc := importerr.Join("metadata", prefix, strconv.Itoa(i), "person_or_org")
		p := record.PersonOrOrg{
			Type:       item.Get("type"),
			GivenName:  item.Get("given_name"),
			FamilyName: item.Get("family_name"),
			Name:       item.Get("name"),
		}
		for _, key := range sortedKeys(item) {
			if scheme, ok := strings.CutPrefix(key, "identifiers."); ok && scheme != "" {
				p.Identifiers = append(p.Identifiers, record.Identifier{Scheme: scheme, Identifier: item[key]})
			}
		}

		switch p.Type {
		case record.PersonalType:
			if p.FamilyName == "" {
				errs.Add(importerr.TypeValidation, importerr.Join(loc, "family_name"), "A personal person must have 'family_name' filled in.")
			}
		case record.OrganizationalType:
			if p.Name == "" {
				errs.Add(importerr.TypeValidation, importerr.Join(loc, "name"), "An organizational person must have 'name' filled in.")
			}
		default:
			errs.Add(importerr.TypeValidation, importerr.Join(loc, "type"), "Invalid type. Only 'organizational' and 'personal' are supported.")
		}

		c := record.Creatibutor{PersonOrOrg: p}
		for _, aff := range grouping.Nested(item, "affiliations") {
			c.Affiliations = append(c.Affiliations, record.Affiliation{ID: aff.Get("id"), Name: aff.Get("name")})
		}
		if role := item.Get("role.id"); role != "" {
			c.Role = &record.VocabRef{ID: role}
		}
		out = append(out, c)
	}
	return out
}

func (s *CSV) loadSubjects(ctx context.Context, row grouping.Row, errs *importerr.List) []record.Subject {
	var out []record.Subject
	for _, kw := range row.List("keywords") {
		out = append(out, record.Subject{Subject: kw})
	}

	if !row.HasAny("subjects.subject", "subjects.scheme") {
		return out
	}
	subjects := splitAligned(row["subjects.subject"])
	schemes := splitAligned(row["subjects.scheme"])
	if len(subjects) != len(schemes) {
		errs.Add(importerr.TypeValidation, "metadata.subjects", "Each subject must have a scheme and a subject.")
		return out
	}

	for i := range subjects {
		subject, scheme := subjects[i], schemes[i]
		loc := importerr.Index("metadata.subjects", i)
		if subject == "" && scheme == "" {
			continue
		}
		if s.cfg.Vocabulary == nil {
			errs.Addf(importerr.TypeSubjectNotMatched, loc, "Subject %s:%s cannot be matched.", scheme, subject)
			continue
		}
		hits, err := s.cfg.Vocabulary.SearchSubjects(ctx, subject, scheme)
		if err != nil {
			errs.Addf(importerr.TypeSubjectNotMatched, loc, "Subject %s:%s cannot be matched: %v", scheme, subject, err)
			continue
		}
		if len(hits) != 1 {
			errs.Addf(importerr.TypeSubjectNotMatched, loc, "Subject %s:%s cannot be matched.", scheme, subject)
			continue
		}
		out = append(out, record.Subject{ID: hits[0].ID, Subject: hits[0].Subject})
	}
	return out
}

func loadLocations(row grouping.Row, errs *importerr.List) *record.Locations {
	items := grouping.Group(row, "locations")
	if len(items) == 0 {
		return nil
	}

	locs := &record.Locations{}
	for i, item := range items {
		f := record.Feature{Place: item.Get("place"), Description: item.Get("description")}
		lat, lon := item.Get("lat"), item.Get("lon")
		loc := importerr.Join("metadata.locations.features", strconv.Itoa(i), "geometry")
		switch {
		case lat != "" && lon != "":
			latV, latErr := strconv.ParseFloat(lat, 64)
			lonV, lonErr := strconv.ParseFloat(lon, 64)
			if latErr != nil || lonErr != nil {
				errs.Add(importerr.TypeValue, loc, "Not a valid number.")
				break
			}
			f.Geometry = &record.Geometry{Type: "Point", Coordinates: []float64{lonV, latV}}
		case lat != "" || lon != "":
			errs.Add(importerr.TypeValue, loc, "Both 'lat' and 'lon' are required for a point.")
		}
		locs.Features = append(locs.Features, f)
	}
	return locs
}

func splitAligned(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, grouping.ItemSeparator)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func sortedKeys(item grouping.Item) []string {
	keys := make([]string, 0, len(item))
	for k := range item {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func langRef(lang string) *record.VocabRef {
	if lang == "" {
		return nil
	}
	return &record.VocabRef{ID: lang}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
