// Package record defines the canonical record payload submitted to the
// repository platform, and the schema layer that validates it.
package record

// Mode selects what an import task does with its records.
type Mode string

const (
	// ModeImport creates new records or updates existing ones.
	ModeImport Mode = "import"
	// ModeDelete tombstones existing records.
	ModeDelete Mode = "delete"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeImport || m == ModeDelete
}

// Access levels.
const (
	AccessPublic     = "public"
	AccessRestricted = "restricted"
)

// Creator discriminants.
const (
	PersonalType       = "personal"
	OrganizationalType = "organizational"
)

// DOI pid providers.
const (
	PIDSchemeDOI     = "doi"
	ProviderExternal = "external"
	ProviderDataCite = "datacite"
)

// Record is the canonical payload of one repository record.
type Record struct {
	Access       Access                 `json:"access"`
	Metadata     Metadata               `json:"metadata"`
	CustomFields map[string]interface{} `json:"custom_fields,omitempty"`
	PIDs         map[string]PID         `json:"pids,omitempty" validate:"dive"`
	Files        FilesOptions           `json:"files"`
}

// HasDOI reports whether the record already declares a DOI.
func (r *Record) HasDOI() bool {
	pid, ok := r.PIDs[PIDSchemeDOI]
	return ok && pid.Identifier != ""
}

// FilesOptions toggles file support on the record.
type FilesOptions struct {
	Enabled bool `json:"enabled"`
}

// PID is a persistent identifier attached to the record.
type PID struct {
	Identifier string `json:"identifier" validate:"required"`
	Provider   string `json:"provider" validate:"required"`
	Client     string `json:"client,omitempty"`
}

// Access describes record and file visibility.
type Access struct {
	Record  string   `json:"record" validate:"required,oneof=public restricted"`
	Files   string   `json:"files" validate:"required,oneof=public restricted"`
	Embargo *Embargo `json:"embargo,omitempty"`
}

// Embargo restricts access until a date.
type Embargo struct {
	Active bool   `json:"active"`
	Until  string `json:"until,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Reason string `json:"reason,omitempty"`
}

// Metadata holds the descriptive part of a record.
type Metadata struct {
	ResourceType           VocabRef                `json:"resource_type" validate:"required"`
	Title                  string                  `json:"title" validate:"required"`
	AdditionalTitles       []AdditionalTitle       `json:"additional_titles,omitempty" validate:"dive"`
	PublicationDate        string                  `json:"publication_date" validate:"required,edtf"`
	Creators               []Creatibutor           `json:"creators" validate:"required,min=1,dive"`
	Contributors           []Creatibutor           `json:"contributors,omitempty" validate:"dive"`
	Description            string                  `json:"description,omitempty"`
	AdditionalDescriptions []AdditionalDescription `json:"additional_descriptions,omitempty" validate:"dive"`
	Publisher              string                  `json:"publisher" validate:"required"`
	Version                string                  `json:"version,omitempty"`
	Languages              []VocabRef              `json:"languages,omitempty" validate:"dive"`
	Subjects               []Subject               `json:"subjects,omitempty" validate:"dive"`
	Identifiers            []Identifier            `json:"identifiers,omitempty" validate:"dive"`
	RelatedIdentifiers     []RelatedIdentifier     `json:"related_identifiers,omitempty" validate:"dive"`
	References             []Reference             `json:"references,omitempty" validate:"dive"`
	Locations              *Locations              `json:"locations,omitempty"`
	Rights                 []Right                 `json:"rights,omitempty" validate:"dive"`
}

// VocabRef points at a controlled vocabulary entry.
type VocabRef struct {
	ID string `json:"id" validate:"required"`
}

// AdditionalTitle is a secondary title with a type and optional language.
type AdditionalTitle struct {
	Title string    `json:"title" validate:"required"`
	Type  VocabRef  `json:"type"`
	Lang  *VocabRef `json:"lang,omitempty"`
}

// AdditionalDescription is a secondary description.
type AdditionalDescription struct {
	Description string    `json:"description" validate:"required"`
	Type        VocabRef  `json:"type"`
	Lang        *VocabRef `json:"lang,omitempty"`
}

// Creatibutor is a creator or contributor.
type Creatibutor struct {
	PersonOrOrg  PersonOrOrg   `json:"person_or_org"`
	Affiliations []Affiliation `json:"affiliations,omitempty" validate:"dive"`
	Role         *VocabRef     `json:"role,omitempty"`
}

// PersonOrOrg identifies the person or organization behind a creatibutor.
type PersonOrOrg struct {
	Type        string       `json:"type" validate:"required,oneof=personal organizational"`
	GivenName   string       `json:"given_name,omitempty"`
	FamilyName  string       `json:"family_name,omitempty" validate:"required_if=Type personal"`
	Name        string       `json:"name,omitempty" validate:"required_if=Type organizational"`
	Identifiers []Identifier `json:"identifiers,omitempty" validate:"dive"`
}

// Affiliation is either a vocabulary id or a free-text name.
type Affiliation struct {
	ID   string `json:"id,omitempty" validate:"required_without=Name"`
	Name string `json:"name,omitempty"`
}

// Subject is a keyword or a vocabulary subject.
type Subject struct {
	ID      string `json:"id,omitempty"`
	Subject string `json:"subject,omitempty" validate:"required_without=ID"`
}

// Identifier is a scheme-qualified identifier.
type Identifier struct {
	Scheme     string `json:"scheme" validate:"required"`
	Identifier string `json:"identifier" validate:"required"`
}

// RelatedIdentifier links the record to another resource.
type RelatedIdentifier struct {
	Identifier   string    `json:"identifier" validate:"required"`
	Scheme       string    `json:"scheme" validate:"required"`
	RelationType VocabRef  `json:"relation_type"`
	ResourceType *VocabRef `json:"resource_type,omitempty"`
}

// Reference is a free-text bibliographic reference.
type Reference struct {
	Reference string `json:"reference" validate:"required"`
}

// Locations holds geographic features.
type Locations struct {
	Features []Feature `json:"features" validate:"dive"`
}

// Feature is one location.
type Feature struct {
	Place       string    `json:"place,omitempty"`
	Description string    `json:"description,omitempty"`
	Geometry    *Geometry `json:"geometry,omitempty"`
}

// Geometry is a GeoJSON point.
type Geometry struct {
	Type        string    `json:"type" validate:"eq=Point"`
	Coordinates []float64 `json:"coordinates" validate:"len=2"`
}

// Right is a license or rights statement.
type Right struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty" validate:"required_without=ID"`
	Link  string `json:"link,omitempty" validate:"omitempty,url"`
}
