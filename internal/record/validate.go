package record

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/bulkimport/bulkimport/internal/importerr"
)

var (
	edtfDate  = regexp.MustCompile(`^\d{4}(-\d{2}(-\d{2})?)?$`)
	indexPart = regexp.MustCompile(`\[([^\]]+)\]`)
)

// ValidatorConfig configures the schema layer.
type ValidatorConfig struct {
	// CustomFieldSchemas maps a custom field name to the JSON schema its
	// value must satisfy. Custom fields without a schema are rejected.
	CustomFieldSchemas map[string]string
}

// Validator checks a Record against the record schema and the configured
// custom field schemas.
type Validator struct {
	validate     *validator.Validate
	customFields map[string]*gojsonschema.Schema
}

// NewValidator compiles the configured schemas.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	if err := v.RegisterValidation("edtf", validateEDTF); err != nil {
		return nil, fmt.Errorf("register edtf validation: %w", err)
	}
	v.RegisterStructValidation(validateEmbargo, Embargo{})

	schemas := make(map[string]*gojsonschema.Schema, len(cfg.CustomFieldSchemas))
	for field, text := range cfg.CustomFieldSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(text))
		if err != nil {
			return nil, fmt.Errorf("compile schema for custom field %q: %w", field, err)
		}
		schemas[field] = schema
	}

	return &Validator{validate: v, customFields: schemas}, nil
}

// Validate returns every schema violation of rec. An empty list means the
// record is valid and can be submitted as is.
func (v *Validator) Validate(rec *Record) importerr.List {
	var errs importerr.List
	if rec == nil {
		errs.Add(importerr.TypeValidation, "", "Record payload is empty.")
		return errs
	}

	if err := v.validate.Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			errs.Add(importerr.TypeValidation, "", err.Error())
			return errs
		}
		for _, fe := range verrs {
			errs.Add(importerr.TypeValidation, fieldLoc(fe.Namespace()), fieldMessage(fe))
		}
	}

	errs.Extend(v.validateCustomFields(rec.CustomFields))
	return errs
}

func (v *Validator) validateCustomFields(fields map[string]interface{}) importerr.List {
	var errs importerr.List
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		loc := importerr.Join("custom_fields", name)
		schema, ok := v.customFields[name]
		if !ok {
			errs.Add(importerr.TypeValidation, loc, "Unknown field.")
			continue
		}
		result, err := schema.Validate(gojsonschema.NewGoLoader(fields[name]))
		if err != nil {
			errs.Add(importerr.TypeValidation, loc, err.Error())
			continue
		}
		for _, re := range result.Errors() {
			fieldLoc := loc
			if f := re.Field(); f != "" && f != "(root)" {
				fieldLoc = importerr.Join(loc, f)
			}
			errs.Add(importerr.TypeValidation, fieldLoc, re.Description())
		}
	}
	return errs
}

// fieldLoc turns "Record.metadata.creators[1].person_or_org.type" into
// "metadata.creators.1.person_or_org.type".
func fieldLoc(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		namespace = namespace[i+1:]
	}
	return indexPart.ReplaceAllString(namespace, ".$1")
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_without":
		return "Missing data for required field."
	case "oneof":
		return "Must be one of: " + strings.Join(strings.Fields(fe.Param()), ", ") + "."
	case "edtf":
		return "Please provide a valid date or interval."
	case "datetime":
		return "Not a valid date."
	case "url":
		return "Not a valid URL."
	case "min":
		return "Shorter than minimum length " + fe.Param() + "."
	case "len":
		return "Length must be " + fe.Param() + "."
	case "eq":
		return "Must be equal to " + fe.Param() + "."
	default:
		return fmt.Sprintf("Failed on the '%s' rule.", fe.Tag())
	}
}

func validateEDTF(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	parts := strings.Split(value, "/")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if !isLevel0Date(p) {
			return false
		}
	}
	return true
}

func isLevel0Date(s string) bool {
	if !edtfDate.MatchString(s) {
		return false
	}
	layout := "2006-01-02"[:len(s)]
	_, err := time.Parse(layout, s)
	return err == nil
}

func validateEmbargo(sl validator.StructLevel) {
	e, ok := sl.Current().Interface().(Embargo)
	if !ok {
		return
	}
	if e.Active && e.Until == "" {
		sl.ReportError(e.Until, "until", "Until", "required", "")
	}
}
