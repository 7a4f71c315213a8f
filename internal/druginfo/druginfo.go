// Package druginfo validates medicine names against public drug databases
// (OpenFDA drug labels, then NLM RxNorm) and caches the enriched records.
package druginfo

import (
	"context"
	"errors"
	"strings"
)

// Placeholder values for fields a source could not supply.
const (
	NotAvailable      = "Not available"
	NotClassified     = "Not classified"
	SeePackageInsert  = "See package insert"
	StoreAsDirected   = "Store as directed"
	ConsultProvider   = "Consult your healthcare provider"
	NotFoundGeneric   = "Not found in database"
	NotFoundMessage   = "Medicine not found in FDA database. Please verify the spelling or consult your pharmacist."
	LookupFailMessage = "Could not validate medicine against FDA database."
)

// ErrEmptyName is returned when validating a blank medicine name.
var ErrEmptyName = errors.New("medicine name is required")

// DrugInfo is an enriched drug record. Validated is false when no source
// knew the name.
type DrugInfo struct {
	Validated           bool     `json:"validated"`
	BrandName           string   `json:"brandName"`
	GenericName         string   `json:"genericName"`
	Manufacturer        string   `json:"manufacturer,omitempty"`
	DrugClass           string   `json:"drugClass,omitempty"`
	ActiveIngredients   []string `json:"activeIngredients,omitempty"`
	DosageForms         []string `json:"dosageForms,omitempty"`
	Route               []string `json:"route,omitempty"`
	Warnings            []string `json:"warnings,omitempty"`
	Indications         string   `json:"indications,omitempty"`
	Contraindications   string   `json:"contraindications,omitempty"`
	SideEffects         []string `json:"sideEffects,omitempty"`
	Interactions        []string `json:"interactions,omitempty"`
	StorageInstructions string   `json:"storageInstructions,omitempty"`
	FDAApproved         bool     `json:"fdaApproved"`
	Message             string   `json:"message,omitempty"`
	Source              string   `json:"source,omitempty"`
}

// NotFound is the record returned when no source knows name.
func NotFound(name string) *DrugInfo {
	return &DrugInfo{
		Validated:   false,
		BrandName:   name,
		GenericName: NotFoundGeneric,
		Message:     NotFoundMessage,
	}
}

// BatchEntry is one result of a batch validation.
type BatchEntry struct {
	OriginalName string `json:"originalName"`
	DrugInfo
}

// Source is one drug database. Lookup returns nil, nil when the name is
// unknown to the source.
type Source interface {
	Name() string
	Lookup(ctx context.Context, name string) (*DrugInfo, error)
}

// Cache stores lookups by normalized name.
type Cache interface {
	Get(ctx context.Context, name string) (*DrugInfo, bool, error)
	Set(ctx context.Context, name string, info *DrugInfo) error
}

// CacheKey normalizes a medicine name for caching.
func CacheKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
