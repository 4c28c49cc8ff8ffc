package isometric

import (
	"fmt"

	"charlog/internal/domain"
)

// Transformers map local records into the registry's wire shapes and check
// sync readiness. All functions here are pure: no I/O, no store access.
// Validation returns human-readable reasons; an empty slice means ready.

// Refs carries previously synced external ids a payload depends on.
type Refs struct {
	FacilityID           string
	FeedstockTypeID      string
	ProductionBatchID    string
	StorageLocationID    string
	BiocharApplicationID string
	RemovalID            string
}

type FacilityPayload struct {
	ProjectID      string  `json:"project_id"`
	Name           string  `json:"name"`
	Address        string  `json:"address"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	CommissionedAt string  `json:"commissioned_at"`
}

func ValidateFacility(f *domain.Facility) []string {
	var errs []string
	if f.Name == "" {
		errs = append(errs, "facility name is required")
	}
	if f.Address == "" {
		errs = append(errs, "facility address is required")
	}
	if f.Latitude == 0 && f.Longitude == 0 {
		errs = append(errs, "facility coordinates are required")
	}
	if f.CommissionedAt == nil {
		errs = append(errs, "facility commissioning date is required")
	}
	return errs
}

func BuildFacilityPayload(f *domain.Facility, projectID string) FacilityPayload {
	return FacilityPayload{
		ProjectID:      projectID,
		Name:           f.Name,
		Address:        f.Address,
		Latitude:       f.Latitude,
		Longitude:      f.Longitude,
		CommissionedAt: f.CommissionedAt.UTC().Format("2006-01-02"),
	}
}

type FeedstockTypePayload struct {
	ProjectID      string  `json:"project_id"`
	Name           string  `json:"name"`
	Category       string  `json:"category"`
	MoisturePct    float64 `json:"moisture_pct"`
	CarbonFraction float64 `json:"carbon_fraction"`
}

func ValidateFeedstockType(f *domain.FeedstockType) []string {
	var errs []string
	if f.Name == "" {
		errs = append(errs, "feedstock type name is required")
	}
	if f.Category == "" {
		errs = append(errs, "feedstock category is required")
	}
	if f.CarbonFraction <= 0 || f.CarbonFraction > 1 {
		errs = append(errs, fmt.Sprintf("carbon fraction must be in (0, 1], got %g", f.CarbonFraction))
	}
	return errs
}

func BuildFeedstockTypePayload(f *domain.FeedstockType, projectID string) FeedstockTypePayload {
	return FeedstockTypePayload{
		ProjectID:      projectID,
		Name:           f.Name,
		Category:       f.Category,
		MoisturePct:    f.MoisturePct,
		CarbonFraction: f.CarbonFraction,
	}
}

type ProductionBatchPayload struct {
	ProjectID       string  `json:"project_id"`
	FacilityID      string  `json:"facility_id"`
	FeedstockTypeID string  `json:"feedstock_type_id"`
	StartedAt       string  `json:"started_at"`
	EndedAt         string  `json:"ended_at"`
	FeedstockMassKg float64 `json:"feedstock_mass_kg"`
	BiocharMassKg   float64 `json:"biochar_mass_kg"`
	AvgTemperatureC float64 `json:"avg_temperature_c"`
}

func ValidateProductionRun(r *domain.ProductionRun) []string {
	var errs []string
	if r.FacilityID == "" {
		errs = append(errs, "production run facility is required")
	}
	if r.FeedstockTypeID == "" {
		errs = append(errs, "production run feedstock type is required")
	}
	if r.StartedAt == nil || r.EndedAt == nil {
		errs = append(errs, "production run start and end dates are required")
	} else if r.EndedAt.Before(*r.StartedAt) {
		errs = append(errs, "production run end date precedes start date")
	}
	if r.FeedstockMassKg <= 0 {
		errs = append(errs, "feedstock mass must be positive")
	}
	if r.BiocharMassKg <= 0 {
		errs = append(errs, "biochar mass must be positive")
	}
	return errs
}

func BuildProductionBatchPayload(r *domain.ProductionRun, projectID string, refs Refs) ProductionBatchPayload {
	return ProductionBatchPayload{
		ProjectID:       projectID,
		FacilityID:      refs.FacilityID,
		FeedstockTypeID: refs.FeedstockTypeID,
		StartedAt:       r.StartedAt.UTC().Format("2006-01-02"),
		EndedAt:         r.EndedAt.UTC().Format("2006-01-02"),
		FeedstockMassKg: r.FeedstockMassKg,
		BiocharMassKg:   r.BiocharMassKg,
		AvgTemperatureC: r.AvgTemperatureC,
	}
}

type StorageLocationPayload struct {
	ProjectID string  `json:"project_id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type BiocharApplicationPayload struct {
	ProjectID         string  `json:"project_id"`
	StorageLocationID string  `json:"storage_location_id"`
	ProductionBatchID string  `json:"production_batch_id"`
	AppliedAt         string  `json:"applied_at"`
	MassKg            float64 `json:"mass_kg"`
	Method            string  `json:"method"`
}

func ValidateApplication(a *domain.Application) []string {
	var errs []string
	if a.ProductionRunID == "" {
		errs = append(errs, "application production run is required")
	}
	if a.SiteName == "" {
		errs = append(errs, "application site name is required")
	}
	if a.AppliedAt == nil {
		errs = append(errs, "application date is required")
	}
	if a.MassKg <= 0 {
		errs = append(errs, "applied mass must be positive")
	}
	return errs
}

func BuildStorageLocationPayload(a *domain.Application, projectID string) StorageLocationPayload {
	return StorageLocationPayload{
		ProjectID: projectID,
		Name:      a.SiteName,
		Latitude:  a.Latitude,
		Longitude: a.Longitude,
	}
}

func BuildBiocharApplicationPayload(a *domain.Application, projectID string, refs Refs) BiocharApplicationPayload {
	return BiocharApplicationPayload{
		ProjectID:         projectID,
		StorageLocationID: refs.StorageLocationID,
		ProductionBatchID: refs.ProductionBatchID,
		AppliedAt:         a.AppliedAt.UTC().Format("2006-01-02"),
		MassKg:            a.MassKg,
		Method:            a.Method,
	}
}

type RemovalPayload struct {
	ProjectID            string  `json:"project_id"`
	BiocharApplicationID string  `json:"biochar_application_id"`
	VintageYear          int     `json:"vintage_year"`
	GrossRemovalTonnes   float64 `json:"gross_removal_tonnes"`
	NetRemovalTonnes     float64 `json:"net_removal_tonnes"`
}

type GHGStatementPayload struct {
	ProjectID   string `json:"project_id"`
	RemovalID   string `json:"removal_id"`
	VintageYear int    `json:"vintage_year"`
}

func ValidateCreditBatch(b *domain.CreditBatch) []string {
	var errs []string
	if b.ApplicationID == "" {
		errs = append(errs, "credit batch application is required")
	}
	if b.Status == domain.BatchDraft {
		errs = append(errs, "credit batch is still a draft")
	}
	// Already-issued guard: an issued batch must never be resubmitted.
	if b.Status == domain.BatchIssued {
		errs = append(errs, "credit batch is already issued")
	}
	if b.VintageYear < 2000 {
		errs = append(errs, fmt.Sprintf("vintage year %d is implausible", b.VintageYear))
	}
	if b.NetRemovalTonnes <= 0 {
		errs = append(errs, "net removal must be positive")
	}
	if b.GrossRemovalTonnes < b.NetRemovalTonnes {
		errs = append(errs, "gross removal is less than net removal")
	}
	return errs
}

func BuildRemovalPayload(b *domain.CreditBatch, projectID string, refs Refs) RemovalPayload {
	return RemovalPayload{
		ProjectID:            projectID,
		BiocharApplicationID: refs.BiocharApplicationID,
		VintageYear:          b.VintageYear,
		GrossRemovalTonnes:   b.GrossRemovalTonnes,
		NetRemovalTonnes:     b.NetRemovalTonnes,
	}
}

func BuildGHGStatementPayload(b *domain.CreditBatch, projectID string, refs Refs) GHGStatementPayload {
	return GHGStatementPayload{
		ProjectID:   projectID,
		RemovalID:   refs.RemovalID,
		VintageYear: b.VintageYear,
	}
}
