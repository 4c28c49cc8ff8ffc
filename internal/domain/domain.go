// Package domain defines the local chain-of-custody records the registry
// synchronization engine reads, and the narrow store contract it consumes.
// The full data-entry schema lives with the form layer; only the fields a
// registry submission needs are modeled here.
package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced domain record does not exist.
var ErrNotFound = errors.New("domain record not found")

// Facility is a biochar production site.
type Facility struct {
	ID             string
	Name           string
	Address        string
	Latitude       float64
	Longitude      float64
	CommissionedAt *time.Time
}

// FeedstockType describes a class of input biomass.
type FeedstockType struct {
	ID             string
	Name           string
	Category       string
	MoisturePct    float64
	CarbonFraction float64
}

// ProductionRun is one pyrolysis run at a facility consuming one feedstock.
type ProductionRun struct {
	ID              string
	FacilityID      string
	FeedstockTypeID string
	StartedAt       *time.Time
	EndedAt         *time.Time
	FeedstockMassKg float64
	BiocharMassKg   float64
	AvgTemperatureC float64
}

// Application records biochar from a production run being applied to land.
type Application struct {
	ID              string
	ProductionRunID string
	SiteName        string
	Latitude        float64
	Longitude       float64
	AppliedAt       *time.Time
	MassKg          float64
	Method          string
}

// CreditBatchStatus is the domain-side lifecycle of a credit batch. Only the
// confirmation path advances it past submitted; the sync engine never owns
// these values beyond the registry-confirmed ones.
type CreditBatchStatus string

const (
	BatchDraft     CreditBatchStatus = "draft"
	BatchSubmitted CreditBatchStatus = "submitted"
	BatchPending   CreditBatchStatus = "pending_verification"
	BatchVerified  CreditBatchStatus = "verified"
	BatchIssued    CreditBatchStatus = "issued"
	BatchRejected  CreditBatchStatus = "rejected"
)

// Terminal reports whether registry confirmation can no longer change the
// batch.
func (s CreditBatchStatus) Terminal() bool {
	return s == BatchIssued || s == BatchRejected
}

// CreditBatch groups an application's removals into one registry statement.
type CreditBatch struct {
	ID                 string
	ApplicationID      string
	VintageYear        int
	GrossRemovalTonnes float64
	NetRemovalTonnes   float64
	Status             CreditBatchStatus
	SubmittedAt        *time.Time
}

// Store is the read side the sync engine depends on, plus the single
// write-back the confirmation path is allowed: registry-confirmed status.
type Store interface {
	GetFacility(ctx context.Context, id string) (*Facility, error)
	GetFeedstockType(ctx context.Context, id string) (*FeedstockType, error)
	GetProductionRun(ctx context.Context, id string) (*ProductionRun, error)
	GetApplication(ctx context.Context, id string) (*Application, error)
	GetCreditBatch(ctx context.Context, id string) (*CreditBatch, error)

	// ListIDs returns all record ids of the given kind in stable order.
	ListIDs(ctx context.Context, kind string) ([]string, error)

	// ListCreditBatchesAwaitingConfirmation returns batches whose domain
	// status is non-terminal and therefore still subject to registry pull-back.
	ListCreditBatchesAwaitingConfirmation(ctx context.Context) ([]*CreditBatch, error)

	// UpdateCreditBatchStatus writes the registry-confirmed status back onto
	// the domain record. The sync engine touches no other domain field.
	UpdateCreditBatchStatus(ctx context.Context, id string, status CreditBatchStatus) error
}
