package bloodbank

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hemovault/hemovault/pkg/bloodgroup"
)

type UnitRepository interface {
	Create(ctx context.Context, u *BloodUnit) error
	GetByID(ctx context.Context, id uuid.UUID) (*BloodUnit, error)
	GetByBarcode(ctx context.Context, branchID uuid.UUID, barcode string) (*BloodUnit, error)
	Update(ctx context.Context, u *BloodUnit) error
	// TransitionStatus flips the unit to the target status only if its
	// current status is one of the listed sources. A miss returns
	// ErrStateConflict without touching the row.
	TransitionStatus(ctx context.Context, id uuid.UUID, to UnitStatus, from ...UnitStatus) error
	List(ctx context.Context, branchID uuid.UUID, status UnitStatus, limit, offset int) ([]*BloodUnit, int, error)
	// ListEligible returns AVAILABLE, unexpired units of a component type
	// whose blood group is in the given set, oldest expiry first.
	ListEligible(ctx context.Context, branchID uuid.UUID, componentType string, groups []bloodgroup.Group, at time.Time, limit int) ([]*BloodUnit, error)
	// ListTestingWorklist returns units still in TESTING, oldest first.
	ListTestingWorklist(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]*BloodUnit, int, error)
	// ListByDonorBefore returns prior units from the same donor collected
	// before the given time, for look-back review.
	ListByDonorBefore(ctx context.Context, donorID uuid.UUID, before time.Time) ([]*BloodUnit, error)
}

type GroupingRepository interface {
	Create(ctx context.Context, g *BloodGroupingResult) error
	Update(ctx context.Context, g *BloodGroupingResult) error
	// LatestByUnit returns the most recent grouping result for a unit, or
	// ErrNotFound when none exists.
	LatestByUnit(ctx context.Context, unitID uuid.UUID) (*BloodGroupingResult, error)
	LatestUnverifiedByUnit(ctx context.Context, unitID uuid.UUID) (*BloodGroupingResult, error)
}

type TTIRepository interface {
	Create(ctx context.Context, t *TTITestRecord) error
	Update(ctx context.Context, t *TTITestRecord) error
	// LatestPerTest returns, per test name, the most recent record for the
	// unit. Missing mandatory tests simply have no entry.
	LatestPerTest(ctx context.Context, unitID uuid.UUID) (map[string]*TTITestRecord, error)
	LatestUnverified(ctx context.Context, unitID uuid.UUID, testName string) (*TTITestRecord, error)
	// VerifyPending stamps the verifier on every unverified record of the
	// unit and returns the number of records verified.
	VerifyPending(ctx context.Context, unitID uuid.UUID, verifierStaffID string, at time.Time) (int, error)
}

type EquipmentRepository interface {
	Create(ctx context.Context, e *BloodBankEquipment) error
	GetByID(ctx context.Context, id uuid.UUID) (*BloodBankEquipment, error)
	Update(ctx context.Context, e *BloodBankEquipment) error
	List(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]*BloodBankEquipment, int, error)
	// FirstActiveOfTypes returns the first active equipment whose type is in
	// the given list, in list order, or ErrNotFound.
	FirstActiveOfTypes(ctx context.Context, branchID uuid.UUID, types []string) (*BloodBankEquipment, error)
}

type TempLogRepository interface {
	Create(ctx context.Context, l *EquipmentTempLog) error
	GetByID(ctx context.Context, id uuid.UUID) (*EquipmentTempLog, error)
	ListByEquipment(ctx context.Context, equipmentID uuid.UUID, from, to time.Time, limit, offset int) ([]*EquipmentTempLog, int, error)
	// ListUnacknowledgedBreaches returns breaching, unacknowledged readings
	// across all equipment of a branch, newest first.
	ListUnacknowledgedBreaches(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]*EquipmentTempLog, int, error)
	HasUnacknowledgedBreach(ctx context.Context, equipmentID uuid.UUID) (bool, error)
	Acknowledge(ctx context.Context, id uuid.UUID, staffID string, at time.Time) error
}

type SlotRepository interface {
	// Place assigns a unit to storage equipment, closing any open slot for
	// the unit first.
	Place(ctx context.Context, unitID, equipmentID uuid.UUID, at time.Time) error
	// Remove closes the unit's open slot, if any.
	Remove(ctx context.Context, unitID uuid.UUID, at time.Time) error
	// CurrentByUnit returns the unit's open slot, or ErrNotFound.
	CurrentByUnit(ctx context.Context, unitID uuid.UUID) (*BloodInventorySlot, error)
	// ListUnitIDsByEquipment returns the unit IDs currently stored in the
	// given equipment.
	ListUnitIDsByEquipment(ctx context.Context, equipmentID uuid.UUID) ([]uuid.UUID, error)
}

type FacilityRepository interface {
	GetByBranch(ctx context.Context, branchID uuid.UUID) (*BloodBankFacility, error)
	Upsert(ctx context.Context, f *BloodBankFacility) error
}

type PatientRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
}

type RequestRepository interface {
	Create(ctx context.Context, r *BloodRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*BloodRequest, error)
	Update(ctx context.Context, r *BloodRequest) error
	// AdvanceStatus moves the request to the target status only if its
	// current status is one of the listed sources; a miss returns
	// ErrStateConflict.
	AdvanceStatus(ctx context.Context, id uuid.UUID, to RequestStatus, from ...RequestStatus) error
	List(ctx context.Context, branchID uuid.UUID, status RequestStatus, urgency Urgency, limit, offset int) ([]*BloodRequest, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*BloodRequest, int, error)
}

type SampleRepository interface {
	Create(ctx context.Context, s *PatientBloodSample) error
	Update(ctx context.Context, s *PatientBloodSample) error
	// GetByRequest returns the request's sample, or ErrNotFound. At most one
	// sample exists per request.
	GetByRequest(ctx context.Context, requestID uuid.UUID) (*PatientBloodSample, error)
}

type CrossMatchRepository interface {
	Create(ctx context.Context, x *CrossMatchTest) error
	GetByID(ctx context.Context, id uuid.UUID) (*CrossMatchTest, error)
	// LatestCompatible returns the most recent COMPATIBLE cross-match for
	// the request/unit pair, or ErrNotFound.
	LatestCompatible(ctx context.Context, requestID, unitID uuid.UUID) (*CrossMatchTest, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*CrossMatchTest, error)
	// CountCompatibleValid counts COMPATIBLE cross-matches for the request
	// still valid at the given time.
	CountCompatibleValid(ctx context.Context, requestID uuid.UUID, at time.Time) (int, error)
}

type IssueRepository interface {
	Create(ctx context.Context, i *BloodIssue) error
	GetByID(ctx context.Context, id uuid.UUID) (*BloodIssue, error)
	Update(ctx context.Context, i *BloodIssue) error
	List(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]*BloodIssue, int, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*BloodIssue, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*BloodIssue, error)
	CountByRequest(ctx context.Context, requestID uuid.UUID) (int, error)
}

type TransfusionRepository interface {
	Create(ctx context.Context, t *TransfusionRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*TransfusionRecord, error)
	GetByIssue(ctx context.Context, issueID uuid.UUID) (*TransfusionRecord, error)
	Update(ctx context.Context, t *TransfusionRecord) error
}

type ReactionRepository interface {
	Create(ctx context.Context, r *TransfusionReaction) error
	ListByTransfusion(ctx context.Context, transfusionID uuid.UUID) ([]*TransfusionReaction, error)
}

type MTPRepository interface {
	Create(ctx context.Context, s *MTPSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*MTPSession, error)
	Update(ctx context.Context, s *MTPSession) error
	// ActiveByPatient returns the patient's ACTIVE session, or ErrNotFound.
	ActiveByPatient(ctx context.Context, patientID uuid.UUID) (*MTPSession, error)
	List(ctx context.Context, branchID uuid.UUID, status MTPStatus, limit, offset int) ([]*MTPSession, int, error)
}
