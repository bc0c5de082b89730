package bloodbank

import (
	"time"

	"github.com/google/uuid"

	"github.com/hemovault/hemovault/pkg/bloodgroup"
)

// BloodUnit maps to the blood_unit table. Status is mutated only through the
// repository's compare-and-swap transition; everything else is written at
// collection/testing time.
type BloodUnit struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	BranchID      uuid.UUID        `db:"branch_id" json:"branch_id"`
	UnitNumber    string           `db:"unit_number" json:"unit_number"`
	Barcode       string           `db:"barcode" json:"barcode"`
	DonorID       uuid.UUID        `db:"donor_id" json:"donor_id"`
	BloodGroup    bloodgroup.Group `db:"blood_group" json:"blood_group,omitempty"`
	ComponentType string           `db:"component_type" json:"component_type"`
	Status        UnitStatus       `db:"status" json:"status"`
	CollectedAt   *time.Time       `db:"collected_at" json:"collected_at,omitempty"`
	ExpiryDate    *time.Time       `db:"expiry_date" json:"expiry_date,omitempty"`
	IsActive      bool             `db:"is_active" json:"is_active"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// Expired reports whether the unit is past its expiry date at the given time.
func (u *BloodUnit) Expired(at time.Time) bool {
	return u.ExpiryDate != nil && u.ExpiryDate.Before(at)
}

// BloodGroupingResult maps to the blood_grouping_result table. At most one
// unverified result per unit is "latest"; verification freezes it.
type BloodGroupingResult struct {
	ID                uuid.UUID        `db:"id" json:"id"`
	BloodUnitID       uuid.UUID        `db:"blood_unit_id" json:"blood_unit_id"`
	ABOForward        string           `db:"abo_forward" json:"abo_forward"`
	ABOReverse        string           `db:"abo_reverse" json:"abo_reverse,omitempty"`
	RhType            string           `db:"rh_type" json:"rh_type,omitempty"`
	AntibodyScreen    *string          `db:"antibody_screen" json:"antibody_screen,omitempty"`
	ConfirmedGroup    bloodgroup.Group `db:"confirmed_group" json:"confirmed_group,omitempty"`
	HasDiscrepancy    bool             `db:"has_discrepancy" json:"has_discrepancy"`
	DiscrepancyNotes  *string          `db:"discrepancy_notes" json:"discrepancy_notes,omitempty"`
	TestedByStaffID   string           `db:"tested_by_staff_id" json:"tested_by_staff_id"`
	VerifiedByStaffID *string          `db:"verified_by_staff_id" json:"verified_by_staff_id,omitempty"`
	VerifiedAt        *time.Time       `db:"verified_at" json:"verified_at,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
}

// Verified reports whether a verifier has signed off the result.
func (g *BloodGroupingResult) Verified() bool { return g.VerifiedByStaffID != nil }

// TTITestRecord maps to the tti_test_record table. One row per submission;
// corrections before verification update the latest unverified row in place,
// submissions after verification append a new row.
type TTITestRecord struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	BloodUnitID       uuid.UUID  `db:"blood_unit_id" json:"blood_unit_id"`
	TestName          string     `db:"test_name" json:"test_name"`
	Method            *string    `db:"method" json:"method,omitempty"`
	KitLotNo          *string    `db:"kit_lot_no" json:"kit_lot_no,omitempty"`
	Result            TTIResult  `db:"result" json:"result"`
	TestedByStaffID   string     `db:"tested_by_staff_id" json:"tested_by_staff_id"`
	VerifiedByStaffID *string    `db:"verified_by_staff_id" json:"verified_by_staff_id,omitempty"`
	VerifiedAt        *time.Time `db:"verified_at" json:"verified_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Verified reports whether a verifier has signed off the record.
func (t *TTITestRecord) Verified() bool { return t.VerifiedByStaffID != nil }

// BloodBankEquipment maps to the blood_bank_equipment table.
type BloodBankEquipment struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	BranchID           uuid.UUID  `db:"branch_id" json:"branch_id"`
	Name               string     `db:"name" json:"name"`
	EquipmentType      string     `db:"equipment_type" json:"equipment_type"`
	Make               *string    `db:"make" json:"make,omitempty"`
	Model              *string    `db:"model" json:"model,omitempty"`
	SerialNumber       *string    `db:"serial_number" json:"serial_number,omitempty"`
	CapacityUnits      *int       `db:"capacity_units" json:"capacity_units,omitempty"`
	TempRangeMinC      *float64   `db:"temp_range_min_c" json:"temp_range_min_c,omitempty"`
	TempRangeMaxC      *float64   `db:"temp_range_max_c" json:"temp_range_max_c,omitempty"`
	Location           *string    `db:"location" json:"location,omitempty"`
	LastCalibratedAt   *time.Time `db:"last_calibrated_at" json:"last_calibrated_at,omitempty"`
	CalibrationDueDate *time.Time `db:"calibration_due_date" json:"calibration_due_date,omitempty"`
	IsActive           bool       `db:"is_active" json:"is_active"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// Breaches reports whether a reading falls outside the configured operating
// range. Equipment without both bounds configured never breaches.
func (e *BloodBankEquipment) Breaches(reading float64) bool {
	if e.TempRangeMinC == nil || e.TempRangeMaxC == nil {
		return false
	}
	return reading < *e.TempRangeMinC || reading > *e.TempRangeMaxC
}

// EquipmentTempLog maps to the equipment_temp_log table.
type EquipmentTempLog struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	EquipmentID           uuid.UUID  `db:"equipment_id" json:"equipment_id"`
	TemperatureC          float64    `db:"temperature_c" json:"temperature_c"`
	RecordedAt            time.Time  `db:"recorded_at" json:"recorded_at"`
	IsBreaching           bool       `db:"is_breaching" json:"is_breaching"`
	Acknowledged          bool       `db:"acknowledged" json:"acknowledged"`
	AcknowledgedAt        *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	AcknowledgedByStaffID *string    `db:"acknowledged_by_staff_id" json:"acknowledged_by_staff_id,omitempty"`
}

// BloodInventorySlot maps to the blood_inventory_slot table. A unit leaving
// storage is soft-removed (removed_at set), never deleted.
type BloodInventorySlot struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	BloodUnitID uuid.UUID  `db:"blood_unit_id" json:"blood_unit_id"`
	EquipmentID uuid.UUID  `db:"equipment_id" json:"equipment_id"`
	AssignedAt  time.Time  `db:"assigned_at" json:"assigned_at"`
	RemovedAt   *time.Time `db:"removed_at" json:"removed_at,omitempty"`
}

// BloodBankFacility maps to the blood_bank_facility table: per-branch
// settings, currently the preferred storage equipment for released units.
type BloodBankFacility struct {
	BranchID                  uuid.UUID  `db:"branch_id" json:"branch_id"`
	DefaultStorageEquipmentID *uuid.UUID `db:"default_storage_equipment_id" json:"default_storage_equipment_id,omitempty"`
}

// Patient is the slice of the patient record the blood bank needs.
type Patient struct {
	ID        uuid.UUID `db:"id" json:"id"`
	BranchID  uuid.UUID `db:"branch_id" json:"branch_id"`
	UHID      string    `db:"uhid" json:"uhid"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// BloodRequest maps to the blood_request table.
type BloodRequest struct {
	ID                 uuid.UUID     `db:"id" json:"id"`
	BranchID           uuid.UUID     `db:"branch_id" json:"branch_id"`
	RequestNumber      string        `db:"request_number" json:"request_number"`
	PatientID          uuid.UUID     `db:"patient_id" json:"patient_id"`
	EncounterID        *uuid.UUID    `db:"encounter_id" json:"encounter_id,omitempty"`
	RequestedComponent string        `db:"requested_component" json:"requested_component"`
	QuantityUnits      int           `db:"quantity_units" json:"quantity_units"`
	Urgency            Urgency       `db:"urgency" json:"urgency"`
	Indication         *string       `db:"indication" json:"indication,omitempty"`
	Diagnosis          *string       `db:"diagnosis" json:"diagnosis,omitempty"`
	Notes              *string       `db:"notes" json:"notes,omitempty"`
	RequestedByStaffID string        `db:"requested_by_staff_id" json:"requested_by_staff_id"`
	Status             RequestStatus `db:"status" json:"status"`
	SLATargetMinutes   int           `db:"sla_target_minutes" json:"sla_target_minutes"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updated_at"`
}

// PatientBloodSample maps to the patient_blood_sample table. Unique by
// request: re-registration updates the existing row.
type PatientBloodSample struct {
	ID                 uuid.UUID        `db:"id" json:"id"`
	RequestID          uuid.UUID        `db:"request_id" json:"request_id"`
	SampleID           string           `db:"sample_id" json:"sample_id"`
	CollectedAt        time.Time        `db:"collected_at" json:"collected_at"`
	CollectedByStaffID string           `db:"collected_by_staff_id" json:"collected_by_staff_id"`
	VerifiedByStaffID  *string          `db:"verified_by_staff_id" json:"verified_by_staff_id,omitempty"`
	VerificationMethod *string          `db:"verification_method" json:"verification_method,omitempty"`
	PatientBloodGroup  bloodgroup.Group `db:"patient_blood_group" json:"patient_blood_group,omitempty"`
	PatientAntibodies  *string          `db:"patient_antibodies" json:"patient_antibodies,omitempty"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updated_at"`
}

// CrossMatchTest maps to the cross_match_test table. A COMPATIBLE result is a
// time-bounded compatibility certificate: usable for issuance only before
// ValidUntil.
type CrossMatchTest struct {
	ID                uuid.UUID        `db:"id" json:"id"`
	RequestID         uuid.UUID        `db:"request_id" json:"request_id"`
	SampleID          uuid.UUID        `db:"sample_id" json:"sample_id"`
	BloodUnitID       uuid.UUID        `db:"blood_unit_id" json:"blood_unit_id"`
	Method            CrossMatchMethod `db:"method" json:"method"`
	Result            CrossMatchResult `db:"result" json:"result"`
	CertificateNumber string           `db:"certificate_number" json:"certificate_number"`
	TestedByStaffID   string           `db:"tested_by_staff_id" json:"tested_by_staff_id"`
	ValidUntil        *time.Time       `db:"valid_until" json:"valid_until,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
}

// BloodIssue maps to the blood_issue table: the physical release record.
// CrossMatchID is nil only for uncrossmatched MTP pack releases.
type BloodIssue struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	BranchID          uuid.UUID  `db:"branch_id" json:"branch_id"`
	IssueNumber       string     `db:"issue_number" json:"issue_number"`
	BloodUnitID       uuid.UUID  `db:"blood_unit_id" json:"blood_unit_id"`
	RequestID         *uuid.UUID `db:"request_id" json:"request_id,omitempty"`
	CrossMatchID      *uuid.UUID `db:"cross_match_id" json:"cross_match_id,omitempty"`
	MTPSessionID      *uuid.UUID `db:"mtp_session_id" json:"mtp_session_id,omitempty"`
	IssuedToPerson    *string    `db:"issued_to_person" json:"issued_to_person,omitempty"`
	IssuedToWard      *string    `db:"issued_to_ward" json:"issued_to_ward,omitempty"`
	TransportBoxTempC *float64   `db:"transport_box_temp_c" json:"transport_box_temp_c,omitempty"`
	IssuedByStaffID   string     `db:"issued_by_staff_id" json:"issued_by_staff_id"`
	InspectionNotes   *string    `db:"inspection_notes" json:"inspection_notes,omitempty"`
	IsReturned        bool       `db:"is_returned" json:"is_returned"`
	ReturnedAt        *time.Time `db:"returned_at" json:"returned_at,omitempty"`
	ReturnReason      *string    `db:"return_reason" json:"return_reason,omitempty"`
	IssuedAt          time.Time  `db:"issued_at" json:"issued_at"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

// VitalsEntry is one bedside observation. Entries are stored as JSONB inside
// the transfusion record's time buckets.
type VitalsEntry struct {
	RecordedAt      time.Time `json:"recorded_at"`
	RecordedBy      string    `json:"recorded_by"`
	TemperatureC    *float64  `json:"temperature_c,omitempty"`
	PulseRate       *int      `json:"pulse_rate,omitempty"`
	BloodPressure   *string   `json:"blood_pressure,omitempty"`
	RespiratoryRate *int      `json:"respiratory_rate,omitempty"`
	Notes           *string   `json:"notes,omitempty"`
}

// TransfusionRecord maps to the transfusion_record table. One per issue.
type TransfusionRecord struct {
	ID                     uuid.UUID     `db:"id" json:"id"`
	BranchID               uuid.UUID     `db:"branch_id" json:"branch_id"`
	IssueID                uuid.UUID     `db:"issue_id" json:"issue_id"`
	PatientID              uuid.UUID     `db:"patient_id" json:"patient_id"`
	BedsideVerifier1StaffID string       `db:"bedside_verifier1_staff_id" json:"bedside_verifier1_staff_id"`
	BedsideVerifier2StaffID *string      `db:"bedside_verifier2_staff_id" json:"bedside_verifier2_staff_id,omitempty"`
	BedsideVerifiedAt      *time.Time    `db:"bedside_verified_at" json:"bedside_verified_at,omitempty"`
	PatientWristbandScan   bool          `db:"patient_wristband_scan" json:"patient_wristband_scan"`
	UnitBarcodeScan        bool          `db:"unit_barcode_scan" json:"unit_barcode_scan"`
	BedsideVerificationOK  bool          `db:"bedside_verification_ok" json:"bedside_verification_ok"`
	StartedAt              *time.Time    `db:"started_at" json:"started_at,omitempty"`
	EndedAt                *time.Time    `db:"ended_at" json:"ended_at,omitempty"`
	PreVitals              *VitalsEntry  `db:"pre_vitals" json:"pre_vitals,omitempty"`
	Vitals15Min            []VitalsEntry `db:"vitals_15min" json:"vitals_15min,omitempty"`
	Vitals30Min            []VitalsEntry `db:"vitals_30min" json:"vitals_30min,omitempty"`
	Vitals1Hr              []VitalsEntry `db:"vitals_1hr" json:"vitals_1hr,omitempty"`
	PostVitals             *VitalsEntry  `db:"post_vitals" json:"post_vitals,omitempty"`
	TotalVolumeML          *float64      `db:"total_volume_ml" json:"total_volume_ml,omitempty"`
	HasReaction            bool          `db:"has_reaction" json:"has_reaction"`
	AdministeredByStaffID  *string       `db:"administered_by_staff_id" json:"administered_by_staff_id,omitempty"`
	CreatedAt              time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time     `db:"updated_at" json:"updated_at"`
}

// TransfusionReaction maps to the transfusion_reaction table.
type TransfusionReaction struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	TransfusionID        uuid.UUID  `db:"transfusion_id" json:"transfusion_id"`
	ReactionType         string     `db:"reaction_type" json:"reaction_type"`
	Severity             string     `db:"severity" json:"severity"`
	Description          *string    `db:"description" json:"description,omitempty"`
	OnsetAt              time.Time  `db:"onset_at" json:"onset_at"`
	ManagementNotes      *string    `db:"management_notes" json:"management_notes,omitempty"`
	InvestigationResults *string    `db:"investigation_results" json:"investigation_results,omitempty"`
	ReportedByStaffID    string     `db:"reported_by_staff_id" json:"reported_by_staff_id"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
}

// MTPSession maps to the mtp_session table.
type MTPSession struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	BranchID             uuid.UUID  `db:"branch_id" json:"branch_id"`
	PatientID            uuid.UUID  `db:"patient_id" json:"patient_id"`
	EncounterID          *uuid.UUID `db:"encounter_id" json:"encounter_id,omitempty"`
	ClinicalIndication   *string    `db:"clinical_indication" json:"clinical_indication,omitempty"`
	Notes                *string    `db:"notes" json:"notes,omitempty"`
	ActivatedByStaffID   string     `db:"activated_by_staff_id" json:"activated_by_staff_id"`
	ActivatedAt          time.Time  `db:"activated_at" json:"activated_at"`
	DeactivatedAt        *time.Time `db:"deactivated_at" json:"deactivated_at,omitempty"`
	DeactivatedByStaffID *string    `db:"deactivated_by_staff_id" json:"deactivated_by_staff_id,omitempty"`
	Status               MTPStatus  `db:"status" json:"status"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
}

// MTPSessionSummary is the dashboard row for an MTP session: issue counts
// aggregated by component type.
type MTPSessionSummary struct {
	Session     *MTPSession `json:"session"`
	PatientName string      `json:"patient_name,omitempty"`
	UnitsIssued int         `json:"units_issued"`
	PRBCCount   int         `json:"prbc_count"`
	FFPCount    int         `json:"ffp_count"`
	PlateletCount int       `json:"platelet_count"`
}
