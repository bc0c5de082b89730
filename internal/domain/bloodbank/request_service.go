package bloodbank

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hemovault/hemovault/internal/platform/audit"
	"github.com/hemovault/hemovault/internal/platform/auth"
	"github.com/hemovault/hemovault/internal/platform/notification"
	"github.com/hemovault/hemovault/pkg/bloodgroup"
)

// crossMatchValidity is how long a COMPATIBLE cross-match certifies a
// unit/patient pairing before a fresh sample is required.
const crossMatchValidity = 72 * time.Hour

// RequestService owns the clinical request workflow: request intake, sample
// registration, patient grouping and the cross-match engine.
type RequestService struct {
	deps *Deps
}

func NewRequestService(deps *Deps) *RequestService { return &RequestService{deps: deps} }

type CreateRequestInput struct {
	PatientID          uuid.UUID  `json:"patient_id"`
	EncounterID        *uuid.UUID `json:"encounter_id,omitempty"`
	RequestedComponent string     `json:"requested_component"`
	QuantityUnits      int        `json:"quantity_units"`
	Urgency            Urgency    `json:"urgency"`
	Indication         *string    `json:"indication,omitempty"`
	Diagnosis          *string    `json:"diagnosis,omitempty"`
	Notes              *string    `json:"notes,omitempty"`
}

func validComponent(c string) bool {
	switch c {
	case ComponentPRBC, ComponentFFP, ComponentPlateletRDP, ComponentPlateletSDP,
		ComponentWholeBlood, ComponentCryo:
		return true
	}
	return false
}

func (s *RequestService) CreateRequest(ctx context.Context, p auth.Principal, branchID uuid.UUID, in CreateRequestInput) (*BloodRequest, error) {
	if !validComponent(in.RequestedComponent) {
		return nil, validationf("invalid component type %q", in.RequestedComponent)
	}
	if in.QuantityUnits < 1 {
		return nil, validationf("quantity must be at least 1")
	}
	if !in.Urgency.Valid() {
		return nil, validationf("invalid urgency %q", in.Urgency)
	}
	patient, err := s.deps.Patients.GetByID(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}

	now := s.deps.now()
	req := &BloodRequest{
		BranchID:           branchID,
		RequestNumber:      newRequestNumber(now),
		PatientID:          patient.ID,
		EncounterID:        in.EncounterID,
		RequestedComponent: in.RequestedComponent,
		QuantityUnits:      in.QuantityUnits,
		Urgency:            in.Urgency,
		Indication:         in.Indication,
		Diagnosis:          in.Diagnosis,
		Notes:              in.Notes,
		RequestedByStaffID: p.StaffID,
		Status:             RequestPending,
		SLATargetMinutes:   in.Urgency.SLATargetMinutes(),
	}
	if err := s.deps.Requests.Create(ctx, req); err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   branchID,
		Action:     ActionRequestCreate,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityRequest,
		EntityID:   req.ID,
		Details: map[string]interface{}{
			"urgency":   req.Urgency,
			"component": req.RequestedComponent,
			"quantity":  req.QuantityUnits,
		},
	})
	if req.Urgency == UrgencyEmergency || req.Urgency == UrgencyMTP {
		s.deps.notify(ctx, &notification.Notification{
			BranchID:   branchID,
			TargetRole: auth.RoleBloodBankIssue,
			Severity:   notification.SeverityCritical,
			Title:      fmt.Sprintf("%s blood request", req.Urgency),
			Message: fmt.Sprintf("%s: %d unit(s) %s for %s, target %d min",
				req.RequestNumber, req.QuantityUnits, req.RequestedComponent, patient.Name, req.SLATargetMinutes),
			EntityType: EntityRequest,
			EntityID:   &req.ID,
		})
	}
	return req, nil
}

type RegisterSampleInput struct {
	RequestID          uuid.UUID `json:"request_id"`
	SampleID           string    `json:"sample_id"`
	CollectedAt        time.Time `json:"collected_at"`
	VerifiedByStaffID  *string   `json:"verified_by_staff_id,omitempty"`
	VerificationMethod *string   `json:"verification_method,omitempty"`
}

// RegisterSample attaches the pre-transfusion sample to a request.
// Idempotent: re-registration updates the existing sample rather than
// creating a second one, and never moves the request backwards.
func (s *RequestService) RegisterSample(ctx context.Context, p auth.Principal, in RegisterSampleInput) (*PatientBloodSample, error) {
	if in.SampleID == "" {
		return nil, validationf("sample_id is required")
	}
	req, err := s.deps.Requests.GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if in.CollectedAt.IsZero() {
		in.CollectedAt = s.deps.now()
	}

	var sample *PatientBloodSample
	err = s.deps.inTx(ctx, func(ctx context.Context) error {
		existing, err := s.deps.Samples.GetByRequest(ctx, in.RequestID)
		switch {
		case err == nil:
			existing.SampleID = in.SampleID
			existing.CollectedAt = in.CollectedAt
			existing.CollectedByStaffID = p.StaffID
			existing.VerifiedByStaffID = in.VerifiedByStaffID
			existing.VerificationMethod = in.VerificationMethod
			if err := s.deps.Samples.Update(ctx, existing); err != nil {
				return err
			}
			sample = existing
		case errors.Is(err, ErrNotFound):
			sample = &PatientBloodSample{
				RequestID:          in.RequestID,
				SampleID:           in.SampleID,
				CollectedAt:        in.CollectedAt,
				CollectedByStaffID: p.StaffID,
				VerifiedByStaffID:  in.VerifiedByStaffID,
				VerificationMethod: in.VerificationMethod,
			}
			if err := s.deps.Samples.Create(ctx, sample); err != nil {
				return err
			}
		default:
			return err
		}

		if RequestRank(req.Status) < RequestRank(RequestSampleReceived) {
			return s.deps.Requests.AdvanceStatus(ctx, req.ID, RequestSampleReceived, RequestPending)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   req.BranchID,
		Action:     ActionSampleRegistered,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityRequest,
		EntityID:   req.ID,
		Details:    map[string]interface{}{"sample_id": in.SampleID},
	})
	return sample, nil
}

type PatientGroupingInput struct {
	RequestID         uuid.UUID        `json:"request_id"`
	PatientBloodGroup bloodgroup.Group `json:"patient_blood_group"`
	PatientAntibodies *string          `json:"patient_antibodies,omitempty"`
}

// RecordPatientGrouping stores the patient-side ABO/Rh typing on the
// request's sample and advances the request into CROSS_MATCHING.
func (s *RequestService) RecordPatientGrouping(ctx context.Context, p auth.Principal, in PatientGroupingInput) (*PatientBloodSample, error) {
	if !in.PatientBloodGroup.Valid() {
		return nil, validationf("invalid blood group %q", in.PatientBloodGroup)
	}
	req, err := s.deps.Requests.GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	sample, err := s.deps.Samples.GetByRequest(ctx, in.RequestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, stateConflictf("request %s has no registered sample", in.RequestID)
		}
		return nil, err
	}

	err = s.deps.inTx(ctx, func(ctx context.Context) error {
		sample.PatientBloodGroup = in.PatientBloodGroup
		sample.PatientAntibodies = in.PatientAntibodies
		if err := s.deps.Samples.Update(ctx, sample); err != nil {
			return err
		}
		if RequestRank(req.Status) < RequestRank(RequestCrossMatching) {
			return s.deps.Requests.AdvanceStatus(ctx, req.ID, RequestCrossMatching,
				RequestPending, RequestSampleReceived)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   req.BranchID,
		Action:     ActionPatientGrouping,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityRequest,
		EntityID:   req.ID,
		Details:    map[string]interface{}{"patient_blood_group": in.PatientBloodGroup},
	})
	return sample, nil
}

// SuggestCompatibleUnits lists eligible donor units for a request, ordered
// by soonest expiry so near-dated stock is consumed first.
func (s *RequestService) SuggestCompatibleUnits(ctx context.Context, requestID uuid.UUID, limit int) ([]*BloodUnit, error) {
	req, err := s.deps.Requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	sample, err := s.deps.Samples.GetByRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, stateConflictf("request %s has no registered sample", requestID)
		}
		return nil, err
	}
	if sample.PatientBloodGroup == "" {
		return nil, stateConflictf("request %s patient grouping not recorded", requestID)
	}
	if limit <= 0 {
		limit = 20
	}
	donors := bloodgroup.CompatibleDonors(sample.PatientBloodGroup)
	return s.deps.Units.ListEligible(ctx, req.BranchID, req.RequestedComponent, donors, s.deps.now(), limit)
}

type RecordCrossMatchInput struct {
	RequestID   uuid.UUID        `json:"request_id"`
	BloodUnitID uuid.UUID        `json:"blood_unit_id"`
	Method      CrossMatchMethod `json:"method"`
	Result      CrossMatchResult `json:"result"`
}

// RecordCrossMatch captures a serological cross-match result. A COMPATIBLE
// result reserves the unit (-> CROSS_MATCHED) and stamps a 72-hour validity
// window; once enough valid compatible cross-matches cover the requested
// quantity the request becomes READY.
func (s *RequestService) RecordCrossMatch(ctx context.Context, p auth.Principal, in RecordCrossMatchInput) (*CrossMatchTest, error) {
	if in.Method != MethodAHG && in.Method != MethodSaline {
		return nil, validationf("invalid serological cross-match method %q", in.Method)
	}
	if in.Result != XMCompatible && in.Result != XMIncompatible {
		return nil, validationf("cross-match result must be COMPATIBLE or INCOMPATIBLE")
	}

	req, err := s.deps.Requests.GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	sample, err := s.deps.Samples.GetByRequest(ctx, in.RequestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, stateConflictf("request %s has no registered sample", in.RequestID)
		}
		return nil, err
	}
	unit, err := s.deps.Units.GetByID(ctx, in.BloodUnitID)
	if err != nil {
		return nil, err
	}
	now := s.deps.now()
	if unit.Status != UnitAvailable && unit.Status != UnitReserved {
		return nil, stateConflictf("unit %s is %s, cross-matching requires AVAILABLE or RESERVED", unit.ID, unit.Status)
	}
	if unit.Expired(now) {
		return nil, safetyGatef("unit %s expired on %s", unit.UnitNumber, unit.ExpiryDate.Format("2006-01-02"))
	}
	if unit.ComponentType != req.RequestedComponent {
		return nil, validationf("unit %s is %s, request wants %s", unit.UnitNumber, unit.ComponentType, req.RequestedComponent)
	}

	xm := &CrossMatchTest{
		RequestID:         in.RequestID,
		SampleID:          sample.ID,
		BloodUnitID:       in.BloodUnitID,
		Method:            in.Method,
		Result:            in.Result,
		CertificateNumber: newCrossMatchNumber(now),
		TestedByStaffID:   p.StaffID,
	}
	if in.Result == XMCompatible {
		validUntil := now.Add(crossMatchValidity)
		xm.ValidUntil = &validUntil
	}

	err = s.deps.inTx(ctx, func(ctx context.Context) error {
		if err := s.deps.CrossMatches.Create(ctx, xm); err != nil {
			return err
		}
		if in.Result == XMCompatible {
			if err := s.deps.Units.TransitionStatus(ctx, unit.ID, UnitCrossMatched,
				UnitAvailable, UnitReserved); err != nil {
				return err
			}
		}
		return s.advanceAfterCrossMatch(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   req.BranchID,
		Action:     ActionCrossmatchRecorded,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityCrossMatch,
		EntityID:   xm.ID,
		Details: map[string]interface{}{
			"request_id": req.ID.String(),
			"unit_id":    unit.ID.String(),
			"method":     xm.Method,
			"result":     xm.Result,
		},
	})
	return xm, nil
}

// advanceAfterCrossMatch moves the request forward based on how many valid
// compatible cross-matches now cover it. Forward-only.
func (s *RequestService) advanceAfterCrossMatch(ctx context.Context, req *BloodRequest) error {
	valid, err := s.deps.CrossMatches.CountCompatibleValid(ctx, req.ID, s.deps.now())
	if err != nil {
		return err
	}
	target := RequestCrossMatching
	if valid >= req.QuantityUnits {
		target = RequestReady
	}
	if RequestRank(req.Status) >= RequestRank(target) {
		return nil
	}
	err = s.deps.Requests.AdvanceStatus(ctx, req.ID, target,
		RequestPending, RequestSampleReceived, RequestCrossMatching)
	if err != nil && IsStateConflict(err) {
		// A concurrent writer already advanced it further.
		return nil
	}
	return err
}

type ElectronicCrossMatchInput struct {
	RequestID   uuid.UUID `json:"request_id"`
	BloodUnitID uuid.UUID `json:"blood_unit_id"`
}

// ElectronicCrossMatch issues a computed compatibility certificate without
// serology. It is permitted only when the patient has a recorded grouping
// with no detected antibodies, the unit's grouping is verified and
// discrepancy-free, the unit's label group matches its verified grouping,
// and the donor group is compatible with the patient group.
func (s *RequestService) ElectronicCrossMatch(ctx context.Context, p auth.Principal, in ElectronicCrossMatchInput) (*CrossMatchTest, error) {
	req, err := s.deps.Requests.GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	sample, err := s.deps.Samples.GetByRequest(ctx, in.RequestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, stateConflictf("request %s has no registered sample", in.RequestID)
		}
		return nil, err
	}
	unit, err := s.deps.Units.GetByID(ctx, in.BloodUnitID)
	if err != nil {
		return nil, err
	}

	now := s.deps.now()
	if sample.PatientBloodGroup == "" {
		return nil, safetyGatef("electronic cross-match requires a recorded patient grouping")
	}
	if sample.PatientAntibodies != nil && *sample.PatientAntibodies != "" {
		return nil, safetyGatef("electronic cross-match not permitted: patient has detected antibodies")
	}
	if unit.Status != UnitAvailable && unit.Status != UnitReserved {
		return nil, stateConflictf("unit %s is %s, cross-matching requires AVAILABLE or RESERVED", unit.ID, unit.Status)
	}
	if unit.Expired(now) {
		return nil, safetyGatef("unit %s expired on %s", unit.UnitNumber, unit.ExpiryDate.Format("2006-01-02"))
	}
	if unit.ComponentType != req.RequestedComponent {
		return nil, validationf("unit %s is %s, request wants %s", unit.UnitNumber, unit.ComponentType, req.RequestedComponent)
	}

	grouping, err := s.deps.Groupings.LatestByUnit(ctx, in.BloodUnitID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, safetyGatef("electronic cross-match requires a verified unit grouping")
		}
		return nil, err
	}
	if !grouping.Verified() || grouping.HasDiscrepancy {
		return nil, safetyGatef("electronic cross-match requires a verified, discrepancy-free unit grouping")
	}
	if grouping.ConfirmedGroup != unit.BloodGroup {
		return nil, safetyGatef("unit %s label group %s does not match verified grouping %s",
			unit.UnitNumber, unit.BloodGroup, grouping.ConfirmedGroup)
	}
	if !bloodgroup.Compatible(sample.PatientBloodGroup, unit.BloodGroup) {
		return nil, safetyGatef("donor group %s is not compatible with patient group %s",
			unit.BloodGroup, sample.PatientBloodGroup)
	}

	validUntil := now.Add(crossMatchValidity)
	xm := &CrossMatchTest{
		RequestID:         in.RequestID,
		SampleID:          sample.ID,
		BloodUnitID:       in.BloodUnitID,
		Method:            MethodElectronic,
		Result:            XMCompatible,
		CertificateNumber: newElectronicXMNumber(now),
		TestedByStaffID:   p.StaffID,
		ValidUntil:        &validUntil,
	}

	err = s.deps.inTx(ctx, func(ctx context.Context) error {
		if err := s.deps.CrossMatches.Create(ctx, xm); err != nil {
			return err
		}
		if err := s.deps.Units.TransitionStatus(ctx, unit.ID, UnitCrossMatched,
			UnitAvailable, UnitReserved); err != nil {
			return err
		}
		return s.advanceAfterCrossMatch(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   req.BranchID,
		Action:     ActionElectronicXM,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityCrossMatch,
		EntityID:   xm.ID,
		Details: map[string]interface{}{
			"request_id": req.ID.String(),
			"unit_id":    unit.ID.String(),
		},
	})
	return xm, nil
}

// Certificate is the printable compatibility document for one cross-match.
type Certificate struct {
	CrossMatch *CrossMatchTest `json:"cross_match"`
	Request    *BloodRequest   `json:"request"`
	Unit       *BloodUnit      `json:"unit"`
	Patient    *Patient        `json:"patient"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
}

func (s *RequestService) Certificate(ctx context.Context, crossMatchID uuid.UUID) (*Certificate, error) {
	xm, err := s.deps.CrossMatches.GetByID(ctx, crossMatchID)
	if err != nil {
		return nil, err
	}
	req, err := s.deps.Requests.GetByID(ctx, xm.RequestID)
	if err != nil {
		return nil, err
	}
	unit, err := s.deps.Units.GetByID(ctx, xm.BloodUnitID)
	if err != nil {
		return nil, err
	}
	patient, err := s.deps.Patients.GetByID(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	return &Certificate{
		CrossMatch: xm,
		Request:    req,
		Unit:       unit,
		Patient:    patient,
		ExpiresAt:  xm.ValidUntil,
	}, nil
}

// RequestDetail aggregates a request with its sample, cross-matches and
// issues for the worklist drill-down.
type RequestDetail struct {
	Request      *BloodRequest       `json:"request"`
	Patient      *Patient            `json:"patient"`
	Sample       *PatientBloodSample `json:"sample,omitempty"`
	CrossMatches []*CrossMatchTest   `json:"cross_matches,omitempty"`
	Issues       []*BloodIssue       `json:"issues,omitempty"`
	SLADeadline  time.Time           `json:"sla_deadline"`
	Overdue      bool                `json:"overdue"`
}

func (s *RequestService) GetRequest(ctx context.Context, id uuid.UUID) (*RequestDetail, error) {
	req, err := s.deps.Requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	patient, err := s.deps.Patients.GetByID(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	detail := &RequestDetail{Request: req, Patient: patient}

	sample, err := s.deps.Samples.GetByRequest(ctx, id)
	if err == nil {
		detail.Sample = sample
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if detail.CrossMatches, err = s.deps.CrossMatches.ListByRequest(ctx, id); err != nil {
		return nil, err
	}
	if detail.Issues, err = s.deps.Issues.ListByRequest(ctx, id); err != nil {
		return nil, err
	}

	detail.SLADeadline = req.CreatedAt.Add(time.Duration(req.SLATargetMinutes) * time.Minute)
	detail.Overdue = RequestRank(req.Status) < RequestRank(RequestIssued) &&
		s.deps.now().After(detail.SLADeadline)
	return detail, nil
}

func (s *RequestService) ListRequests(ctx context.Context, branchID uuid.UUID, status RequestStatus, urgency Urgency, limit, offset int) ([]*BloodRequest, int, error) {
	return s.deps.Requests.List(ctx, branchID, status, urgency, limit, offset)
}

func (s *RequestService) ListRequestsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*BloodRequest, int, error) {
	return s.deps.Requests.ListByPatient(ctx, patientID, limit, offset)
}
