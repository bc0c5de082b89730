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

// returnWindow is how long after issue a unit may come back into the bank.
// Beyond it the cold chain is presumed broken and the unit must be discarded.
const returnWindow = 4 * time.Hour

// IssueService performs the physical release of blood and everything after
// it: bedside verification, transfusion monitoring, reactions, returns and
// mass-transfusion sessions.
type IssueService struct {
	deps *Deps
}

func NewIssueService(deps *Deps) *IssueService { return &IssueService{deps: deps} }

type IssueBloodInput struct {
	RequestID         uuid.UUID  `json:"request_id"`
	BloodUnitID       uuid.UUID  `json:"blood_unit_id"`
	CrossMatchID      *uuid.UUID `json:"cross_match_id,omitempty"`
	IssuedToPerson    *string    `json:"issued_to_person,omitempty"`
	IssuedToWard      *string    `json:"issued_to_ward,omitempty"`
	TransportBoxTempC *float64   `json:"transport_box_temp_c,omitempty"`
	InspectionNotes   *string    `json:"inspection_notes,omitempty"`
}

// IssueBlood releases one unit against a request. Six gates run in order and
// the first failure aborts the issue:
//
//  1. a valid (unexpired) COMPATIBLE cross-match covers this request/unit pair
//  2. the request is READY (or ISSUED with quantity remaining)
//  3. the unit is CROSS_MATCHED, active and unexpired
//  4. the unit's grouping is verified with no discrepancy
//  5. every mandatory TTI screen is verified NON_REACTIVE
//  6. the unit sits in active, calibrated storage with no unacknowledged breach
//
// A REACTIVE screen discovered at gate 5 quarantines the unit before the
// gate failure is returned.
func (s *IssueService) IssueBlood(ctx context.Context, p auth.Principal, in IssueBloodInput) (*BloodIssue, error) {
	req, err := s.deps.Requests.GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	unit, err := s.deps.Units.GetByID(ctx, in.BloodUnitID)
	if err != nil {
		return nil, err
	}
	now := s.deps.now()

	// Gate 1: compatibility certificate.
	var xm *CrossMatchTest
	if in.CrossMatchID != nil {
		xm, err = s.deps.CrossMatches.GetByID(ctx, *in.CrossMatchID)
		if err != nil {
			return nil, err
		}
		if xm.RequestID != req.ID || xm.BloodUnitID != unit.ID {
			return nil, safetyGatef("cross-match %s does not cover request %s and unit %s",
				xm.CertificateNumber, req.RequestNumber, unit.UnitNumber)
		}
	} else {
		xm, err = s.deps.CrossMatches.LatestCompatible(ctx, req.ID, unit.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, safetyGatef("no compatible cross-match for request %s and unit %s",
					req.RequestNumber, unit.UnitNumber)
			}
			return nil, err
		}
	}
	if xm.Result != XMCompatible {
		return nil, safetyGatef("cross-match %s is %s", xm.CertificateNumber, xm.Result)
	}
	if xm.ValidUntil == nil || !now.Before(*xm.ValidUntil) {
		return nil, safetyGatef("cross-match %s expired; a fresh sample is required", xm.CertificateNumber)
	}

	// Gate 2: request state.
	switch req.Status {
	case RequestReady:
	case RequestIssued:
		issued, err := s.deps.Issues.CountByRequest(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		if issued >= req.QuantityUnits {
			return nil, safetyGatef("request %s already fully issued", req.RequestNumber)
		}
	default:
		return nil, safetyGatef("request %s is %s, issuance requires READY", req.RequestNumber, req.Status)
	}

	// Gate 3: unit eligibility.
	if unit.Status != UnitCrossMatched {
		return nil, safetyGatef("unit %s is %s, issuance requires CROSS_MATCHED", unit.UnitNumber, unit.Status)
	}
	if !unit.IsActive {
		return nil, safetyGatef("unit %s is inactive", unit.UnitNumber)
	}
	if unit.Expired(now) {
		return nil, safetyGatef("unit %s expired on %s", unit.UnitNumber, unit.ExpiryDate.Format("2006-01-02"))
	}

	// Gate 4: verified grouping.
	grouping, err := s.deps.Groupings.LatestByUnit(ctx, unit.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, safetyGatef("unit %s has no grouping result", unit.UnitNumber)
		}
		return nil, err
	}
	if !grouping.Verified() {
		return nil, safetyGatef("unit %s grouping is not verified", unit.UnitNumber)
	}
	if grouping.HasDiscrepancy {
		return nil, safetyGatef("unit %s grouping has an unresolved discrepancy", unit.UnitNumber)
	}

	// Gate 5: TTI clearance. A reactive screen quarantines the unit on the
	// spot even though the issue fails.
	ttis, err := s.deps.TTI.LatestPerTest(ctx, unit.ID)
	if err != nil {
		return nil, err
	}
	for _, name := range MandatoryTTITests {
		rec, ok := ttis[name]
		if !ok {
			return nil, safetyGatef("unit %s missing mandatory TTI test %s", unit.UnitNumber, name)
		}
		if rec.Result == TTIReactive {
			if qerr := s.deps.Units.TransitionStatus(ctx, unit.ID, UnitQuarantined,
				UnitAvailable, UnitReserved, UnitCrossMatched); qerr != nil && !IsStateConflict(qerr) {
				s.deps.Log.Error().Err(qerr).Str("unit_id", unit.ID.String()).Msg("defensive quarantine failed")
			}
			return nil, safetyGatef("unit %s TTI test %s is REACTIVE; unit quarantined", unit.UnitNumber, name)
		}
		if rec.Result != TTINonReactive || !rec.Verified() {
			return nil, safetyGatef("unit %s TTI test %s is not verified NON_REACTIVE", unit.UnitNumber, name)
		}
	}

	// Gate 6: cold chain.
	slot, err := s.deps.Slots.CurrentByUnit(ctx, unit.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, safetyGatef("unit %s is not in tracked storage", unit.UnitNumber)
		}
		return nil, err
	}
	equip, err := s.deps.Equipment.GetByID(ctx, slot.EquipmentID)
	if err != nil {
		return nil, err
	}
	if !equip.IsActive {
		return nil, safetyGatef("storage equipment %s is inactive", equip.Name)
	}
	if equip.CalibrationDueDate != nil && equip.CalibrationDueDate.Before(now) {
		return nil, safetyGatef("storage equipment %s calibration overdue since %s",
			equip.Name, equip.CalibrationDueDate.Format("2006-01-02"))
	}
	breached, err := s.deps.TempLogs.HasUnacknowledgedBreach(ctx, equip.ID)
	if err != nil {
		return nil, err
	}
	if breached {
		return nil, safetyGatef("storage equipment %s has an unacknowledged temperature breach", equip.Name)
	}

	// All gates passed: release atomically.
	issue := &BloodIssue{
		BranchID:          req.BranchID,
		IssueNumber:       newIssueNumber(now),
		BloodUnitID:       unit.ID,
		RequestID:         &req.ID,
		CrossMatchID:      &xm.ID,
		IssuedToPerson:    in.IssuedToPerson,
		IssuedToWard:      in.IssuedToWard,
		TransportBoxTempC: in.TransportBoxTempC,
		IssuedByStaffID:   p.StaffID,
		InspectionNotes:   in.InspectionNotes,
		IssuedAt:          now,
	}
	err = s.deps.inTx(ctx, func(ctx context.Context) error {
		if err := s.deps.Units.TransitionStatus(ctx, unit.ID, UnitIssued, UnitCrossMatched); err != nil {
			return err
		}
		if err := s.deps.Slots.Remove(ctx, unit.ID, now); err != nil {
			return err
		}
		if err := s.deps.Issues.Create(ctx, issue); err != nil {
			return err
		}
		if req.Status == RequestReady {
			return s.deps.Requests.AdvanceStatus(ctx, req.ID, RequestIssued, RequestReady)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   req.BranchID,
		Action:     ActionBloodIssued,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityIssue,
		EntityID:   issue.ID,
		Details: map[string]interface{}{
			"request_id":  req.ID.String(),
			"unit_id":     unit.ID.String(),
			"certificate": xm.CertificateNumber,
		},
	})
	return issue, nil
}

func (s *IssueService) GetIssue(ctx context.Context, id uuid.UUID) (*BloodIssue, error) {
	return s.deps.Issues.GetByID(ctx, id)
}

func (s *IssueService) ListIssues(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]*BloodIssue, int, error) {
	return s.deps.Issues.List(ctx, branchID, limit, offset)
}

// ReturnUnit takes an issued unit back into the bank. Returns are accepted
// only within the return window; after that the cold chain is presumed
// broken and the unit must be discarded instead.
func (s *IssueService) ReturnUnit(ctx context.Context, p auth.Principal, issueID uuid.UUID, reason string) (*BloodIssue, error) {
	if reason == "" {
		return nil, validationf("return reason is required")
	}
	issue, err := s.deps.Issues.GetByID(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if issue.IsReturned {
		return nil, stateConflictf("issue %s already returned", issue.IssueNumber)
	}
	now := s.deps.now()
	if now.Sub(issue.IssuedAt) > returnWindow {
		return nil, safetyGatef("issue %s is past the %s return window; discard the unit",
			issue.IssueNumber, returnWindow)
	}

	err = s.deps.inTx(ctx, func(ctx context.Context) error {
		if err := s.deps.Units.TransitionStatus(ctx, issue.BloodUnitID, UnitReturned, UnitIssued); err != nil {
			return err
		}
		issue.IsReturned = true
		issue.ReturnedAt = &now
		issue.ReturnReason = &reason
		return s.deps.Issues.Update(ctx, issue)
	})
	if err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   issue.BranchID,
		Action:     ActionUnitReturned,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityIssue,
		EntityID:   issue.ID,
		Details:    map[string]interface{}{"reason": reason},
	})
	return issue, nil
}

// -- Bedside and transfusion monitoring --

type BedsideVerifyInput struct {
	IssueID          uuid.UUID `json:"issue_id"`
	Verifier2StaffID string    `json:"verifier2_staff_id"`
	ScannedPatientID uuid.UUID `json:"scanned_patient_id"`
	ScannedBarcode   string    `json:"scanned_unit_barcode"`
}

// BedsideVerify records the two-person check at the patient's side. The
// scanned wristband and unit barcode are compared server-side against the
// issue's patient and unit, and the second verifier must be a different
// person.
func (s *IssueService) BedsideVerify(ctx context.Context, p auth.Principal, in BedsideVerifyInput) (*TransfusionRecord, error) {
	issue, err := s.deps.Issues.GetByID(ctx, in.IssueID)
	if err != nil {
		return nil, err
	}
	if issue.IsReturned {
		return nil, stateConflictf("issue %s was returned", issue.IssueNumber)
	}
	if in.Verifier2StaffID == "" || in.Verifier2StaffID == p.StaffID {
		return nil, safetyGatef("bedside verification requires a second, different verifier")
	}
	if in.ScannedPatientID == uuid.Nil || in.ScannedBarcode == "" {
		return nil, safetyGatef("bedside verification requires both wristband and unit barcode scans")
	}
	if _, err := s.deps.Transfusions.GetByIssue(ctx, in.IssueID); err == nil {
		return nil, stateConflictf("issue %s already bedside-verified", issue.IssueNumber)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	unit, err := s.deps.Units.GetByID(ctx, issue.BloodUnitID)
	if err != nil {
		return nil, err
	}
	if in.ScannedBarcode != unit.Barcode {
		return nil, safetyGatef("scanned barcode does not match unit %s on issue %s",
			unit.UnitNumber, issue.IssueNumber)
	}

	var patientID uuid.UUID
	if issue.RequestID != nil {
		req, err := s.deps.Requests.GetByID(ctx, *issue.RequestID)
		if err != nil {
			return nil, err
		}
		patientID = req.PatientID

		// Independent ABO recheck at the bedside when both groups are on
		// record. Last line of defence against a mixed-up unit.
		if sample, err := s.deps.Samples.GetByRequest(ctx, *issue.RequestID); err == nil {
			if sample.PatientBloodGroup != "" && unit.BloodGroup != "" &&
				!bloodgroup.Compatible(sample.PatientBloodGroup, unit.BloodGroup) {
				return nil, safetyGatef("unit %s group %s is not compatible with patient group %s",
					unit.UnitNumber, unit.BloodGroup, sample.PatientBloodGroup)
			}
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	} else if issue.MTPSessionID != nil {
		session, err := s.deps.MTP.GetByID(ctx, *issue.MTPSessionID)
		if err != nil {
			return nil, err
		}
		patientID = session.PatientID
	}
	if patientID != uuid.Nil && in.ScannedPatientID != patientID {
		return nil, safetyGatef("scanned wristband does not match the patient on issue %s", issue.IssueNumber)
	}

	now := s.deps.now()
	rec := &TransfusionRecord{
		BranchID:                issue.BranchID,
		IssueID:                 issue.ID,
		PatientID:               patientID,
		BedsideVerifier1StaffID: p.StaffID,
		BedsideVerifier2StaffID: &in.Verifier2StaffID,
		BedsideVerifiedAt:       &now,
		PatientWristbandScan:    true,
		UnitBarcodeScan:         true,
		BedsideVerificationOK:   true,
	}
	if err := s.deps.Transfusions.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   issue.BranchID,
		Action:     ActionBedsideVerified,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityTransfusion,
		EntityID:   rec.ID,
		Details:    map[string]interface{}{"verifier2": in.Verifier2StaffID},
	})
	return rec, nil
}

// StartTransfusion begins administration. Bedside verification must have
// passed and baseline vitals are mandatory.
func (s *IssueService) StartTransfusion(ctx context.Context, p auth.Principal, transfusionID uuid.UUID, preVitals VitalsEntry) (*TransfusionRecord, error) {
	rec, err := s.deps.Transfusions.GetByID(ctx, transfusionID)
	if err != nil {
		return nil, err
	}
	if !rec.BedsideVerificationOK {
		return nil, safetyGatef("transfusion %s has not passed bedside verification", rec.ID)
	}
	if rec.StartedAt != nil {
		return nil, stateConflictf("transfusion %s already started", rec.ID)
	}
	if preVitals.TemperatureC == nil && preVitals.PulseRate == nil && preVitals.BloodPressure == nil {
		return nil, validationf("baseline vitals are required to start a transfusion")
	}

	now := s.deps.now()
	preVitals.RecordedAt = now
	preVitals.RecordedBy = p.StaffID
	rec.StartedAt = &now
	rec.PreVitals = &preVitals
	rec.AdministeredByStaffID = &p.StaffID
	if err := s.deps.Transfusions.Update(ctx, rec); err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   rec.BranchID,
		Action:     ActionTransfusionStarted,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityTransfusion,
		EntityID:   rec.ID,
	})
	return rec, nil
}

// RecordVitals appends an observation to a monitoring bucket. AUTO targets
// the first unfilled bucket (15 min, then 30 min, then 1 hr).
func (s *IssueService) RecordVitals(ctx context.Context, p auth.Principal, transfusionID uuid.UUID, interval VitalsInterval, entry VitalsEntry) (*TransfusionRecord, error) {
	rec, err := s.deps.Transfusions.GetByID(ctx, transfusionID)
	if err != nil {
		return nil, err
	}
	if rec.StartedAt == nil {
		return nil, stateConflictf("transfusion %s has not started", rec.ID)
	}
	if rec.EndedAt != nil {
		return nil, stateConflictf("transfusion %s has ended", rec.ID)
	}

	entry.RecordedAt = s.deps.now()
	entry.RecordedBy = p.StaffID

	if interval == IntervalAuto || interval == "" {
		switch {
		case len(rec.Vitals15Min) == 0:
			interval = Interval15Min
		case len(rec.Vitals30Min) == 0:
			interval = Interval30Min
		default:
			interval = Interval1Hr
		}
	}
	switch interval {
	case Interval15Min:
		rec.Vitals15Min = append(rec.Vitals15Min, entry)
	case Interval30Min:
		rec.Vitals30Min = append(rec.Vitals30Min, entry)
	case Interval1Hr:
		rec.Vitals1Hr = append(rec.Vitals1Hr, entry)
	default:
		return nil, validationf("invalid vitals interval %q", interval)
	}

	if err := s.deps.Transfusions.Update(ctx, rec); err != nil {
		return nil, err
	}
	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   rec.BranchID,
		Action:     ActionVitalsRecorded,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityTransfusion,
		EntityID:   rec.ID,
		Details:    map[string]interface{}{"interval": interval},
	})
	return rec, nil
}

// EndTransfusion closes administration: post vitals, total volume, unit
// moves ISSUED -> TRANSFUSED, and a fully-served request completes.
func (s *IssueService) EndTransfusion(ctx context.Context, p auth.Principal, transfusionID uuid.UUID, postVitals VitalsEntry, totalVolumeML float64) (*TransfusionRecord, error) {
	rec, err := s.deps.Transfusions.GetByID(ctx, transfusionID)
	if err != nil {
		return nil, err
	}
	if rec.StartedAt == nil {
		return nil, stateConflictf("transfusion %s has not started", rec.ID)
	}
	if rec.EndedAt != nil {
		return nil, stateConflictf("transfusion %s already ended", rec.ID)
	}
	if totalVolumeML <= 0 {
		return nil, validationf("total volume must be positive")
	}

	issue, err := s.deps.Issues.GetByID(ctx, rec.IssueID)
	if err != nil {
		return nil, err
	}

	now := s.deps.now()
	postVitals.RecordedAt = now
	postVitals.RecordedBy = p.StaffID
	rec.EndedAt = &now
	rec.PostVitals = &postVitals
	rec.TotalVolumeML = &totalVolumeML

	err = s.deps.inTx(ctx, func(ctx context.Context) error {
		if err := s.deps.Transfusions.Update(ctx, rec); err != nil {
			return err
		}
		if err := s.deps.Units.TransitionStatus(ctx, issue.BloodUnitID, UnitTransfused, UnitIssued); err != nil {
			return err
		}
		if issue.RequestID == nil {
			return nil
		}
		req, err := s.deps.Requests.GetByID(ctx, *issue.RequestID)
		if err != nil {
			return err
		}
		issued, err := s.deps.Issues.CountByRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		if req.Status == RequestIssued && issued >= req.QuantityUnits {
			return s.deps.Requests.AdvanceStatus(ctx, req.ID, RequestCompleted, RequestIssued)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   rec.BranchID,
		Action:     ActionTransfusionEnded,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityTransfusion,
		EntityID:   rec.ID,
		Details:    map[string]interface{}{"total_volume_ml": totalVolumeML},
	})
	return rec, nil
}

type ReportReactionInput struct {
	TransfusionID   uuid.UUID `json:"transfusion_id"`
	ReactionType    string    `json:"reaction_type"`
	Severity        string    `json:"severity"`
	Description     *string   `json:"description,omitempty"`
	OnsetAt         time.Time `json:"onset_at"`
	ManagementNotes *string   `json:"management_notes,omitempty"`
}

// ReportReaction files an adverse reaction and flags the transfusion record.
// Unit and request statuses are untouched; closing the transfusion remains an
// explicit EndTransfusion call.
func (s *IssueService) ReportReaction(ctx context.Context, p auth.Principal, in ReportReactionInput) (*TransfusionReaction, error) {
	if in.ReactionType == "" || in.Severity == "" {
		return nil, validationf("reaction_type and severity are required")
	}
	rec, err := s.deps.Transfusions.GetByID(ctx, in.TransfusionID)
	if err != nil {
		return nil, err
	}
	now := s.deps.now()
	if in.OnsetAt.IsZero() {
		in.OnsetAt = now
	}

	reaction := &TransfusionReaction{
		TransfusionID:     in.TransfusionID,
		ReactionType:      in.ReactionType,
		Severity:          in.Severity,
		Description:       in.Description,
		OnsetAt:           in.OnsetAt,
		ManagementNotes:   in.ManagementNotes,
		ReportedByStaffID: p.StaffID,
	}
	err = s.deps.inTx(ctx, func(ctx context.Context) error {
		if err := s.deps.Reactions.Create(ctx, reaction); err != nil {
			return err
		}
		rec.HasReaction = true
		return s.deps.Transfusions.Update(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   rec.BranchID,
		Action:     ActionReactionReported,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityTransfusion,
		EntityID:   rec.ID,
		Details: map[string]interface{}{
			"reaction_type": in.ReactionType,
			"severity":      in.Severity,
		},
	})
	s.deps.notify(ctx, &notification.Notification{
		BranchID:   rec.BranchID,
		TargetRole: auth.RoleClinician,
		Severity:   notification.SeverityCritical,
		Title:      "Transfusion reaction reported",
		Message:    fmt.Sprintf("%s reaction (%s severity) during transfusion", in.ReactionType, in.Severity),
		EntityType: EntityTransfusion,
		EntityID:   &rec.ID,
	})
	return reaction, nil
}

// -- Mass transfusion protocol --

type ActivateMTPInput struct {
	PatientID          uuid.UUID  `json:"patient_id"`
	EncounterID        *uuid.UUID `json:"encounter_id,omitempty"`
	ClinicalIndication *string    `json:"clinical_indication,omitempty"`
	Notes              *string    `json:"notes,omitempty"`
}

// ActivateMTP opens a mass-transfusion session. One active session per
// patient.
func (s *IssueService) ActivateMTP(ctx context.Context, p auth.Principal, branchID uuid.UUID, in ActivateMTPInput) (*MTPSession, error) {
	patient, err := s.deps.Patients.GetByID(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}
	if existing, err := s.deps.MTP.ActiveByPatient(ctx, in.PatientID); err == nil {
		return nil, stateConflictf("patient already has active MTP session %s", existing.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	session := &MTPSession{
		BranchID:           branchID,
		PatientID:          in.PatientID,
		EncounterID:        in.EncounterID,
		ClinicalIndication: in.ClinicalIndication,
		Notes:              in.Notes,
		ActivatedByStaffID: p.StaffID,
		ActivatedAt:        s.deps.now(),
		Status:             MTPActive,
	}
	if err := s.deps.MTP.Create(ctx, session); err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   branchID,
		Action:     ActionMTPActivated,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityMTPSession,
		EntityID:   session.ID,
	})
	s.deps.notify(ctx, &notification.Notification{
		BranchID:   branchID,
		TargetRole: auth.RoleBloodBankIssue,
		Severity:   notification.SeverityCritical,
		Title:      "MTP activated",
		Message:    fmt.Sprintf("Mass transfusion protocol activated for %s", patient.Name),
		EntityType: EntityMTPSession,
		EntityID:   &session.ID,
	})
	return session, nil
}

func (s *IssueService) DeactivateMTP(ctx context.Context, p auth.Principal, sessionID uuid.UUID) (*MTPSession, error) {
	session, err := s.deps.MTP.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != MTPActive {
		return nil, stateConflictf("MTP session %s is %s", session.ID, session.Status)
	}
	now := s.deps.now()
	session.Status = MTPDeactivated
	session.DeactivatedAt = &now
	session.DeactivatedByStaffID = &p.StaffID
	if err := s.deps.MTP.Update(ctx, session); err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   session.BranchID,
		Action:     ActionMTPDeactivated,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityMTPSession,
		EntityID:   session.ID,
	})
	return session, nil
}

type MTPPackItem struct {
	ComponentType string `json:"component_type"`
	Quantity      int    `json:"quantity"`
}

// emergencyDonorGroups picks the universally safe donor groups for
// uncrossmatched release: O- red cells, AB plasma, any-group platelets with
// O preferred.
func emergencyDonorGroups(componentType string) []bloodgroup.Group {
	switch componentType {
	case ComponentPRBC, ComponentWholeBlood:
		return []bloodgroup.Group{bloodgroup.ONeg}
	case ComponentFFP, ComponentCryo:
		return []bloodgroup.Group{bloodgroup.ABPos, bloodgroup.ABNeg}
	default:
		return bloodgroup.All
	}
}

// ReleaseMTPPack releases a pack of uncrossmatched units against an active
// MTP session. Only blood-group-safe stock is selected; the cross-match
// gates are not applied, but units still must be AVAILABLE and unexpired.
func (s *IssueService) ReleaseMTPPack(ctx context.Context, p auth.Principal, sessionID uuid.UUID, pack []MTPPackItem) ([]*BloodIssue, error) {
	if len(pack) == 0 {
		return nil, validationf("pack must name at least one component")
	}
	session, err := s.deps.MTP.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != MTPActive {
		return nil, stateConflictf("MTP session %s is %s", session.ID, session.Status)
	}
	for _, item := range pack {
		if !validComponent(item.ComponentType) {
			return nil, validationf("invalid component type %q", item.ComponentType)
		}
		if item.Quantity < 1 {
			return nil, validationf("quantity for %s must be at least 1", item.ComponentType)
		}
	}

	now := s.deps.now()
	var issues []*BloodIssue
	err = s.deps.inTx(ctx, func(ctx context.Context) error {
		for _, item := range pack {
			units, err := s.deps.Units.ListEligible(ctx, session.BranchID, item.ComponentType,
				emergencyDonorGroups(item.ComponentType), now, item.Quantity)
			if err != nil {
				return err
			}
			if len(units) < item.Quantity {
				return safetyGatef("insufficient stock: %d of %d %s unit(s) available",
					len(units), item.Quantity, item.ComponentType)
			}
			for _, unit := range units {
				if err := s.deps.Units.TransitionStatus(ctx, unit.ID, UnitIssued, UnitAvailable); err != nil {
					return err
				}
				if err := s.deps.Slots.Remove(ctx, unit.ID, now); err != nil {
					return err
				}
				issue := &BloodIssue{
					BranchID:        session.BranchID,
					IssueNumber:     newIssueNumber(now.Add(time.Duration(len(issues)) * time.Millisecond)),
					BloodUnitID:     unit.ID,
					MTPSessionID:    &session.ID,
					IssuedByStaffID: p.StaffID,
					IssuedAt:        now,
				}
				if err := s.deps.Issues.Create(ctx, issue); err != nil {
					return err
				}
				issues = append(issues, issue)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   session.BranchID,
		Action:     ActionMTPPackReleased,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityMTPSession,
		EntityID:   session.ID,
		Details:    map[string]interface{}{"units_released": len(issues)},
	})
	return issues, nil
}

// MTPSessions lists sessions with per-component issue counts for the
// dashboard.
func (s *IssueService) MTPSessions(ctx context.Context, branchID uuid.UUID, status MTPStatus, limit, offset int) ([]*MTPSessionSummary, int, error) {
	sessions, total, err := s.deps.MTP.List(ctx, branchID, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	summaries := make([]*MTPSessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summary := &MTPSessionSummary{Session: session}
		if patient, err := s.deps.Patients.GetByID(ctx, session.PatientID); err == nil {
			summary.PatientName = patient.Name
		}
		issues, err := s.deps.Issues.ListBySession(ctx, session.ID)
		if err != nil {
			return nil, 0, err
		}
		summary.UnitsIssued = len(issues)
		for _, issue := range issues {
			unit, err := s.deps.Units.GetByID(ctx, issue.BloodUnitID)
			if err != nil {
				continue
			}
			switch unit.ComponentType {
			case ComponentPRBC, ComponentWholeBlood:
				summary.PRBCCount++
			case ComponentFFP:
				summary.FFPCount++
			case ComponentPlateletRDP, ComponentPlateletSDP:
				summary.PlateletCount++
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, total, nil
}
