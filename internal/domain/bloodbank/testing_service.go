package bloodbank

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hemovault/hemovault/internal/platform/audit"
	"github.com/hemovault/hemovault/internal/platform/auth"
	"github.com/hemovault/hemovault/internal/platform/notification"
	"github.com/hemovault/hemovault/pkg/bloodgroup"
)

// TestingService runs the donor-unit testing workflow: blood grouping, TTI
// screening, two-person verification and label confirmation. A unit leaves
// TESTING only through this service.
type TestingService struct {
	deps *Deps
}

func NewTestingService(deps *Deps) *TestingService { return &TestingService{deps: deps} }

// Worklist returns units awaiting testing, oldest collection first.
func (s *TestingService) Worklist(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]*BloodUnit, int, error) {
	return s.deps.Units.ListTestingWorklist(ctx, branchID, limit, offset)
}

// Component shelf lives in days, used when intake does not supply an
// explicit expiry date.
var componentShelfLifeDays = map[string]int{
	ComponentWholeBlood:  35,
	ComponentPRBC:        35,
	ComponentFFP:         365,
	ComponentPlateletRDP: 5,
	ComponentPlateletSDP: 5,
	ComponentCryo:        365,
}

type RegisterUnitInput struct {
	DonorID       uuid.UUID        `json:"donor_id"`
	ComponentType string           `json:"component_type"`
	BloodGroup    bloodgroup.Group `json:"blood_group,omitempty"`
	Barcode       string           `json:"barcode,omitempty"`
	CollectedAt   *time.Time       `json:"collected_at,omitempty"`
	ExpiryDate    *time.Time       `json:"expiry_date,omitempty"`
}

// RegisterUnit takes a collected unit into the lab. The unit enters TESTING
// and stays there until the full workflow releases it; the donor-declared
// blood group, if any, is provisional until grouping confirms it.
func (s *TestingService) RegisterUnit(ctx context.Context, p auth.Principal, branchID uuid.UUID, in RegisterUnitInput) (*BloodUnit, error) {
	if in.DonorID == uuid.Nil {
		return nil, validationf("donor_id is required")
	}
	if !validComponent(in.ComponentType) {
		return nil, validationf("invalid component type %q", in.ComponentType)
	}
	if in.BloodGroup != "" && !in.BloodGroup.Valid() {
		return nil, validationf("invalid blood group %q", in.BloodGroup)
	}

	now := s.deps.now()
	collected := now
	if in.CollectedAt != nil {
		if in.CollectedAt.After(now) {
			return nil, validationf("collection time is in the future")
		}
		collected = *in.CollectedAt
	}
	expiry := in.ExpiryDate
	if expiry == nil {
		e := collected.AddDate(0, 0, componentShelfLifeDays[in.ComponentType])
		expiry = &e
	} else if !expiry.After(collected) {
		return nil, validationf("expiry date must be after collection")
	}

	u := &BloodUnit{
		BranchID:      branchID,
		UnitNumber:    newUnitNumber(now),
		Barcode:       in.Barcode,
		DonorID:       in.DonorID,
		BloodGroup:    in.BloodGroup,
		ComponentType: in.ComponentType,
		Status:        UnitTesting,
		CollectedAt:   &collected,
		ExpiryDate:    expiry,
		IsActive:      true,
	}
	if u.Barcode == "" {
		u.Barcode = u.UnitNumber
	}
	if err := s.deps.Units.Create(ctx, u); err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   branchID,
		Action:     ActionUnitRegistered,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityBloodUnit,
		EntityID:   u.ID,
		Details:    map[string]interface{}{"component_type": u.ComponentType},
	})
	return u, nil
}

// ListUnits is the branch inventory view, optionally filtered by status.
func (s *TestingService) ListUnits(ctx context.Context, branchID uuid.UUID, status UnitStatus, limit, offset int) ([]*BloodUnit, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, validationf("invalid unit status %q", status)
	}
	return s.deps.Units.List(ctx, branchID, status, limit, offset)
}

// UnitByBarcode resolves a scanned barcode to the unit record.
func (s *TestingService) UnitByBarcode(ctx context.Context, branchID uuid.UUID, barcode string) (*BloodUnit, error) {
	if barcode == "" {
		return nil, validationf("barcode is required")
	}
	return s.deps.Units.GetByBarcode(ctx, branchID, barcode)
}

type RecordGroupingInput struct {
	UnitID           uuid.UUID `json:"unit_id"`
	ABOForward       string    `json:"abo_forward"`
	ABOReverse       string    `json:"abo_reverse"`
	RhType           string    `json:"rh_type"`
	AntibodyScreen   *string   `json:"antibody_screen,omitempty"`
	DiscrepancyNotes *string   `json:"discrepancy_notes,omitempty"`
}

// RecordGrouping captures ABO/Rh typing for a unit in TESTING. Forward and
// reverse typing that disagree flag a discrepancy instead of failing; the
// discrepancy blocks verification later. Repeat submissions before
// verification overwrite the pending result.
func (s *TestingService) RecordGrouping(ctx context.Context, p auth.Principal, in RecordGroupingInput) (*BloodGroupingResult, error) {
	if in.ABOForward == "" || in.RhType == "" {
		return nil, validationf("abo_forward and rh_type are required")
	}

	unit, err := s.deps.Units.GetByID(ctx, in.UnitID)
	if err != nil {
		return nil, err
	}
	if unit.Status != UnitTesting {
		return nil, stateConflictf("unit %s is %s, grouping requires TESTING", unit.ID, unit.Status)
	}

	confirmed, ok := bloodgroup.FromABORh(in.ABOForward, in.RhType)
	if !ok {
		return nil, validationf("unrecognized ABO/Rh combination %q/%q", in.ABOForward, in.RhType)
	}

	hasDiscrepancy := in.ABOReverse != "" && !strings.EqualFold(in.ABOForward, in.ABOReverse)
	if hasDiscrepancy && in.DiscrepancyNotes == nil {
		note := fmt.Sprintf("forward %s does not match reverse %s", in.ABOForward, in.ABOReverse)
		in.DiscrepancyNotes = &note
	}

	var result *BloodGroupingResult
	err = s.deps.inTx(ctx, func(ctx context.Context) error {
		pending, err := s.deps.Groupings.LatestUnverifiedByUnit(ctx, in.UnitID)
		switch {
		case err == nil:
			pending.ABOForward = in.ABOForward
			pending.ABOReverse = in.ABOReverse
			pending.RhType = in.RhType
			pending.AntibodyScreen = in.AntibodyScreen
			pending.ConfirmedGroup = confirmed
			pending.HasDiscrepancy = hasDiscrepancy
			pending.DiscrepancyNotes = in.DiscrepancyNotes
			pending.TestedByStaffID = p.StaffID
			if err := s.deps.Groupings.Update(ctx, pending); err != nil {
				return err
			}
			result = pending
		case errors.Is(err, ErrNotFound):
			result = &BloodGroupingResult{
				BloodUnitID:      in.UnitID,
				ABOForward:       in.ABOForward,
				ABOReverse:       in.ABOReverse,
				RhType:           in.RhType,
				AntibodyScreen:   in.AntibodyScreen,
				ConfirmedGroup:   confirmed,
				HasDiscrepancy:   hasDiscrepancy,
				DiscrepancyNotes: in.DiscrepancyNotes,
				TestedByStaffID:  p.StaffID,
			}
			if err := s.deps.Groupings.Create(ctx, result); err != nil {
				return err
			}
		default:
			return err
		}

		unit.BloodGroup = confirmed
		return s.deps.Units.Update(ctx, unit)
	})
	if err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   unit.BranchID,
		Action:     ActionGroupingRecorded,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityBloodUnit,
		EntityID:   unit.ID,
		Details: map[string]interface{}{
			"confirmed_group": confirmed,
			"has_discrepancy": hasDiscrepancy,
		},
	})
	return result, nil
}

type RecordTTIInput struct {
	UnitID   uuid.UUID `json:"unit_id"`
	TestName string    `json:"test_name"`
	Method   *string   `json:"method,omitempty"`
	KitLotNo *string   `json:"kit_lot_no,omitempty"`
	Result   TTIResult `json:"result"`
}

// RecordTTI captures one infectious-disease screening result. A REACTIVE
// result immediately quarantines the unit and triggers a look-back alert over
// the donor's prior donations. Corrections before verification update the
// pending record in place.
func (s *TestingService) RecordTTI(ctx context.Context, p auth.Principal, in RecordTTIInput) (*TTITestRecord, error) {
	canonical, ok := canonicalTTITest(in.TestName)
	if !ok {
		return nil, validationf("unknown TTI test %q", in.TestName)
	}
	in.TestName = canonical
	switch in.Result {
	case TTINonReactive, TTIReactive, TTIIndeterminate, TTIPending:
	default:
		return nil, validationf("invalid TTI result %q", in.Result)
	}

	unit, err := s.deps.Units.GetByID(ctx, in.UnitID)
	if err != nil {
		return nil, err
	}
	if unit.Status == UnitDiscarded {
		return nil, stateConflictf("unit %s is discarded", unit.ID)
	}

	var record *TTITestRecord
	err = s.deps.inTx(ctx, func(ctx context.Context) error {
		pending, err := s.deps.TTI.LatestUnverified(ctx, in.UnitID, in.TestName)
		switch {
		case err == nil:
			pending.Method = in.Method
			pending.KitLotNo = in.KitLotNo
			pending.Result = in.Result
			pending.TestedByStaffID = p.StaffID
			if err := s.deps.TTI.Update(ctx, pending); err != nil {
				return err
			}
			record = pending
		case errors.Is(err, ErrNotFound):
			record = &TTITestRecord{
				BloodUnitID:     in.UnitID,
				TestName:        in.TestName,
				Method:          in.Method,
				KitLotNo:        in.KitLotNo,
				Result:          in.Result,
				TestedByStaffID: p.StaffID,
			}
			if err := s.deps.TTI.Create(ctx, record); err != nil {
				return err
			}
		default:
			return err
		}

		if in.Result == TTIReactive && CanTransitionUnit(unit.Status, UnitQuarantined) {
			return s.deps.Units.TransitionStatus(ctx, unit.ID, UnitQuarantined, unit.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   unit.BranchID,
		Action:     ActionTTIRecorded,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityBloodUnit,
		EntityID:   unit.ID,
		Details: map[string]interface{}{
			"test_name": in.TestName,
			"result":    in.Result,
		},
	})

	if in.Result == TTIReactive {
		s.lookBack(ctx, p, unit, in.TestName)
	}
	return record, nil
}

// lookBack flags the donor's earlier donations for manual review. Prior
// units are not auto-quarantined: the reviewing supervisor decides.
func (s *TestingService) lookBack(ctx context.Context, p auth.Principal, unit *BloodUnit, testName string) {
	if unit.CollectedAt == nil {
		return
	}
	prior, err := s.deps.Units.ListByDonorBefore(ctx, unit.DonorID, *unit.CollectedAt)
	if err != nil {
		s.deps.Log.Error().Err(err).Str("unit_id", unit.ID.String()).Msg("look-back query failed")
		return
	}
	if len(prior) == 0 {
		return
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   unit.BranchID,
		Action:     ActionTTILookbackAlert,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityBloodUnit,
		EntityID:   unit.ID,
		Details: map[string]interface{}{
			"test_name":   testName,
			"prior_units": len(prior),
		},
	})
	s.deps.notify(ctx, &notification.Notification{
		BranchID:   unit.BranchID,
		TargetRole: auth.RoleLabSupervisor,
		Severity:   notification.SeverityCritical,
		Title:      "TTI look-back review required",
		Message: fmt.Sprintf("Unit %s tested REACTIVE for %s; donor has %d prior donation(s) requiring review",
			unit.UnitNumber, testName, len(prior)),
		EntityType: EntityBloodUnit,
		EntityID:   &unit.ID,
	})
}

// VerifyResults is the second-person sign-off over a unit's pending testing
// results. The verifier must differ from the tester, every mandatory TTI test
// must be present with a non-PENDING result, and the grouping must be free of
// discrepancies. Verification only stamps the records; the unit stays in
// TESTING until label confirmation releases it.
func (s *TestingService) VerifyResults(ctx context.Context, p auth.Principal, unitID uuid.UUID) (*BloodUnit, error) {
	unit, err := s.deps.Units.GetByID(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if unit.Status != UnitTesting {
		return nil, stateConflictf("unit %s is %s, verification requires TESTING", unit.ID, unit.Status)
	}

	grouping, err := s.deps.Groupings.LatestByUnit(ctx, unitID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, safetyGatef("unit %s has no grouping result", unitID)
		}
		return nil, err
	}
	if grouping.HasDiscrepancy {
		return nil, safetyGatef("unit %s grouping has an unresolved discrepancy", unitID)
	}
	if grouping.TestedByStaffID == p.StaffID {
		return nil, safetyGatef("verifier must differ from tester for unit %s", unitID)
	}

	ttis, err := s.deps.TTI.LatestPerTest(ctx, unitID)
	if err != nil {
		return nil, err
	}
	var missing, pending []string
	for _, name := range MandatoryTTITests {
		rec, ok := ttis[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if rec.Result == TTIPending {
			pending = append(pending, name)
		}
		if rec.TestedByStaffID == p.StaffID {
			return nil, safetyGatef("verifier must differ from tester for unit %s", unitID)
		}
	}
	if len(missing) > 0 || len(pending) > 0 {
		var parts []string
		if len(missing) > 0 {
			parts = append(parts, "missing: "+strings.Join(missing, ", "))
		}
		if len(pending) > 0 {
			parts = append(parts, "pending: "+strings.Join(pending, ", "))
		}
		return nil, safetyGatef("unit %s mandatory TTI screens incomplete (%s)", unitID, strings.Join(parts, "; "))
	}

	now := s.deps.now()
	err = s.deps.inTx(ctx, func(ctx context.Context) error {
		if !grouping.Verified() {
			grouping.VerifiedByStaffID = &p.StaffID
			grouping.VerifiedAt = &now
			if err := s.deps.Groupings.Update(ctx, grouping); err != nil {
				return err
			}
		}
		_, err := s.deps.TTI.VerifyPending(ctx, unitID, p.StaffID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   unit.BranchID,
		Action:     ActionResultsVerified,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityBloodUnit,
		EntityID:   unit.ID,
	})
	return unit, nil
}

type ConfirmLabelInput struct {
	UnitID         uuid.UUID        `json:"unit_id"`
	ScannedBarcode string           `json:"scanned_barcode"`
	LabelGroup     bloodgroup.Group `json:"label_group"`
}

// ConfirmLabel is the release gate. It verifies the printed label against the
// unit record (barcode and blood group must both match), refuses release
// while any mandatory TTI screen is REACTIVE, PENDING or absent or the
// grouping is unverified, then moves the unit TESTING -> AVAILABLE and places
// it into storage. The storage slot comes from the facility default, falling
// back to the first active cold-storage equipment; with neither available the
// unit stays unplaced and supervisors are warned.
func (s *TestingService) ConfirmLabel(ctx context.Context, p auth.Principal, in ConfirmLabelInput) (*BloodUnit, error) {
	unit, err := s.deps.Units.GetByID(ctx, in.UnitID)
	if err != nil {
		return nil, err
	}
	if unit.Status != UnitTesting {
		return nil, stateConflictf("unit %s is %s, label confirmation requires TESTING", unit.ID, unit.Status)
	}
	if in.ScannedBarcode != unit.Barcode {
		return nil, safetyGatef("scanned barcode does not match unit %s", unit.UnitNumber)
	}
	if in.LabelGroup != unit.BloodGroup {
		return nil, safetyGatef("label group %s does not match unit record %s", in.LabelGroup, unit.BloodGroup)
	}

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
	ttis, err := s.deps.TTI.LatestPerTest(ctx, unit.ID)
	if err != nil {
		return nil, err
	}
	for _, name := range MandatoryTTITests {
		rec, ok := ttis[name]
		if !ok {
			return nil, safetyGatef("unit %s missing mandatory TTI test %s", unit.UnitNumber, name)
		}
		if rec.Result != TTINonReactive {
			return nil, safetyGatef("unit %s TTI test %s is %s, release requires NON_REACTIVE",
				unit.UnitNumber, name, rec.Result)
		}
	}

	if err := s.deps.Units.TransitionStatus(ctx, unit.ID, UnitAvailable, UnitTesting); err != nil {
		return nil, err
	}
	unit.Status = UnitAvailable

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   unit.BranchID,
		Action:     ActionLabelConfirmed,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityBloodUnit,
		EntityID:   unit.ID,
	})

	equip, err := s.storageTarget(ctx, unit.BranchID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.deps.notify(ctx, &notification.Notification{
				BranchID:   unit.BranchID,
				TargetRole: auth.RoleLabSupervisor,
				Severity:   notification.SeverityWarning,
				Title:      "No storage equipment available",
				Message:    fmt.Sprintf("Unit %s confirmed but could not be auto-placed", unit.UnitNumber),
				EntityType: EntityBloodUnit,
				EntityID:   &unit.ID,
			})
			return unit, nil
		}
		return nil, err
	}

	if err := s.deps.Slots.Place(ctx, unit.ID, equip.ID, s.deps.now()); err != nil {
		return nil, err
	}
	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   unit.BranchID,
		Action:     ActionStorageAutoPlaced,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityBloodUnit,
		EntityID:   unit.ID,
		Details:    map[string]interface{}{"equipment_id": equip.ID.String()},
	})
	return unit, nil
}

func (s *TestingService) storageTarget(ctx context.Context, branchID uuid.UUID) (*BloodBankEquipment, error) {
	facility, err := s.deps.Facilities.GetByBranch(ctx, branchID)
	if err == nil && facility.DefaultStorageEquipmentID != nil {
		equip, err := s.deps.Equipment.GetByID(ctx, *facility.DefaultStorageEquipmentID)
		if err == nil && equip.IsActive {
			return equip, nil
		}
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.deps.Equipment.FirstActiveOfTypes(ctx, branchID,
		[]string{EquipRefrigerator, EquipDeepFreezer, EquipPlateletAgitator})
}

// DiscardUnit retires a unit permanently. Any unit status except TRANSFUSED
// or a prior DISCARDED can be discarded.
func (s *TestingService) DiscardUnit(ctx context.Context, p auth.Principal, unitID uuid.UUID, reason string) (*BloodUnit, error) {
	if reason == "" {
		return nil, validationf("discard reason is required")
	}
	unit, err := s.deps.Units.GetByID(ctx, unitID)
	if err != nil {
		return nil, err
	}

	err = s.deps.inTx(ctx, func(ctx context.Context) error {
		if err := s.deps.Units.TransitionStatus(ctx, unitID, UnitDiscarded,
			UnitTesting, UnitAvailable, UnitReserved, UnitCrossMatched, UnitQuarantined, UnitReturned); err != nil {
			return err
		}
		return s.deps.Slots.Remove(ctx, unitID, s.deps.now())
	})
	if err != nil {
		return nil, err
	}
	unit.Status = UnitDiscarded

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   unit.BranchID,
		Action:     ActionUnitDiscarded,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityBloodUnit,
		EntityID:   unit.ID,
		Details:    map[string]interface{}{"reason": reason},
	})
	return unit, nil
}

// canonicalTTITest resolves a test name case-insensitively to its canonical
// spelling.
func canonicalTTITest(name string) (string, bool) {
	for _, t := range MandatoryTTITests {
		if strings.EqualFold(t, name) {
			return t, true
		}
	}
	return "", false
}
