package bloodbank

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hemovault/hemovault/internal/platform/auth"
	"github.com/hemovault/hemovault/pkg/bloodgroup"
)

func TestRecordGrouping_SetsUnitGroup(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	unit := env.addUnit(UnitTesting, "", ComponentPRBC)

	got, err := svc.RecordGrouping(context.Background(), testPrincipal("tech-1", auth.RoleLabTechnician), RecordGroupingInput{
		UnitID:     unit.ID,
		ABOForward: "O",
		ABOReverse: "O",
		RhType:     "NEGATIVE",
	})
	if err != nil {
		t.Fatalf("RecordGrouping: %v", err)
	}
	if got.ConfirmedGroup != bloodgroup.ONeg {
		t.Errorf("confirmed group = %s, want %s", got.ConfirmedGroup, bloodgroup.ONeg)
	}
	if got.HasDiscrepancy {
		t.Error("matching forward/reverse typing should not flag a discrepancy")
	}
	if stored := env.units.find(unit.ID); stored.BloodGroup != bloodgroup.ONeg {
		t.Errorf("unit blood group = %s, want %s", stored.BloodGroup, bloodgroup.ONeg)
	}
}

func TestRecordGrouping_FlagsDiscrepancy(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	unit := env.addUnit(UnitTesting, "", ComponentPRBC)

	got, err := svc.RecordGrouping(context.Background(), testPrincipal("tech-1"), RecordGroupingInput{
		UnitID:     unit.ID,
		ABOForward: "A",
		ABOReverse: "B",
		RhType:     "POSITIVE",
	})
	if err != nil {
		t.Fatalf("RecordGrouping: %v", err)
	}
	if !got.HasDiscrepancy {
		t.Error("mismatched forward/reverse typing should flag a discrepancy")
	}
	if got.DiscrepancyNotes == nil {
		t.Error("expected auto-filled discrepancy notes")
	}
}

func TestRecordGrouping_OverwritesPendingResult(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	unit := env.addUnit(UnitTesting, "", ComponentPRBC)
	p := testPrincipal("tech-1")

	if _, err := svc.RecordGrouping(context.Background(), p, RecordGroupingInput{
		UnitID: unit.ID, ABOForward: "A", RhType: "POSITIVE",
	}); err != nil {
		t.Fatalf("first RecordGrouping: %v", err)
	}
	if _, err := svc.RecordGrouping(context.Background(), p, RecordGroupingInput{
		UnitID: unit.ID, ABOForward: "O", ABOReverse: "O", RhType: "NEGATIVE",
	}); err != nil {
		t.Fatalf("second RecordGrouping: %v", err)
	}
	if n := len(env.groupings.results); n != 1 {
		t.Fatalf("expected the pending result to be updated in place, got %d rows", n)
	}
	if g := env.groupings.results[0]; g.ConfirmedGroup != bloodgroup.ONeg {
		t.Errorf("confirmed group = %s, want %s", g.ConfirmedGroup, bloodgroup.ONeg)
	}
}

func TestRecordGrouping_RequiresTestingStatus(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	unit := env.addUnit(UnitAvailable, bloodgroup.APos, ComponentPRBC)

	_, err := svc.RecordGrouping(context.Background(), testPrincipal("tech-1"), RecordGroupingInput{
		UnitID: unit.ID, ABOForward: "A", RhType: "POSITIVE",
	})
	if !IsStateConflict(err) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestRecordTTI_ReactiveQuarantinesUnit(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	unit := env.addUnit(UnitTesting, bloodgroup.ONeg, ComponentPRBC)

	_, err := svc.RecordTTI(context.Background(), testPrincipal("tech-1"), RecordTTIInput{
		UnitID: unit.ID, TestName: "HIV", Result: TTIReactive,
	})
	if err != nil {
		t.Fatalf("RecordTTI: %v", err)
	}
	if stored := env.units.find(unit.ID); stored.Status != UnitQuarantined {
		t.Errorf("unit status = %s, want %s", stored.Status, UnitQuarantined)
	}
}

func TestRecordTTI_ReactiveOnStockedUnitQuarantines(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	unit := env.addUnit(UnitAvailable, bloodgroup.ONeg, ComponentPRBC)

	// A confirmatory re-run can come back reactive after release. The unit
	// must leave the shelf in the same operation.
	_, err := svc.RecordTTI(context.Background(), testPrincipal("tech-1"), RecordTTIInput{
		UnitID: unit.ID, TestName: "HCV", Result: TTIReactive,
	})
	if err != nil {
		t.Fatalf("RecordTTI: %v", err)
	}
	if stored := env.units.find(unit.ID); stored.Status != UnitQuarantined {
		t.Errorf("unit status = %s, want %s", stored.Status, UnitQuarantined)
	}
}

func TestRecordTTI_RefusesDiscardedUnit(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	unit := env.addUnit(UnitDiscarded, bloodgroup.ONeg, ComponentPRBC)

	_, err := svc.RecordTTI(context.Background(), testPrincipal("tech-1"), RecordTTIInput{
		UnitID: unit.ID, TestName: "HIV", Result: TTINonReactive,
	})
	if !IsStateConflict(err) {
		t.Fatalf("expected state conflict for discarded unit, got %v", err)
	}
}

func TestRecordTTI_ReactiveTriggersLookBack(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	unit := env.addUnit(UnitTesting, bloodgroup.ONeg, ComponentPRBC)

	// Prior donation from the same donor.
	prior := env.addUnit(UnitAvailable, bloodgroup.ONeg, ComponentPRBC)
	prior.DonorID = unit.DonorID
	earlier := unit.CollectedAt.Add(-30 * 24 * time.Hour)
	prior.CollectedAt = &earlier

	if _, err := svc.RecordTTI(context.Background(), testPrincipal("tech-1"), RecordTTIInput{
		UnitID: unit.ID, TestName: "hbsag", Result: TTIReactive,
	}); err != nil {
		t.Fatalf("RecordTTI: %v", err)
	}

	notes := env.notifier.Notifications()
	if len(notes) != 1 {
		t.Fatalf("expected 1 look-back notification, got %d", len(notes))
	}
	if notes[0].TargetRole != auth.RoleLabSupervisor {
		t.Errorf("notification target = %s, want %s", notes[0].TargetRole, auth.RoleLabSupervisor)
	}
}

func TestRecordTTI_UnknownTestRejected(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	unit := env.addUnit(UnitTesting, bloodgroup.ONeg, ComponentPRBC)

	_, err := svc.RecordTTI(context.Background(), testPrincipal("tech-1"), RecordTTIInput{
		UnitID: unit.ID, TestName: "CMV", Result: TTINonReactive,
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestVerifyResults_StampsButDoesNotRelease(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	tech := testPrincipal("tech-1")
	unit := env.addUnit(UnitTesting, "", ComponentPRBC)

	if _, err := svc.RecordGrouping(context.Background(), tech, RecordGroupingInput{
		UnitID: unit.ID, ABOForward: "O", ABOReverse: "O", RhType: "NEGATIVE",
	}); err != nil {
		t.Fatalf("RecordGrouping: %v", err)
	}
	for _, name := range MandatoryTTITests {
		if _, err := svc.RecordTTI(context.Background(), tech, RecordTTIInput{
			UnitID: unit.ID, TestName: name, Result: TTINonReactive,
		}); err != nil {
			t.Fatalf("RecordTTI %s: %v", name, err)
		}
	}

	got, err := svc.VerifyResults(context.Background(), testPrincipal("sup-1"), unit.ID)
	if err != nil {
		t.Fatalf("VerifyResults: %v", err)
	}
	if got.Status != UnitTesting {
		t.Errorf("unit status = %s, want %s until label confirmation", got.Status, UnitTesting)
	}
	for _, rec := range env.tti.records {
		if !rec.Verified() {
			t.Errorf("TTI record %s left unverified", rec.TestName)
		}
	}
}

func TestVerifyResults_RejectsSameTester(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	tech := testPrincipal("tech-1")
	unit := env.addUnit(UnitTesting, "", ComponentPRBC)

	if _, err := svc.RecordGrouping(context.Background(), tech, RecordGroupingInput{
		UnitID: unit.ID, ABOForward: "O", RhType: "NEGATIVE",
	}); err != nil {
		t.Fatalf("RecordGrouping: %v", err)
	}
	for _, name := range MandatoryTTITests {
		if _, err := svc.RecordTTI(context.Background(), tech, RecordTTIInput{
			UnitID: unit.ID, TestName: name, Result: TTINonReactive,
		}); err != nil {
			t.Fatalf("RecordTTI %s: %v", name, err)
		}
	}

	_, err := svc.VerifyResults(context.Background(), tech, unit.ID)
	if !IsSafetyGate(err) {
		t.Fatalf("expected safety gate for same-person verification, got %v", err)
	}
	if stored := env.units.find(unit.ID); stored.Status != UnitTesting {
		t.Errorf("unit status = %s, want %s", stored.Status, UnitTesting)
	}
}

func TestVerifyResults_ListsEveryIncompleteScreen(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	tech := testPrincipal("tech-1")
	unit := env.addUnit(UnitTesting, "", ComponentPRBC)

	if _, err := svc.RecordGrouping(context.Background(), tech, RecordGroupingInput{
		UnitID: unit.ID, ABOForward: "O", RhType: "NEGATIVE",
	}); err != nil {
		t.Fatalf("RecordGrouping: %v", err)
	}
	// HIV done, HBsAg still pending, HCV/Syphilis/Malaria never recorded.
	if _, err := svc.RecordTTI(context.Background(), tech, RecordTTIInput{
		UnitID: unit.ID, TestName: "HIV", Result: TTINonReactive,
	}); err != nil {
		t.Fatalf("RecordTTI: %v", err)
	}
	if _, err := svc.RecordTTI(context.Background(), tech, RecordTTIInput{
		UnitID: unit.ID, TestName: "HBsAg", Result: TTIPending,
	}); err != nil {
		t.Fatalf("RecordTTI: %v", err)
	}

	_, err := svc.VerifyResults(context.Background(), testPrincipal("sup-1"), unit.ID)
	if !IsSafetyGate(err) {
		t.Fatalf("expected safety gate for incomplete TTI screens, got %v", err)
	}
	for _, name := range []string{"HBsAg", "HCV", "Syphilis", "Malaria"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q should name %s", err, name)
		}
	}
	if strings.Contains(err.Error(), "HIV") {
		t.Errorf("error %q should not name the completed HIV screen", err)
	}
}

func TestVerifyResults_BlocksOnDiscrepancy(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	tech := testPrincipal("tech-1")
	unit := env.addUnit(UnitTesting, "", ComponentPRBC)

	if _, err := svc.RecordGrouping(context.Background(), tech, RecordGroupingInput{
		UnitID: unit.ID, ABOForward: "A", ABOReverse: "B", RhType: "POSITIVE",
	}); err != nil {
		t.Fatalf("RecordGrouping: %v", err)
	}
	for _, name := range MandatoryTTITests {
		if _, err := svc.RecordTTI(context.Background(), tech, RecordTTIInput{
			UnitID: unit.ID, TestName: name, Result: TTINonReactive,
		}); err != nil {
			t.Fatalf("RecordTTI %s: %v", name, err)
		}
	}

	_, err := svc.VerifyResults(context.Background(), testPrincipal("sup-1"), unit.ID)
	if !IsSafetyGate(err) {
		t.Fatalf("expected safety gate for unresolved discrepancy, got %v", err)
	}
}

func TestConfirmLabel_ReleasesAndPlacesUnit(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	unit := env.addUnit(UnitTesting, bloodgroup.ONeg, ComponentPRBC)
	env.passAllTesting(unit, "tech-1", "sup-1")
	fridge := env.addEquipment(EquipRefrigerator)

	got, err := svc.ConfirmLabel(context.Background(), testPrincipal("tech-1"), ConfirmLabelInput{
		UnitID:         unit.ID,
		ScannedBarcode: unit.Barcode,
		LabelGroup:     bloodgroup.ONeg,
	})
	if err != nil {
		t.Fatalf("ConfirmLabel: %v", err)
	}
	if got.Status != UnitAvailable {
		t.Errorf("unit status = %s, want %s", got.Status, UnitAvailable)
	}
	slot, err := env.slots.CurrentByUnit(context.Background(), unit.ID)
	if err != nil {
		t.Fatalf("expected unit placed into storage: %v", err)
	}
	if slot.EquipmentID != fridge.ID {
		t.Errorf("slot equipment = %s, want %s", slot.EquipmentID, fridge.ID)
	}
}

func TestConfirmLabel_RejectsWrongGroup(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	unit := env.addUnit(UnitTesting, bloodgroup.ONeg, ComponentPRBC)
	env.passAllTesting(unit, "tech-1", "sup-1")
	env.addEquipment(EquipRefrigerator)

	_, err := svc.ConfirmLabel(context.Background(), testPrincipal("tech-1"), ConfirmLabelInput{
		UnitID:         unit.ID,
		ScannedBarcode: unit.Barcode,
		LabelGroup:     bloodgroup.APos,
	})
	if !IsSafetyGate(err) {
		t.Fatalf("expected safety gate for label mismatch, got %v", err)
	}
	if stored := env.units.find(unit.ID); stored.Status != UnitTesting {
		t.Errorf("unit status = %s, want %s", stored.Status, UnitTesting)
	}
}

func TestConfirmLabel_IsTheReleaseGate(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	tech := testPrincipal("tech-1")
	env.addEquipment(EquipRefrigerator)

	// Unverified grouping blocks release even with clean screens recorded.
	unit := env.addUnit(UnitTesting, bloodgroup.ONeg, ComponentPRBC)
	if _, err := svc.RecordGrouping(context.Background(), tech, RecordGroupingInput{
		UnitID: unit.ID, ABOForward: "O", ABOReverse: "O", RhType: "NEGATIVE",
	}); err != nil {
		t.Fatalf("RecordGrouping: %v", err)
	}
	for _, name := range MandatoryTTITests {
		if _, err := svc.RecordTTI(context.Background(), tech, RecordTTIInput{
			UnitID: unit.ID, TestName: name, Result: TTINonReactive,
		}); err != nil {
			t.Fatalf("RecordTTI %s: %v", name, err)
		}
	}
	_, err := svc.ConfirmLabel(context.Background(), tech, ConfirmLabelInput{
		UnitID: unit.ID, ScannedBarcode: unit.Barcode, LabelGroup: bloodgroup.ONeg,
	})
	if !IsSafetyGate(err) {
		t.Fatalf("expected safety gate for unverified grouping, got %v", err)
	}
	if stored := env.units.find(unit.ID); stored.Status != UnitTesting {
		t.Errorf("unit status = %s, want %s", stored.Status, UnitTesting)
	}

	// A pending screen blocks release after verification was attempted.
	pending := env.addUnit(UnitTesting, bloodgroup.ONeg, ComponentPRBC)
	env.passAllTesting(pending, "tech-1", "sup-1")
	env.tti.records[len(env.tti.records)-1].Result = TTIPending
	_, err = svc.ConfirmLabel(context.Background(), tech, ConfirmLabelInput{
		UnitID: pending.ID, ScannedBarcode: pending.Barcode, LabelGroup: bloodgroup.ONeg,
	})
	if !IsSafetyGate(err) {
		t.Fatalf("expected safety gate for pending TTI screen, got %v", err)
	}
}

func TestConfirmLabel_NoStorageWarnsSupervisor(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	unit := env.addUnit(UnitTesting, bloodgroup.ONeg, ComponentPRBC)
	env.passAllTesting(unit, "tech-1", "sup-1")

	got, err := svc.ConfirmLabel(context.Background(), testPrincipal("tech-1"), ConfirmLabelInput{
		UnitID:         unit.ID,
		ScannedBarcode: unit.Barcode,
		LabelGroup:     bloodgroup.ONeg,
	})
	if err != nil {
		t.Fatalf("ConfirmLabel: %v", err)
	}
	if got.Status != UnitAvailable {
		t.Errorf("unit status = %s, want %s", got.Status, UnitAvailable)
	}
	notes := env.notifier.Notifications()
	if len(notes) != 1 || notes[0].TargetRole != auth.RoleLabSupervisor {
		t.Fatalf("expected a supervisor warning, got %v", notes)
	}
}

func TestDiscardUnit(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	unit := env.addUnit(UnitQuarantined, bloodgroup.ONeg, ComponentPRBC)

	got, err := svc.DiscardUnit(context.Background(), testPrincipal("sup-1"), unit.ID, "TTI reactive")
	if err != nil {
		t.Fatalf("DiscardUnit: %v", err)
	}
	if got.Status != UnitDiscarded {
		t.Errorf("unit status = %s, want %s", got.Status, UnitDiscarded)
	}
}

func TestDiscardUnit_TransfusedRefused(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	unit := env.addUnit(UnitTransfused, bloodgroup.ONeg, ComponentPRBC)

	_, err := svc.DiscardUnit(context.Background(), testPrincipal("sup-1"), unit.ID, "cleanup")
	if !IsStateConflict(err) {
		t.Fatalf("expected state conflict for transfused unit, got %v", err)
	}
}

func TestDiscardUnit_RequiresReason(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	unit := env.addUnit(UnitAvailable, bloodgroup.ONeg, ComponentPRBC)

	_, err := svc.DiscardUnit(context.Background(), testPrincipal("sup-1"), unit.ID, "")
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRegisterUnit_Validation(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	p := testPrincipal("tech-1")

	cases := []struct {
		name string
		in   RegisterUnitInput
	}{
		{"missing donor", RegisterUnitInput{ComponentType: ComponentPRBC}},
		{"bad component", RegisterUnitInput{DonorID: uuid.New(), ComponentType: "PLASMA_SODA"}},
		{"bad group", RegisterUnitInput{DonorID: uuid.New(), ComponentType: ComponentPRBC, BloodGroup: "Z_POS"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.RegisterUnit(context.Background(), p, env.branchID, tc.in); !IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	future := env.now.Add(time.Hour)
	_, err := svc.RegisterUnit(context.Background(), p, env.branchID, RegisterUnitInput{
		DonorID: uuid.New(), ComponentType: ComponentPRBC, CollectedAt: &future,
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation error for future collection, got %v", err)
	}
}

func TestRegisterUnit_DefaultsExpiryAndBarcode(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)

	unit, err := svc.RegisterUnit(context.Background(), testPrincipal("tech-1"), env.branchID, RegisterUnitInput{
		DonorID:       uuid.New(),
		ComponentType: ComponentPRBC,
		BloodGroup:    bloodgroup.ONeg,
	})
	if err != nil {
		t.Fatalf("RegisterUnit: %v", err)
	}
	if unit.Status != UnitTesting {
		t.Errorf("status = %s, want %s", unit.Status, UnitTesting)
	}
	if unit.Barcode != unit.UnitNumber {
		t.Errorf("barcode %q should default to the unit number %q", unit.Barcode, unit.UnitNumber)
	}
	if unit.CollectedAt == nil || !unit.CollectedAt.Equal(env.now) {
		t.Errorf("collected at = %v, want %v", unit.CollectedAt, env.now)
	}
	wantExpiry := env.now.AddDate(0, 0, 35)
	if unit.ExpiryDate == nil || !unit.ExpiryDate.Equal(wantExpiry) {
		t.Errorf("expiry = %v, want %v", unit.ExpiryDate, wantExpiry)
	}

	collected := env.now.Add(-2 * time.Hour)
	_, err = svc.RegisterUnit(context.Background(), testPrincipal("tech-1"), env.branchID, RegisterUnitInput{
		DonorID:       uuid.New(),
		ComponentType: ComponentFFP,
		CollectedAt:   &collected,
		ExpiryDate:    &collected,
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation error for expiry at collection time, got %v", err)
	}
}

func TestListUnits_FiltersByStatus(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	env.addUnit(UnitTesting, "", ComponentPRBC)
	avail := env.addUnit(UnitAvailable, bloodgroup.APos, ComponentPRBC)

	units, total, err := svc.ListUnits(context.Background(), env.branchID, UnitAvailable, 10, 0)
	if err != nil {
		t.Fatalf("ListUnits: %v", err)
	}
	if total != 1 || len(units) != 1 || units[0].ID != avail.ID {
		t.Fatalf("expected only the available unit, got %d of %d", len(units), total)
	}

	if _, _, err := svc.ListUnits(context.Background(), env.branchID, "MOLDY", 10, 0); !IsValidation(err) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestUnitByBarcode(t *testing.T) {
	env := newTestEnv()
	svc := NewTestingService(env.deps)
	unit := env.addUnit(UnitTesting, "", ComponentPRBC)

	if _, err := svc.UnitByBarcode(context.Background(), env.branchID, ""); !IsValidation(err) {
		t.Fatalf("expected validation error for empty barcode, got %v", err)
	}
	got, err := svc.UnitByBarcode(context.Background(), env.branchID, unit.Barcode)
	if err != nil {
		t.Fatalf("UnitByBarcode: %v", err)
	}
	if got.ID != unit.ID {
		t.Errorf("resolved unit %s, want %s", got.ID, unit.ID)
	}
	if _, err := svc.UnitByBarcode(context.Background(), env.branchID, "BC-NOPE"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
