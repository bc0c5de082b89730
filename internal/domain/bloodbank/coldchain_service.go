package bloodbank

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hemovault/hemovault/internal/platform/audit"
	"github.com/hemovault/hemovault/internal/platform/auth"
	"github.com/hemovault/hemovault/internal/platform/notification"
)

// ColdChainService manages storage equipment and its temperature telemetry.
// A breaching reading quarantines every unit stored in the equipment until a
// supervisor acknowledges the breach.
type ColdChainService struct {
	deps *Deps
}

func NewColdChainService(deps *Deps) *ColdChainService { return &ColdChainService{deps: deps} }

type EquipmentInput struct {
	Name               string     `json:"name"`
	EquipmentType      string     `json:"equipment_type"`
	Make               *string    `json:"make,omitempty"`
	Model              *string    `json:"model,omitempty"`
	SerialNumber       *string    `json:"serial_number,omitempty"`
	CapacityUnits      *int       `json:"capacity_units,omitempty"`
	TempRangeMinC      *float64   `json:"temp_range_min_c,omitempty"`
	TempRangeMaxC      *float64   `json:"temp_range_max_c,omitempty"`
	Location           *string    `json:"location,omitempty"`
	LastCalibratedAt   *time.Time `json:"last_calibrated_at,omitempty"`
	CalibrationDueDate *time.Time `json:"calibration_due_date,omitempty"`
}

func validEquipmentType(t string) bool {
	switch t {
	case EquipRefrigerator, EquipDeepFreezer, EquipPlateletAgitator:
		return true
	}
	return false
}

func (s *ColdChainService) CreateEquipment(ctx context.Context, p auth.Principal, branchID uuid.UUID, in EquipmentInput) (*BloodBankEquipment, error) {
	if in.Name == "" {
		return nil, validationf("equipment name is required")
	}
	if !validEquipmentType(in.EquipmentType) {
		return nil, validationf("invalid equipment type %q", in.EquipmentType)
	}
	if in.TempRangeMinC != nil && in.TempRangeMaxC != nil && *in.TempRangeMinC >= *in.TempRangeMaxC {
		return nil, validationf("temp range min must be below max")
	}

	e := &BloodBankEquipment{
		BranchID:           branchID,
		Name:               in.Name,
		EquipmentType:      in.EquipmentType,
		Make:               in.Make,
		Model:              in.Model,
		SerialNumber:       in.SerialNumber,
		CapacityUnits:      in.CapacityUnits,
		TempRangeMinC:      in.TempRangeMinC,
		TempRangeMaxC:      in.TempRangeMaxC,
		Location:           in.Location,
		LastCalibratedAt:   in.LastCalibratedAt,
		CalibrationDueDate: in.CalibrationDueDate,
		IsActive:           true,
	}
	if err := s.deps.Equipment.Create(ctx, e); err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   branchID,
		Action:     ActionEquipmentCreate,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityEquipment,
		EntityID:   e.ID,
	})
	return e, nil
}

func (s *ColdChainService) UpdateEquipment(ctx context.Context, p auth.Principal, id uuid.UUID, in EquipmentInput, isActive bool) (*BloodBankEquipment, error) {
	e, err := s.deps.Equipment.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != "" {
		e.Name = in.Name
	}
	if in.EquipmentType != "" {
		if !validEquipmentType(in.EquipmentType) {
			return nil, validationf("invalid equipment type %q", in.EquipmentType)
		}
		e.EquipmentType = in.EquipmentType
	}
	if in.TempRangeMinC != nil {
		e.TempRangeMinC = in.TempRangeMinC
	}
	if in.TempRangeMaxC != nil {
		e.TempRangeMaxC = in.TempRangeMaxC
	}
	if e.TempRangeMinC != nil && e.TempRangeMaxC != nil && *e.TempRangeMinC >= *e.TempRangeMaxC {
		return nil, validationf("temp range min must be below max")
	}
	if in.Make != nil {
		e.Make = in.Make
	}
	if in.Model != nil {
		e.Model = in.Model
	}
	if in.SerialNumber != nil {
		e.SerialNumber = in.SerialNumber
	}
	if in.CapacityUnits != nil {
		e.CapacityUnits = in.CapacityUnits
	}
	if in.Location != nil {
		e.Location = in.Location
	}
	if in.LastCalibratedAt != nil {
		e.LastCalibratedAt = in.LastCalibratedAt
	}
	if in.CalibrationDueDate != nil {
		e.CalibrationDueDate = in.CalibrationDueDate
	}
	e.IsActive = isActive

	if err := s.deps.Equipment.Update(ctx, e); err != nil {
		return nil, err
	}
	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   e.BranchID,
		Action:     ActionEquipmentUpdate,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityEquipment,
		EntityID:   e.ID,
	})
	return e, nil
}

func (s *ColdChainService) GetEquipment(ctx context.Context, id uuid.UUID) (*BloodBankEquipment, error) {
	return s.deps.Equipment.GetByID(ctx, id)
}

func (s *ColdChainService) ListEquipment(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]*BloodBankEquipment, int, error) {
	return s.deps.Equipment.List(ctx, branchID, limit, offset)
}

// SetDefaultStorage picks the equipment label confirmation auto-places
// released units into. The equipment must belong to the branch and be active.
func (s *ColdChainService) SetDefaultStorage(ctx context.Context, p auth.Principal, branchID, equipmentID uuid.UUID) (*BloodBankFacility, error) {
	e, err := s.deps.Equipment.GetByID(ctx, equipmentID)
	if err != nil {
		return nil, err
	}
	if e.BranchID != branchID {
		return nil, validationf("equipment %s belongs to another branch", equipmentID)
	}
	if !e.IsActive {
		return nil, stateConflictf("equipment %s is inactive", e.Name)
	}

	f := &BloodBankFacility{BranchID: branchID, DefaultStorageEquipmentID: &e.ID}
	if err := s.deps.Facilities.Upsert(ctx, f); err != nil {
		return nil, err
	}
	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   branchID,
		Action:     ActionFacilityUpdated,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityEquipment,
		EntityID:   e.ID,
	})
	return f, nil
}

// RecordTempLog ingests one temperature reading. A reading outside the
// equipment's operating range quarantines every stored unit in one
// transaction, then alerts supervisors.
func (s *ColdChainService) RecordTempLog(ctx context.Context, p auth.Principal, equipmentID uuid.UUID, temperatureC float64, recordedAt time.Time) (*EquipmentTempLog, error) {
	equip, err := s.deps.Equipment.GetByID(ctx, equipmentID)
	if err != nil {
		return nil, err
	}
	if recordedAt.IsZero() {
		recordedAt = s.deps.now()
	}

	log := &EquipmentTempLog{
		EquipmentID:  equipmentID,
		TemperatureC: temperatureC,
		RecordedAt:   recordedAt,
		IsBreaching:  equip.Breaches(temperatureC),
	}

	if !log.IsBreaching {
		if err := s.deps.TempLogs.Create(ctx, log); err != nil {
			return nil, err
		}
		return log, nil
	}

	var quarantined int
	err = s.deps.inTx(ctx, func(ctx context.Context) error {
		if err := s.deps.TempLogs.Create(ctx, log); err != nil {
			return err
		}
		unitIDs, err := s.deps.Slots.ListUnitIDsByEquipment(ctx, equipmentID)
		if err != nil {
			return err
		}
		for _, unitID := range unitIDs {
			err := s.deps.Units.TransitionStatus(ctx, unitID, UnitQuarantined,
				UnitAvailable, UnitReserved, UnitCrossMatched)
			if err != nil {
				// Units already quarantined or mid-issue keep their status.
				if IsStateConflict(err) {
					continue
				}
				return err
			}
			quarantined++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   equip.BranchID,
		Action:     ActionTempBreach,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityEquipment,
		EntityID:   equip.ID,
		Details: map[string]interface{}{
			"temperature_c": temperatureC,
			"temp_log_id":   log.ID.String(),
		},
	})
	if quarantined > 0 {
		s.deps.recordAudit(ctx, &audit.Event{
			BranchID:   equip.BranchID,
			Action:     ActionUnitsTempQuarantine,
			ActorID:    p.StaffID,
			ActorName:  p.Name,
			EntityType: EntityEquipment,
			EntityID:   equip.ID,
			Details:    map[string]interface{}{"units_quarantined": quarantined},
		})
	}
	s.deps.notify(ctx, &notification.Notification{
		BranchID:   equip.BranchID,
		TargetRole: auth.RoleLabSupervisor,
		Severity:   notification.SeverityCritical,
		Title:      "Cold-chain temperature breach",
		Message: fmt.Sprintf("%s read %.1f°C outside its operating range; %d unit(s) quarantined",
			equip.Name, temperatureC, quarantined),
		EntityType: EntityTempLog,
		EntityID:   &log.ID,
	})
	return log, nil
}

func (s *ColdChainService) TempLogs(ctx context.Context, equipmentID uuid.UUID, from, to time.Time, limit, offset int) ([]*EquipmentTempLog, int, error) {
	if to.IsZero() {
		to = s.deps.now()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	return s.deps.TempLogs.ListByEquipment(ctx, equipmentID, from, to, limit, offset)
}

// TempAlerts returns the branch's unacknowledged breach readings.
func (s *ColdChainService) TempAlerts(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]*EquipmentTempLog, int, error) {
	return s.deps.TempLogs.ListUnacknowledgedBreaches(ctx, branchID, limit, offset)
}

// AcknowledgeBreach closes one breach alert. Re-acknowledging a resolved
// breach is a no-op. Quarantined units stay quarantined; releasing them is a
// separate, deliberate discard-or-restock decision.
func (s *ColdChainService) AcknowledgeBreach(ctx context.Context, p auth.Principal, tempLogID uuid.UUID) error {
	log, err := s.deps.TempLogs.GetByID(ctx, tempLogID)
	if err != nil {
		return err
	}
	if !log.IsBreaching {
		return validationf("temp log %s is not a breach reading", tempLogID)
	}
	if log.Acknowledged {
		return nil
	}
	if err := s.deps.TempLogs.Acknowledge(ctx, tempLogID, p.StaffID, s.deps.now()); err != nil {
		return err
	}

	equip, err := s.deps.Equipment.GetByID(ctx, log.EquipmentID)
	if err != nil {
		return err
	}
	s.deps.recordAudit(ctx, &audit.Event{
		BranchID:   equip.BranchID,
		Action:     ActionTempBreachAck,
		ActorID:    p.StaffID,
		ActorName:  p.Name,
		EntityType: EntityTempLog,
		EntityID:   tempLogID,
	})
	return nil
}
