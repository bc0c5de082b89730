package bloodbank

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hemovault/hemovault/internal/platform/db"
	"github.com/hemovault/hemovault/pkg/bloodgroup"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// =========== Unit Repository ===========

type unitRepoPG struct{ pool *pgxpool.Pool }

func NewUnitRepoPG(pool *pgxpool.Pool) UnitRepository { return &unitRepoPG{pool: pool} }

func (r *unitRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const unitCols = `id, branch_id, unit_number, barcode, donor_id, blood_group, component_type,
	status, collected_at, expiry_date, is_active, created_at, updated_at`

func (r *unitRepoPG) scanUnit(row pgx.Row) (*BloodUnit, error) {
	var u BloodUnit
	err := row.Scan(&u.ID, &u.BranchID, &u.UnitNumber, &u.Barcode, &u.DonorID, &u.BloodGroup, &u.ComponentType,
		&u.Status, &u.CollectedAt, &u.ExpiryDate, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return &u, mapNoRows(err)
}

func (r *unitRepoPG) Create(ctx context.Context, u *BloodUnit) error {
	u.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO blood_unit (id, branch_id, unit_number, barcode, donor_id, blood_group,
			component_type, status, collected_at, expiry_date, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		u.ID, u.BranchID, u.UnitNumber, u.Barcode, u.DonorID, u.BloodGroup,
		u.ComponentType, u.Status, u.CollectedAt, u.ExpiryDate, u.IsActive)
	return err
}

func (r *unitRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*BloodUnit, error) {
	return r.scanUnit(r.conn(ctx).QueryRow(ctx, `SELECT `+unitCols+` FROM blood_unit WHERE id = $1`, id))
}

func (r *unitRepoPG) GetByBarcode(ctx context.Context, branchID uuid.UUID, barcode string) (*BloodUnit, error) {
	return r.scanUnit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+unitCols+` FROM blood_unit WHERE branch_id = $1 AND barcode = $2`, branchID, barcode))
}

func (r *unitRepoPG) Update(ctx context.Context, u *BloodUnit) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE blood_unit SET blood_group=$2, component_type=$3, collected_at=$4,
			expiry_date=$5, is_active=$6, updated_at=NOW()
		WHERE id = $1`,
		u.ID, u.BloodGroup, u.ComponentType, u.CollectedAt, u.ExpiryDate, u.IsActive)
	return err
}

func (r *unitRepoPG) TransitionStatus(ctx context.Context, id uuid.UUID, to UnitStatus, from ...UnitStatus) error {
	srcs := make([]string, len(from))
	for i, s := range from {
		srcs[i] = string(s)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE blood_unit SET status=$2, updated_at=NOW()
		WHERE id = $1 AND status = ANY($3)`,
		id, to, srcs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var current UnitStatus
	err = r.conn(ctx).QueryRow(ctx, `SELECT status FROM blood_unit WHERE id = $1`, id).Scan(&current)
	if err != nil {
		return mapNoRows(err)
	}
	return stateConflictf("unit %s is %s, expected one of %v", id, current, from)
}

func (r *unitRepoPG) List(ctx context.Context, branchID uuid.UUID, status UnitStatus, limit, offset int) ([]*BloodUnit, int, error) {
	where := `WHERE branch_id = $1`
	args := []interface{}{branchID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, status)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM blood_unit `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT %s FROM blood_unit %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		unitCols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*BloodUnit
	for rows.Next() {
		u, err := r.scanUnit(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, nil
}

func (r *unitRepoPG) ListEligible(ctx context.Context, branchID uuid.UUID, componentType string, groups []bloodgroup.Group, at time.Time, limit int) ([]*BloodUnit, error) {
	gs := make([]string, len(groups))
	for i, g := range groups {
		gs[i] = string(g)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+unitCols+` FROM blood_unit
		WHERE branch_id = $1 AND component_type = $2 AND status = $3
			AND is_active AND blood_group = ANY($4)
			AND (expiry_date IS NULL OR expiry_date > $5)
		ORDER BY expiry_date ASC NULLS LAST
		LIMIT $6`,
		branchID, componentType, UnitAvailable, gs, at, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*BloodUnit
	for rows.Next() {
		u, err := r.scanUnit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	return items, nil
}

func (r *unitRepoPG) ListTestingWorklist(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]*BloodUnit, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM blood_unit WHERE branch_id = $1 AND status = $2`,
		branchID, UnitTesting).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+unitCols+` FROM blood_unit
		WHERE branch_id = $1 AND status = $2
		ORDER BY collected_at ASC NULLS LAST, created_at ASC
		LIMIT $3 OFFSET $4`,
		branchID, UnitTesting, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*BloodUnit
	for rows.Next() {
		u, err := r.scanUnit(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, nil
}

func (r *unitRepoPG) ListByDonorBefore(ctx context.Context, donorID uuid.UUID, before time.Time) ([]*BloodUnit, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+unitCols+` FROM blood_unit
		WHERE donor_id = $1 AND collected_at < $2
		ORDER BY collected_at DESC`,
		donorID, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*BloodUnit
	for rows.Next() {
		u, err := r.scanUnit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	return items, nil
}

// =========== Grouping Repository ===========

type groupingRepoPG struct{ pool *pgxpool.Pool }

func NewGroupingRepoPG(pool *pgxpool.Pool) GroupingRepository { return &groupingRepoPG{pool: pool} }

func (r *groupingRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const groupingCols = `id, blood_unit_id, abo_forward, abo_reverse, rh_type, antibody_screen,
	confirmed_group, has_discrepancy, discrepancy_notes, tested_by_staff_id,
	verified_by_staff_id, verified_at, created_at`

func (r *groupingRepoPG) scanGrouping(row pgx.Row) (*BloodGroupingResult, error) {
	var g BloodGroupingResult
	err := row.Scan(&g.ID, &g.BloodUnitID, &g.ABOForward, &g.ABOReverse, &g.RhType, &g.AntibodyScreen,
		&g.ConfirmedGroup, &g.HasDiscrepancy, &g.DiscrepancyNotes, &g.TestedByStaffID,
		&g.VerifiedByStaffID, &g.VerifiedAt, &g.CreatedAt)
	return &g, mapNoRows(err)
}

func (r *groupingRepoPG) Create(ctx context.Context, g *BloodGroupingResult) error {
	g.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO blood_grouping_result (id, blood_unit_id, abo_forward, abo_reverse, rh_type,
			antibody_screen, confirmed_group, has_discrepancy, discrepancy_notes, tested_by_staff_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		g.ID, g.BloodUnitID, g.ABOForward, g.ABOReverse, g.RhType,
		g.AntibodyScreen, g.ConfirmedGroup, g.HasDiscrepancy, g.DiscrepancyNotes, g.TestedByStaffID)
	return err
}

func (r *groupingRepoPG) Update(ctx context.Context, g *BloodGroupingResult) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE blood_grouping_result SET abo_forward=$2, abo_reverse=$3, rh_type=$4,
			antibody_screen=$5, confirmed_group=$6, has_discrepancy=$7, discrepancy_notes=$8,
			tested_by_staff_id=$9, verified_by_staff_id=$10, verified_at=$11
		WHERE id = $1`,
		g.ID, g.ABOForward, g.ABOReverse, g.RhType,
		g.AntibodyScreen, g.ConfirmedGroup, g.HasDiscrepancy, g.DiscrepancyNotes,
		g.TestedByStaffID, g.VerifiedByStaffID, g.VerifiedAt)
	return err
}

func (r *groupingRepoPG) LatestByUnit(ctx context.Context, unitID uuid.UUID) (*BloodGroupingResult, error) {
	return r.scanGrouping(r.conn(ctx).QueryRow(ctx, `
		SELECT `+groupingCols+` FROM blood_grouping_result
		WHERE blood_unit_id = $1 ORDER BY created_at DESC LIMIT 1`, unitID))
}

func (r *groupingRepoPG) LatestUnverifiedByUnit(ctx context.Context, unitID uuid.UUID) (*BloodGroupingResult, error) {
	return r.scanGrouping(r.conn(ctx).QueryRow(ctx, `
		SELECT `+groupingCols+` FROM blood_grouping_result
		WHERE blood_unit_id = $1 AND verified_by_staff_id IS NULL
		ORDER BY created_at DESC LIMIT 1`, unitID))
}

// =========== TTI Repository ===========

type ttiRepoPG struct{ pool *pgxpool.Pool }

func NewTTIRepoPG(pool *pgxpool.Pool) TTIRepository { return &ttiRepoPG{pool: pool} }

func (r *ttiRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const ttiCols = `id, blood_unit_id, test_name, method, kit_lot_no, result,
	tested_by_staff_id, verified_by_staff_id, verified_at, created_at, updated_at`

func (r *ttiRepoPG) scanTTI(row pgx.Row) (*TTITestRecord, error) {
	var t TTITestRecord
	err := row.Scan(&t.ID, &t.BloodUnitID, &t.TestName, &t.Method, &t.KitLotNo, &t.Result,
		&t.TestedByStaffID, &t.VerifiedByStaffID, &t.VerifiedAt, &t.CreatedAt, &t.UpdatedAt)
	return &t, mapNoRows(err)
}

func (r *ttiRepoPG) Create(ctx context.Context, t *TTITestRecord) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO tti_test_record (id, blood_unit_id, test_name, method, kit_lot_no, result, tested_by_staff_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.ID, t.BloodUnitID, t.TestName, t.Method, t.KitLotNo, t.Result, t.TestedByStaffID)
	return err
}

func (r *ttiRepoPG) Update(ctx context.Context, t *TTITestRecord) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE tti_test_record SET method=$2, kit_lot_no=$3, result=$4,
			tested_by_staff_id=$5, updated_at=NOW()
		WHERE id = $1`,
		t.ID, t.Method, t.KitLotNo, t.Result, t.TestedByStaffID)
	return err
}

func (r *ttiRepoPG) LatestPerTest(ctx context.Context, unitID uuid.UUID) (map[string]*TTITestRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT ON (test_name) `+ttiCols+`
		FROM tti_test_record WHERE blood_unit_id = $1
		ORDER BY test_name, created_at DESC`, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]*TTITestRecord)
	for rows.Next() {
		t, err := r.scanTTI(rows)
		if err != nil {
			return nil, err
		}
		out[t.TestName] = t
	}
	return out, nil
}

func (r *ttiRepoPG) LatestUnverified(ctx context.Context, unitID uuid.UUID, testName string) (*TTITestRecord, error) {
	return r.scanTTI(r.conn(ctx).QueryRow(ctx, `
		SELECT `+ttiCols+` FROM tti_test_record
		WHERE blood_unit_id = $1 AND test_name = $2 AND verified_by_staff_id IS NULL
		ORDER BY created_at DESC LIMIT 1`, unitID, testName))
}

func (r *ttiRepoPG) VerifyPending(ctx context.Context, unitID uuid.UUID, verifierStaffID string, at time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE tti_test_record SET verified_by_staff_id=$2, verified_at=$3, updated_at=NOW()
		WHERE blood_unit_id = $1 AND verified_by_staff_id IS NULL`,
		unitID, verifierStaffID, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// =========== Equipment Repository ===========

type equipmentRepoPG struct{ pool *pgxpool.Pool }

func NewEquipmentRepoPG(pool *pgxpool.Pool) EquipmentRepository {
	return &equipmentRepoPG{pool: pool}
}

func (r *equipmentRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const equipCols = `id, branch_id, name, equipment_type, make, model, serial_number,
	capacity_units, temp_range_min_c, temp_range_max_c, location,
	last_calibrated_at, calibration_due_date, is_active, created_at, updated_at`

func (r *equipmentRepoPG) scanEquipment(row pgx.Row) (*BloodBankEquipment, error) {
	var e BloodBankEquipment
	err := row.Scan(&e.ID, &e.BranchID, &e.Name, &e.EquipmentType, &e.Make, &e.Model, &e.SerialNumber,
		&e.CapacityUnits, &e.TempRangeMinC, &e.TempRangeMaxC, &e.Location,
		&e.LastCalibratedAt, &e.CalibrationDueDate, &e.IsActive, &e.CreatedAt, &e.UpdatedAt)
	return &e, mapNoRows(err)
}

func (r *equipmentRepoPG) Create(ctx context.Context, e *BloodBankEquipment) error {
	e.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO blood_bank_equipment (id, branch_id, name, equipment_type, make, model,
			serial_number, capacity_units, temp_range_min_c, temp_range_max_c, location,
			last_calibrated_at, calibration_due_date, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		e.ID, e.BranchID, e.Name, e.EquipmentType, e.Make, e.Model,
		e.SerialNumber, e.CapacityUnits, e.TempRangeMinC, e.TempRangeMaxC, e.Location,
		e.LastCalibratedAt, e.CalibrationDueDate, e.IsActive)
	return err
}

func (r *equipmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*BloodBankEquipment, error) {
	return r.scanEquipment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+equipCols+` FROM blood_bank_equipment WHERE id = $1`, id))
}

func (r *equipmentRepoPG) Update(ctx context.Context, e *BloodBankEquipment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE blood_bank_equipment SET name=$2, equipment_type=$3, make=$4, model=$5,
			serial_number=$6, capacity_units=$7, temp_range_min_c=$8, temp_range_max_c=$9,
			location=$10, last_calibrated_at=$11, calibration_due_date=$12, is_active=$13,
			updated_at=NOW()
		WHERE id = $1`,
		e.ID, e.Name, e.EquipmentType, e.Make, e.Model,
		e.SerialNumber, e.CapacityUnits, e.TempRangeMinC, e.TempRangeMaxC,
		e.Location, e.LastCalibratedAt, e.CalibrationDueDate, e.IsActive)
	return err
}

func (r *equipmentRepoPG) List(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]*BloodBankEquipment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM blood_bank_equipment WHERE branch_id = $1`, branchID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+equipCols+` FROM blood_bank_equipment
		WHERE branch_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		branchID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*BloodBankEquipment
	for rows.Next() {
		e, err := r.scanEquipment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, nil
}

func (r *equipmentRepoPG) FirstActiveOfTypes(ctx context.Context, branchID uuid.UUID, types []string) (*BloodBankEquipment, error) {
	return r.scanEquipment(r.conn(ctx).QueryRow(ctx, `
		SELECT `+equipCols+` FROM blood_bank_equipment
		WHERE branch_id = $1 AND is_active AND equipment_type = ANY($2)
		ORDER BY array_position($2, equipment_type), created_at ASC
		LIMIT 1`, branchID, types))
}

// =========== Temp Log Repository ===========

type tempLogRepoPG struct{ pool *pgxpool.Pool }

func NewTempLogRepoPG(pool *pgxpool.Pool) TempLogRepository { return &tempLogRepoPG{pool: pool} }

func (r *tempLogRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const tempLogCols = `id, equipment_id, temperature_c, recorded_at, is_breaching,
	acknowledged, acknowledged_at, acknowledged_by_staff_id`

func (r *tempLogRepoPG) scanTempLog(row pgx.Row) (*EquipmentTempLog, error) {
	var l EquipmentTempLog
	err := row.Scan(&l.ID, &l.EquipmentID, &l.TemperatureC, &l.RecordedAt, &l.IsBreaching,
		&l.Acknowledged, &l.AcknowledgedAt, &l.AcknowledgedByStaffID)
	return &l, mapNoRows(err)
}

func (r *tempLogRepoPG) Create(ctx context.Context, l *EquipmentTempLog) error {
	l.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO equipment_temp_log (id, equipment_id, temperature_c, recorded_at, is_breaching)
		VALUES ($1,$2,$3,$4,$5)`,
		l.ID, l.EquipmentID, l.TemperatureC, l.RecordedAt, l.IsBreaching)
	return err
}

func (r *tempLogRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*EquipmentTempLog, error) {
	return r.scanTempLog(r.conn(ctx).QueryRow(ctx,
		`SELECT `+tempLogCols+` FROM equipment_temp_log WHERE id = $1`, id))
}

func (r *tempLogRepoPG) ListByEquipment(ctx context.Context, equipmentID uuid.UUID, from, to time.Time, limit, offset int) ([]*EquipmentTempLog, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM equipment_temp_log
		WHERE equipment_id = $1 AND recorded_at >= $2 AND recorded_at <= $3`,
		equipmentID, from, to).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+tempLogCols+` FROM equipment_temp_log
		WHERE equipment_id = $1 AND recorded_at >= $2 AND recorded_at <= $3
		ORDER BY recorded_at DESC LIMIT $4 OFFSET $5`,
		equipmentID, from, to, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*EquipmentTempLog
	for rows.Next() {
		l, err := r.scanTempLog(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, l)
	}
	return items, total, nil
}

func (r *tempLogRepoPG) ListUnacknowledgedBreaches(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]*EquipmentTempLog, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM equipment_temp_log l
		JOIN blood_bank_equipment e ON e.id = l.equipment_id
		WHERE e.branch_id = $1 AND l.is_breaching AND NOT l.acknowledged`,
		branchID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT l.id, l.equipment_id, l.temperature_c, l.recorded_at, l.is_breaching,
			l.acknowledged, l.acknowledged_at, l.acknowledged_by_staff_id
		FROM equipment_temp_log l
		JOIN blood_bank_equipment e ON e.id = l.equipment_id
		WHERE e.branch_id = $1 AND l.is_breaching AND NOT l.acknowledged
		ORDER BY l.recorded_at DESC LIMIT $2 OFFSET $3`,
		branchID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*EquipmentTempLog
	for rows.Next() {
		l, err := r.scanTempLog(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, l)
	}
	return items, total, nil
}

func (r *tempLogRepoPG) HasUnacknowledgedBreach(ctx context.Context, equipmentID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM equipment_temp_log
			WHERE equipment_id = $1 AND is_breaching AND NOT acknowledged
		)`, equipmentID).Scan(&exists)
	return exists, err
}

func (r *tempLogRepoPG) Acknowledge(ctx context.Context, id uuid.UUID, staffID string, at time.Time) error {
	// Already-acknowledged rows are left untouched so acknowledgement stays
	// idempotent under concurrent supervisors.
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE equipment_temp_log SET acknowledged=TRUE, acknowledged_at=$2, acknowledged_by_staff_id=$3
		WHERE id = $1 AND NOT acknowledged`,
		id, at, staffID)
	return err
}

// =========== Slot Repository ===========

type slotRepoPG struct{ pool *pgxpool.Pool }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository { return &slotRepoPG{pool: pool} }

func (r *slotRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *slotRepoPG) Place(ctx context.Context, unitID, equipmentID uuid.UUID, at time.Time) error {
	if _, err := r.conn(ctx).Exec(ctx, `
		UPDATE blood_inventory_slot SET removed_at=$2
		WHERE blood_unit_id = $1 AND removed_at IS NULL`, unitID, at); err != nil {
		return err
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO blood_inventory_slot (id, blood_unit_id, equipment_id, assigned_at)
		VALUES ($1,$2,$3,$4)`,
		uuid.New(), unitID, equipmentID, at)
	return err
}

func (r *slotRepoPG) Remove(ctx context.Context, unitID uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE blood_inventory_slot SET removed_at=$2
		WHERE blood_unit_id = $1 AND removed_at IS NULL`, unitID, at)
	return err
}

func (r *slotRepoPG) CurrentByUnit(ctx context.Context, unitID uuid.UUID) (*BloodInventorySlot, error) {
	var s BloodInventorySlot
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, blood_unit_id, equipment_id, assigned_at, removed_at
		FROM blood_inventory_slot
		WHERE blood_unit_id = $1 AND removed_at IS NULL
		ORDER BY assigned_at DESC LIMIT 1`, unitID).
		Scan(&s.ID, &s.BloodUnitID, &s.EquipmentID, &s.AssignedAt, &s.RemovedAt)
	return &s, mapNoRows(err)
}

func (r *slotRepoPG) ListUnitIDsByEquipment(ctx context.Context, equipmentID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT blood_unit_id FROM blood_inventory_slot
		WHERE equipment_id = $1 AND removed_at IS NULL`, equipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// =========== Facility Repository ===========

type facilityRepoPG struct{ pool *pgxpool.Pool }

func NewFacilityRepoPG(pool *pgxpool.Pool) FacilityRepository { return &facilityRepoPG{pool: pool} }

func (r *facilityRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *facilityRepoPG) GetByBranch(ctx context.Context, branchID uuid.UUID) (*BloodBankFacility, error) {
	var f BloodBankFacility
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT branch_id, default_storage_equipment_id
		FROM blood_bank_facility WHERE branch_id = $1`, branchID).
		Scan(&f.BranchID, &f.DefaultStorageEquipmentID)
	return &f, mapNoRows(err)
}

func (r *facilityRepoPG) Upsert(ctx context.Context, f *BloodBankFacility) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO blood_bank_facility (branch_id, default_storage_equipment_id)
		VALUES ($1,$2)
		ON CONFLICT (branch_id) DO UPDATE SET default_storage_equipment_id = EXCLUDED.default_storage_equipment_id`,
		f.BranchID, f.DefaultStorageEquipmentID)
	return err
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, branch_id, uhid, name, created_at FROM patient WHERE id = $1`, id).
		Scan(&p.ID, &p.BranchID, &p.UHID, &p.Name, &p.CreatedAt)
	return &p, mapNoRows(err)
}

// =========== Request Repository ===========

type requestRepoPG struct{ pool *pgxpool.Pool }

func NewRequestRepoPG(pool *pgxpool.Pool) RequestRepository { return &requestRepoPG{pool: pool} }

func (r *requestRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const requestCols = `id, branch_id, request_number, patient_id, encounter_id, requested_component,
	quantity_units, urgency, indication, diagnosis, notes, requested_by_staff_id,
	status, sla_target_minutes, created_at, updated_at`

func (r *requestRepoPG) scanRequest(row pgx.Row) (*BloodRequest, error) {
	var b BloodRequest
	err := row.Scan(&b.ID, &b.BranchID, &b.RequestNumber, &b.PatientID, &b.EncounterID, &b.RequestedComponent,
		&b.QuantityUnits, &b.Urgency, &b.Indication, &b.Diagnosis, &b.Notes, &b.RequestedByStaffID,
		&b.Status, &b.SLATargetMinutes, &b.CreatedAt, &b.UpdatedAt)
	return &b, mapNoRows(err)
}

func (r *requestRepoPG) Create(ctx context.Context, b *BloodRequest) error {
	b.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO blood_request (id, branch_id, request_number, patient_id, encounter_id,
			requested_component, quantity_units, urgency, indication, diagnosis, notes,
			requested_by_staff_id, status, sla_target_minutes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		b.ID, b.BranchID, b.RequestNumber, b.PatientID, b.EncounterID,
		b.RequestedComponent, b.QuantityUnits, b.Urgency, b.Indication, b.Diagnosis, b.Notes,
		b.RequestedByStaffID, b.Status, b.SLATargetMinutes)
	return err
}

func (r *requestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*BloodRequest, error) {
	return r.scanRequest(r.conn(ctx).QueryRow(ctx, `SELECT `+requestCols+` FROM blood_request WHERE id = $1`, id))
}

func (r *requestRepoPG) Update(ctx context.Context, b *BloodRequest) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE blood_request SET requested_component=$2, quantity_units=$3, urgency=$4,
			indication=$5, diagnosis=$6, notes=$7, sla_target_minutes=$8, updated_at=NOW()
		WHERE id = $1`,
		b.ID, b.RequestedComponent, b.QuantityUnits, b.Urgency,
		b.Indication, b.Diagnosis, b.Notes, b.SLATargetMinutes)
	return err
}

func (r *requestRepoPG) AdvanceStatus(ctx context.Context, id uuid.UUID, to RequestStatus, from ...RequestStatus) error {
	srcs := make([]string, len(from))
	for i, s := range from {
		srcs[i] = string(s)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE blood_request SET status=$2, updated_at=NOW()
		WHERE id = $1 AND status = ANY($3)`,
		id, to, srcs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var current RequestStatus
	err = r.conn(ctx).QueryRow(ctx, `SELECT status FROM blood_request WHERE id = $1`, id).Scan(&current)
	if err != nil {
		return mapNoRows(err)
	}
	return stateConflictf("request %s is %s, expected one of %v", id, current, from)
}

func (r *requestRepoPG) List(ctx context.Context, branchID uuid.UUID, status RequestStatus, urgency Urgency, limit, offset int) ([]*BloodRequest, int, error) {
	query := `SELECT ` + requestCols + ` FROM blood_request WHERE branch_id = $1`
	countQuery := `SELECT COUNT(*) FROM blood_request WHERE branch_id = $1`
	args := []interface{}{branchID}
	idx := 2

	if status != "" {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		countQuery += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, status)
		idx++
	}
	if urgency != "" {
		query += fmt.Sprintf(` AND urgency = $%d`, idx)
		countQuery += fmt.Sprintf(` AND urgency = $%d`, idx)
		args = append(args, urgency)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*BloodRequest
	for rows.Next() {
		b, err := r.scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, nil
}

func (r *requestRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*BloodRequest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM blood_request WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+requestCols+` FROM blood_request
		WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*BloodRequest
	for rows.Next() {
		b, err := r.scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, nil
}

// =========== Sample Repository ===========

type sampleRepoPG struct{ pool *pgxpool.Pool }

func NewSampleRepoPG(pool *pgxpool.Pool) SampleRepository { return &sampleRepoPG{pool: pool} }

func (r *sampleRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const sampleCols = `id, request_id, sample_id, collected_at, collected_by_staff_id,
	verified_by_staff_id, verification_method, patient_blood_group, patient_antibodies,
	created_at, updated_at`

func (r *sampleRepoPG) scanSample(row pgx.Row) (*PatientBloodSample, error) {
	var s PatientBloodSample
	err := row.Scan(&s.ID, &s.RequestID, &s.SampleID, &s.CollectedAt, &s.CollectedByStaffID,
		&s.VerifiedByStaffID, &s.VerificationMethod, &s.PatientBloodGroup, &s.PatientAntibodies,
		&s.CreatedAt, &s.UpdatedAt)
	return &s, mapNoRows(err)
}

func (r *sampleRepoPG) Create(ctx context.Context, s *PatientBloodSample) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_blood_sample (id, request_id, sample_id, collected_at,
			collected_by_staff_id, verified_by_staff_id, verification_method)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		s.ID, s.RequestID, s.SampleID, s.CollectedAt,
		s.CollectedByStaffID, s.VerifiedByStaffID, s.VerificationMethod)
	return err
}

func (r *sampleRepoPG) Update(ctx context.Context, s *PatientBloodSample) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_blood_sample SET sample_id=$2, collected_at=$3, collected_by_staff_id=$4,
			verified_by_staff_id=$5, verification_method=$6, patient_blood_group=$7,
			patient_antibodies=$8, updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.SampleID, s.CollectedAt, s.CollectedByStaffID,
		s.VerifiedByStaffID, s.VerificationMethod, s.PatientBloodGroup, s.PatientAntibodies)
	return err
}

func (r *sampleRepoPG) GetByRequest(ctx context.Context, requestID uuid.UUID) (*PatientBloodSample, error) {
	return r.scanSample(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sampleCols+` FROM patient_blood_sample WHERE request_id = $1`, requestID))
}

// =========== Cross-Match Repository ===========

type crossMatchRepoPG struct{ pool *pgxpool.Pool }

func NewCrossMatchRepoPG(pool *pgxpool.Pool) CrossMatchRepository {
	return &crossMatchRepoPG{pool: pool}
}

func (r *crossMatchRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const xmCols = `id, request_id, sample_id, blood_unit_id, method, result,
	certificate_number, tested_by_staff_id, valid_until, created_at`

func (r *crossMatchRepoPG) scanXM(row pgx.Row) (*CrossMatchTest, error) {
	var x CrossMatchTest
	err := row.Scan(&x.ID, &x.RequestID, &x.SampleID, &x.BloodUnitID, &x.Method, &x.Result,
		&x.CertificateNumber, &x.TestedByStaffID, &x.ValidUntil, &x.CreatedAt)
	return &x, mapNoRows(err)
}

func (r *crossMatchRepoPG) Create(ctx context.Context, x *CrossMatchTest) error {
	x.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO cross_match_test (id, request_id, sample_id, blood_unit_id, method, result,
			certificate_number, tested_by_staff_id, valid_until)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		x.ID, x.RequestID, x.SampleID, x.BloodUnitID, x.Method, x.Result,
		x.CertificateNumber, x.TestedByStaffID, x.ValidUntil)
	return err
}

func (r *crossMatchRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CrossMatchTest, error) {
	return r.scanXM(r.conn(ctx).QueryRow(ctx, `SELECT `+xmCols+` FROM cross_match_test WHERE id = $1`, id))
}

func (r *crossMatchRepoPG) LatestCompatible(ctx context.Context, requestID, unitID uuid.UUID) (*CrossMatchTest, error) {
	return r.scanXM(r.conn(ctx).QueryRow(ctx, `
		SELECT `+xmCols+` FROM cross_match_test
		WHERE request_id = $1 AND blood_unit_id = $2 AND result = $3
		ORDER BY created_at DESC LIMIT 1`,
		requestID, unitID, XMCompatible))
}

func (r *crossMatchRepoPG) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*CrossMatchTest, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+xmCols+` FROM cross_match_test WHERE request_id = $1 ORDER BY created_at DESC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*CrossMatchTest
	for rows.Next() {
		x, err := r.scanXM(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, x)
	}
	return items, nil
}

func (r *crossMatchRepoPG) CountCompatibleValid(ctx context.Context, requestID uuid.UUID, at time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM cross_match_test
		WHERE request_id = $1 AND result = $2 AND (valid_until IS NULL OR valid_until > $3)`,
		requestID, XMCompatible, at).Scan(&n)
	return n, err
}

// =========== Issue Repository ===========

type issueRepoPG struct{ pool *pgxpool.Pool }

func NewIssueRepoPG(pool *pgxpool.Pool) IssueRepository { return &issueRepoPG{pool: pool} }

func (r *issueRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const issueCols = `id, branch_id, issue_number, blood_unit_id, request_id, cross_match_id,
	mtp_session_id, issued_to_person, issued_to_ward, transport_box_temp_c,
	issued_by_staff_id, inspection_notes, is_returned, returned_at, return_reason,
	issued_at, created_at`

func (r *issueRepoPG) scanIssue(row pgx.Row) (*BloodIssue, error) {
	var i BloodIssue
	err := row.Scan(&i.ID, &i.BranchID, &i.IssueNumber, &i.BloodUnitID, &i.RequestID, &i.CrossMatchID,
		&i.MTPSessionID, &i.IssuedToPerson, &i.IssuedToWard, &i.TransportBoxTempC,
		&i.IssuedByStaffID, &i.InspectionNotes, &i.IsReturned, &i.ReturnedAt, &i.ReturnReason,
		&i.IssuedAt, &i.CreatedAt)
	return &i, mapNoRows(err)
}

func (r *issueRepoPG) Create(ctx context.Context, i *BloodIssue) error {
	i.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO blood_issue (id, branch_id, issue_number, blood_unit_id, request_id,
			cross_match_id, mtp_session_id, issued_to_person, issued_to_ward,
			transport_box_temp_c, issued_by_staff_id, inspection_notes, issued_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		i.ID, i.BranchID, i.IssueNumber, i.BloodUnitID, i.RequestID,
		i.CrossMatchID, i.MTPSessionID, i.IssuedToPerson, i.IssuedToWard,
		i.TransportBoxTempC, i.IssuedByStaffID, i.InspectionNotes, i.IssuedAt)
	return err
}

func (r *issueRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*BloodIssue, error) {
	return r.scanIssue(r.conn(ctx).QueryRow(ctx, `SELECT `+issueCols+` FROM blood_issue WHERE id = $1`, id))
}

func (r *issueRepoPG) Update(ctx context.Context, i *BloodIssue) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE blood_issue SET is_returned=$2, returned_at=$3, return_reason=$4, inspection_notes=$5
		WHERE id = $1`,
		i.ID, i.IsReturned, i.ReturnedAt, i.ReturnReason, i.InspectionNotes)
	return err
}

func (r *issueRepoPG) List(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]*BloodIssue, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM blood_issue WHERE branch_id = $1`, branchID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+issueCols+` FROM blood_issue
		WHERE branch_id = $1 ORDER BY issued_at DESC LIMIT $2 OFFSET $3`,
		branchID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*BloodIssue
	for rows.Next() {
		i, err := r.scanIssue(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, i)
	}
	return items, total, nil
}

func (r *issueRepoPG) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*BloodIssue, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+issueCols+` FROM blood_issue WHERE request_id = $1 ORDER BY issued_at DESC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*BloodIssue
	for rows.Next() {
		i, err := r.scanIssue(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, nil
}

func (r *issueRepoPG) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*BloodIssue, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+issueCols+` FROM blood_issue WHERE mtp_session_id = $1 ORDER BY issued_at DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*BloodIssue
	for rows.Next() {
		i, err := r.scanIssue(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, nil
}

func (r *issueRepoPG) CountByRequest(ctx context.Context, requestID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM blood_issue WHERE request_id = $1 AND NOT is_returned`, requestID).Scan(&n)
	return n, err
}

// =========== Transfusion Repository ===========

type transfusionRepoPG struct{ pool *pgxpool.Pool }

func NewTransfusionRepoPG(pool *pgxpool.Pool) TransfusionRepository {
	return &transfusionRepoPG{pool: pool}
}

func (r *transfusionRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const transfusionCols = `id, branch_id, issue_id, patient_id, bedside_verifier1_staff_id,
	bedside_verifier2_staff_id, bedside_verified_at, patient_wristband_scan, unit_barcode_scan,
	bedside_verification_ok, started_at, ended_at, pre_vitals, vitals_15min, vitals_30min,
	vitals_1hr, post_vitals, total_volume_ml, has_reaction, administered_by_staff_id,
	created_at, updated_at`

func (r *transfusionRepoPG) scanTransfusion(row pgx.Row) (*TransfusionRecord, error) {
	var t TransfusionRecord
	err := row.Scan(&t.ID, &t.BranchID, &t.IssueID, &t.PatientID, &t.BedsideVerifier1StaffID,
		&t.BedsideVerifier2StaffID, &t.BedsideVerifiedAt, &t.PatientWristbandScan, &t.UnitBarcodeScan,
		&t.BedsideVerificationOK, &t.StartedAt, &t.EndedAt, &t.PreVitals, &t.Vitals15Min, &t.Vitals30Min,
		&t.Vitals1Hr, &t.PostVitals, &t.TotalVolumeML, &t.HasReaction, &t.AdministeredByStaffID,
		&t.CreatedAt, &t.UpdatedAt)
	return &t, mapNoRows(err)
}

func (r *transfusionRepoPG) Create(ctx context.Context, t *TransfusionRecord) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO transfusion_record (id, branch_id, issue_id, patient_id,
			bedside_verifier1_staff_id, bedside_verifier2_staff_id, bedside_verified_at,
			patient_wristband_scan, unit_barcode_scan, bedside_verification_ok,
			pre_vitals, vitals_15min, vitals_30min, vitals_1hr)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		t.ID, t.BranchID, t.IssueID, t.PatientID,
		t.BedsideVerifier1StaffID, t.BedsideVerifier2StaffID, t.BedsideVerifiedAt,
		t.PatientWristbandScan, t.UnitBarcodeScan, t.BedsideVerificationOK,
		t.PreVitals, t.Vitals15Min, t.Vitals30Min, t.Vitals1Hr)
	return err
}

func (r *transfusionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TransfusionRecord, error) {
	return r.scanTransfusion(r.conn(ctx).QueryRow(ctx,
		`SELECT `+transfusionCols+` FROM transfusion_record WHERE id = $1`, id))
}

func (r *transfusionRepoPG) GetByIssue(ctx context.Context, issueID uuid.UUID) (*TransfusionRecord, error) {
	return r.scanTransfusion(r.conn(ctx).QueryRow(ctx,
		`SELECT `+transfusionCols+` FROM transfusion_record WHERE issue_id = $1`, issueID))
}

func (r *transfusionRepoPG) Update(ctx context.Context, t *TransfusionRecord) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE transfusion_record SET started_at=$2, ended_at=$3, pre_vitals=$4,
			vitals_15min=$5, vitals_30min=$6, vitals_1hr=$7, post_vitals=$8,
			total_volume_ml=$9, has_reaction=$10, administered_by_staff_id=$11, updated_at=NOW()
		WHERE id = $1`,
		t.ID, t.StartedAt, t.EndedAt, t.PreVitals,
		t.Vitals15Min, t.Vitals30Min, t.Vitals1Hr, t.PostVitals,
		t.TotalVolumeML, t.HasReaction, t.AdministeredByStaffID)
	return err
}

// =========== Reaction Repository ===========

type reactionRepoPG struct{ pool *pgxpool.Pool }

func NewReactionRepoPG(pool *pgxpool.Pool) ReactionRepository { return &reactionRepoPG{pool: pool} }

func (r *reactionRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *reactionRepoPG) Create(ctx context.Context, x *TransfusionReaction) error {
	x.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO transfusion_reaction (id, transfusion_id, reaction_type, severity, description,
			onset_at, management_notes, investigation_results, reported_by_staff_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		x.ID, x.TransfusionID, x.ReactionType, x.Severity, x.Description,
		x.OnsetAt, x.ManagementNotes, x.InvestigationResults, x.ReportedByStaffID)
	return err
}

func (r *reactionRepoPG) ListByTransfusion(ctx context.Context, transfusionID uuid.UUID) ([]*TransfusionReaction, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, transfusion_id, reaction_type, severity, description, onset_at,
			management_notes, investigation_results, reported_by_staff_id, created_at
		FROM transfusion_reaction WHERE transfusion_id = $1 ORDER BY onset_at`, transfusionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*TransfusionReaction
	for rows.Next() {
		var x TransfusionReaction
		if err := rows.Scan(&x.ID, &x.TransfusionID, &x.ReactionType, &x.Severity, &x.Description,
			&x.OnsetAt, &x.ManagementNotes, &x.InvestigationResults, &x.ReportedByStaffID, &x.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &x)
	}
	return items, nil
}

// =========== MTP Repository ===========

type mtpRepoPG struct{ pool *pgxpool.Pool }

func NewMTPRepoPG(pool *pgxpool.Pool) MTPRepository { return &mtpRepoPG{pool: pool} }

func (r *mtpRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const mtpCols = `id, branch_id, patient_id, encounter_id, clinical_indication, notes,
	activated_by_staff_id, activated_at, deactivated_at, deactivated_by_staff_id,
	status, created_at`

func (r *mtpRepoPG) scanSession(row pgx.Row) (*MTPSession, error) {
	var s MTPSession
	err := row.Scan(&s.ID, &s.BranchID, &s.PatientID, &s.EncounterID, &s.ClinicalIndication, &s.Notes,
		&s.ActivatedByStaffID, &s.ActivatedAt, &s.DeactivatedAt, &s.DeactivatedByStaffID,
		&s.Status, &s.CreatedAt)
	return &s, mapNoRows(err)
}

func (r *mtpRepoPG) Create(ctx context.Context, s *MTPSession) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO mtp_session (id, branch_id, patient_id, encounter_id, clinical_indication,
			notes, activated_by_staff_id, activated_at, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		s.ID, s.BranchID, s.PatientID, s.EncounterID, s.ClinicalIndication,
		s.Notes, s.ActivatedByStaffID, s.ActivatedAt, s.Status)
	return err
}

func (r *mtpRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MTPSession, error) {
	return r.scanSession(r.conn(ctx).QueryRow(ctx, `SELECT `+mtpCols+` FROM mtp_session WHERE id = $1`, id))
}

func (r *mtpRepoPG) Update(ctx context.Context, s *MTPSession) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE mtp_session SET clinical_indication=$2, notes=$3, deactivated_at=$4,
			deactivated_by_staff_id=$5, status=$6
		WHERE id = $1`,
		s.ID, s.ClinicalIndication, s.Notes, s.DeactivatedAt,
		s.DeactivatedByStaffID, s.Status)
	return err
}

func (r *mtpRepoPG) ActiveByPatient(ctx context.Context, patientID uuid.UUID) (*MTPSession, error) {
	return r.scanSession(r.conn(ctx).QueryRow(ctx, `
		SELECT `+mtpCols+` FROM mtp_session
		WHERE patient_id = $1 AND status = $2
		ORDER BY activated_at DESC LIMIT 1`,
		patientID, MTPActive))
}

func (r *mtpRepoPG) List(ctx context.Context, branchID uuid.UUID, status MTPStatus, limit, offset int) ([]*MTPSession, int, error) {
	where := `WHERE branch_id = $1`
	args := []interface{}{branchID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, status)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM mtp_session `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT %s FROM mtp_session %s ORDER BY activated_at DESC LIMIT $%d OFFSET $%d`,
		mtpCols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*MTPSession
	for rows.Next() {
		s, err := r.scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, nil
}
