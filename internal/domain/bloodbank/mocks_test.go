package bloodbank

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hemovault/hemovault/internal/platform/audit"
	"github.com/hemovault/hemovault/internal/platform/auth"
	"github.com/hemovault/hemovault/internal/platform/db"
	"github.com/hemovault/hemovault/internal/platform/notification"
	"github.com/hemovault/hemovault/pkg/bloodgroup"
)

// In-memory repositories backing the service tests. They mirror the SQL
// implementations' semantics: compare-and-swap transitions, latest-row
// lookups and ErrNotFound misses.

type memUnitRepo struct {
	units []*BloodUnit
}

func (r *memUnitRepo) find(id uuid.UUID) *BloodUnit {
	for _, u := range r.units {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (r *memUnitRepo) Create(_ context.Context, u *BloodUnit) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	r.units = append(r.units, u)
	return nil
}

func (r *memUnitRepo) GetByID(_ context.Context, id uuid.UUID) (*BloodUnit, error) {
	if u := r.find(id); u != nil {
		cp := *u
		return &cp, nil
	}
	return nil, notFoundf("blood unit %s not found", id)
}

func (r *memUnitRepo) GetByBarcode(_ context.Context, branchID uuid.UUID, barcode string) (*BloodUnit, error) {
	for _, u := range r.units {
		if u.BranchID == branchID && u.Barcode == barcode {
			cp := *u
			return &cp, nil
		}
	}
	return nil, notFoundf("blood unit with barcode %s not found", barcode)
}

func (r *memUnitRepo) Update(_ context.Context, u *BloodUnit) error {
	stored := r.find(u.ID)
	if stored == nil {
		return notFoundf("blood unit %s not found", u.ID)
	}
	*stored = *u
	return nil
}

func (r *memUnitRepo) TransitionStatus(_ context.Context, id uuid.UUID, to UnitStatus, from ...UnitStatus) error {
	stored := r.find(id)
	if stored == nil {
		return notFoundf("blood unit %s not found", id)
	}
	for _, f := range from {
		if stored.Status == f {
			stored.Status = to
			return nil
		}
	}
	return stateConflictf("blood unit %s is %s, cannot move to %s", id, stored.Status, to)
}

func (r *memUnitRepo) List(_ context.Context, branchID uuid.UUID, status UnitStatus, limit, offset int) ([]*BloodUnit, int, error) {
	var out []*BloodUnit
	for _, u := range r.units {
		if u.BranchID == branchID && (status == "" || u.Status == status) {
			out = append(out, u)
		}
	}
	return page(out, limit, offset)
}

func (r *memUnitRepo) ListEligible(_ context.Context, branchID uuid.UUID, componentType string, groups []bloodgroup.Group, at time.Time, limit int) ([]*BloodUnit, error) {
	inSet := func(g bloodgroup.Group) bool {
		for _, c := range groups {
			if c == g {
				return true
			}
		}
		return false
	}
	var out []*BloodUnit
	for _, u := range r.units {
		if u.BranchID != branchID || u.Status != UnitAvailable || !u.IsActive {
			continue
		}
		if u.ComponentType != componentType || !inSet(u.BloodGroup) || u.Expired(at) {
			continue
		}
		out = append(out, u)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memUnitRepo) ListTestingWorklist(_ context.Context, branchID uuid.UUID, limit, offset int) ([]*BloodUnit, int, error) {
	var out []*BloodUnit
	for _, u := range r.units {
		if u.BranchID == branchID && u.Status == UnitTesting {
			out = append(out, u)
		}
	}
	return page(out, limit, offset)
}

func (r *memUnitRepo) ListByDonorBefore(_ context.Context, donorID uuid.UUID, before time.Time) ([]*BloodUnit, error) {
	var out []*BloodUnit
	for _, u := range r.units {
		if u.DonorID == donorID && u.CollectedAt != nil && u.CollectedAt.Before(before) {
			out = append(out, u)
		}
	}
	return out, nil
}

func page[T any](all []T, limit, offset int) ([]T, int, error) {
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

type memGroupingRepo struct {
	results []*BloodGroupingResult
}

func (r *memGroupingRepo) Create(_ context.Context, g *BloodGroupingResult) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	r.results = append(r.results, g)
	return nil
}

func (r *memGroupingRepo) Update(_ context.Context, g *BloodGroupingResult) error {
	for i, existing := range r.results {
		if existing.ID == g.ID {
			r.results[i] = g
			return nil
		}
	}
	return notFoundf("grouping %s not found", g.ID)
}

func (r *memGroupingRepo) LatestByUnit(_ context.Context, unitID uuid.UUID) (*BloodGroupingResult, error) {
	for i := len(r.results) - 1; i >= 0; i-- {
		if r.results[i].BloodUnitID == unitID {
			return r.results[i], nil
		}
	}
	return nil, notFoundf("no grouping for unit %s", unitID)
}

func (r *memGroupingRepo) LatestUnverifiedByUnit(_ context.Context, unitID uuid.UUID) (*BloodGroupingResult, error) {
	for i := len(r.results) - 1; i >= 0; i-- {
		g := r.results[i]
		if g.BloodUnitID == unitID && !g.Verified() {
			return g, nil
		}
	}
	return nil, notFoundf("no pending grouping for unit %s", unitID)
}

type memTTIRepo struct {
	records []*TTITestRecord
}

func (r *memTTIRepo) Create(_ context.Context, t *TTITestRecord) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	r.records = append(r.records, t)
	return nil
}

func (r *memTTIRepo) Update(_ context.Context, t *TTITestRecord) error {
	for i, existing := range r.records {
		if existing.ID == t.ID {
			r.records[i] = t
			return nil
		}
	}
	return notFoundf("TTI record %s not found", t.ID)
}

func (r *memTTIRepo) LatestPerTest(_ context.Context, unitID uuid.UUID) (map[string]*TTITestRecord, error) {
	out := map[string]*TTITestRecord{}
	for _, rec := range r.records {
		if rec.BloodUnitID == unitID {
			out[rec.TestName] = rec
		}
	}
	return out, nil
}

func (r *memTTIRepo) LatestUnverified(_ context.Context, unitID uuid.UUID, testName string) (*TTITestRecord, error) {
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if rec.BloodUnitID == unitID && rec.TestName == testName && !rec.Verified() {
			return rec, nil
		}
	}
	return nil, notFoundf("no pending %s record for unit %s", testName, unitID)
}

func (r *memTTIRepo) VerifyPending(_ context.Context, unitID uuid.UUID, verifierStaffID string, at time.Time) (int, error) {
	n := 0
	for _, rec := range r.records {
		if rec.BloodUnitID == unitID && !rec.Verified() {
			rec.VerifiedByStaffID = &verifierStaffID
			rec.VerifiedAt = &at
			n++
		}
	}
	return n, nil
}

type memEquipmentRepo struct {
	items []*BloodBankEquipment
}

func (r *memEquipmentRepo) Create(_ context.Context, e *BloodBankEquipment) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	r.items = append(r.items, e)
	return nil
}

func (r *memEquipmentRepo) GetByID(_ context.Context, id uuid.UUID) (*BloodBankEquipment, error) {
	for _, e := range r.items {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, notFoundf("equipment %s not found", id)
}

func (r *memEquipmentRepo) Update(_ context.Context, e *BloodBankEquipment) error {
	for i, existing := range r.items {
		if existing.ID == e.ID {
			r.items[i] = e
			return nil
		}
	}
	return notFoundf("equipment %s not found", e.ID)
}

func (r *memEquipmentRepo) List(_ context.Context, branchID uuid.UUID, limit, offset int) ([]*BloodBankEquipment, int, error) {
	var out []*BloodBankEquipment
	for _, e := range r.items {
		if e.BranchID == branchID {
			out = append(out, e)
		}
	}
	return page(out, limit, offset)
}

func (r *memEquipmentRepo) FirstActiveOfTypes(_ context.Context, branchID uuid.UUID, types []string) (*BloodBankEquipment, error) {
	for _, t := range types {
		for _, e := range r.items {
			if e.BranchID == branchID && e.IsActive && e.EquipmentType == t {
				cp := *e
				return &cp, nil
			}
		}
	}
	return nil, notFoundf("no active storage equipment")
}

type memTempLogRepo struct {
	logs []*EquipmentTempLog
}

func (r *memTempLogRepo) Create(_ context.Context, l *EquipmentTempLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	r.logs = append(r.logs, l)
	return nil
}

func (r *memTempLogRepo) GetByID(_ context.Context, id uuid.UUID) (*EquipmentTempLog, error) {
	for _, l := range r.logs {
		if l.ID == id {
			cp := *l
			return &cp, nil
		}
	}
	return nil, notFoundf("temp log %s not found", id)
}

func (r *memTempLogRepo) ListByEquipment(_ context.Context, equipmentID uuid.UUID, from, to time.Time, limit, offset int) ([]*EquipmentTempLog, int, error) {
	var out []*EquipmentTempLog
	for _, l := range r.logs {
		if l.EquipmentID == equipmentID && !l.RecordedAt.Before(from) && !l.RecordedAt.After(to) {
			out = append(out, l)
		}
	}
	return page(out, limit, offset)
}

func (r *memTempLogRepo) ListUnacknowledgedBreaches(_ context.Context, _ uuid.UUID, limit, offset int) ([]*EquipmentTempLog, int, error) {
	var out []*EquipmentTempLog
	for _, l := range r.logs {
		if l.IsBreaching && !l.Acknowledged {
			out = append(out, l)
		}
	}
	return page(out, limit, offset)
}

func (r *memTempLogRepo) HasUnacknowledgedBreach(_ context.Context, equipmentID uuid.UUID) (bool, error) {
	for _, l := range r.logs {
		if l.EquipmentID == equipmentID && l.IsBreaching && !l.Acknowledged {
			return true, nil
		}
	}
	return false, nil
}

func (r *memTempLogRepo) Acknowledge(_ context.Context, id uuid.UUID, staffID string, at time.Time) error {
	for _, l := range r.logs {
		if l.ID != id {
			continue
		}
		if !l.Acknowledged {
			l.Acknowledged = true
			l.AcknowledgedAt = &at
			l.AcknowledgedByStaffID = &staffID
		}
		return nil
	}
	return notFoundf("temp log %s not found", id)
}

type memSlotRepo struct {
	slots []*BloodInventorySlot
}

func (r *memSlotRepo) Place(_ context.Context, unitID, equipmentID uuid.UUID, at time.Time) error {
	for _, s := range r.slots {
		if s.BloodUnitID == unitID && s.RemovedAt == nil {
			removed := at
			s.RemovedAt = &removed
		}
	}
	r.slots = append(r.slots, &BloodInventorySlot{
		ID:          uuid.New(),
		BloodUnitID: unitID,
		EquipmentID: equipmentID,
		AssignedAt:  at,
	})
	return nil
}

func (r *memSlotRepo) Remove(_ context.Context, unitID uuid.UUID, at time.Time) error {
	for _, s := range r.slots {
		if s.BloodUnitID == unitID && s.RemovedAt == nil {
			removed := at
			s.RemovedAt = &removed
		}
	}
	return nil
}

func (r *memSlotRepo) CurrentByUnit(_ context.Context, unitID uuid.UUID) (*BloodInventorySlot, error) {
	for _, s := range r.slots {
		if s.BloodUnitID == unitID && s.RemovedAt == nil {
			cp := *s
			return &cp, nil
		}
	}
	return nil, notFoundf("unit %s has no open slot", unitID)
}

func (r *memSlotRepo) ListUnitIDsByEquipment(_ context.Context, equipmentID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, s := range r.slots {
		if s.EquipmentID == equipmentID && s.RemovedAt == nil {
			out = append(out, s.BloodUnitID)
		}
	}
	return out, nil
}

type memFacilityRepo struct {
	byBranch map[uuid.UUID]*BloodBankFacility
}

func (r *memFacilityRepo) GetByBranch(_ context.Context, branchID uuid.UUID) (*BloodBankFacility, error) {
	if f, ok := r.byBranch[branchID]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, notFoundf("no facility settings for branch %s", branchID)
}

func (r *memFacilityRepo) Upsert(_ context.Context, f *BloodBankFacility) error {
	if r.byBranch == nil {
		r.byBranch = map[uuid.UUID]*BloodBankFacility{}
	}
	r.byBranch[f.BranchID] = f
	return nil
}

type memPatientRepo struct {
	patients map[uuid.UUID]*Patient
}

func (r *memPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	if p, ok := r.patients[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, notFoundf("patient %s not found", id)
}

type memRequestRepo struct {
	requests []*BloodRequest
}

func (r *memRequestRepo) find(id uuid.UUID) *BloodRequest {
	for _, req := range r.requests {
		if req.ID == id {
			return req
		}
	}
	return nil
}

func (r *memRequestRepo) Create(_ context.Context, req *BloodRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	r.requests = append(r.requests, req)
	return nil
}

func (r *memRequestRepo) GetByID(_ context.Context, id uuid.UUID) (*BloodRequest, error) {
	if req := r.find(id); req != nil {
		cp := *req
		return &cp, nil
	}
	return nil, notFoundf("request %s not found", id)
}

func (r *memRequestRepo) Update(_ context.Context, req *BloodRequest) error {
	stored := r.find(req.ID)
	if stored == nil {
		return notFoundf("request %s not found", req.ID)
	}
	*stored = *req
	return nil
}

func (r *memRequestRepo) AdvanceStatus(_ context.Context, id uuid.UUID, to RequestStatus, from ...RequestStatus) error {
	stored := r.find(id)
	if stored == nil {
		return notFoundf("request %s not found", id)
	}
	for _, f := range from {
		if stored.Status == f {
			stored.Status = to
			return nil
		}
	}
	return stateConflictf("request %s is %s, cannot move to %s", id, stored.Status, to)
}

func (r *memRequestRepo) List(_ context.Context, branchID uuid.UUID, status RequestStatus, urgency Urgency, limit, offset int) ([]*BloodRequest, int, error) {
	var out []*BloodRequest
	for _, req := range r.requests {
		if req.BranchID != branchID {
			continue
		}
		if status != "" && req.Status != status {
			continue
		}
		if urgency != "" && req.Urgency != urgency {
			continue
		}
		out = append(out, req)
	}
	return page(out, limit, offset)
}

func (r *memRequestRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*BloodRequest, int, error) {
	var out []*BloodRequest
	for _, req := range r.requests {
		if req.PatientID == patientID {
			out = append(out, req)
		}
	}
	return page(out, limit, offset)
}

type memSampleRepo struct {
	samples []*PatientBloodSample
}

func (r *memSampleRepo) Create(_ context.Context, s *PatientBloodSample) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	r.samples = append(r.samples, s)
	return nil
}

func (r *memSampleRepo) Update(_ context.Context, s *PatientBloodSample) error {
	for i, existing := range r.samples {
		if existing.ID == s.ID {
			r.samples[i] = s
			return nil
		}
	}
	return notFoundf("sample %s not found", s.ID)
}

func (r *memSampleRepo) GetByRequest(_ context.Context, requestID uuid.UUID) (*PatientBloodSample, error) {
	for _, s := range r.samples {
		if s.RequestID == requestID {
			return s, nil
		}
	}
	return nil, notFoundf("no sample for request %s", requestID)
}

type memCrossMatchRepo struct {
	tests []*CrossMatchTest
}

func (r *memCrossMatchRepo) Create(_ context.Context, x *CrossMatchTest) error {
	if x.ID == uuid.Nil {
		x.ID = uuid.New()
	}
	r.tests = append(r.tests, x)
	return nil
}

func (r *memCrossMatchRepo) GetByID(_ context.Context, id uuid.UUID) (*CrossMatchTest, error) {
	for _, x := range r.tests {
		if x.ID == id {
			cp := *x
			return &cp, nil
		}
	}
	return nil, notFoundf("cross-match %s not found", id)
}

func (r *memCrossMatchRepo) LatestCompatible(_ context.Context, requestID, unitID uuid.UUID) (*CrossMatchTest, error) {
	for i := len(r.tests) - 1; i >= 0; i-- {
		x := r.tests[i]
		if x.RequestID == requestID && x.BloodUnitID == unitID && x.Result == XMCompatible {
			cp := *x
			return &cp, nil
		}
	}
	return nil, notFoundf("no compatible cross-match for request %s unit %s", requestID, unitID)
}

func (r *memCrossMatchRepo) ListByRequest(_ context.Context, requestID uuid.UUID) ([]*CrossMatchTest, error) {
	var out []*CrossMatchTest
	for _, x := range r.tests {
		if x.RequestID == requestID {
			out = append(out, x)
		}
	}
	return out, nil
}

func (r *memCrossMatchRepo) CountCompatibleValid(_ context.Context, requestID uuid.UUID, at time.Time) (int, error) {
	n := 0
	for _, x := range r.tests {
		if x.RequestID == requestID && x.Result == XMCompatible &&
			(x.ValidUntil == nil || x.ValidUntil.After(at)) {
			n++
		}
	}
	return n, nil
}

type memIssueRepo struct {
	issues []*BloodIssue
}

func (r *memIssueRepo) find(id uuid.UUID) *BloodIssue {
	for _, i := range r.issues {
		if i.ID == id {
			return i
		}
	}
	return nil
}

func (r *memIssueRepo) Create(_ context.Context, i *BloodIssue) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	r.issues = append(r.issues, i)
	return nil
}

func (r *memIssueRepo) GetByID(_ context.Context, id uuid.UUID) (*BloodIssue, error) {
	if i := r.find(id); i != nil {
		cp := *i
		return &cp, nil
	}
	return nil, notFoundf("issue %s not found", id)
}

func (r *memIssueRepo) Update(_ context.Context, i *BloodIssue) error {
	stored := r.find(i.ID)
	if stored == nil {
		return notFoundf("issue %s not found", i.ID)
	}
	*stored = *i
	return nil
}

func (r *memIssueRepo) List(_ context.Context, branchID uuid.UUID, limit, offset int) ([]*BloodIssue, int, error) {
	var out []*BloodIssue
	for _, i := range r.issues {
		if i.BranchID == branchID {
			out = append(out, i)
		}
	}
	return page(out, limit, offset)
}

func (r *memIssueRepo) ListByRequest(_ context.Context, requestID uuid.UUID) ([]*BloodIssue, error) {
	var out []*BloodIssue
	for _, i := range r.issues {
		if i.RequestID != nil && *i.RequestID == requestID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (r *memIssueRepo) ListBySession(_ context.Context, sessionID uuid.UUID) ([]*BloodIssue, error) {
	var out []*BloodIssue
	for _, i := range r.issues {
		if i.MTPSessionID != nil && *i.MTPSessionID == sessionID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (r *memIssueRepo) CountByRequest(_ context.Context, requestID uuid.UUID) (int, error) {
	n := 0
	for _, i := range r.issues {
		if i.RequestID != nil && *i.RequestID == requestID && !i.IsReturned {
			n++
		}
	}
	return n, nil
}

type memTransfusionRepo struct {
	records []*TransfusionRecord
}

func (r *memTransfusionRepo) Create(_ context.Context, t *TransfusionRecord) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	r.records = append(r.records, t)
	return nil
}

func (r *memTransfusionRepo) GetByID(_ context.Context, id uuid.UUID) (*TransfusionRecord, error) {
	for _, t := range r.records {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, notFoundf("transfusion %s not found", id)
}

func (r *memTransfusionRepo) GetByIssue(_ context.Context, issueID uuid.UUID) (*TransfusionRecord, error) {
	for _, t := range r.records {
		if t.IssueID == issueID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, notFoundf("no transfusion for issue %s", issueID)
}

func (r *memTransfusionRepo) Update(_ context.Context, t *TransfusionRecord) error {
	for i, existing := range r.records {
		if existing.ID == t.ID {
			r.records[i] = t
			return nil
		}
	}
	return notFoundf("transfusion %s not found", t.ID)
}

type memReactionRepo struct {
	reactions []*TransfusionReaction
}

func (r *memReactionRepo) Create(_ context.Context, x *TransfusionReaction) error {
	if x.ID == uuid.Nil {
		x.ID = uuid.New()
	}
	r.reactions = append(r.reactions, x)
	return nil
}

func (r *memReactionRepo) ListByTransfusion(_ context.Context, transfusionID uuid.UUID) ([]*TransfusionReaction, error) {
	var out []*TransfusionReaction
	for _, x := range r.reactions {
		if x.TransfusionID == transfusionID {
			out = append(out, x)
		}
	}
	return out, nil
}

type memMTPRepo struct {
	sessions []*MTPSession
}

func (r *memMTPRepo) find(id uuid.UUID) *MTPSession {
	for _, s := range r.sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (r *memMTPRepo) Create(_ context.Context, s *MTPSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	r.sessions = append(r.sessions, s)
	return nil
}

func (r *memMTPRepo) GetByID(_ context.Context, id uuid.UUID) (*MTPSession, error) {
	if s := r.find(id); s != nil {
		cp := *s
		return &cp, nil
	}
	return nil, notFoundf("MTP session %s not found", id)
}

func (r *memMTPRepo) Update(_ context.Context, s *MTPSession) error {
	stored := r.find(s.ID)
	if stored == nil {
		return notFoundf("MTP session %s not found", s.ID)
	}
	*stored = *s
	return nil
}

func (r *memMTPRepo) List(_ context.Context, branchID uuid.UUID, status MTPStatus, limit, offset int) ([]*MTPSession, int, error) {
	var out []*MTPSession
	for _, s := range r.sessions {
		if s.BranchID == branchID && (status == "" || s.Status == status) {
			out = append(out, s)
		}
	}
	return page(out, limit, offset)
}

func (r *memMTPRepo) ActiveByPatient(_ context.Context, patientID uuid.UUID) (*MTPSession, error) {
	for _, s := range r.sessions {
		if s.PatientID == patientID && s.Status == MTPActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, notFoundf("no active MTP session for patient %s", patientID)
}

// testEnv bundles the in-memory repositories with the deps wired for a
// service under test. The clock is pinned.
type testEnv struct {
	deps *Deps

	units        *memUnitRepo
	groupings    *memGroupingRepo
	tti          *memTTIRepo
	equipment    *memEquipmentRepo
	tempLogs     *memTempLogRepo
	slots        *memSlotRepo
	facilities   *memFacilityRepo
	patients     *memPatientRepo
	requests     *memRequestRepo
	samples      *memSampleRepo
	crossMatches *memCrossMatchRepo
	issues       *memIssueRepo
	transfusions *memTransfusionRepo
	reactions    *memReactionRepo
	mtp          *memMTPRepo

	auditSink *audit.MemorySink
	notifier  *notification.MemorySink
	now       time.Time
	branchID  uuid.UUID
}

var testClock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEnv() *testEnv {
	env := &testEnv{
		units:        &memUnitRepo{},
		groupings:    &memGroupingRepo{},
		tti:          &memTTIRepo{},
		equipment:    &memEquipmentRepo{},
		tempLogs:     &memTempLogRepo{},
		slots:        &memSlotRepo{},
		facilities:   &memFacilityRepo{},
		patients:     &memPatientRepo{patients: map[uuid.UUID]*Patient{}},
		requests:     &memRequestRepo{},
		samples:      &memSampleRepo{},
		crossMatches: &memCrossMatchRepo{},
		issues:       &memIssueRepo{},
		transfusions: &memTransfusionRepo{},
		reactions:    &memReactionRepo{},
		mtp:          &memMTPRepo{},
		auditSink:    audit.NewMemorySink(),
		notifier:     notification.NewMemorySink(),
		now:          testClock,
		branchID:     uuid.New(),
	}
	env.deps = &Deps{
		Units:        env.units,
		Groupings:    env.groupings,
		TTI:          env.tti,
		Equipment:    env.equipment,
		TempLogs:     env.tempLogs,
		Slots:        env.slots,
		Facilities:   env.facilities,
		Patients:     env.patients,
		Requests:     env.requests,
		Samples:      env.samples,
		CrossMatches: env.crossMatches,
		Issues:       env.issues,
		Transfusions: env.transfusions,
		Reactions:    env.reactions,
		MTP:          env.mtp,
		Audit:        env.auditSink,
		Notifier:     env.notifier,
		Tx:           db.NopTxRunner{},
		Log:          zerolog.Nop(),
		Now:          func() time.Time { return env.now },
	}
	return env
}

func (env *testEnv) advance(d time.Duration) { env.now = env.now.Add(d) }

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func testPrincipal(staffID string, roles ...string) auth.Principal {
	return auth.Principal{StaffID: staffID, Name: "Staff " + staffID, Roles: roles}
}

func (env *testEnv) addPatient(name string) *Patient {
	p := &Patient{ID: uuid.New(), BranchID: env.branchID, UHID: "UH-" + name, Name: name, CreatedAt: env.now}
	env.patients.patients[p.ID] = p
	return p
}

func (env *testEnv) addEquipment(equipType string) *BloodBankEquipment {
	min, max := 2.0, 6.0
	due := env.now.Add(90 * 24 * time.Hour)
	e := &BloodBankEquipment{
		ID:                 uuid.New(),
		BranchID:           env.branchID,
		Name:               "BB-" + equipType,
		EquipmentType:      equipType,
		TempRangeMinC:      &min,
		TempRangeMaxC:      &max,
		CalibrationDueDate: &due,
		IsActive:           true,
	}
	env.equipment.items = append(env.equipment.items, e)
	return e
}

func (env *testEnv) addUnit(status UnitStatus, group bloodgroup.Group, component string) *BloodUnit {
	collected := env.now.Add(-48 * time.Hour)
	expiry := env.now.Add(30 * 24 * time.Hour)
	u := &BloodUnit{
		ID:            uuid.New(),
		BranchID:      env.branchID,
		UnitNumber:    "BU-" + uuid.NewString()[:8],
		Barcode:       "BC-" + uuid.NewString()[:8],
		DonorID:       uuid.New(),
		BloodGroup:    group,
		ComponentType: component,
		Status:        status,
		CollectedAt:   &collected,
		ExpiryDate:    &expiry,
		IsActive:      true,
	}
	env.units.units = append(env.units.units, u)
	return u
}

// passAllTesting stamps a verified, discrepancy-free grouping and verified
// NON_REACTIVE mandatory TTI screens on the unit.
func (env *testEnv) passAllTesting(u *BloodUnit, testerID, verifierID string) {
	at := env.now.Add(-time.Hour)
	env.groupings.results = append(env.groupings.results, &BloodGroupingResult{
		ID:                uuid.New(),
		BloodUnitID:       u.ID,
		ABOForward:        "O",
		ABOReverse:        "O",
		RhType:            "NEGATIVE",
		ConfirmedGroup:    u.BloodGroup,
		TestedByStaffID:   testerID,
		VerifiedByStaffID: &verifierID,
		VerifiedAt:        &at,
	})
	for _, name := range MandatoryTTITests {
		env.tti.records = append(env.tti.records, &TTITestRecord{
			ID:                uuid.New(),
			BloodUnitID:       u.ID,
			TestName:          name,
			Result:            TTINonReactive,
			TestedByStaffID:   testerID,
			VerifiedByStaffID: &verifierID,
			VerifiedAt:        &at,
		})
	}
}

// readyIssueFixture builds a request/unit pair that passes all six issuance
// gates: READY request, CROSS_MATCHED tested unit in calibrated storage, and
// a valid compatible cross-match.
type issueFixture struct {
	patient *Patient
	request *BloodRequest
	unit    *BloodUnit
	equip   *BloodBankEquipment
	xm      *CrossMatchTest
}

func (env *testEnv) readyIssueFixture() *issueFixture {
	patient := env.addPatient("Asha Rao")
	unit := env.addUnit(UnitCrossMatched, bloodgroup.ONeg, ComponentPRBC)
	env.passAllTesting(unit, "tech-1", "sup-1")

	equip := env.addEquipment(EquipRefrigerator)
	_ = env.slots.Place(context.Background(), unit.ID, equip.ID, env.now.Add(-12*time.Hour))

	req := &BloodRequest{
		ID:                 uuid.New(),
		BranchID:           env.branchID,
		RequestNumber:      "BR-TEST1",
		PatientID:          patient.ID,
		RequestedComponent: ComponentPRBC,
		QuantityUnits:      1,
		Urgency:            UrgencyUrgent,
		RequestedByStaffID: "doc-1",
		Status:             RequestReady,
		SLATargetMinutes:   15,
		CreatedAt:          env.now.Add(-time.Hour),
	}
	env.requests.requests = append(env.requests.requests, req)

	sample := &PatientBloodSample{
		ID:                 uuid.New(),
		RequestID:          req.ID,
		SampleID:           "S-1",
		CollectedAt:        env.now.Add(-2 * time.Hour),
		CollectedByStaffID: "nurse-1",
		PatientBloodGroup:  bloodgroup.ONeg,
	}
	env.samples.samples = append(env.samples.samples, sample)

	validUntil := env.now.Add(crossMatchValidity - time.Hour)
	xm := &CrossMatchTest{
		ID:                uuid.New(),
		RequestID:         req.ID,
		SampleID:          sample.ID,
		BloodUnitID:       unit.ID,
		Method:            MethodAHG,
		Result:            XMCompatible,
		CertificateNumber: "XM-TEST1",
		TestedByStaffID:   "tech-1",
		ValidUntil:        &validUntil,
	}
	env.crossMatches.tests = append(env.crossMatches.tests, xm)

	return &issueFixture{patient: patient, request: req, unit: unit, equip: equip, xm: xm}
}
