package bloodbank

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hemovault/hemovault/internal/platform/auth"
	"github.com/hemovault/hemovault/internal/platform/db"
	"github.com/hemovault/hemovault/pkg/pagination"
)

type Handler struct {
	testing   *TestingService
	coldChain *ColdChainService
	requests  *RequestService
	issues    *IssueService
}

func NewHandler(testing *TestingService, coldChain *ColdChainService, requests *RequestService, issues *IssueService) *Handler {
	return &Handler{testing: testing, coldChain: coldChain, requests: requests, issues: issues}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Lab bench – technicians and supervisors
	lab := api.Group("", auth.RequireRole(auth.RoleLabTechnician, auth.RoleLabSupervisor))
	lab.POST("/units", h.RegisterUnit)
	lab.GET("/units", h.ListUnits)
	lab.GET("/units/barcode/:barcode", h.UnitByBarcode)
	lab.GET("/testing/worklist", h.TestingWorklist)
	lab.POST("/units/:id/grouping", h.RecordGrouping)
	lab.POST("/units/:id/tti", h.RecordTTI)
	lab.POST("/units/:id/verify", h.VerifyResults)
	lab.POST("/units/:id/confirm-label", h.ConfirmLabel)
	lab.POST("/units/:id/discard", h.DiscardUnit)

	// Cold chain – same bench staff plus issuers read alerts
	lab.POST("/equipment", h.CreateEquipment)
	lab.PUT("/equipment/:id", h.UpdateEquipment)
	lab.PUT("/facility/default-storage", h.SetDefaultStorage)
	lab.POST("/equipment/:id/temp-logs", h.RecordTempLog)
	lab.POST("/temp-alerts/:id/acknowledge", h.AcknowledgeBreach)
	coldRead := api.Group("", auth.RequireRole(auth.RoleLabTechnician, auth.RoleLabSupervisor, auth.RoleBloodBankIssue))
	coldRead.GET("/equipment", h.ListEquipment)
	coldRead.GET("/equipment/:id", h.GetEquipment)
	coldRead.GET("/equipment/:id/temp-logs", h.ListTempLogs)
	coldRead.GET("/temp-alerts", h.ListTempAlerts)

	// Requests – ordered by clinicians, worked by the lab
	clinical := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleNurse))
	clinical.POST("/requests", h.CreateRequest)
	lab.POST("/requests/:id/sample", h.RegisterSample)
	lab.POST("/requests/:id/patient-grouping", h.RecordPatientGrouping)
	lab.POST("/cross-matches", h.RecordCrossMatch)
	lab.POST("/cross-matches/electronic", h.ElectronicCrossMatch)
	reqRead := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleNurse, auth.RoleLabTechnician, auth.RoleLabSupervisor, auth.RoleBloodBankIssue))
	reqRead.GET("/requests", h.ListRequests)
	reqRead.GET("/requests/:id", h.GetRequest)
	reqRead.GET("/requests/:id/compatible-units", h.SuggestCompatibleUnits)
	reqRead.GET("/cross-matches/:id/certificate", h.Certificate)

	// Issuance – the bank's release counter
	issuer := api.Group("", auth.RequireRole(auth.RoleBloodBankIssue))
	issuer.POST("/issues", h.IssueBlood)
	issuer.POST("/issues/:id/return", h.ReturnUnit)
	issueRead := api.Group("", auth.RequireRole(auth.RoleBloodBankIssue, auth.RoleClinician, auth.RoleNurse))
	issueRead.GET("/issues", h.ListIssues)
	issueRead.GET("/issues/:id", h.GetIssue)

	// Bedside – nurses and clinicians
	bedside := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RoleClinician))
	bedside.POST("/issues/:id/bedside-verify", h.BedsideVerify)
	bedside.POST("/transfusions/:id/start", h.StartTransfusion)
	bedside.POST("/transfusions/:id/vitals", h.RecordVitals)
	bedside.POST("/transfusions/:id/end", h.EndTransfusion)
	bedside.POST("/transfusions/:id/reaction", h.ReportReaction)

	// MTP – activated clinically, packs released by the bank
	clinical.POST("/mtp/activate", h.ActivateMTP)
	clinical.POST("/mtp/:id/deactivate", h.DeactivateMTP)
	issuer.POST("/mtp/:id/release-pack", h.ReleaseMTPPack)
	issueRead.GET("/mtp", h.ListMTPSessions)
}

// httpError maps the domain error taxonomy onto HTTP statuses. Safety-gate
// refusals are 422 so clients can distinguish them from plain bad input.
func httpError(err error) error {
	switch {
	case IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case IsSafetyGate(err):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case IsStateConflict(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Testing workflow --

func (h *Handler) RegisterUnit(c echo.Context) error {
	var in RegisterUnitInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	unit, err := h.testing.RegisterUnit(ctx, auth.PrincipalFromContext(ctx), db.BranchFromContext(ctx), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, unit)
}

func (h *Handler) ListUnits(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	status := UnitStatus(c.QueryParam("status"))
	units, total, err := h.testing.ListUnits(ctx, db.BranchFromContext(ctx), status, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(units, total, pg.Limit, pg.Offset))
}

func (h *Handler) UnitByBarcode(c echo.Context) error {
	ctx := c.Request().Context()
	unit, err := h.testing.UnitByBarcode(ctx, db.BranchFromContext(ctx), c.Param("barcode"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, unit)
}

func (h *Handler) TestingWorklist(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	units, total, err := h.testing.Worklist(ctx, db.BranchFromContext(ctx), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(units, total, pg.Limit, pg.Offset))
}

func (h *Handler) RecordGrouping(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in RecordGroupingInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.UnitID = id
	ctx := c.Request().Context()
	result, err := h.testing.RecordGrouping(ctx, auth.PrincipalFromContext(ctx), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, result)
}

func (h *Handler) RecordTTI(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in RecordTTIInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.UnitID = id
	ctx := c.Request().Context()
	rec, err := h.testing.RecordTTI(ctx, auth.PrincipalFromContext(ctx), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) VerifyResults(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	unit, err := h.testing.VerifyResults(ctx, auth.PrincipalFromContext(ctx), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, unit)
}

func (h *Handler) ConfirmLabel(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in ConfirmLabelInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.UnitID = id
	ctx := c.Request().Context()
	unit, err := h.testing.ConfirmLabel(ctx, auth.PrincipalFromContext(ctx), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, unit)
}

func (h *Handler) DiscardUnit(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	unit, err := h.testing.DiscardUnit(ctx, auth.PrincipalFromContext(ctx), id, body.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, unit)
}

// -- Cold chain --

func (h *Handler) CreateEquipment(c echo.Context) error {
	var in EquipmentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	equip, err := h.coldChain.CreateEquipment(ctx, auth.PrincipalFromContext(ctx), db.BranchFromContext(ctx), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, equip)
}

func (h *Handler) UpdateEquipment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		EquipmentInput
		IsActive bool `json:"is_active"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	equip, err := h.coldChain.UpdateEquipment(ctx, auth.PrincipalFromContext(ctx), id, body.EquipmentInput, body.IsActive)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, equip)
}

func (h *Handler) SetDefaultStorage(c echo.Context) error {
	var body struct {
		EquipmentID uuid.UUID `json:"equipment_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	facility, err := h.coldChain.SetDefaultStorage(ctx, auth.PrincipalFromContext(ctx), db.BranchFromContext(ctx), body.EquipmentID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, facility)
}

func (h *Handler) GetEquipment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	equip, err := h.coldChain.GetEquipment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, equip)
}

func (h *Handler) ListEquipment(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	items, total, err := h.coldChain.ListEquipment(ctx, db.BranchFromContext(ctx), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) RecordTempLog(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		TemperatureC float64   `json:"temperature_c"`
		RecordedAt   time.Time `json:"recorded_at"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	log, err := h.coldChain.RecordTempLog(ctx, auth.PrincipalFromContext(ctx), id, body.TemperatureC, body.RecordedAt)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, log)
}

func (h *Handler) ListTempLogs(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var from, to time.Time
	if v := c.QueryParam("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from timestamp")
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to timestamp")
		}
	}
	pg := pagination.FromContext(c)
	logs, total, err := h.coldChain.TempLogs(c.Request().Context(), id, from, to, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(logs, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListTempAlerts(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	alerts, total, err := h.coldChain.TempAlerts(ctx, db.BranchFromContext(ctx), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(alerts, total, pg.Limit, pg.Offset))
}

func (h *Handler) AcknowledgeBreach(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.coldChain.AcknowledgeBreach(ctx, auth.PrincipalFromContext(ctx), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Request workflow --

func (h *Handler) CreateRequest(c echo.Context) error {
	var in CreateRequestInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	req, err := h.requests.CreateRequest(ctx, auth.PrincipalFromContext(ctx), db.BranchFromContext(ctx), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *Handler) ListRequests(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	if patientID := c.QueryParam("patient_id"); patientID != "" {
		pid, err := uuid.Parse(patientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, total, err := h.requests.ListRequestsByPatient(ctx, pid, pg.Limit, pg.Offset)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}
	status := RequestStatus(c.QueryParam("status"))
	urgency := Urgency(c.QueryParam("urgency"))
	items, total, err := h.requests.ListRequests(ctx, db.BranchFromContext(ctx), status, urgency, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetRequest(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	detail, err := h.requests.GetRequest(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) RegisterSample(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in RegisterSampleInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.RequestID = id
	ctx := c.Request().Context()
	sample, err := h.requests.RegisterSample(ctx, auth.PrincipalFromContext(ctx), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sample)
}

func (h *Handler) RecordPatientGrouping(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in PatientGroupingInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.RequestID = id
	ctx := c.Request().Context()
	sample, err := h.requests.RecordPatientGrouping(ctx, auth.PrincipalFromContext(ctx), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sample)
}

func (h *Handler) SuggestCompatibleUnits(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	units, err := h.requests.SuggestCompatibleUnits(c.Request().Context(), id, pg.Limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, units)
}

func (h *Handler) RecordCrossMatch(c echo.Context) error {
	var in RecordCrossMatchInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	xm, err := h.requests.RecordCrossMatch(ctx, auth.PrincipalFromContext(ctx), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, xm)
}

func (h *Handler) ElectronicCrossMatch(c echo.Context) error {
	var in ElectronicCrossMatchInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	xm, err := h.requests.ElectronicCrossMatch(ctx, auth.PrincipalFromContext(ctx), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, xm)
}

func (h *Handler) Certificate(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	cert, err := h.requests.Certificate(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cert)
}

// -- Issuance and transfusion --

func (h *Handler) IssueBlood(c echo.Context) error {
	var in IssueBloodInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	issue, err := h.issues.IssueBlood(ctx, auth.PrincipalFromContext(ctx), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, issue)
}

func (h *Handler) GetIssue(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	issue, err := h.issues.GetIssue(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, issue)
}

func (h *Handler) ListIssues(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	items, total, err := h.issues.ListIssues(ctx, db.BranchFromContext(ctx), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ReturnUnit(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	issue, err := h.issues.ReturnUnit(ctx, auth.PrincipalFromContext(ctx), id, body.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, issue)
}

func (h *Handler) BedsideVerify(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in BedsideVerifyInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.IssueID = id
	ctx := c.Request().Context()
	rec, err := h.issues.BedsideVerify(ctx, auth.PrincipalFromContext(ctx), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) StartTransfusion(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		PreVitals VitalsEntry `json:"pre_vitals"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	rec, err := h.issues.StartTransfusion(ctx, auth.PrincipalFromContext(ctx), id, body.PreVitals)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) RecordVitals(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		Interval VitalsInterval `json:"interval"`
		Entry    VitalsEntry    `json:"entry"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	rec, err := h.issues.RecordVitals(ctx, auth.PrincipalFromContext(ctx), id, body.Interval, body.Entry)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) EndTransfusion(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		PostVitals    VitalsEntry `json:"post_vitals"`
		TotalVolumeML float64     `json:"total_volume_ml"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	rec, err := h.issues.EndTransfusion(ctx, auth.PrincipalFromContext(ctx), id, body.PostVitals, body.TotalVolumeML)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ReportReaction(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in ReportReactionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.TransfusionID = id
	ctx := c.Request().Context()
	reaction, err := h.issues.ReportReaction(ctx, auth.PrincipalFromContext(ctx), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, reaction)
}

// -- Mass transfusion protocol --

func (h *Handler) ActivateMTP(c echo.Context) error {
	var in ActivateMTPInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	session, err := h.issues.ActivateMTP(ctx, auth.PrincipalFromContext(ctx), db.BranchFromContext(ctx), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, session)
}

func (h *Handler) DeactivateMTP(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	session, err := h.issues.DeactivateMTP(ctx, auth.PrincipalFromContext(ctx), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, session)
}

func (h *Handler) ReleaseMTPPack(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		Pack []MTPPackItem `json:"pack"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	issues, err := h.issues.ReleaseMTPPack(ctx, auth.PrincipalFromContext(ctx), id, body.Pack)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, issues)
}

func (h *Handler) ListMTPSessions(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	status := MTPStatus(c.QueryParam("status"))
	items, total, err := h.issues.MTPSessions(ctx, db.BranchFromContext(ctx), status, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
