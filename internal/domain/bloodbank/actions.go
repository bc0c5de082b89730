package bloodbank

// Audit trail action names. Append-only: renaming breaks historical queries.
const (
	ActionUnitRegistered      = "BB_UNIT_REGISTERED"
	ActionGroupingRecorded    = "BB_GROUPING_RECORDED"
	ActionTTIRecorded         = "BB_TTI_RECORDED"
	ActionTTILookbackAlert    = "BB_TTI_LOOKBACK_TRIGGERED"
	ActionResultsVerified     = "BB_RESULTS_VERIFIED"
	ActionLabelConfirmed      = "BB_LABEL_CONFIRMED"
	ActionStorageAutoPlaced   = "BB_STORAGE_AUTO_PLACED"
	ActionRequestCreate       = "BB_REQUEST_CREATE"
	ActionSampleRegistered    = "BB_SAMPLE_REGISTERED"
	ActionPatientGrouping     = "BB_PATIENT_GROUPING"
	ActionCrossmatchRecorded  = "BB_CROSSMATCH_RECORDED"
	ActionElectronicXM        = "BB_ELECTRONIC_XM"
	ActionBloodIssued         = "BB_BLOOD_ISSUED"
	ActionBedsideVerified     = "BB_BEDSIDE_VERIFIED"
	ActionTransfusionStarted  = "BB_TRANSFUSION_STARTED"
	ActionVitalsRecorded      = "BB_VITALS_RECORDED"
	ActionTransfusionEnded    = "BB_TRANSFUSION_ENDED"
	ActionReactionReported    = "BB_REACTION_REPORTED"
	ActionUnitReturned        = "BB_UNIT_RETURNED"
	ActionUnitDiscarded       = "BB_UNIT_DISCARDED"
	ActionMTPActivated        = "BB_MTP_ACTIVATED"
	ActionMTPDeactivated      = "BB_MTP_DEACTIVATED"
	ActionMTPPackReleased     = "BB_MTP_PACK_RELEASED"
	ActionTempBreach          = "BB_TEMP_BREACH"
	ActionUnitsTempQuarantine = "BB_UNITS_TEMP_QUARANTINED"
	ActionTempBreachAck       = "BB_TEMP_BREACH_ACK"
	ActionEquipmentCreate     = "BB_EQUIPMENT_CREATE"
	ActionEquipmentUpdate     = "BB_EQUIPMENT_UPDATE"
	ActionFacilityUpdated     = "BB_FACILITY_UPDATED"
)

// Entity type names used in audit events and notifications.
const (
	EntityBloodUnit   = "blood_unit"
	EntityRequest     = "blood_request"
	EntityCrossMatch  = "cross_match_test"
	EntityIssue       = "blood_issue"
	EntityTransfusion = "transfusion_record"
	EntityEquipment   = "blood_bank_equipment"
	EntityTempLog     = "equipment_temp_log"
	EntityMTPSession  = "mtp_session"
)
