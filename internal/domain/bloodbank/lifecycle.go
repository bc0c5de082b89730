package bloodbank

// UnitStatus is the lifecycle state of a blood unit. Units are mutated only
// through TransitionUnitStatus-style compare-and-swap writes, so a status can
// never move along an edge this table does not define.
type UnitStatus string

const (
	UnitTesting      UnitStatus = "TESTING"
	UnitQuarantined  UnitStatus = "QUARANTINED"
	UnitAvailable    UnitStatus = "AVAILABLE"
	UnitReserved     UnitStatus = "RESERVED"
	UnitCrossMatched UnitStatus = "CROSS_MATCHED"
	UnitIssued       UnitStatus = "ISSUED"
	UnitTransfused   UnitStatus = "TRANSFUSED"
	UnitReturned     UnitStatus = "RETURNED"
	UnitDiscarded    UnitStatus = "DISCARDED"
)

// unitEdges is the forward transition table. QUARANTINED is a safety override
// reachable from every non-terminal pre-issue state; there is no edge out of
// QUARANTINED except DISCARDED (re-testing re-admission is outside this core).
var unitEdges = map[UnitStatus][]UnitStatus{
	UnitTesting:      {UnitAvailable, UnitQuarantined, UnitDiscarded},
	UnitAvailable:    {UnitReserved, UnitCrossMatched, UnitQuarantined, UnitDiscarded, UnitIssued},
	UnitReserved:     {UnitCrossMatched, UnitAvailable, UnitQuarantined, UnitDiscarded},
	UnitCrossMatched: {UnitIssued, UnitQuarantined, UnitDiscarded},
	UnitIssued:       {UnitTransfused, UnitReturned},
	UnitReturned:     {UnitDiscarded},
	UnitQuarantined:  {UnitDiscarded},
	UnitTransfused:   nil,
	UnitDiscarded:    nil,
}

// CanTransitionUnit reports whether a unit may move from one status to
// another in a single step.
func CanTransitionUnit(from, to UnitStatus) bool {
	for _, s := range unitEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TerminalUnit reports whether no further transition is defined from s.
func TerminalUnit(s UnitStatus) bool { return len(unitEdges[s]) == 0 }

// Valid reports whether s is a known unit status.
func (s UnitStatus) Valid() bool {
	_, ok := unitEdges[s]
	return ok
}

// RequestStatus is the lifecycle state of a blood request. Requests only move
// forward; services compare ranks before advancing so a late-arriving sample
// registration can never regress a request.
type RequestStatus string

const (
	RequestPending        RequestStatus = "PENDING"
	RequestSampleReceived RequestStatus = "SAMPLE_RECEIVED"
	RequestCrossMatching  RequestStatus = "CROSS_MATCHING"
	RequestReady          RequestStatus = "READY"
	RequestIssued         RequestStatus = "ISSUED"
	RequestCompleted      RequestStatus = "COMPLETED"
)

var requestRank = map[RequestStatus]int{
	RequestPending:        0,
	RequestSampleReceived: 1,
	RequestCrossMatching:  2,
	RequestReady:          3,
	RequestIssued:         4,
	RequestCompleted:      5,
}

// RequestRank returns the forward-ordering rank of a request status, or -1
// for an unknown status.
func RequestRank(s RequestStatus) int {
	if r, ok := requestRank[s]; ok {
		return r
	}
	return -1
}

// TTIResult is the outcome of a single transfusion-transmissible-infection
// screen.
type TTIResult string

const (
	TTIPending       TTIResult = "PENDING"
	TTINonReactive   TTIResult = "NON_REACTIVE"
	TTIReactive      TTIResult = "REACTIVE"
	TTIIndeterminate TTIResult = "INDETERMINATE"
)

// CrossMatchResult is the outcome of a cross-match test.
type CrossMatchResult string

const (
	XMPending      CrossMatchResult = "PENDING"
	XMCompatible   CrossMatchResult = "COMPATIBLE"
	XMIncompatible CrossMatchResult = "INCOMPATIBLE"
)

// CrossMatchMethod distinguishes serological from computed cross-matches.
type CrossMatchMethod string

const (
	MethodAHG        CrossMatchMethod = "AHG_INDIRECT_COOMBS"
	MethodSaline     CrossMatchMethod = "IMMEDIATE_SPIN"
	MethodElectronic CrossMatchMethod = "ELECTRONIC"
)

// Urgency of a blood request, each with an SLA target.
type Urgency string

const (
	UrgencyRoutine   Urgency = "ROUTINE"
	UrgencyUrgent    Urgency = "URGENT"
	UrgencyEmergency Urgency = "EMERGENCY"
	UrgencyMTP       Urgency = "MTP"
)

// SLATargetMinutes returns the fulfilment target for an urgency level. MTP
// requests carry the emergency target.
func (u Urgency) SLATargetMinutes() int {
	switch u {
	case UrgencyEmergency, UrgencyMTP:
		return 5
	case UrgencyUrgent:
		return 15
	default:
		return 45
	}
}

// Valid reports whether u is a known urgency level.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyRoutine, UrgencyUrgent, UrgencyEmergency, UrgencyMTP:
		return true
	}
	return false
}

// MTPStatus is the state of a mass-transfusion-protocol session.
// Deactivation is one-way.
type MTPStatus string

const (
	MTPActive      MTPStatus = "ACTIVE"
	MTPDeactivated MTPStatus = "DEACTIVATED"
)

// VitalsInterval selects the time bucket a vitals entry is appended to.
type VitalsInterval string

const (
	IntervalAuto  VitalsInterval = "AUTO"
	Interval15Min VitalsInterval = "15MIN"
	Interval30Min VitalsInterval = "30MIN"
	Interval1Hr   VitalsInterval = "1HR"
)

// MandatoryTTITests lists the infectious-disease screens every unit must
// clear before release or issue. Names are matched case-insensitively.
var MandatoryTTITests = []string{"HIV", "HBsAg", "HCV", "Syphilis", "Malaria"}

// Equipment types that can hold released units.
const (
	EquipRefrigerator     = "REFRIGERATOR"
	EquipDeepFreezer      = "DEEP_FREEZER"
	EquipPlateletAgitator = "PLATELET_AGITATOR"
)

// Blood component types aggregated by MTP dashboards.
const (
	ComponentPRBC        = "PRBC"
	ComponentFFP         = "FFP"
	ComponentPlateletRDP = "PLATELET_RDP"
	ComponentPlateletSDP = "PLATELET_SDP"
	ComponentWholeBlood  = "WHOLE_BLOOD"
	ComponentCryo        = "CRYOPRECIPITATE"
)
