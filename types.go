package gateway

type MmsType int

// MmsValue is the transport-neutral form of a value held by an information model
// attribute. Value carries a Go value matching Type:
//
//	Boolean          bool
//	Integer          int64
//	Unsigned         uint64
//	Float            float64
//	VisibleString    string
//	String           string
//	BitString        uint32
//	UTCTime          Timestamp
//	Array, Structure []*MmsValue
type MmsValue struct {
	Type  MmsType
	Value interface{}
}

// data types
const (
	Array MmsType = iota
	Structure
	Boolean
	BitString
	Integer
	Unsigned
	Float
	OctetString
	VisibleString
	GeneralizedTime
	BinaryTime
	Bcd
	ObjId
	String
	UTCTime
	DataAccessError
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
)

type MmsDataAccessError int

const (
	DATA_ACCESS_ERROR_SUCCESS_NO_UPDATE             MmsDataAccessError = -3
	DATA_ACCESS_ERROR_NO_RESPONSE                   MmsDataAccessError = -2
	DATA_ACCESS_ERROR_SUCCESS                       MmsDataAccessError = -1
	DATA_ACCESS_ERROR_OBJECT_INVALIDATED            MmsDataAccessError = 0
	DATA_ACCESS_ERROR_HARDWARE_FAULT                MmsDataAccessError = 1
	DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE       MmsDataAccessError = 2
	DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED          MmsDataAccessError = 3
	DATA_ACCESS_ERROR_OBJECT_UNDEFINED              MmsDataAccessError = 4
	DATA_ACCESS_ERROR_INVALID_ADDRESS               MmsDataAccessError = 5
	DATA_ACCESS_ERROR_TYPE_UNSUPPORTED              MmsDataAccessError = 6
	DATA_ACCESS_ERROR_TYPE_INCONSISTENT             MmsDataAccessError = 7
	DATA_ACCESS_ERROR_OBJECT_ATTRIBUTE_INCONSISTENT MmsDataAccessError = 8
	DATA_ACCESS_ERROR_OBJECT_ACCESS_UNSUPPORTED     MmsDataAccessError = 9
	DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT          MmsDataAccessError = 10
	DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID          MmsDataAccessError = 11
	DATA_ACCESS_ERROR_UNKNOWN                       MmsDataAccessError = 12
)

// AccessPolicy maps to libiec61850 AccessPolicy
// ACCESS_POLICY_ALLOW allows writes, ACCESS_POLICY_DENY denies writes for given FC
// Values must match the C enum ordering.
type AccessPolicy int

const (
	ACCESS_POLICY_ALLOW AccessPolicy = iota
	ACCESS_POLICY_DENY
)

type ControlHandlerResult int

const (
	CONTROL_RESULT_FAILED ControlHandlerResult = iota
	CONTROL_RESULT_OK
	CONTROL_RESULT_WAITING
)

// CheckHandlerResult is returned by the perform-check callback. Values must match
// the C enum of libiec61850 (CONTROL_ACCEPTED is -1).
type CheckHandlerResult int

const (
	CONTROL_ACCEPTED                CheckHandlerResult = -1
	CONTROL_WAITING_FOR_SELECT      CheckHandlerResult = 0
	CONTROL_HARDWARE_FAULT          CheckHandlerResult = 1
	CONTROL_TEMPORARILY_UNAVAILABLE CheckHandlerResult = 2
	CONTROL_OBJECT_ACCESS_DENIED    CheckHandlerResult = 3
	CONTROL_OBJECT_UNDEFINED        CheckHandlerResult = 4
	CONTROL_VALUE_INVALID           CheckHandlerResult = 11
)

// Accepted reports whether the check result allows the control to proceed.
func (r CheckHandlerResult) Accepted() bool {
	return r == CONTROL_ACCEPTED
}

type ControlModel int

const (
	// CONTROL_MODEL_STATUS_ONLY No support for control functions. Control object only support status information.
	CONTROL_MODEL_STATUS_ONLY ControlModel = iota
	// CONTROL_MODEL_DIRECT_NORMAL Direct control with normal security: Supports Operate, TimeActivatedOperate (optional), and Cancel (optional).
	CONTROL_MODEL_DIRECT_NORMAL
	// CONTROL_MODEL_SBO_NORMAL Select before operate (SBO) with normal security: Supports Select, Operate, TimeActivatedOperate (optional), and Cancel (optional).
	CONTROL_MODEL_SBO_NORMAL
	// CONTROL_MODEL_DIRECT_ENHANCED Direct control with enhanced security (enhanced security includes the CommandTermination service)
	CONTROL_MODEL_DIRECT_ENHANCED
	// CONTROL_MODEL_SBO_ENHANCED Select before operate (SBO) with enhanced security (enhanced security includes the CommandTermination service)
	CONTROL_MODEL_SBO_ENHANCED
)

// RequiresSelect reports whether the control model is a select-before-operate model.
func (m ControlModel) RequiresSelect() bool {
	return m == CONTROL_MODEL_SBO_NORMAL || m == CONTROL_MODEL_SBO_ENHANCED
}

// FC is a functional constraint. Values match libiec61850's FunctionalConstraint.
type FC int

const (
	ST FC = iota
	MX
	SP
	SV
	CF
	DC
	SG
	SE
	SR
	OR
	BL
	EX
	CO
	US
	MS
	RP
	BR
	LG
	GO
)

// NONE is used where no functional constraint applies.
const NONE FC = 99
