package runner

// Step parameter names, as they appear in scenario files.
const (
	ParamBroker    = "broker"
	ParamAddress   = "address"
	ParamPort      = "port"
	ParamClientID  = "client_id"
	ParamName      = "name"
	ParamNewName   = "new_name"
	ParamEqpt      = "eqpt"
	ParamTopic     = "topic"
	ParamEnabled   = "enabled"
	ParamKey       = "key"
	ParamValue     = "value"
	ParamEvent     = "event"
	ParamCmd       = "cmd"
	ParamParent    = "parent"
	ParamKeys      = "keys"
	ParamSubtype   = "subtype"
	ParamRequest   = "request"
	ParamRetain    = "retain"
	ParamTo        = "to"
	ParamOptions   = "options"
	ParamPayload   = "payload"
	ParamObject    = "object"
	ParamOn        = "on"
	ParamChannel   = "channel"
	ParamVisual    = "visual"
	ParamAttempts  = "attempts"
	ParamInterval  = "interval"
	ParamAt        = "at"
	ParamState     = "state"
	ParamCapture   = "capture"
	ParamFilter    = "filter"
	ParamMessages  = "messages"
	ParamPayloads  = "payloads"
	ParamQuiet     = "quiet"
	ParamLimit     = "limit"
	ParamDuration  = "duration"
	ParamMethod    = "method"
	ParamParams    = "params"
	ParamSideTopic = "side_topic"
	ParamFrom      = "from"
	ParamRetained  = "retained"
)

// Step output keys.
const (
	KeyBroker      = "broker"
	KeyClientID    = "client_id"
	KeyStatusTopic = "status_topic"
	KeyID          = "id"
	KeyLogicalID   = "logical_id"
	KeyState       = "state"
	KeyPrevState   = "previous_state"
	KeyStatus      = "status_messages"
	KeyCount       = "count"
	KeyTopic       = "topic"
	KeyTopics      = "topics"
	KeyPayload     = "payload"
	KeySide        = "side_payload"
	KeyValue       = "value"
	KeyAdded       = "added"
	KeyPublishedAt = "published_at"
	KeyChannel     = "channel"
	KeyAttempts    = "attempts"
)

// Keys of ExecutionState.Custom.
const (
	customCaptures    = "captures"
	customLastPublish = "last_publish"
	customStatusPre   = "expected_status:"
)

// Default capture name when a step gives none.
const defaultCapture = "default"
