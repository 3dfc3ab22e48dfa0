package engine

// InternalStepOutput holds the complete output of the last step.
const InternalStepOutput = "__step_output"

// Output keys set by runner handlers and read by checkers.
const (
	KeyValue        = "value"
	KeyError        = "error"
	KeyErrorMessage = "error_message"
	KeyPayload      = "payload"
)

// Checker registration names, as they appear in scenario files.
const (
	CheckerNameDefault              = "default"
	CheckerNameValueIsNull          = "value_is_null"
	CheckerNameValueIn              = "value_in"
	CheckerNameValueNot             = "value_not"
	CheckerNameValueGTE             = "value_gte"
	CheckerNameValueLTE             = "value_lte"
	CheckerNameContains             = "contains"
	CheckerNameNotContains          = "not_contains"
	CheckerNameSaveAs               = "save_as"
	CheckerNameValueEquals          = "value_equals"
	CheckerNameErrorMessageContains = "error_message_contains"
	CheckerNameNoError              = "no_error"
	CheckerNameDurationUnder        = "duration_under"
	CheckerNamePayloadJSON          = "payload_json"
)
