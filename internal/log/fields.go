package log

// Canonical field names for structured logging.
const (
	FieldService   = "service"
	FieldComponent = "component"
	FieldRequestID = "request_id"
	FieldBotID     = "bot_id"
	FieldSessionID = "session_id"
	FieldApp       = "app"
	FieldIncident  = "incident"
	FieldIndex     = "index"
	FieldOperation = "operation_id"
	FieldModel     = "model"
	FieldStatus    = "status"
	FieldDuration  = "duration"
	FieldTraceID   = "trace_id"
)
