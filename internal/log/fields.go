// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID  = "request_id"
	FieldChannelID  = "channel_id"
	FieldPersonID   = "person_id"
	FieldPersonName = "person_name"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldOperation = "operation"

	// Ledger fields
	FieldLedgerID      = "ledger_id"
	FieldWorkflow      = "workflow"
	FieldEnvironmentID = "environment_id"

	// Path / URL fields
	FieldPath = "path"
)
