// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by the gateway's spans.
const (
	OperationKey = "cogate.operation"
	PersonIDKey  = "cogate.person_id"
	ChannelKey   = "cogate.channel_id"
	LedgerIDKey  = "cogate.request_id"
	WorkflowKey  = "cogate.workflow"

	ErrorKindKey = "error.kind"
)

// DispatchAttributes describes one forwarded core operation.
func DispatchAttributes(operation, personID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(OperationKey, operation)}
	if personID != "" {
		attrs = append(attrs, attribute.String(PersonIDKey, personID))
	}
	return attrs
}

// StreamAttributes describes a bridged event stream.
func StreamAttributes(channelID, operation string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ChannelKey, channelID),
		attribute.String(OperationKey, operation),
	}
}

// RequestAttributes describes a pending environment request.
func RequestAttributes(id uint64, workflow string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(LedgerIDKey, int64(id)),
		attribute.String(WorkflowKey, workflow),
	}
}

// RecordError marks span failed with the given error kind. A nil err is ignored.
func RecordError(span trace.Span, err error, kind string) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String(ErrorKindKey, kind))
	span.SetStatus(codes.Error, err.Error())
}
