package otelhelper

import (
	"errors"

	"github.com/dukex/stagehand/pkg/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(attrs...))
}

// RecordResponse tags the span with the outcome of a state call. Async responses add the
// correlation ids they wait on; ERROR marks the span failed.
func RecordResponse(span trace.Span, response *models.ExecutionResponse) {
	span.SetAttributes(attribute.String(StatusKey, string(response.Status)))

	if response.Async {
		span.SetAttributes(attribute.StringSlice(CorrelationIDKey, response.CorrelationIDs))

		return
	}

	switch response.Status {
	case models.StatusError:
		SetError(span, errors.New(response.ErrorMessage))
	case models.StatusSuccess:
		span.SetStatus(codes.Ok, "")
	default:
		if response.ErrorMessage != "" {
			span.AddEvent("state_failed", trace.WithAttributes(attribute.String("message", response.ErrorMessage)))
		}
	}
}
