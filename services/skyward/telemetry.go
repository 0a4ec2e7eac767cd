package skyward

import (
	"go.opentelemetry.io/otel"
)

const library_name = "skyassist.services.skyward"

var tracer = otel.Tracer(library_name)
var meter = otel.Meter(library_name)

var authAttempts, _ = meter.Int64Counter("auth_attempts")
var sessionExpiries, _ = meter.Int64Counter("session_expiries")
