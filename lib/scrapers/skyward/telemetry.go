package skyward

import (
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("skyassist.lib.scrapers.skyward")
