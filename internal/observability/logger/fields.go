package logger

import (
	"time"

	"go.uber.org/zap"
)

// Standard field constructors so key names stay consistent across the module.

// RequestID tags the entry with the HTTP request id.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Method is the HTTP method.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path is the HTTP request path.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status is the HTTP status code.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration is the elapsed time of an operation.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// TenantID is the shop/tenant namespace an exchange targets.
func TenantID(v string) zap.Field {
	return zap.String("tenant_id", v)
}

// PrincipalID is the provider-assigned identity id.
func PrincipalID(v string) zap.Field {
	return zap.String("principal_id", v)
}

// AttemptID identifies one exchange attempt across its log lines.
func AttemptID(v string) zap.Field {
	return zap.String("attempt_id", v)
}

// SessionStatus is the reconciled session status.
func SessionStatus(v string) zap.Field {
	return zap.String("session_status", v)
}

// Component tags the emitting component/module.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op tags the current operation.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Layer tags the layer (handler, service, provider).
func Layer(v string) zap.Field {
	return zap.String("layer", v)
}

// Err wraps an error as a field.
func Err(err error) zap.Field {
	return zap.Error(err)
}
