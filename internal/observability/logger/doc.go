// Package logger provides the process-wide zap logger for authbridge.
//
// A single instance is initialized from main; everything else pulls it
// through From(ctx) so request-scoped fields attached by middleware reach
// service code without threading a logger through every constructor.
package logger
