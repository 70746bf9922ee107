// Package logger builds the structured slog logger shared by every
// proxy component: JSON output in production, text elsewhere, with the
// deployment environment attached to each record.
package logger
