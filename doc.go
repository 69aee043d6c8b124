/*
Package sloggate is a custom slog handler for Go that throttles bursts of
identical log records and keeps error noise away from an external notification
surface. It wraps any slog.Handler, decides per record whether it may pass,
and forwards the first errors of every source to a pluggable Notifier.

Please see https://github.com/apperia-de/sloggate for more details.
*/
package sloggate
