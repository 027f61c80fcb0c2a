// Package failure catches failures nothing else handled and reports them.
//
// Install returns a process-wide Handle. The handle wraps an application's
// HTTP transport (RoundTripper, WrapClient), runs background tasks whose
// errors and panics would otherwise be lost (Go), and reports panics that
// are about to crash a goroutine (Recover).
//
// Every failure is normalized into an *apperr.Error and queued on a
// Reporter, whose worker sends it to a Sink; Report itself never waits on
// the sink. Reports that cannot be delivered are kept in a bounded
// fallback buffer, oldest evicted first, until Flush succeeds.
package failure
