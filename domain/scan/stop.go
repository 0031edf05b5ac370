package scan

// StopHandle is the cancellation token handed to the detection handler.
// Stop sets the stop flag and releases the camera before returning; no
// further frame is analyzed until the host resumes the scanner. Stop is
// idempotent and may be called from any goroutine.
type StopHandle struct {
	s *Scanner
}

func (h *StopHandle) Stop() {
	if h == nil || h.s == nil {
		return
	}
	h.s.stop()
}
