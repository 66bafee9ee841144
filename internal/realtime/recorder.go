package realtime

import "time"

type Recorder interface {
	SessionOpened(kind string)
	SessionClosed(kind string, graceful bool, duration time.Duration)
	SessionRejected(kind, reason string)
	ProtocolError(kind, reason string)
}

type nopRecorder struct{}

func (nopRecorder) SessionOpened(string)                      {}
func (nopRecorder) SessionClosed(string, bool, time.Duration) {}
func (nopRecorder) SessionRejected(string, string)            {}
func (nopRecorder) ProtocolError(string, string)              {}
