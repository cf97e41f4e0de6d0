package sync

import "time"

// Calibrator adjusts local timestamps by the server offset computed at
// start (§4.4), so "is local newer?" comparisons are meaningful even when
// the workstation clock has drifted from the server's.
type Calibrator struct {
	clock  Clock
	offset time.Duration
}

// NewCalibrator computes offset = serverTime - localTime at the moment of
// the Status call and freezes it for the lifetime of the calibrator. A
// fresh Calibrator should be built after every reconnect, since offset
// drifts if the process runs for a very long time.
func NewCalibrator(clock Clock, serverTime time.Time) *Calibrator {
	if clock == nil {
		clock = RealClock
	}

	return &Calibrator{
		clock:  clock,
		offset: serverTime.Sub(clock.Now()),
	}
}

// Adjust returns localTime shifted by the calibrated offset, so it is
// directly comparable to the server's modifiedAt timestamps.
func (c *Calibrator) Adjust(localTime time.Time) time.Time {
	return localTime.Add(c.offset)
}

// Now returns the calibrator's idea of "now" — the adjusted local clock.
func (c *Calibrator) Now() time.Time {
	return c.Adjust(c.clock.Now())
}

// IsFutureDated reports whether an adjusted local mtime is far enough ahead
// of now to be treated as deliberate (§4.4): files the user back-dated into
// the future are always preserved, never overwritten by a download.
func (c *Calibrator) IsFutureDated(adjustedMtime time.Time) bool {
	return adjustedMtime.Sub(c.Now()) > FutureFileThreshold
}

// LocalNewer reports whether an adjusted local mtime is newer than the
// server's modifiedAt by more than the symmetric skew buffer (§4.4). Times
// within the buffer are treated as "same time, prefer server" — so this
// returns false for near-equal timestamps.
func (c *Calibrator) LocalNewer(adjustedMtime, serverModifiedAt time.Time) bool {
	return adjustedMtime.Sub(serverModifiedAt) > ClockSkewBuffer
}
