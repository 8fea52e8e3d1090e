package mediasync

// Player is the local media player capability the synchronizer drives. It is
// consumed, never reimplemented: the UI layer supplies an adapter over the
// real player element.
//
// The synchronizer is the player's exclusive owner; no other component may
// call these methods directly.
type Player interface {
	Play()
	Pause()
	SeekTo(seconds float64)

	// Position returns the current playback position in seconds.
	Position() float64
	// Duration returns the loaded track's duration in seconds, or 0 when
	// unknown.
	Duration() float64
	Paused() bool

	// LoadTrack switches the loaded media. Switching resets the position to
	// 0 and leaves the player paused, mirroring a fresh session.
	LoadTrack(mediaID string)
	CurrentTrack() string

	// SetVolumeLimited engages or disengages the player's volume-limiting
	// capability. Stateless pass-through used while other participants
	// speak.
	SetVolumeLimited(limited bool)
}
