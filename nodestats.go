package lavago

// NodeStats is the public, normalized form of a node's periodic load
// snapshot (spec §3 "Stats snapshot").
type NodeStats struct {
	PlayingPlayers int
	Players        int
	CPUSystemLoad  float64
	MemoryUsed     int64
	MemoryReservable int64
	FramesDeficit  int
	FramesNulled   int
}

func (s NodeStats) memoryUsedFraction() float64 {
	if s.MemoryReservable <= 0 {
		return 0
	}
	return float64(s.MemoryUsed) / float64(s.MemoryReservable)
}

func statsFromPayload(p statsPayload) NodeStats {
	s := NodeStats{
		PlayingPlayers: p.PlayingPlayers,
		Players:        p.Players,
		CPUSystemLoad:  p.CPU.SystemLoad,
		MemoryUsed:     p.Memory.Used,
		MemoryReservable: p.Memory.Reservable,
	}
	if p.FrameStats != nil {
		s.FramesDeficit = p.FrameStats.Deficit
		s.FramesNulled = p.FrameStats.Nulled
	}
	return s
}
