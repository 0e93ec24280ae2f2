package server

import "time"

// ServerMetrics aggregates counters across the server.
type ServerMetrics struct {
	// Connections
	ActiveConnections int64
	TotalAccepted     int64
	TotalClosed       int64
	Rejected          int64
	PeakConnections   int64
	ByTransport       map[string]int64

	// Dispatch
	EventsHandled  int64
	EventsNotFound int64
	EventsFailed   int64
	EventsDropped  int64

	// Timestamp
	CollectedAt time.Time
}

// Metrics collects and returns server metrics.
func (s *Server) Metrics() *ServerMetrics {
	stats := s.manager.Stats()
	ds := s.manager.dispatcher.Stats()

	byTransport := make(map[string]int64, len(stats.ByTransport))
	for k, v := range stats.ByTransport {
		byTransport[string(k)] = int64(v)
	}

	return &ServerMetrics{
		ActiveConnections: int64(stats.Active),
		TotalAccepted:     int64(stats.TotalAccepted),
		TotalClosed:       int64(stats.TotalClosed),
		Rejected:          int64(stats.Rejected),
		PeakConnections:   int64(stats.Peak),
		ByTransport:       byTransport,
		EventsHandled:     int64(ds.Handled),
		EventsNotFound:    int64(ds.NotFound),
		EventsFailed:      int64(ds.Failed),
		EventsDropped:     int64(ds.Dropped),
		CollectedAt:       time.Now(),
	}
}
