package client

import "github.com/prometheus/client_golang/prometheus"

// Metrics records connection activity. A nil *Metrics records nothing.
type Metrics struct {
	Dials          *prometheus.CounterVec
	Reopens        prometheus.Counter
	FramesReceived prometheus.Counter
	FramesDropped  prometheus.Counter
	FramesSent     prometheus.Counter
	Routed         *prometheus.CounterVec
	State          *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swell",
			Name:      "dials_total",
			Help:      "Transport dials by result.",
		}, []string{"result"}),
		Reopens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swell",
			Name:      "reopens_scheduled_total",
			Help:      "Reopen timers scheduled after a transport closed.",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swell",
			Name:      "frames_received_total",
			Help:      "Inbound frames read from the transport.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swell",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames that could not be decoded.",
		}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swell",
			Name:      "frames_sent_total",
			Help:      "Outbound frames written to the transport.",
		}),
		Routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swell",
			Name:      "messages_routed_total",
			Help:      "Inbound messages by routing outcome.",
		}, []string{"route"}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "swell",
			Name:      "connection_state",
			Help:      "1 for the state each connection is currently in.",
		}, []string{"connection", "state"}),
	}
	if reg != nil {
		reg.MustRegister(m.Dials, m.Reopens, m.FramesReceived, m.FramesDropped, m.FramesSent, m.Routed, m.State)
	}
	return m
}

func (m *Metrics) dial(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Dials.WithLabelValues("error").Inc()
		return
	}
	m.Dials.WithLabelValues("ok").Inc()
}

func (m *Metrics) reopenScheduled() {
	if m != nil {
		m.Reopens.Inc()
	}
}

func (m *Metrics) received() {
	if m != nil {
		m.FramesReceived.Inc()
	}
}

func (m *Metrics) dropped() {
	if m != nil {
		m.FramesDropped.Inc()
	}
}

func (m *Metrics) sent() {
	if m != nil {
		m.FramesSent.Inc()
	}
}

func (m *Metrics) routed(d Delivery) {
	if m == nil {
		return
	}
	switch {
	case d.Prefixed > 0:
		m.Routed.WithLabelValues("prefixed").Inc()
	case d.Global > 0:
		m.Routed.WithLabelValues("global").Inc()
	default:
		m.Routed.WithLabelValues("unclaimed").Inc()
	}
}

func (m *Metrics) state(connID string, s State) {
	if m == nil {
		return
	}
	for _, st := range []State{StateClosed, StateConnecting, StateOpen} {
		v := 0.0
		if st == s {
			v = 1
		}
		m.State.WithLabelValues(connID, st.String()).Set(v)
	}
}
