package session

import (
	"sync"
	"time"

	"github.com/imbgar/rtsp-viewer/config"
	"github.com/imbgar/rtsp-viewer/logging"
)

// healthMonitor is the sole authority on stream health. It polls the
// capture loop's heartbeat and drives the reconnect policy; nothing else
// moves a session between Streaming and Reconnecting.
type healthMonitor struct {
	session *Session
	logger  logging.Logger

	interval       time.Duration
	frameTimeout   time.Duration
	reconnectDelay time.Duration
	connectTimeout time.Duration
	maxAttempts    int

	stopChan chan struct{}
	stopOnce sync.Once
	doneChan chan struct{}
}

func newHealthMonitor(session *Session, settings config.StreamSettings, logger logging.Logger) *healthMonitor {
	return &healthMonitor{
		session:        session,
		logger:         logger,
		interval:       settings.HealthCheckInterval(),
		frameTimeout:   settings.FrameTimeout(),
		reconnectDelay: settings.ReconnectDelay(),
		connectTimeout: settings.ConnectTimeout(),
		maxAttempts:    settings.MaxReconnectAttempts,
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
	}
}

// Run starts the poll goroutine.
func (m *healthMonitor) Run() {
	go m.run()
}

func (m *healthMonitor) run() {
	defer close(m.doneChan)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
		}

		loop := m.session.currentLoop()
		if loop == nil {
			return
		}
		if m.healthy(loop) {
			continue
		}

		stall := NewStreamStallError(m.session.camera.Name, loop.LastFrame())
		m.logger.Warn("Stream unhealthy, reconnecting",
			"camera", m.session.camera.Name, "error", stall)
		m.session.setErr(stall)
		m.session.setState(StateReconnecting)

		if !m.reconnect() {
			return
		}
	}
}

// healthy reports whether the capture loop is alive and delivering
// frames within the liveness timeout.
func (m *healthMonitor) healthy(loop heartbeatSource) bool {
	if loop.Exited() {
		return false
	}
	last := loop.LastFrame()
	if last.IsZero() {
		return false
	}
	return time.Since(last) <= m.frameTimeout
}

// heartbeatSource is the slice of the capture loop the monitor reads.
type heartbeatSource interface {
	Exited() bool
	LastFrame() time.Time
}

// reconnect tears down the current loop and retries the connection up to
// the attempt bound. It returns true when streaming resumed and false
// when the monitor should exit (budget spent or stop requested). A stop
// request always wins the race with a pending backoff sleep.
func (m *healthMonitor) reconnect() bool {
	if old := m.session.takeLoop(); old != nil {
		old.Stop()
	}

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		select {
		case <-m.stopChan:
			return false
		case <-time.After(m.reconnectDelay):
		}

		m.logger.Info("Reconnect attempt",
			"camera", m.session.camera.Name, "attempt", attempt, "max", m.maxAttempts)

		loop := m.session.newLoop()
		if err := loop.Connect(); err != nil {
			m.logger.Warn("Reconnect attempt failed",
				"camera", m.session.camera.Name, "attempt", attempt, "error", err)
			continue
		}

		loop.Run()

		select {
		case <-loop.FirstFrame():
			m.session.setLoop(loop)
			m.session.clearErr()
			m.session.reconnects.Add(1)
			m.session.setState(StateStreaming)
			m.logger.Info("Stream reconnected",
				"camera", m.session.camera.Name, "attempt", attempt)
			return true
		case <-time.After(m.connectTimeout):
			m.logger.Warn("Reconnected but no frames arrived",
				"camera", m.session.camera.Name, "attempt", attempt)
			loop.Stop()
		case <-m.stopChan:
			loop.Stop()
			return false
		}
	}

	exhausted := NewReconnectExhaustedError(m.session.camera.Name, m.maxAttempts)
	m.logger.Error("Reconnect budget exhausted",
		"camera", m.session.camera.Name, "attempts", m.maxAttempts)
	m.session.setErr(exhausted)
	m.session.setState(StateError)
	return false
}

// Stop halts polling and any in-flight reconnect. Safe to call more
// than once.
func (m *healthMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	<-m.doneChan
}
