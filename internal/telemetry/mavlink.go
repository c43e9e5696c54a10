package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/banshee-data/yawtrack/internal/attitude"
	"github.com/banshee-data/yawtrack/internal/monitoring"
	"github.com/banshee-data/yawtrack/internal/timeutil"
)

// MAVLink message id of ATTITUDE, used in interval requests.
const attitudeMessageID = 30

// Default MAVLink identities of this companion computer.
const (
	DefaultSourceSystemID    = 255
	DefaultSourceComponentID = 191 // MAV_COMP_ID_ONBOARD_COMPUTER
)

// MAVLinkConfig selects the node endpoints. At least one of ListenAddress,
// RemoteAddress or SerialDevice must be set.
type MAVLinkConfig struct {
	// ListenAddress accepts telemetry as a UDP server (udpin).
	ListenAddress string
	// RemoteAddress sends to and reads from a UDP peer (udpout).
	RemoteAddress string
	// LocalAddress binds the outbound socket when RemoteAddress is set.
	LocalAddress string
	// SerialDevice and SerialBaud open a serial endpoint.
	SerialDevice string
	SerialBaud   int

	SourceSystemID    uint8
	SourceComponentID uint8
	AckTimeout        time.Duration
	ReportBuffer      int
	// Clock times rate-request acknowledgements. Defaults to the system clock.
	Clock timeutil.Clock
}

func (c MAVLinkConfig) endpoints() ([]gomavlib.EndpointConf, error) {
	var eps []gomavlib.EndpointConf
	if c.ListenAddress != "" {
		eps = append(eps, gomavlib.EndpointUDPServer{Address: c.ListenAddress})
	}
	if c.RemoteAddress != "" {
		if c.LocalAddress != "" {
			eps = append(eps, gomavlib.EndpointUDPBroadcast{
				BroadcastAddress: c.RemoteAddress,
				LocalAddress:     c.LocalAddress,
			})
		} else {
			eps = append(eps, gomavlib.EndpointUDPClient{Address: c.RemoteAddress})
		}
	}
	if c.SerialDevice != "" {
		baud := c.SerialBaud
		if baud <= 0 {
			baud = 57600
		}
		eps = append(eps, gomavlib.EndpointSerial{Device: c.SerialDevice, Baud: baud})
	}
	if len(eps) == 0 {
		return nil, fmt.Errorf("mavlink: no endpoint configured")
	}
	return eps, nil
}

// MAVLink is a Transport over a gomavlib node. Reports are ATTITUDE messages
// and commands are SET_ATTITUDE_TARGET.
type MAVLink struct {
	node       *gomavlib.Node
	write      func(message.Message) error
	reports    *reportQueue
	heartbeat  *heartbeatLatch
	acks       ackWaiter
	ackTimeout time.Duration

	requestMu sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}

	channels atomic.Int32
}

// DialMAVLink creates the node and starts dispatching its events.
func DialMAVLink(cfg MAVLinkConfig) (*MAVLink, error) {
	eps, err := cfg.endpoints()
	if err != nil {
		return nil, err
	}
	sysID := cfg.SourceSystemID
	if sysID == 0 {
		sysID = DefaultSourceSystemID
	}
	compID := cfg.SourceComponentID
	if compID == 0 {
		compID = DefaultSourceComponentID
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:      eps,
		Dialect:        common.Dialect,
		OutVersion:     gomavlib.V2,
		OutSystemID:    sysID,
		OutComponentID: compID,
	})
	if err != nil {
		return nil, fmt.Errorf("mavlink: create node: %w", err)
	}

	m := newMAVLink(cfg, node.WriteMessageAll, node.Events())
	m.node = node
	return m, nil
}

func newMAVLink(cfg MAVLinkConfig, write func(message.Message) error, events <-chan gomavlib.Event) *MAVLink {
	timeout := cfg.AckTimeout
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	m := &MAVLink{
		write:      write,
		reports:    newReportQueue(cfg.ReportBuffer),
		heartbeat:  newHeartbeatLatch(),
		acks:       ackWaiter{clock: cfg.Clock},
		ackTimeout: timeout,
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	go m.dispatch(events)
	return m
}

func (m *MAVLink) dispatch(events <-chan gomavlib.Event) {
	defer close(m.done)
	defer m.reports.close()
	for {
		select {
		case <-m.closed:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(evt)
		}
	}
}

func (m *MAVLink) handleEvent(evt gomavlib.Event) {
	switch e := evt.(type) {
	case *gomavlib.EventChannelOpen:
		m.channels.Add(1)
		monitoring.Logf("telemetry: mavlink channel open: %v", e.Channel)
	case *gomavlib.EventChannelClose:
		m.channels.Add(-1)
		monitoring.Logf("telemetry: mavlink channel closed: %v", e.Channel)
	case *gomavlib.EventParseError:
		monitoring.Debugf("telemetry: mavlink parse error: %v", e.Error)
	case *gomavlib.EventFrame:
		m.handleMessage(e.SystemID(), e.ComponentID(), e.Message())
	}
}

func (m *MAVLink) handleMessage(sysID, compID uint8, msg message.Message) {
	switch msg := msg.(type) {
	case *common.MessageHeartbeat:
		// Ground stations also announce themselves; only a vehicle answers
		// for the link.
		if msg.Type == common.MAV_TYPE_GCS {
			return
		}
		m.heartbeat.set(attitude.Heartbeat{SystemID: sysID, ComponentID: compID})
	case *common.MessageAttitude:
		m.reports.offer(attitude.Sample{
			TimeBootMs: msg.TimeBootMs,
			Roll:       float64(msg.Roll),
			Pitch:      float64(msg.Pitch),
			Yaw:        float64(msg.Yaw),
			RollRate:   float64(msg.Rollspeed),
			PitchRate:  float64(msg.Pitchspeed),
			YawRate:    float64(msg.Yawspeed),
		})
	case *common.MessageCommandAck:
		if msg.Command != common.MAV_CMD_SET_MESSAGE_INTERVAL {
			return
		}
		if !m.acks.resolve(msg.Result == common.MAV_RESULT_ACCEPTED) {
			monitoring.Debugf("telemetry: unsolicited interval ack result=%v", msg.Result)
		}
	}
}

// Channels returns the number of currently open node channels. Zero after
// a heartbeat means the vehicle went away.
func (m *MAVLink) Channels() int { return int(m.channels.Load()) }

func (m *MAVLink) WaitHeartbeat(ctx context.Context) (attitude.Heartbeat, error) {
	return m.heartbeat.wait(ctx, m.closed)
}

// RequestReportRate sends MAV_CMD_SET_MESSAGE_INTERVAL for ATTITUDE to the
// vehicle that sent the first heartbeat and waits for its COMMAND_ACK.
func (m *MAVLink) RequestReportRate(hz float64) error {
	m.requestMu.Lock()
	defer m.requestMu.Unlock()

	hb, ok := m.heartbeat.seen()
	if !ok {
		return fmt.Errorf("mavlink: rate request before heartbeat")
	}
	ack := m.acks.arm()
	err := m.write(&common.MessageCommandLong{
		TargetSystem:    hb.SystemID,
		TargetComponent: hb.ComponentID,
		Command:         common.MAV_CMD_SET_MESSAGE_INTERVAL,
		Param1:          attitudeMessageID,
		Param2:          float32(intervalMicros(hz)),
	})
	if err != nil {
		m.acks.disarm()
		return fmt.Errorf("mavlink: write interval request: %w", err)
	}
	return m.acks.await(ack, m.ackTimeout, m.closed)
}

func (m *MAVLink) Reports() <-chan attitude.Sample { return m.reports.ch }

func (m *MAVLink) SendTarget(t attitude.Target) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}
	return m.write(attitudeTargetMessage(t))
}

func attitudeTargetMessage(t attitude.Target) *common.MessageSetAttitudeTarget {
	return &common.MessageSetAttitudeTarget{
		TimeBootMs:      t.TimeBootMs,
		TargetSystem:    t.TargetSystem,
		TargetComponent: t.TargetComponent,
		TypeMask:        common.ATTITUDE_TARGET_TYPEMASK(t.TypeMask),
		Q:               t.Q.Array(),
		BodyRollRate:    float32(t.BodyRollRate),
		BodyPitchRate:   float32(t.BodyPitchRate),
		BodyYawRate:     float32(t.BodyYawRate),
		Thrust:          float32(t.Thrust),
	}
}

// Close stops dispatching and closes the node.
func (m *MAVLink) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
		if m.node != nil {
			m.node.Close()
		}
		<-m.done
	})
	return nil
}
