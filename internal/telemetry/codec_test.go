package telemetry

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/yawtrack/internal/attitude"
)

func TestDecodeLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    Line
		wantErr string
	}{
		{
			name: "heartbeat",
			in:   `{"type":"heartbeat","heartbeat":{"system_id":1,"component_id":1}}`,
			want: Line{Type: LineHeartbeat, Heartbeat: &attitude.Heartbeat{SystemID: 1, ComponentID: 1}},
		},
		{
			name: "attitude with surrounding space",
			in:   "  {\"type\":\"attitude\",\"attitude\":{\"time_boot_ms\":1200,\"yaw\":0.5,\"yawspeed\":-0.1}}\r",
			want: Line{Type: LineAttitude, Attitude: &attitude.Sample{TimeBootMs: 1200, Yaw: 0.5, YawRate: -0.1}},
		},
		{
			name: "ack",
			in:   `{"type":"ack","ack":{"request":"message_interval","accepted":true}}`,
			want: Line{Type: LineAck, Ack: &Ack{Request: LineMessageInterval, Accepted: true}},
		},
		{name: "hello needs no payload", in: `{"type":"hello"}`, want: Line{Type: LineHello}},
		{name: "empty", in: "   ", wantErr: "empty line"},
		{name: "not json", in: "AT+OK", wantErr: "decode line"},
		{name: "unknown type", in: `{"type":"gps"}`, wantErr: `unknown line type "gps"`},
		{name: "missing payload", in: `{"type":"attitude"}`, wantErr: "attitude line without attitude payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeLine(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("DecodeLine() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeLine_Target(t *testing.T) {
	t.Parallel()

	target := attitude.Target{
		TimeBootMs:      40,
		TargetSystem:    1,
		TargetComponent: 1,
		TypeMask:        attitude.MaskIgnoreThrottle | attitude.MaskIgnoreOrientation,
		Q:               attitude.Identity,
		BodyYawRate:     0.25,
	}
	s, err := EncodeLine(Line{Type: LineAttitudeTarget, Target: &target})
	require.NoError(t, err)
	assert.NotContains(t, s, "\n")
	assert.Contains(t, s, `"type":"attitude_target"`)
	assert.Contains(t, s, `"type_mask":192`)

	back, err := DecodeLine(s)
	require.NoError(t, err)
	assert.Equal(t, target, *back.Target)
}

func TestSplitLines(t *testing.T) {
	t.Parallel()
	got := splitLines([]byte("a\n\n  b \r\nc"))
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Empty(t, splitLines([]byte("\n \n")))
}
