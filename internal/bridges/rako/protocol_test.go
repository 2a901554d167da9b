package rako

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unframe strips the \r\n<json>\r\n framing of a request.
func unframe(t *testing.T, frame []byte) map[string]any {
	t.Helper()
	require.True(t, bytes.HasPrefix(frame, []byte("\r\n")), "missing leading CRLF")
	require.True(t, bytes.HasSuffix(frame, []byte("\r\n")), "missing trailing CRLF")

	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(frame), &m))
	return m
}

func TestSubscribeLine(t *testing.T) {
	line := SubscribeLine("")

	require.True(t, bytes.HasPrefix(line, []byte("SUB,JSON,")))
	require.True(t, bytes.HasSuffix(line, []byte("\r\n")))

	body := bytes.TrimSuffix(bytes.TrimPrefix(line, []byte("SUB,JSON,")), []byte("\r\n"))
	assert.JSONEq(t,
		`{"version":2,"client_name":"HA_CLIENT","subscriptions":["TRACKER","FEEDBACK"]}`,
		string(body))
}

func TestRequests(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  string
	}{
		{
			name:  "status",
			frame: StatusRequest(),
			want:  `{"name":"status","payload":{}}`,
		},
		{
			name:  "room query",
			frame: QueryRequest(QueryRoom),
			want:  `{"name":"query","payload":{"queryType":"ROOM","roomId":0}}`,
		},
		{
			name:  "level query",
			frame: QueryRequest(QueryLevel),
			want:  `{"name":"query","payload":{"queryType":"LEVEL","roomId":0}}`,
		},
		{
			name:  "level",
			frame: LevelRequest(3, 2, 128),
			want:  `{"name":"send","payload":{"room":3,"channel":2,"action":{"command":"levelrate","level":128}}}`,
		},
		{
			name:  "level zero keeps the level field",
			frame: LevelRequest(3, 2, 0),
			want:  `{"name":"send","payload":{"room":3,"channel":2,"action":{"command":"levelrate","level":0}}}`,
		},
		{
			name:  "scene",
			frame: SceneRequest(4, 2),
			want:  `{"name":"send","payload":{"room":4,"channel":0,"action":{"command":"scene","scene":2}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unframe(t, tt.frame)
			assert.JSONEq(t, tt.want, string(bytes.TrimSpace(tt.frame)))
		})
	}
}

func TestStatusPayload_MACFallback(t *testing.T) {
	var p statusPayload
	require.NoError(t, json.Unmarshal(
		[]byte(`{"productType":"Hub","protocolVersion":2,"hubId":"03559cad","mac;":"70:B3:D5:08:45:6B","hubVersion":"3.1.6"}`),
		&p))
	assert.Equal(t, "70:B3:D5:08:45:6B", p.mac())
	assert.Equal(t, "03559cad", string(p.HubID))

	p = statusPayload{}
	require.NoError(t, json.Unmarshal([]byte(`{"mac":"AA","mac;":"BB","hubId":1234}`), &p))
	assert.Equal(t, "AA", p.mac())
	assert.Equal(t, "1234", string(p.HubID))
}

func TestTrackerPayload_Level(t *testing.T) {
	target, current := 90, 127

	level, ok := trackerPayload{TargetLevel: &target, CurrentLevel: &current}.level()
	assert.True(t, ok)
	assert.Equal(t, 90, level)

	level, ok = trackerPayload{CurrentLevel: &current}.level()
	assert.True(t, ok)
	assert.Equal(t, 127, level)

	_, ok = trackerPayload{}.level()
	assert.False(t, ok)
}

func TestObjectIDs(t *testing.T) {
	assert.Equal(t, "rako_3_2", ChannelObjectID(3, 2))
	assert.Equal(t, "rako_3_0_5", SceneObjectID(3, 5))
}
