package sae

import (
	"testing"

	"cleaning-status-filter-go/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func makeFrame() VideoFrame {
	return VideoFrame{
		SourceID:       "stream1",
		TimestampUTCMs: 42,
		Shape:          Shape{Width: 5, Height: 5, Channels: 1},
		FrameData:      make([]byte, 25),
		CameraLocation: &GeoCoordinate{Latitude: 52.52, Longitude: 13.40},
	}
}

func TestUnmarshalDetectionOutput(t *testing.T) {
	in := &Message{
		Frame: makeFrame(),
		Detections: []models.Detection{
			{BoundingBox: models.BoundingBox{MinX: 0.1, MinY: 0.8, MaxX: 0.2, MaxY: 1}, ClassID: 0, Confidence: 0.9},
		},
		InferenceTimeUs: 1500,
		ClassNames:      map[uint32]string{0: "mirror", 1: "non-mirror"},
		Type:            MessageTypeSAE,
	}

	out, err := Unmarshal(Marshal(in))
	require.NoError(t, err)

	assert.Equal(t, "stream1", out.Frame.SourceID)
	assert.Equal(t, uint64(42), out.Frame.TimestampUTCMs)
	assert.Equal(t, in.Frame.Shape, out.Frame.Shape)
	require.NotNil(t, out.Frame.CameraLocation)
	assert.Equal(t, 13.40, out.Frame.CameraLocation.Longitude)
	require.Len(t, out.Detections, 1)
	assert.InDelta(t, 0.9, out.Detections[0].BoundingBox.CenterY(), 1e-6)
	assert.InDelta(t, 0.9, out.Detections[0].Confidence, 1e-6)
	assert.Equal(t, uint64(1500), out.InferenceTimeUs)
	assert.Equal(t, in.ClassNames, out.ClassNames)
	assert.Equal(t, MessageTypeSAE, out.Type)
}

func TestMarshalCopiesDecodedFrameVerbatim(t *testing.T) {
	frame := makeFrame()
	raw := appendFrame(nil, &frame)
	// неизвестное поле кадра должно пережить копирование
	raw = protowire.AppendTag(raw, 99, protowire.VarintType)
	raw = protowire.AppendVarint(raw, 7)

	input := appendMessage(nil, msgFrame, raw)
	msg, err := Unmarshal(input)
	require.NoError(t, err)

	out := Marshal(&Message{Frame: msg.Frame, Type: MessageTypeSAE})
	decoded, err := Unmarshal(out)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded.Frame.raw)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	b := Marshal(&Message{Frame: makeFrame()})
	b = protowire.AppendTag(b, 50, protowire.BytesType)
	b = protowire.AppendString(b, "ignored")

	msg, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), msg.Frame.TimestampUTCMs)
}

func TestUnmarshalMalformed(t *testing.T) {
	_, err := Unmarshal([]byte{0x0a, 0x10, 0x01})
	assert.ErrorIs(t, err, ErrMalformed)

	// поле frame с неверным wire-типом
	b := protowire.AppendTag(nil, msgFrame, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	_, err = Unmarshal(b)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRawData(t *testing.T) {
	frame := makeFrame()
	data, ok := frame.RawData()
	assert.True(t, ok)
	assert.Len(t, data, 25)

	frame.FrameData = frame.FrameData[:10]
	_, ok = frame.RawData()
	assert.False(t, ok)

	empty := VideoFrame{}
	_, ok = empty.RawData()
	assert.False(t, ok)
}

func TestLocation(t *testing.T) {
	frame := makeFrame()
	p, ok := frame.Location()
	require.True(t, ok)
	assert.Equal(t, models.Point{Lon: 13.40, Lat: 52.52}, p)

	frame.CameraLocation = nil
	_, ok = frame.Location()
	assert.False(t, ok)
}
