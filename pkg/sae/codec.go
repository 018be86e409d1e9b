package sae

import (
	"fmt"
	"math"
	"sort"

	"cleaning-status-filter-go/pkg/models"

	"google.golang.org/protobuf/encoding/protowire"
)

// Номера полей
const (
	msgFrame         protowire.Number = 1
	msgDetections    protowire.Number = 2
	msgMetrics       protowire.Number = 3
	msgModelMetadata protowire.Number = 4
	msgType          protowire.Number = 5

	frameSourceID       protowire.Number = 1
	frameTimestamp      protowire.Number = 2
	frameShape          protowire.Number = 3
	frameData           protowire.Number = 4
	frameCameraLocation protowire.Number = 5

	shapeWidth    protowire.Number = 1
	shapeHeight   protowire.Number = 2
	shapeChannels protowire.Number = 3

	geoLatitude  protowire.Number = 1
	geoLongitude protowire.Number = 2

	detBoundingBox protowire.Number = 1
	detConfidence  protowire.Number = 2
	detClassID     protowire.Number = 3

	boxMinX protowire.Number = 1
	boxMinY protowire.Number = 2
	boxMaxX protowire.Number = 3
	boxMaxY protowire.Number = 4

	metricsInferenceTimeUs protowire.Number = 1
	metadataClassNames     protowire.Number = 1

	mapKey   protowire.Number = 1
	mapValue protowire.Number = 2
)

// Unmarshal разбирает сообщение из wire-формата
func Unmarshal(b []byte) (*Message, error) {
	msg := &Message{}
	err := parseFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case msgFrame:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			if err := parseFrame(v, &msg.Frame); err != nil {
				return 0, fmt.Errorf("frame: %w", err)
			}
			msg.Frame.raw = v
			return n, nil
		case msgDetections:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			det, err := parseDetection(v)
			if err != nil {
				return 0, fmt.Errorf("detection: %w", err)
			}
			msg.Detections = append(msg.Detections, det)
			return n, nil
		case msgMetrics:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			return n, parseFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if num != metricsInferenceTimeUs {
					return 0, nil
				}
				x, n, err := consumeVarint(typ, b)
				msg.InferenceTimeUs = x
				return n, err
			})
		case msgModelMetadata:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			return n, parseModelMetadata(v, msg)
		case msgType:
			x, n, err := consumeVarint(typ, b)
			msg.Type = MessageType(x)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Marshal кодирует сообщение. Кадр, полученный через Unmarshal, копируется без изменений.
func Marshal(msg *Message) []byte {
	var b []byte

	frame := msg.Frame.raw
	if frame == nil {
		frame = appendFrame(nil, &msg.Frame)
	}
	b = appendMessage(b, msgFrame, frame)

	for _, det := range msg.Detections {
		b = appendMessage(b, msgDetections, appendDetection(nil, det))
	}

	if msg.InferenceTimeUs != 0 {
		var m []byte
		m = protowire.AppendTag(m, metricsInferenceTimeUs, protowire.VarintType)
		m = protowire.AppendVarint(m, msg.InferenceTimeUs)
		b = appendMessage(b, msgMetrics, m)
	}

	if len(msg.ClassNames) > 0 {
		ids := make([]uint32, 0, len(msg.ClassNames))
		for id := range msg.ClassNames {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		var m []byte
		for _, id := range ids {
			var entry []byte
			entry = protowire.AppendTag(entry, mapKey, protowire.VarintType)
			entry = protowire.AppendVarint(entry, uint64(id))
			entry = protowire.AppendTag(entry, mapValue, protowire.BytesType)
			entry = protowire.AppendString(entry, msg.ClassNames[id])
			m = appendMessage(m, metadataClassNames, entry)
		}
		b = appendMessage(b, msgModelMetadata, m)
	}

	if msg.Type != MessageTypeUnspecified {
		b = protowire.AppendTag(b, msgType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(msg.Type))
	}

	return b
}

func parseFrame(b []byte, frame *VideoFrame) error {
	return parseFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case frameSourceID:
			v, n, err := consumeBytes(typ, b)
			frame.SourceID = string(v)
			return n, err
		case frameTimestamp:
			x, n, err := consumeVarint(typ, b)
			frame.TimestampUTCMs = x
			return n, err
		case frameShape:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			return n, parseShape(v, &frame.Shape)
		case frameData:
			v, n, err := consumeBytes(typ, b)
			frame.FrameData = v
			return n, err
		case frameCameraLocation:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			loc := &GeoCoordinate{}
			if err := parseGeo(v, loc); err != nil {
				return 0, err
			}
			frame.CameraLocation = loc
			return n, nil
		}
		return 0, nil
	})
}

func parseShape(b []byte, shape *Shape) error {
	return parseFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var dst *uint32
		switch num {
		case shapeWidth:
			dst = &shape.Width
		case shapeHeight:
			dst = &shape.Height
		case shapeChannels:
			dst = &shape.Channels
		default:
			return 0, nil
		}
		x, n, err := consumeVarint(typ, b)
		*dst = uint32(x)
		return n, err
	})
}

func parseGeo(b []byte, loc *GeoCoordinate) error {
	return parseFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var dst *float64
		switch num {
		case geoLatitude:
			dst = &loc.Latitude
		case geoLongitude:
			dst = &loc.Longitude
		default:
			return 0, nil
		}
		x, n, err := consumeFixed64(typ, b)
		*dst = math.Float64frombits(x)
		return n, err
	})
}

func parseDetection(b []byte) (models.Detection, error) {
	var det models.Detection
	err := parseFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case detBoundingBox:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			return n, parseBoundingBox(v, &det.BoundingBox)
		case detConfidence:
			x, n, err := consumeFixed32(typ, b)
			det.Confidence = float64(math.Float32frombits(x))
			return n, err
		case detClassID:
			x, n, err := consumeVarint(typ, b)
			det.ClassID = uint32(x)
			return n, err
		}
		return 0, nil
	})
	return det, err
}

func parseBoundingBox(b []byte, box *models.BoundingBox) error {
	return parseFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var dst *float64
		switch num {
		case boxMinX:
			dst = &box.MinX
		case boxMinY:
			dst = &box.MinY
		case boxMaxX:
			dst = &box.MaxX
		case boxMaxY:
			dst = &box.MaxY
		default:
			return 0, nil
		}
		x, n, err := consumeFixed32(typ, b)
		*dst = float64(math.Float32frombits(x))
		return n, err
	})
}

func parseModelMetadata(b []byte, msg *Message) error {
	return parseFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != metadataClassNames {
			return 0, nil
		}
		v, n, err := consumeBytes(typ, b)
		if err != nil {
			return 0, err
		}
		var (
			key   uint64
			value string
		)
		err = parseFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch num {
			case mapKey:
				x, n, err := consumeVarint(typ, b)
				key = x
				return n, err
			case mapValue:
				s, n, err := consumeBytes(typ, b)
				value = string(s)
				return n, err
			}
			return 0, nil
		})
		if err != nil {
			return 0, err
		}
		if msg.ClassNames == nil {
			msg.ClassNames = make(map[uint32]string)
		}
		msg.ClassNames[uint32(key)] = value
		return n, nil
	})
}

func appendFrame(b []byte, frame *VideoFrame) []byte {
	if frame.SourceID != "" {
		b = protowire.AppendTag(b, frameSourceID, protowire.BytesType)
		b = protowire.AppendString(b, frame.SourceID)
	}
	if frame.TimestampUTCMs != 0 {
		b = protowire.AppendTag(b, frameTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, frame.TimestampUTCMs)
	}
	if frame.Shape != (Shape{}) {
		var s []byte
		s = appendUint32(s, shapeWidth, frame.Shape.Width)
		s = appendUint32(s, shapeHeight, frame.Shape.Height)
		s = appendUint32(s, shapeChannels, frame.Shape.Channels)
		b = appendMessage(b, frameShape, s)
	}
	if len(frame.FrameData) > 0 {
		b = protowire.AppendTag(b, frameData, protowire.BytesType)
		b = protowire.AppendBytes(b, frame.FrameData)
	}
	if frame.CameraLocation != nil {
		var g []byte
		g = appendDouble(g, geoLatitude, frame.CameraLocation.Latitude)
		g = appendDouble(g, geoLongitude, frame.CameraLocation.Longitude)
		b = appendMessage(b, frameCameraLocation, g)
	}
	return b
}

func appendDetection(b []byte, det models.Detection) []byte {
	var box []byte
	box = appendFloat(box, boxMinX, det.BoundingBox.MinX)
	box = appendFloat(box, boxMinY, det.BoundingBox.MinY)
	box = appendFloat(box, boxMaxX, det.BoundingBox.MaxX)
	box = appendFloat(box, boxMaxY, det.BoundingBox.MaxY)
	b = appendMessage(b, detBoundingBox, box)
	b = appendFloat(b, detConfidence, det.Confidence)
	return appendUint32(b, detClassID, det.ClassID)
}
