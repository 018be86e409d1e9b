// Package sae реализует кодек сообщения анализа кадра (SaeMessage) в формате protobuf.
//
// Кодек работает напрямую с wire-форматом через protowire и поддерживает только
// поля, которые нужны фильтру. Неизвестные поля при разборе пропускаются.
package sae

import (
	"errors"

	"cleaning-status-filter-go/pkg/models"
)

// ErrMalformed возвращается при невалидном wire-формате
var ErrMalformed = errors.New("malformed sae message")

// MessageType тип сообщения
type MessageType int32

const (
	MessageTypeUnspecified MessageType = 0
	MessageTypeSAE         MessageType = 1
)

// Shape размеры кадра
type Shape struct {
	Width    uint32
	Height   uint32
	Channels uint32
}

// GeoCoordinate координаты камеры
type GeoCoordinate struct {
	Latitude  float64
	Longitude float64
}

// VideoFrame кадр видеопотока
type VideoFrame struct {
	SourceID       string
	TimestampUTCMs uint64
	Shape          Shape
	FrameData      []byte
	CameraLocation *GeoCoordinate

	// raw хранит закодированный кадр в том виде, в котором он пришел
	raw []byte
}

// RawData возвращает буфер изображения, если его размер совпадает с размерами кадра
func (f *VideoFrame) RawData() ([]byte, bool) {
	expected := uint64(f.Shape.Width) * uint64(f.Shape.Height) * uint64(f.Shape.Channels)
	if expected == 0 || uint64(len(f.FrameData)) != expected {
		return nil, false
	}
	return f.FrameData, true
}

// Location возвращает координаты камеры, если они есть в кадре
func (f *VideoFrame) Location() (models.Point, bool) {
	if f.CameraLocation == nil {
		return models.Point{}, false
	}
	return models.Point{Lon: f.CameraLocation.Longitude, Lat: f.CameraLocation.Latitude}, true
}

// Message сообщение анализа кадра
type Message struct {
	Frame           VideoFrame
	Detections      []models.Detection
	InferenceTimeUs uint64
	ClassNames      map[uint32]string
	Type            MessageType
}
