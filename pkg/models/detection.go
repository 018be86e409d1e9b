package models

// Point представляет географическую точку камеры
type Point struct {
	Lon float64 `json:"lon"` // Долгота
	Lat float64 `json:"lat"` // Широта
}

// BoundingBox содержит нормализованные (0.0-1.0) координаты рамки, y отсчитывается от верхнего края кадра
type BoundingBox struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// CenterY возвращает вертикальный центр рамки
func (b BoundingBox) CenterY() float64 {
	return (b.MinY + b.MaxY) / 2
}

// Detection представляет один объект, найденный моделью
type Detection struct {
	BoundingBox BoundingBox `json:"bounding_box"` // Рамка объекта
	ClassID     uint32      `json:"class_id"`     // ID класса
	Confidence  float64     `json:"confidence"`   // Уверенность модели
}

// DetectResponse определяет структуру ответа от сервиса модели
type DetectResponse struct {
	Status     string            `json:"status"`      // Статус выполнения
	Message    string            `json:"message"`     // Сообщение
	Detections []Detection       `json:"detections"`  // Найденные объекты
	ClassNames map[string]string `json:"class_names"` // Имена классов по ID (ключи JSON - строки)
}

// HealthResponse представляет ответ проверки здоровья сервиса
type HealthResponse struct {
	Status      string `json:"status"`       // Статус сервиса (healthy/unhealthy)
	ModelLoaded bool   `json:"model_loaded"` // Загружена ли модель нейронной сети
	Version     string `json:"version"`      // Версия сервиса
}

// Image буфер кадра без сжатия
type Image struct {
	Data     []byte
	Width    uint32
	Height   uint32
	Channels uint32
}
