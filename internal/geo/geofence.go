package geo

import (
	"errors"
	"fmt"
	"math"

	"cleaning-status-filter-go/pkg/models"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// ErrInvalidPolygon возвращается для некорректно заданной зоны исключения
var ErrInvalidPolygon = errors.New("invalid exclusion polygon")

// Gate проверяет, находится ли камера в одной из зон, где очистка не выполняется
type Gate struct {
	areas  []orb.Polygon
	bounds []orb.Bound
}

// NewGate создает фильтр по уже проверенным полигонам
func NewGate(areas []orb.Polygon) *Gate {
	g := &Gate{
		areas:  make([]orb.Polygon, len(areas)),
		bounds: make([]orb.Bound, len(areas)),
	}
	for i, area := range areas {
		g.areas[i] = area.Clone()
		g.bounds[i] = area.Bound()
	}
	return g
}

// ParsePolygon разбирает и проверяет полигон в формате GeoJSON
func ParsePolygon(raw []byte) (orb.Polygon, error) {
	geometry, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolygon, err)
	}

	polygon, ok := geometry.Geometry().(orb.Polygon)
	if !ok {
		return nil, fmt.Errorf("%w: expected Polygon, got %s", ErrInvalidPolygon, geometry.Type)
	}

	if err := validatePolygon(polygon); err != nil {
		return nil, err
	}
	return polygon, nil
}

// validatePolygon проверяет кольца так же, как это делает GeoJSON: минимум 4 точки, кольцо замкнуто
func validatePolygon(polygon orb.Polygon) error {
	if len(polygon) == 0 {
		return fmt.Errorf("%w: polygon has no rings", ErrInvalidPolygon)
	}
	for i, ring := range polygon {
		if len(ring) < 4 {
			return fmt.Errorf("%w: ring %d has %d positions, need at least 4", ErrInvalidPolygon, i, len(ring))
		}
		if !ring.Closed() {
			return fmt.Errorf("%w: ring %d is not closed", ErrInvalidPolygon, i)
		}
	}
	return nil
}

// IsExcluded возвращает true, если точка лежит внутри хотя бы одной зоны.
// Без координат камеры сообщение никогда не исключается.
func (g *Gate) IsExcluded(point *models.Point) bool {
	if point == nil {
		return false
	}

	pt := orb.Point{point.Lon, point.Lat}
	for i, area := range g.areas {
		if !g.bounds[i].Contains(pt) {
			continue
		}
		if contains(area, pt) {
			return true
		}
	}
	return false
}

// Len возвращает количество зон
func (g *Gate) Len() int {
	return len(g.areas)
}

// contains проверяет строгое попадание внутрь полигона: точки на границе (в том числе
// на границе дыр) считаются снаружи
func contains(polygon orb.Polygon, pt orb.Point) bool {
	for _, ring := range polygon {
		if onRing(ring, pt) {
			return false
		}
	}
	return planar.PolygonContains(polygon, pt)
}

func onRing(ring orb.Ring, pt orb.Point) bool {
	for i := 1; i < len(ring); i++ {
		if onSegment(ring[i-1], ring[i], pt) {
			return true
		}
	}
	return false
}

// boundaryTolerance допустимое расстояние до ребра в градусах, около 0.1 мм
const boundaryTolerance = 1e-9

// onSegment проверяет, лежит ли точка на отрезке ab с точностью boundaryTolerance
func onSegment(a, b, p orb.Point) bool {
	dx, dy := b[0]-a[0], b[1]-a[1]
	// |cross| / |ab| это расстояние от точки до прямой ab
	cross := dx*(p[1]-a[1]) - dy*(p[0]-a[0])
	if math.Abs(cross) > boundaryTolerance*math.Hypot(dx, dy) {
		return false
	}
	return p[0] >= min(a[0], b[0])-boundaryTolerance && p[0] <= max(a[0], b[0])+boundaryTolerance &&
		p[1] >= min(a[1], b[1])-boundaryTolerance && p[1] <= max(a[1], b[1])+boundaryTolerance
}
