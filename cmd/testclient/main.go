// Тестовый клиент: отправляет синтетические кадры во входной поток и печатает состояние стадии.
//
//	go run ./cmd/testclient [stream_id] [frames] [lat lon]
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"cleaning-status-filter-go/internal/bus"
	"cleaning-status-filter-go/internal/config"
	"cleaning-status-filter-go/pkg/sae"
)

const (
	frameWidth    = 64
	frameHeight   = 48
	frameChannels = 3
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	streamID := cfg.Redis.StreamIDs[0]
	if len(os.Args) > 1 {
		streamID = os.Args[1]
	}
	frames := 5
	if len(os.Args) > 2 {
		if frames, err = strconv.Atoi(os.Args[2]); err != nil {
			fmt.Printf("Неверное количество кадров: %v\n", err)
			os.Exit(1)
		}
	}
	var location *sae.GeoCoordinate
	if len(os.Args) > 4 {
		lat, errLat := strconv.ParseFloat(os.Args[3], 64)
		lon, errLon := strconv.ParseFloat(os.Args[4], 64)
		if errLat != nil || errLon != nil {
			fmt.Println("Неверный формат координат")
			os.Exit(1)
		}
		location = &sae.GeoCoordinate{Latitude: lat, Longitude: lon}
	}

	ctx := context.Background()
	client := bus.NewClient(cfg.Redis.Addr())
	defer client.Close()
	publisher := bus.NewValkeyPublisher(client, cfg.Redis.MaxStreamLength)

	stream := cfg.Redis.InputStreamPrefix + ":" + streamID
	fmt.Printf("Отправляем %d кадров в %s...\n", frames, stream)
	for i := 0; i < frames; i++ {
		msg := &sae.Message{
			Frame: sae.VideoFrame{
				SourceID:       streamID,
				TimestampUTCMs: uint64(time.Now().UnixMilli()),
				Shape:          sae.Shape{Width: frameWidth, Height: frameHeight, Channels: frameChannels},
				FrameData:      make([]byte, frameWidth*frameHeight*frameChannels),
				CameraLocation: location,
			},
			Type: sae.MessageTypeSAE,
		}
		if err := publisher.Publish(ctx, stream, sae.Marshal(msg)); err != nil {
			fmt.Printf("Ошибка отправки кадра: %v\n", err)
			os.Exit(1)
		}
		time.Sleep(cfg.MirrorDetection.Interval())
	}

	// Проверяем состояние потоков
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/v1/status/%s", cfg.HTTP.Port, streamID))
	if err != nil {
		fmt.Printf("Ошибка при обращении к status endpoint: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Ошибка чтения ответа: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Состояние потока (статус %d):\n%s\n", resp.StatusCode, string(body))
}
