package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"

	"cleaning-status-filter-go/internal/config"
	"cleaning-status-filter-go/pkg/models"

	"github.com/sirupsen/logrus"
)

// DetectorAPIClient клиент сервиса модели детекции зеркала
type DetectorAPIClient struct {
	baseURL    string
	model      config.ModelConfig
	httpClient *http.Client
	logger     *logrus.Logger

	mu         sync.RWMutex
	classNames map[uint32]string
}

// NewDetectorAPIClient создает новый клиент для сервиса модели
func NewDetectorAPIClient(model config.ModelConfig, logger *logrus.Logger) *DetectorAPIClient {
	return &DetectorAPIClient{
		baseURL: model.BaseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: time.Duration(model.TimeoutS) * time.Second,
		},
		logger:     logger,
		classNames: make(map[uint32]string),
	}
}

// Classify отправляет кадр в модель и возвращает найденные объекты
func (c *DetectorAPIClient) Classify(ctx context.Context, image models.Image) ([]models.Detection, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	frameWriter, err := writer.CreateFormFile("frame", "frame.raw")
	if err != nil {
		return nil, fmt.Errorf("failed to create frame field: %w", err)
	}
	if _, err := frameWriter.Write(image.Data); err != nil {
		return nil, fmt.Errorf("failed to write frame data: %w", err)
	}

	fields := map[string]string{
		"width":                strconv.FormatUint(uint64(image.Width), 10),
		"height":               strconv.FormatUint(uint64(image.Height), 10),
		"channels":             strconv.FormatUint(uint64(image.Channels), 10),
		"weights_path":         c.model.WeightsPath,
		"device":               c.model.Device,
		"confidence_threshold": strconv.FormatFloat(c.model.ConfidenceThreshold, 'f', -1, 64),
		"iou_threshold":        strconv.FormatFloat(c.model.IouThreshold, 'f', -1, 64),
		"fp16":                 strconv.FormatBool(c.model.FP16),
		"nms_agnostic":         strconv.FormatBool(c.model.NMSAgnostic),
	}
	if len(c.model.InferenceSize) == 2 {
		fields["inference_size"] = fmt.Sprintf("%d,%d", c.model.InferenceSize[0], c.model.InferenceSize[1])
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/detect", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c.logger.Debugf("Отправка кадра %dx%dx%d на %s", image.Width, image.Height, image.Channels, url)
	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var apiResponse models.DetectResponse
	if err := json.Unmarshal(respBody, &apiResponse); err != nil {
		return nil, fmt.Errorf("failed to parse detect response: %w", err)
	}
	if apiResponse.Status != "" && apiResponse.Status != "success" {
		return nil, fmt.Errorf("detector returned %s: %s", apiResponse.Status, apiResponse.Message)
	}

	if len(apiResponse.ClassNames) > 0 {
		names, err := parseClassNames(apiResponse.ClassNames)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.classNames = names
		c.mu.Unlock()
	}

	return apiResponse.Detections, nil
}

// ClassNames возвращает имена классов из последнего ответа модели
func (c *DetectorAPIClient) ClassNames() map[uint32]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.classNames
}

// CheckHealth проверяет состояние сервиса модели
func (c *DetectorAPIClient) CheckHealth(ctx context.Context) (*models.HealthResponse, error) {
	c.logger.Debug("Проверка здоровья сервиса модели")

	url := fmt.Sprintf("%s/health", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var healthResponse models.HealthResponse
	if err := json.Unmarshal(respBody, &healthResponse); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}
	return &healthResponse, nil
}

func (c *DetectorAPIClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector returned status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// parseClassNames переводит ключи JSON в ID классов
func parseClassNames(raw map[string]string) (map[uint32]string, error) {
	names := make(map[uint32]string, len(raw))
	for key, name := range raw {
		id, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid class id %q: %w", key, err)
		}
		names[uint32(id)] = name
	}
	return names, nil
}
