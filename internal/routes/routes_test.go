package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"imagedetect/internal/config"
	"imagedetect/internal/logger"
	"imagedetect/internal/middleware"
	"imagedetect/internal/models"
	"imagedetect/internal/repository/sqlstore"
	"imagedetect/internal/services"
	"imagedetect/internal/services/ai"
	"imagedetect/internal/services/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// cannedModel returns the same raw candidates for every image.
type cannedModel struct {
	candidates []ai.Candidate
}

func (m *cannedModel) Predict(ctx context.Context, path string) ([]ai.Candidate, error) {
	return m.candidates, nil
}

func (m *cannedModel) Close() error { return nil }

type pipeline struct {
	router  *gin.Engine
	manager *services.Manager
}

func newPipeline(t *testing.T, candidates []ai.Candidate) *pipeline {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		TargetClassID:    1,
		ScoreThreshold:   0.8,
		DetectionWorkers: 2,
		MaxUploadSize:    1 << 20,
	}
	log := logger.NewDiscard()

	db, err := sqlstore.NewSQLite(filepath.Join(dir, "images.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	images := sqlstore.NewImageRepository(db)
	detector := ai.NewDetectorService(&cannedModel{candidates: candidates}, cfg, log)
	manager := services.NewManager(detector, images, sqlstore.NewDetectionRepository(db), nil, cfg, log)
	t.Cleanup(func() { manager.Stop(context.Background()) })

	router := SetupRoutes(Dependencies{
		Images:    images,
		Files:     storage.NewFileStore(filepath.Join(dir, "images")),
		Scheduler: manager,
		Logger:    log,
	}, cfg)

	return &pipeline{router: router, manager: manager}
}

func (p *pipeline) upload(t *testing.T, name string) models.Image {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte("image bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/images", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	p.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	var img models.Image
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &img))
	return img
}

func (p *pipeline) get(t *testing.T, id int64) models.Image {
	t.Helper()
	rec := httptest.NewRecorder()
	p.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/images/"+strconv.FormatInt(id, 10), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var img models.Image
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &img))
	return img
}

func TestUploadThenDetect(t *testing.T) {
	p := newPipeline(t, []ai.Candidate{
		{X1: 10, Y1: 10, X2: 50, Y2: 60, ClassID: 1, Score: 0.95},
		{X1: 0, Y1: 0, X2: 20, Y2: 20, ClassID: 1, Score: 0.8},
		{X1: 5, Y1: 5, X2: 25, Y2: 25, ClassID: 3, Score: 0.99},
	})

	uploaded := p.upload(t, "person.jpg")
	require.NotZero(t, uploaded.ID)

	p.manager.Wait()

	img := p.get(t, uploaded.ID)
	require.Equal(t, models.StatusComplete, img.Status)
	require.Len(t, img.Detections, 1)

	d := img.Detections[0]
	require.Equal(t, uploaded.ID, d.ImageID)
	require.Equal(t, 10, d.X)
	require.Equal(t, 10, d.Y)
	require.Equal(t, 40, d.Width)
	require.Equal(t, 50, d.Height)
	require.NotNil(t, d.Confidence)
	require.InDelta(t, 0.95, *d.Confidence, 1e-6)
}

func TestUploadThenDetect_NothingQualifies(t *testing.T) {
	p := newPipeline(t, []ai.Candidate{
		{X1: 0, Y1: 0, X2: 20, Y2: 20, ClassID: 1, Score: 0.5},
	})

	uploaded := p.upload(t, "empty.jpg")
	p.manager.Wait()

	img := p.get(t, uploaded.ID)
	require.Equal(t, models.StatusComplete, img.Status)
	require.Empty(t, img.Detections)
}

func TestHealth(t *testing.T) {
	p := newPipeline(t, nil)

	rec := httptest.NewRecorder()
	p.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
