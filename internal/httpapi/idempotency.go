package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const (
	// IdempotencyKeyHeader — заголовок с ключом идемпотентности.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader выставляется на ответах, восстановленных из хранилища.
	IdempotentReplayHeader = "Idempotent-Replayed"

	defaultIdempotencyTTL = 24 * time.Hour
)

// bodyRecorder дублирует тело ответа, чтобы сохранить его под ключом.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency оборачивает обработчик: запрос с заголовком Idempotency-Key
// выполняется один раз, повтор получает сохранённый ответ.
// Без заголовка или без репозитория запрос проходит как есть.
func Idempotency(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) gin.HandlerFunc {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	if logger == nil {
		logger = log.WithField("component", "http-idempotency")
	}

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
		if repo == nil || key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			respondBadRequest(c, "failed to read request body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		reqHash := buildRequestHash(c.Request.Method, c.FullPath(), body)
		record, err := repo.CreateProcessing(c.Request.Context(), key, reqHash, time.Now().UTC().Add(ttl))
		if err != nil {
			replayIdempotency(c, logger, err, record)
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		// Запрос мог быть отменён клиентом, но результат всё равно надо сохранить.
		storeCtx := context.WithoutCancel(c.Request.Context())
		status := recorder.Status()
		if status >= http.StatusOK && status < http.StatusMultipleChoices {
			err = repo.MarkDone(storeCtx, key, recorder.body.Bytes(), status)
		} else {
			err = repo.MarkFailed(storeCtx, key, recorder.body.Bytes(), status)
		}
		if err != nil {
			logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
		}
	}
}

func replayIdempotency(c *gin.Context, logger *log.Entry, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		c.AbortWithStatusJSON(http.StatusConflict, envelope{
			Status:  false,
			Message: "idempotency key is already used with different request payload",
		})
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			if len(record.ResponseBody) == 0 || record.HTTPStatus == 0 {
				c.AbortWithStatusJSON(http.StatusInternalServerError, envelope{Status: false, Message: "idempotency cache is empty"})
				return
			}
			c.Header(IdempotentReplayHeader, "true")
			c.Data(record.HTTPStatus, "application/json; charset=utf-8", record.ResponseBody)
			c.Abort()
		case domain.IdempotencyStatusProcessing:
			c.AbortWithStatusJSON(http.StatusConflict, envelope{
				Status:  false,
				Message: "request with the same idempotency key is already processing",
			})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, envelope{Status: false, Message: "unknown idempotency record status"})
		}
	default:
		logger.WithError(createErr).Warn("failed to create idempotency record")
		c.AbortWithStatusJSON(http.StatusInternalServerError, envelope{Status: false, Message: "failed to initialize idempotency request"})
	}
}

func buildRequestHash(method, route string, body []byte) string {
	payload := make([]byte, 0, len(method)+len(route)+2+len(body))
	payload = append(payload, method...)
	payload = append(payload, ' ')
	payload = append(payload, route...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
