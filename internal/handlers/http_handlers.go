package handlers

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"livepoll/internal/models"
	"livepoll/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
)

const pollContextKey = "poll"

// HTTPHandler serves the REST API over the poll service.
type HTTPHandler struct {
	service *services.PollService
}

// NewHTTPHandler creates a new HTTPHandler.
func NewHTTPHandler(service *services.PollService) *HTTPHandler {
	return &HTTPHandler{service: service}
}

// RegisterRoutes registers the REST routes on router.
func (h *HTTPHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/healthz", h.Health)

	api := router.Group("/api")
	api.POST("/polls", h.CreatePoll)
	api.GET("/polls", h.ListPolls)

	polls := api.Group("/polls/:id")
	polls.Use(h.PollMiddleware())
	{
		polls.GET("", h.GetPoll)
		polls.POST("/questions", h.AppendQuestion)
		polls.GET("/results.csv", h.ExportResultsCSV)
	}
}

// PollMiddleware resolves the :id path parameter to a poll and aborts with
// 404 when it does not exist.
func (h *HTTPHandler) PollMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		poll, err := h.service.GetPoll(c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(pollContextKey, poll)
		c.Next()
	}
}

func pollFromContext(c *gin.Context) models.Poll {
	poll, _ := c.MustGet(pollContextKey).(models.Poll)
	return poll
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch services.KindOf(err) {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Error:   services.CodeOf(err),
		Message: err.Error(),
	})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   services.KindValidation.String(),
		Message: err.Error(),
	})
}

// Health reports that the process is serving.
func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CreatePoll handles POST /api/polls.
func (h *HTTPHandler) CreatePoll(c *gin.Context) {
	var req models.CreatePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	poll, err := h.service.CreatePoll(req.Title, req.Questions)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, poll)
}

// ListPolls handles GET /api/polls.
func (h *HTTPHandler) ListPolls(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.ListPolls())
}

// GetPoll handles GET /api/polls/:id.
func (h *HTTPHandler) GetPoll(c *gin.Context) {
	c.JSON(http.StatusOK, pollFromContext(c))
}

// AppendQuestion handles POST /api/polls/:id/questions.
func (h *HTTPHandler) AppendQuestion(c *gin.Context) {
	var req models.QuestionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	q, err := h.service.AppendQuestion(pollFromContext(c).ID, req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

// ExportResultsCSV streams the poll's result history as a CSV file, one row
// per option of every ended question.
func (h *HTTPHandler) ExportResultsCSV(c *gin.Context) {
	poll := pollFromContext(c)
	results, err := h.service.Results(poll.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", "attachment;filename=poll_"+poll.ID+"_results.csv")

	// BOM so spreadsheet tools pick UTF-8.
	c.Writer.Write([]byte("\xef\xbb\xbf"))

	w := csv.NewWriter(c.Writer)
	header := []string{
		"questionIndex", "question", "optionId", "option", "count",
		"totalAnswers", "totalParticipants", "reason", "endedAt",
	}
	if err := w.Write(header); err != nil {
		logger.Errorf("poll %s: writing CSV header: %v", poll.ID, err)
		return
	}

	for _, r := range results {
		endedAt := time.UnixMilli(r.EndedAt).UTC().Format(time.RFC3339)
		for _, opt := range r.Question.Options {
			row := []string{
				strconv.Itoa(r.QuestionIndex),
				r.Question.Text,
				opt.ID,
				opt.Text,
				strconv.Itoa(r.Counts[opt.ID]),
				strconv.Itoa(r.TotalAnswers),
				strconv.Itoa(r.TotalParticipants),
				r.Reason,
				endedAt,
			}
			if err := w.Write(row); err != nil {
				logger.Errorf("poll %s: writing CSV row: %v", poll.ID, err)
				return
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		logger.Errorf("poll %s: flushing CSV writer: %v", poll.ID, err)
	}
}
