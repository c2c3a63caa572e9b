package models

// Request types

type QuestionInput struct {
	Text         string   `json:"text" binding:"required"`
	Options      []string `json:"options" binding:"required,min=1"`
	TimeLimitSec int      `json:"timeLimitSec" binding:"min=0"`
}

type CreatePollRequest struct {
	Title     string          `json:"title" binding:"required"`
	Questions []QuestionInput `json:"questions" binding:"required,min=1,dive"`
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
