package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"achievekit/core"
	"achievekit/scoring"
)

// ScoreOutcome is the /score response: the computed breakdown plus the
// trigger result of crediting the points metric.
type ScoreOutcome struct {
	Result  scoring.Result       `json:"result"`
	Trigger core.TriggerResponse `json:"trigger"`
}

// LeaderboardEntry mirrors one row of a metric leaderboard.
type LeaderboardEntry struct {
	User  string  `json:"user_id"`
	Score float64 `json:"score"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]interface{} `json:"checks"`
}

// APIError is a structured error response from the server.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is an APIError with a not_found code.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "not_found"
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = "unknown"
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// ErrEmptyUserID is returned when user id is empty.
var ErrEmptyUserID = errors.New("user id is required")
