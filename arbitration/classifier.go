package arbitration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrClassifierUnavailable signals the similarity service failed or timed
// out. The submit pipeline degrades instead of aborting on this error.
var ErrClassifierUnavailable = errors.New("arbitration: classifier unavailable")

// Scorer produces a similarity assessment for a reported/original work pair.
type Scorer interface {
	Score(ctx context.Context, reportedWorkID, originalWorkID string) (Assessment, error)
}

// HTTPClassifier calls the external similarity service over HTTP.
type HTTPClassifier struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClassifier builds a classifier client with a hard request timeout.
func NewHTTPClassifier(baseURL string, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClassifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	ReportedWorkID string `json:"reported_work_id"`
	OriginalWorkID string `json:"original_work_id"`
}

// Score submits the pair for comparison. Any transport or decode failure is
// wrapped in ErrClassifierUnavailable so callers can branch on it.
func (c *HTTPClassifier) Score(ctx context.Context, reportedWorkID, originalWorkID string) (Assessment, error) {
	body, err := json.Marshal(scoreRequest{
		ReportedWorkID: reportedWorkID,
		OriginalWorkID: originalWorkID,
	})
	if err != nil {
		return Assessment{}, fmt.Errorf("arbitration: marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/similarity", bytes.NewReader(body))
	if err != nil {
		return Assessment{}, fmt.Errorf("arbitration: build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Assessment{}, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Assessment{}, fmt.Errorf("%w: status %d", ErrClassifierUnavailable, resp.StatusCode)
	}

	var assessment Assessment
	if err := json.NewDecoder(resp.Body).Decode(&assessment); err != nil {
		return Assessment{}, fmt.Errorf("%w: decode: %v", ErrClassifierUnavailable, err)
	}
	if assessment.SimilarityScore < 0 || assessment.SimilarityScore > 100 {
		return Assessment{}, fmt.Errorf("%w: score %d out of range", ErrClassifierUnavailable, assessment.SimilarityScore)
	}
	return assessment, nil
}
