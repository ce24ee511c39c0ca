package mayasync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/marketsync_backend/models"
	"github.com/shopspring/decimal"
)

// AnswerQuestionParams is the params payload of an ANSWER_QUESTION job.
type AnswerQuestionParams struct {
	QuestionId string `json:"questionId"`
	Answer     string `json:"answer"`
	// Mode discriminates "dry" from "real" so a dry-run never blocks the
	// real attempt behind the same idempotency key.
	Mode string `json:"mode"`
}

// AnswerQuestionExecutor posts one answer upstream. The effect is made
// idempotent one layer up by the command record; here we just perform it.
type AnswerQuestionExecutor struct{}

func NewAnswerQuestionExecutor() *AnswerQuestionExecutor {
	return &AnswerQuestionExecutor{}
}

func (e *AnswerQuestionExecutor) Execute(ctx context.Context, job *models.SyncJob, cfg *OperationConfig, _ Window) (SummaryFragment, error) {
	var params AnswerQuestionParams
	if err := json.Unmarshal(job.ParamsJSON, &params); err != nil {
		return SummaryFragment{}, err
	}
	if strings.TrimSpace(params.QuestionId) == "" || strings.TrimSpace(params.Answer) == "" {
		return SummaryFragment{}, errors.New("question_id and answer are required")
	}

	if strings.EqualFold(params.Mode, "dry") {
		return SummaryFragment{Fetched: 1, Skipped: 1}, nil
	}

	path := fmt.Sprintf("/v1/qna/%s/answer", params.QuestionId)
	if _, err := cfg.Client.Post(ctx, path, map[string]string{"answer": params.Answer}); err != nil {
		return SummaryFragment{}, err
	}
	return SummaryFragment{Fetched: 1, Applied: 1}, nil
}

// PushInventoryParams carries the stock/price deltas for one push job.
type PushInventoryParams struct {
	Items []PushInventoryItem `json:"items"`
}

type PushInventoryItem struct {
	Sku      string          `json:"sku"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// validateInventoryItems rejects a batch before it costs a command record or
// a job. The executor re-checks the same rules on the decoded params.
func validateInventoryItems(items []PushInventoryItem) error {
	if len(items) == 0 {
		return errors.New("items are required")
	}
	for _, item := range items {
		if strings.TrimSpace(item.Sku) == "" {
			return errors.New("item sku is required")
		}
		if item.Price.IsNegative() || item.Quantity < 0 {
			return fmt.Errorf("invalid quantity/price for sku %s", item.Sku)
		}
	}
	return nil
}

// PushInventoryExecutor sends the batch upstream in one call. Re-running the
// same batch is safe because the payload is absolute quantities and prices,
// not deltas.
type PushInventoryExecutor struct{}

func NewPushInventoryExecutor() *PushInventoryExecutor {
	return &PushInventoryExecutor{}
}

func (e *PushInventoryExecutor) Execute(ctx context.Context, job *models.SyncJob, cfg *OperationConfig, _ Window) (SummaryFragment, error) {
	var params PushInventoryParams
	if err := json.Unmarshal(job.ParamsJSON, &params); err != nil {
		return SummaryFragment{}, err
	}
	if err := validateInventoryItems(params.Items); err != nil {
		return SummaryFragment{}, err
	}

	if _, err := cfg.Client.Post(ctx, "/v1/inventory/bulk", params); err != nil {
		return SummaryFragment{}, err
	}
	return SummaryFragment{Fetched: len(params.Items), Applied: len(params.Items)}, nil
}
