package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
)

// Evaluator answers allow/deny for a (user, action, resource) triple.
type Evaluator interface {
	Evaluate(ctx context.Context, identity Identity, action Action, resource ResourceContext) (bool, error)
}

// PolicyClient queries an external policy evaluator (e.g. OPA) over HTTP.
type PolicyClient struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

var _ Evaluator = (*PolicyClient)(nil)

// NewPolicyClient creates a client for the evaluator endpoint.
func NewPolicyClient(url string, timeout time.Duration) *PolicyClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PolicyClient{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

type policyRequest struct {
	Input policyInput `json:"input"`
}

type policyInput struct {
	User     Identity        `json:"user"`
	Action   Action          `json:"action"`
	Resource ResourceContext `json:"resource"`
}

type policyResponse struct {
	Result struct {
		Allow bool `json:"allow"`
	} `json:"result"`
}

// Evaluate posts the decision request and returns the evaluator's verdict.
// Transport and non-200 failures are Policy-kind errors the authorizer
// converts into fallback decisions.
func (p *PolicyClient) Evaluate(ctx context.Context, identity Identity, action Action, resource ResourceContext) (bool, error) {
	body, err := json.Marshal(policyRequest{Input: policyInput{
		User:     identity,
		Action:   action,
		Resource: resource,
	}})
	if err != nil {
		return false, errors.PolicyError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return false, errors.PolicyError(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return false, errors.PolicyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, errors.PolicyError(fmt.Errorf("evaluator returned status %d", resp.StatusCode))
	}

	var decoded policyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return false, errors.PolicyError(err)
	}
	return decoded.Result.Allow, nil
}
