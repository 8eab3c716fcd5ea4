package upstream

import (
	"context"
	"encoding/json"
	"net/http"
)

// CreateProcessRequest opens a workflow process for a citizen.
type CreateProcessRequest struct {
	CitizenID   string         `json:"citizenId"`
	ServiceType string         `json:"serviceType"`
	Metadata    map[string]any `json:"metadata"`
}

// SignatureRequest records an officer decision on a process.
type SignatureRequest struct {
	Action  string `json:"action"`
	Note    string `json:"note,omitempty"`
	ActorID string `json:"actorId"`
}

// NDX is the document exchange holding workflow processes.
type NDX struct {
	client *Client
}

func NewNDX(cfg Config, opts ...Option) (*NDX, error) {
	c, err := newClient("ndx", cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &NDX{client: c}, nil
}

func (n *NDX) CreateProcess(ctx context.Context, req CreateProcessRequest) (json.RawMessage, error) {
	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}
	return n.client.do(ctx, http.MethodPost, "/processes", req, "Failed to create process in NDX")
}

func (n *NDX) GetProcess(ctx context.Context, processID string) (json.RawMessage, error) {
	return n.client.do(ctx, http.MethodGet, "/processes/"+escape(processID), nil, "Failed to fetch process from NDX")
}

func (n *NDX) SubmitSignature(ctx context.Context, processID string, req SignatureRequest) (json.RawMessage, error) {
	return n.client.do(ctx, http.MethodPost, "/processes/"+escape(processID)+"/signatures", req, "Failed to submit signature to NDX")
}
