package core

import (
	"context"
	"encoding/json"
	"fmt"
)

// Call invokes method with in encoded as JSON and decodes the reply into out.
// out may be nil when the reply is ignored.
func Call(ctx context.Context, c Client, method string, in, out any) error {
	var args json.RawMessage
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s arguments: %w", method, err)
		}
		args = raw
	}
	reply, err := c.Invoke(ctx, method, args)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(reply, out); err != nil {
		return fmt.Errorf("decode %s reply: %w", method, err)
	}
	return nil
}

// ListRepos returns the workflow template repositories.
func ListRepos(ctx context.Context, c Client) (*ListReposReply, error) {
	var reply ListReposReply
	if err := Call(ctx, c, "ListRepos", nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// DefaultRepo returns the repository marked as default.
func DefaultRepo(repos []Repo) (Repo, error) {
	for _, r := range repos {
		if r.Default {
			return r, nil
		}
	}
	return Repo{}, ErrNoDefaultRepo
}

// NewEnvironment asks the core to create an environment and waits for the
// core to report the outcome.
func NewEnvironment(ctx context.Context, c Client, req NewEnvironmentRequest) (*NewEnvironmentReply, error) {
	var reply NewEnvironmentReply
	if err := Call(ctx, c, "NewEnvironment", req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// NewAutoEnvironment starts an auto environment; progress arrives on the
// event stream of req.ID.
func NewAutoEnvironment(ctx context.Context, c Client, req NewAutoEnvironmentRequest) error {
	return Call(ctx, c, "NewAutoEnvironment", req, nil)
}

// GetFrameworkInfo returns the core's framework metadata.
func GetFrameworkInfo(ctx context.Context, c Client) (FrameworkInfo, error) {
	info := FrameworkInfo{}
	if err := Call(ctx, c, "GetFrameworkInfo", nil, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// GetIntegratedServices returns the auxiliary services known to the core.
func GetIntegratedServices(ctx context.Context, c Client) (map[string]any, error) {
	services := map[string]any{}
	if err := Call(ctx, c, "GetIntegratedServices", nil, &services); err != nil {
		return nil, err
	}
	return services, nil
}
