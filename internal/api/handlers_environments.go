// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/ManuGH/cogate/internal/audit"
	"github.com/ManuGH/cogate/internal/bridge"
	"github.com/ManuGH/cogate/internal/core"
	"github.com/ManuGH/cogate/internal/log"
	"github.com/ManuGH/cogate/internal/normalize"
	"github.com/ManuGH/cogate/internal/notify"
	"github.com/google/uuid"
)

// Operation labels carried by the bridged streams.
const (
	OpCleanResources = "clean-resources-action"
	OpROCConfig      = "o2-roc-config"
)

var errNoHostSource = errors.New("no host source configured")

type cleanResourcesRequest struct {
	ChannelID string `json:"channelId"`
}

type autoEnvironmentRequest struct {
	ChannelID string   `json:"channelId"`
	Hosts     []string `json:"hosts"`
}

// handleCleanResources runs the resources-cleanup workflow on every known
// host. The reply only confirms the start; progress arrives on the channel.
func (s *Server) handleCleanResources(w http.ResponseWriter, r *http.Request) {
	if !s.checkMutation(w, r, OpCleanResources) {
		return
	}
	var req cleanResourcesRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidation(w, r, err.Error())
		return
	}
	if req.ChannelID == "" {
		req.ChannelID = uuid.NewString()
	}

	err := s.startAuto(r.Context(), req.ChannelID, "workflows/resources-cleanup", OpCleanResources, func(ctx context.Context) ([]string, error) {
		if s.deps.Hosts == nil {
			return nil, errNoHostSource
		}
		return s.deps.Hosts.Hosts(ctx)
	})
	if err != nil {
		s.audit.AuxiliaryStarted(r.Context(), OpCleanResources, req.ChannelID, audit.ResultFailure)
		writeAutoFailure(w, r, req.ChannelID, OpCleanResources, err)
		return
	}
	s.audit.AuxiliaryStarted(r.Context(), OpCleanResources, req.ChannelID, audit.ResultSuccess)
	writeJSON(w, http.StatusOK, notify.Accepted(req.ChannelID,
		`Request for "Cleaning Resources" was successfully sent and in progress`))
}

// handleAutoEnvironment runs the o2-roc-config workflow on the given hosts.
func (s *Server) handleAutoEnvironment(w http.ResponseWriter, r *http.Request) {
	if !s.checkMutation(w, r, OpROCConfig) {
		return
	}
	var req autoEnvironmentRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidation(w, r, err.Error())
		return
	}
	req.Hosts = normalize.Hosts(req.Hosts)
	switch {
	case req.ChannelID == "":
		writeJSON(w, http.StatusBadRequest, notify.Failed("", "Channel ID should be provided"))
		return
	case len(req.Hosts) == 0:
		writeJSON(w, http.StatusBadRequest, notify.Failed(req.ChannelID, "List of Hosts should be provided"))
		return
	}

	err := s.startAuto(r.Context(), req.ChannelID, "workflows/"+OpROCConfig, OpROCConfig, func(context.Context) ([]string, error) {
		return req.Hosts, nil
	})
	if err != nil {
		s.audit.AuxiliaryStarted(r.Context(), OpROCConfig, req.ChannelID, audit.ResultFailure)
		writeAutoFailure(w, r, req.ChannelID, OpROCConfig, err)
		return
	}
	s.audit.AuxiliaryStarted(r.Context(), OpROCConfig, req.ChannelID, audit.ResultSuccess)
	writeJSON(w, http.StatusOK, notify.Accepted(req.ChannelID,
		fmt.Sprintf("Request for %q was successfully sent and is now in progress", OpROCConfig)))
}

// startAuto resolves the hosts and the default repository, opens the event
// stream and only then starts the workflow, so no early event is missed.
func (s *Server) startAuto(ctx context.Context, channelID, workflow, op string, hosts func(context.Context) ([]string, error)) error {
	list, err := hosts(ctx)
	if err != nil {
		return fmt.Errorf("list hosts: %w", err)
	}
	encoded, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode hosts: %w", err)
	}

	repo, err := s.defaultRepo(ctx)
	if err != nil {
		return err
	}
	if repo.DefaultRevision == "" {
		return fmt.Errorf("unable to find a default revision for repository: %s", repo.Name)
	}

	if err := s.deps.Bridge.Watch(ctx, channelID, op); err != nil {
		return err
	}
	err = s.deps.Dispatcher.StartAutoEnvironment(ctx, core.NewAutoEnvironmentRequest{
		ID:               channelID,
		WorkflowTemplate: path.Join(repo.Name, workflow+"@"+repo.DefaultRevision),
		Vars:             map[string]string{"hosts": string(encoded)},
	})
	if err != nil {
		// Nothing will ever arrive on the channel; free it for a retry.
		s.deps.Bridge.Stop(channelID)
	}
	return err
}

func writeAutoFailure(w http.ResponseWriter, r *http.Request, channelID, op string, err error) {
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Warn().Err(err).
		Str(log.FieldEvent, "auto.start_failed").
		Str(log.FieldChannelID, channelID).
		Str(log.FieldOperation, op).
		Msg("auxiliary operation did not start")

	code := http.StatusBadGateway
	if errors.Is(err, bridge.ErrChannelInUse) {
		code = http.StatusConflict
	}
	writeJSON(w, code, notify.Failed(channelID, err.Error()))
}
