package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/woodwosj/OdooDevMCP/pkg/audit"
	"github.com/woodwosj/OdooDevMCP/pkg/settings"
)

const receiverLogPrefix = "tools:receiver"

// RegisterReceiverInput holds register_receiver arguments.
type RegisterReceiverInput struct {
	ReceiverURL string `json:"receiver_url"`
}

// RegisterReceiverOutput is the register_receiver result payload.
type RegisterReceiverOutput struct {
	Success           bool   `json:"success"`
	ServerID          string `json:"server_id"`
	URLStored         string `json:"url_stored"`
	RegistrationSent  bool   `json:"registration_sent"`
	HeartbeatSchedule string `json:"heartbeat_schedule"`
}

// RegisterReceiver points this server at a fleet receiver: the
// normalized base URL is persisted so heartbeats survive restarts,
// then an immediate registration is attempted. A failed attempt still
// succeeds overall since the heartbeat loop retries on schedule.
func (s *Service) RegisterReceiver(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in RegisterReceiverInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	baseURL, err := normalizeReceiverURL(in.ReceiverURL)
	if err != nil {
		return nil, err
	}

	if err := s.settings.Set(ctx, settings.KeyPhoneHomeURL, baseURL); err != nil {
		return nil, Executionf("store receiver URL: %v", err)
	}
	slog.Info(fmt.Sprintf("%s - Receiver URL stored: %s", receiverLogPrefix, baseURL))

	sent := false
	serverID := ""
	if s.registrar != nil {
		serverID = s.registrar.ServerID()
		if err := s.registrar.Register(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - Immediate registration failed: %v", receiverLogPrefix, err))
		} else {
			sent = true
		}
	}

	interval := s.settings.Seconds(ctx, settings.KeyHeartbeatInterval, 60*time.Second)

	return &Result{
		Data: RegisterReceiverOutput{
			Success:           true,
			ServerID:          serverID,
			URLStored:         baseURL,
			RegistrationSent:  sent,
			HeartbeatSchedule: fmt.Sprintf("every %d seconds", int(interval.Seconds())),
		},
		Audit: []audit.Field{
			audit.F("url", baseURL),
			audit.F("sent", fmt.Sprintf("%t", sent)),
		},
	}, nil
}

// normalizeReceiverURL validates the scheme and strips a trailing
// /register path plus any trailing slashes, leaving the receiver's
// base URL.
func normalizeReceiverURL(raw string) (string, error) {
	url := strings.TrimSpace(raw)
	if url == "" {
		return "", Validationf("receiver_url is required")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", Validationf("receiver_url must start with http:// or https://")
	}
	url = strings.TrimSuffix(url, "/register")
	url = strings.TrimRight(url, "/")
	if url == "http:/" || url == "https:/" || url == "http:" || url == "https:" {
		return "", Validationf("receiver_url has no host")
	}
	return url, nil
}
