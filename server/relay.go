package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
)

// Data type names accepted by the aggregated fetch.
const (
	TypeRecovery = "recovery"
	TypeSleep    = "sleep"
	TypeWorkout  = "workout"
	TypeCycle    = "cycle"
	TypeProfile  = "profile"
	TypeBody     = "body_measurement"
)

// AllDataTypes is the default aggregated fetch selection.
var AllDataTypes = []string{TypeRecovery, TypeSleep, TypeWorkout, TypeCycle, TypeProfile, TypeBody}

// Relay forwards authenticated requests to the WHOOP resource endpoints. It
// performs no retries and no caching; each call is independent.
type Relay struct {
	tokens *TokenManager
	whoop  *WhoopClient
	logger *slog.Logger
}

// NewRelay constructs a Relay.
func NewRelay(tokens *TokenManager, whoop *WhoopClient, logger *slog.Logger) *Relay {
	return &Relay{tokens: tokens, whoop: whoop, logger: logger}
}

// FetchAll retrieves the requested data types in one pass. A failure on one
// resource leaves that entry empty and the siblings intact; the response
// shape does not distinguish "empty" from "fetch failed".
func (r *Relay) FetchAll(ctx context.Context, userID string, types []string, query url.Values) (DataResponse, error) {
	token, err := r.tokens.AccessToken(ctx, userID)
	if err != nil {
		return DataResponse{}, err
	}

	out := DataResponse{
		Recovery: []json.RawMessage{},
		Sleep:    []json.RawMessage{},
		Workouts: []json.RawMessage{},
		Cycles:   []json.RawMessage{},
	}

	for _, t := range types {
		switch strings.ToLower(strings.TrimSpace(t)) {
		case TypeRecovery:
			out.Recovery = r.records(ctx, token, PathRecovery, query)
		case TypeSleep:
			out.Sleep = r.records(ctx, token, PathSleep, query)
		case TypeWorkout:
			out.Workouts = r.records(ctx, token, PathWorkout, query)
		case TypeCycle:
			out.Cycles = r.records(ctx, token, PathCycle, query)
		case TypeProfile:
			out.Profile = r.object(ctx, token, PathProfile)
		case TypeBody:
			out.BodyMeasurement = r.object(ctx, token, PathBody)
		}
	}

	return out, nil
}

// FetchResource relays a single collection endpoint, passing the upstream
// response document through unmodified.
func (r *Relay) FetchResource(ctx context.Context, userID, path string, query url.Values) (json.RawMessage, error) {
	token, err := r.tokens.AccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.whoop.FetchRaw(ctx, token, path, query)
}

func (r *Relay) records(ctx context.Context, token, path string, query url.Values) []json.RawMessage {
	records, err := r.whoop.FetchRecords(ctx, token, path, query)
	if err != nil {
		r.logger.Warn("resource fetch failed", "path", path, "error", err)
		return []json.RawMessage{}
	}
	return records
}

func (r *Relay) object(ctx context.Context, token, path string) json.RawMessage {
	doc, err := r.whoop.FetchObject(ctx, token, path)
	if err != nil {
		r.logger.Warn("resource fetch failed", "path", path, "error", err)
		return nil
	}
	return doc
}
