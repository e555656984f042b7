package game

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wire message types.
const (
	TypeJoin            = "join"
	TypeMove            = "move"
	TypeRematchRequest  = "rematch_request"
	TypeRematchResponse = "rematch_response"
	TypeSync            = "sync"

	TypeGameUpdate    = "game_update"
	TypeBalanceUpdate = "balance_update"
	TypeError         = "error"
)

// Envelope is the frame every message travels in.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ClientMessageHandler has one method per client message kind. Adding a kind
// means adding a method here, so every handler fails to compile until it
// deals with it.
type ClientMessageHandler interface {
	HandleJoin(ctx context.Context, player uuid.UUID, msg *Join) error
	HandleMove(ctx context.Context, player uuid.UUID, msg *MoveRequest) error
	HandleRematchRequest(ctx context.Context, player uuid.UUID, msg *RematchRequest) error
	HandleRematchResponse(ctx context.Context, player uuid.UUID, msg *RematchResponse) error
	HandleSync(ctx context.Context, player uuid.UUID, msg *SyncRequest) error
}

// ClientMessage is a decoded client frame. The set of implementations is
// closed to this package.
type ClientMessage interface {
	GameID() uuid.UUID
	Dispatch(ctx context.Context, player uuid.UUID, h ClientMessageHandler) error
	validate() error
}

// Join announces that the player is ready in the match.
type Join struct {
	Game uuid.UUID `json:"game_id"`
}

// MoveRequest asks to reveal a cell.
type MoveRequest struct {
	Game     uuid.UUID  `json:"game_id"`
	PlayerID *uuid.UUID `json:"player_id,omitempty"`
	Cell     *Cell      `json:"cell"`
}

// RematchRequest asks for another round on a finished match.
type RematchRequest struct {
	Game      uuid.UUID  `json:"game_id"`
	Requester *uuid.UUID `json:"requester,omitempty"`
}

// RematchResponse is a vote in an open rematch negotiation.
type RematchResponse struct {
	Game        uuid.UUID  `json:"game_id"`
	PlayerID    *uuid.UUID `json:"player_id,omitempty"`
	WantRematch *bool      `json:"want_rematch"`
}

// SyncRequest asks for the full current state of the match.
type SyncRequest struct {
	Game uuid.UUID `json:"game_id"`
}

func (m *Join) GameID() uuid.UUID            { return m.Game }
func (m *MoveRequest) GameID() uuid.UUID     { return m.Game }
func (m *RematchRequest) GameID() uuid.UUID  { return m.Game }
func (m *RematchResponse) GameID() uuid.UUID { return m.Game }
func (m *SyncRequest) GameID() uuid.UUID     { return m.Game }

func (m *Join) Dispatch(ctx context.Context, player uuid.UUID, h ClientMessageHandler) error {
	return h.HandleJoin(ctx, player, m)
}

func (m *MoveRequest) Dispatch(ctx context.Context, player uuid.UUID, h ClientMessageHandler) error {
	if err := sameIdentity(m.PlayerID, player); err != nil {
		return err
	}
	return h.HandleMove(ctx, player, m)
}

func (m *RematchRequest) Dispatch(ctx context.Context, player uuid.UUID, h ClientMessageHandler) error {
	if err := sameIdentity(m.Requester, player); err != nil {
		return err
	}
	return h.HandleRematchRequest(ctx, player, m)
}

func (m *RematchResponse) Dispatch(ctx context.Context, player uuid.UUID, h ClientMessageHandler) error {
	if err := sameIdentity(m.PlayerID, player); err != nil {
		return err
	}
	return h.HandleRematchResponse(ctx, player, m)
}

func (m *SyncRequest) Dispatch(ctx context.Context, player uuid.UUID, h ClientMessageHandler) error {
	return h.HandleSync(ctx, player, m)
}

func (m *Join) validate() error           { return nil }
func (m *RematchRequest) validate() error { return nil }
func (m *SyncRequest) validate() error    { return nil }

func (m *MoveRequest) validate() error {
	if m.Cell == nil {
		return fmt.Errorf("%w: move without cell", ErrMalformedMessage)
	}
	return nil
}

func (m *RematchResponse) validate() error {
	if m.WantRematch == nil {
		return fmt.Errorf("%w: rematch response without want_rematch", ErrMalformedMessage)
	}
	return nil
}

// sameIdentity rejects frames that claim to act for someone other than the
// authenticated player.
func sameIdentity(claimed *uuid.UUID, player uuid.UUID) error {
	if claimed != nil && *claimed != player {
		return fmt.Errorf("%w: connection of %s cannot act for %s", ErrUnknownPlayer, player, *claimed)
	}
	return nil
}

// DecodeClientMessage parses a client frame. Anything it cannot make sense
// of is reported as ErrMalformedMessage.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}

	switch env.Type {
	case TypeJoin:
		return decodePayload(env, &Join{})
	case TypeMove:
		return decodePayload(env, &MoveRequest{})
	case TypeRematchRequest:
		return decodePayload(env, &RematchRequest{})
	case TypeRematchResponse:
		return decodePayload(env, &RematchResponse{})
	case TypeSync:
		return decodePayload(env, &SyncRequest{})
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrMalformedMessage, env.Type)
	}
}

func decodePayload[T ClientMessage](env Envelope, msg T) (ClientMessage, error) {
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: %s without payload", ErrMalformedMessage, env.Type)
	}
	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %s", ErrMalformedMessage, env.Type, err)
	}
	if msg.GameID() == uuid.Nil {
		return nil, fmt.Errorf("%w: %s without game_id", ErrMalformedMessage, env.Type)
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// ServerMessage is a frame sent to clients.
type ServerMessage interface {
	MessageType() string
}

// GameUpdate carries the match view after every accepted transition.
type GameUpdate struct {
	State MatchView `json:"state"`
}

// BalanceUpdate is sent once a settlement is confirmed.
type BalanceUpdate struct {
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

// ErrorMessage reports a rejected frame to its sender only.
type ErrorMessage struct {
	GameID  *uuid.UUID `json:"game_id,omitempty"`
	Code    string     `json:"code"`
	Message string     `json:"message"`
}

func (GameUpdate) MessageType() string    { return TypeGameUpdate }
func (BalanceUpdate) MessageType() string { return TypeBalanceUpdate }
func (ErrorMessage) MessageType() string  { return TypeError }

// NewErrorMessage builds the error frame for err.
func NewErrorMessage(gameID uuid.UUID, err error) ErrorMessage {
	msg := ErrorMessage{Code: ErrorCode(err), Message: err.Error()}
	if msg.Code == CodeInternal {
		msg.Message = "internal error"
	}
	if gameID != uuid.Nil {
		msg.GameID = &gameID
	}
	return msg
}

// EncodeServerMessage wraps msg in an envelope.
func EncodeServerMessage(msg ServerMessage) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", msg.MessageType(), err)
	}
	return json.Marshal(Envelope{Type: msg.MessageType(), Payload: payload})
}
