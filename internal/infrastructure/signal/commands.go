package signal

import (
	"context"
	"encoding/json"
	"fmt"

	"talkmix/internal/core/domain"
	"talkmix/internal/core/ports"
	apperrors "talkmix/pkg/errors"
)

// Command is one control request received on the command channel.
type Command struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is everything the server sends: command results, errors and
// session events.
type Message struct {
	ID      string        `json:"id,omitempty"`
	Type    string        `json:"type"`
	Command string        `json:"command,omitempty"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *ErrorPayload `json:"error,omitempty"`
	Event   *domain.Event `json:"event,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	MessageResult = "result"
	MessageError  = "error"
	MessageEvent  = "event"
)

type streamPayload struct {
	StreamID domain.StreamID `json:"stream_id"`
	Title    string          `json:"title,omitempty"`
}

type statusPayload struct {
	StreamID domain.StreamID `json:"stream_id"`
	Audio    bool            `json:"audio"`
	Video    bool            `json:"video"`
}

type blindPayload struct {
	StreamID domain.StreamID  `json:"stream_id"`
	Blinded  bool             `json:"blinded"`
	Mode     domain.BlindMode `json:"mode"`
}

type speakerPayload struct {
	StreamID domain.StreamID `json:"stream_id"`
	Mode     string          `json:"mode"`
}

type layoutPayload struct {
	Layout     domain.LayoutKind `json:"layout"`
	MaxVisible int               `json:"max_visible"`
}

type togglePayload struct {
	Enabled bool `json:"enabled"`
}

type titlePayload struct {
	Title string `json:"title"`
}

type sinkPayload struct {
	Sink  domain.SinkHandle `json:"sink,omitempty"`
	Group domain.SinkHandle `json:"group,omitempty"`
	Spec  domain.SinkSpec   `json:"spec"`
}

type handlerFunc func(ctx context.Context, control ports.ControlService, payload json.RawMessage) (interface{}, error)

func decode(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 || string(payload) == "null" {
		return fmt.Errorf("%w: payload is required", domain.ErrInvalidParameters)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err)
	}
	return nil
}

func requireStream(id domain.StreamID) error {
	if id == "" {
		return fmt.Errorf("%w: stream_id is required", domain.ErrInvalidParameters)
	}
	return nil
}

var handlers = map[string]handlerFunc{
	"start": func(ctx context.Context, c ports.ControlService, _ json.RawMessage) (interface{}, error) {
		return nil, c.Start(ctx)
	},
	"stop": func(ctx context.Context, c ports.ControlService, _ json.RawMessage) (interface{}, error) {
		return c.Stop(ctx)
	},
	"add_stream": func(ctx context.Context, c ports.ControlService, raw json.RawMessage) (interface{}, error) {
		var p streamPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return nil, c.AddStream(ctx, p.StreamID, p.Title)
	},
	"remove_stream": func(ctx context.Context, c ports.ControlService, raw json.RawMessage) (interface{}, error) {
		var p streamPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return nil, c.RemoveStream(ctx, p.StreamID)
	},
	"set_status": func(ctx context.Context, c ports.ControlService, raw json.RawMessage) (interface{}, error) {
		var p statusPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return nil, c.SetStatus(ctx, p.StreamID, p.Audio, p.Video)
	},
	"set_stream_title": func(ctx context.Context, c ports.ControlService, raw json.RawMessage) (interface{}, error) {
		var p streamPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		if err := requireStream(p.StreamID); err != nil {
			return nil, err
		}
		return nil, c.SetStreamTitle(ctx, p.StreamID, p.Title)
	},
	"set_blind": func(ctx context.Context, c ports.ControlService, raw json.RawMessage) (interface{}, error) {
		var p blindPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return nil, c.SetBlind(ctx, p.StreamID, p.Blinded, p.Mode)
	},
	"set_title": func(ctx context.Context, c ports.ControlService, raw json.RawMessage) (interface{}, error) {
		var p titlePayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return nil, c.SetTitle(ctx, p.Title)
	},
	"show_title": func(ctx context.Context, c ports.ControlService, raw json.RawMessage) (interface{}, error) {
		var p togglePayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return nil, c.ShowTitle(ctx, p.Enabled)
	},
	"show_stream_titles": func(ctx context.Context, c ports.ControlService, raw json.RawMessage) (interface{}, error) {
		var p togglePayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return nil, c.ShowStreamTitles(ctx, p.Enabled)
	},
	"enable_clock": func(ctx context.Context, c ports.ControlService, raw json.RawMessage) (interface{}, error) {
		var p togglePayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return nil, c.EnableClock(ctx, p.Enabled)
	},
	"set_speaker": func(ctx context.Context, c ports.ControlService, raw json.RawMessage) (interface{}, error) {
		var p speakerPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		mode, err := domain.ParseSpeakerMode(p.Mode)
		if err != nil {
			return nil, err
		}
		return nil, c.SetSpeaker(ctx, p.StreamID, mode)
	},
	"unset_speaker": func(ctx context.Context, c ports.ControlService, _ json.RawMessage) (interface{}, error) {
		return nil, c.UnsetSpeaker(ctx)
	},
	"set_layout": func(ctx context.Context, c ports.ControlService, raw json.RawMessage) (interface{}, error) {
		var p layoutPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return nil, c.SetLayout(ctx, p.Layout, p.MaxVisible)
	},
	"add_sink": func(ctx context.Context, c ports.ControlService, raw json.RawMessage) (interface{}, error) {
		var p sinkPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		handle, err := c.AddSink(ctx, p.Spec)
		if err != nil {
			return nil, err
		}
		return map[string]domain.SinkHandle{"sink": handle}, nil
	},
	"remove_sink": func(ctx context.Context, c ports.ControlService, raw json.RawMessage) (interface{}, error) {
		var p sinkPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return nil, c.RemoveSink(ctx, p.Sink)
	},
	"add_sink_child": func(ctx context.Context, c ports.ControlService, raw json.RawMessage) (interface{}, error) {
		var p sinkPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		handle, err := c.AddSinkChild(ctx, p.Group, p.Spec)
		if err != nil {
			return nil, err
		}
		return map[string]domain.SinkHandle{"sink": handle}, nil
	},
	"remove_sink_child": func(ctx context.Context, c ports.ControlService, raw json.RawMessage) (interface{}, error) {
		var p sinkPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return nil, c.RemoveSinkChild(ctx, p.Group, p.Sink)
	},
	"get_plan": func(_ context.Context, c ports.ControlService, _ json.RawMessage) (interface{}, error) {
		return c.Plan(), nil
	},
	"get_streams": func(_ context.Context, c ports.ControlService, _ json.RawMessage) (interface{}, error) {
		return c.Streams(), nil
	},
	"get_sinks": func(_ context.Context, c ports.ControlService, _ json.RawMessage) (interface{}, error) {
		return c.Sinks(), nil
	},
	"get_metrics": func(_ context.Context, c ports.ControlService, _ json.RawMessage) (interface{}, error) {
		return c.Metrics(), nil
	},
}

// Execute runs one command against the session and builds the reply.
func Execute(ctx context.Context, control ports.ControlService, cmd Command) Message {
	handler, ok := handlers[cmd.Type]
	if !ok {
		return errorMessage(cmd, apperrors.NewInvalidInputError(fmt.Sprintf("unknown command type %q", cmd.Type)))
	}

	result, err := handler(ctx, control, cmd.Payload)
	if err != nil {
		return errorMessage(cmd, apperrors.FromDomain(err))
	}
	return Message{ID: cmd.ID, Type: MessageResult, Command: cmd.Type, Result: result}
}

func errorMessage(cmd Command, appErr *apperrors.AppError) Message {
	message := appErr.Message
	if appErr.Code == apperrors.ErrCodeInternal {
		message = "internal error"
	}
	return Message{
		ID:      cmd.ID,
		Type:    MessageError,
		Command: cmd.Type,
		Error:   &ErrorPayload{Code: string(appErr.Code), Message: message},
	}
}
