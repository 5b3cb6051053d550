package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/slhuckstead/accountmap/internal/models"
)

// ErrRemote is returned when the collaborator answers with a failure.
var ErrRemote = errors.New("collaborator reported failure")

const dateLayout = "2006-01-02"

// RequestMessage is sent to the collaborator on requests/{action}
type RequestMessage struct {
	RequestID string                 `json:"request_id"`
	Action    string                 `json:"action"`
	Params    map[string]interface{} `json:"params"`
}

// ResponseMessage is received on responses/{request_id}
type ResponseMessage struct {
	RequestID string          `json:"request_id"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *ErrorDetail    `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type syncData struct {
	Status    string `json:"status"`
	Processed int    `json:"processed"`
	Message   string `json:"message"`
}

// Requester performs request/response calls over the broker.
type Requester struct {
	publisher *Publisher
}

func NewRequester(publisher *Publisher) *Requester {
	return &Requester{publisher: publisher}
}

// Synchronize asks the collaborator to process a date range and waits for
// its answer until ctx ends.
func (r *Requester) Synchronize(ctx context.Context, req models.SyncRequest) (*models.SyncResult, error) {
	if !r.publisher.IsConnected() {
		return nil, ErrNotConnected
	}

	resp, err := r.call(ctx, &RequestMessage{
		RequestID: req.RequestID,
		Action:    ActionSync,
		Params: map[string]interface{}{
			"startDate": req.StartDate.Format(dateLayout),
			"endDate":   req.EndDate.Format(dateLayout),
		},
	})
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		code := "unknown"
		if resp.Error != nil {
			code = resp.Error.Code
		}
		return nil, fmt.Errorf("%w: %s", ErrRemote, code)
	}

	var data syncData
	if len(resp.Data) > 0 && string(resp.Data) != "null" {
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to parse response data: %w", err)
		}
	}
	return &models.SyncResult{
		RequestID: req.RequestID,
		Status:    data.Status,
		Processed: data.Processed,
		Message:   data.Message,
	}, nil
}

func (r *Requester) call(ctx context.Context, req *RequestMessage) (*ResponseMessage, error) {
	client := r.publisher.Client()
	topic := ResponseTopic(req.RequestID)
	answers := make(chan *ResponseMessage, 1)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		var resp ResponseMessage
		if err := json.Unmarshal(msg.Payload(), &resp); err != nil {
			log.Printf("[requester] Failed to parse response on %s: %v", msg.Topic(), err)
			return
		}
		select {
		case answers <- &resp:
		default:
		}
	}

	if err := wait(ctx, client.Subscribe(topic, 1, handler)); err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	defer client.Unsubscribe(topic)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if err := r.publisher.PublishRaw(RequestTopic(req.Action), payload); err != nil {
		return nil, err
	}
	log.Printf("[requester] Sent %s request %s", req.Action, req.RequestID)

	select {
	case resp := <-answers:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
