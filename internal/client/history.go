package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dkeye/Classroom/internal/domain"
)

// HistoryClient reads persisted chat history over the REST API.
type HistoryClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

type historyResponse struct {
	Messages []domain.ChatMessage `json:"messages"`
	Code     string               `json:"code"`
	Error    string               `json:"error"`
}

func (h *HistoryClient) Recent(ctx context.Context, room domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	u := h.BaseURL + "/api/rooms/" + url.PathEscape(string(room)) + "/history?limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+h.Token)
	hc := h.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransportDisconnected, err)
	}
	defer resp.Body.Close()

	var body historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history %s: %s: %w", room, body.Error, domain.FromCode(body.Code))
	}
	return body.Messages, nil
}
