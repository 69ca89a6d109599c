package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"tubesearch/apps/backend/internal/adapter/youtube"
	"tubesearch/apps/backend/internal/config"
	"tubesearch/apps/backend/internal/ingest"
	"tubesearch/apps/backend/internal/middleware"
	"tubesearch/apps/backend/internal/transcript"
	"tubesearch/apps/backend/internal/worker"
)

type Searcher interface {
	Search(ctx context.Context, query string) (*transcript.Match, error)
}

type TranscriptSource interface {
	FetchTranscript(ctx context.Context, videoRef string) (string, error)
}

type Publisher interface {
	Publish(topic string, body []byte) error
}

const noMatchMessage = "No similar video found."

type Handler struct {
	searcher        Searcher
	transcripts     TranscriptSource
	pub             Publisher
	channelDefaults ingest.ChannelOptions
	sessions        map[string]chan string // sessionId -> serialized JSON-RPC responses
	sessionsLock    sync.RWMutex
}

func NewHandler(s Searcher, t TranscriptSource, p Publisher, channelDefaults ingest.ChannelOptions) *Handler {
	return &Handler{
		searcher:        s,
		transcripts:     t,
		pub:             p,
		channelDefaults: channelDefaults,
		sessions:        make(map[string]chan string),
	}
}

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type SearchArgs struct {
	Query string `json:"query"`
}

type TranscriptArgs struct {
	URL string `json:"url"`
}

type IngestChannelArgs struct {
	ChannelID    string `json:"channel_id"`
	MaxNewVideos int    `json:"max_new_videos,omitempty"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

func stringProp(description string) map[string]string {
	return map[string]string{"type": "string", "description": description}
}

var tools = []Tool{
	{
		Name:        "search_similar_video",
		Description: "Embeds the query and returns the single stored transcript chunk closest to it, with the video URL and similarity score.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"query": stringProp("Free-text search query")},
			"required":   []string{"query"},
		},
	},
	{
		Name:        "get_transcript",
		Description: "Returns the full caption text of a YouTube video. Accepts a watch URL, short URL or bare video ID.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"url": stringProp("YouTube video URL or ID")},
			"required":   []string{"url"},
		},
	},
	{
		Name:        "ingest_channel",
		Description: "Queues a channel for ingestion. The newest videos with nothing stored yet are segmented, embedded and stored in the background.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"channel_id": stringProp("YouTube channel ID"),
				"max_new_videos": map[string]interface{}{
					"type":        "integer",
					"description": "How many new videos to ingest (default 3)",
					"minimum":     1,
				},
			},
			"required": []string{"channel_id"},
		},
	},
}

// processRequest returns nil when no response should be sent (notifications).
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "tubesearch-mcp",
					"version": "1.0.0",
				},
			},
		}
	case "notifications/initialized":
		return nil
	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: tools}}
	case "tools/call":
		var params CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
			return &resp
		}
		return h.callTool(ctx, req.ID, params)
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
	return &resp
}

func (h *Handler) callTool(ctx context.Context, id interface{}, params CallParams) *JSONRPCResponse {
	slog.InfoContext(ctx, "tool call received", "tool", params.Name)

	switch params.Name {
	case "search_similar_video":
		var args SearchArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil || args.Query == "" {
			resp := makeErrorResponse(id, ErrInvalidParams, "query is required")
			return &resp
		}
		return h.searchSimilarVideo(ctx, id, args)

	case "get_transcript":
		var args TranscriptArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil || args.URL == "" {
			resp := makeErrorResponse(id, ErrInvalidParams, "url is required")
			return &resp
		}
		return h.getTranscript(ctx, id, args)

	case "ingest_channel":
		var args IngestChannelArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil || args.ChannelID == "" {
			resp := makeErrorResponse(id, ErrInvalidParams, "channel_id is required")
			return &resp
		}
		return h.ingestChannel(ctx, id, args)
	}

	slog.WarnContext(ctx, "tool not found", "tool", params.Name)
	resp := makeErrorResponse(id, ErrMethodNotFound, "Method not found: "+params.Name)
	return &resp
}

// searchSimilarVideo answers with the match as JSON text, or an {"error": ...}
// object when nothing is stored or the lookup fails.
func (h *Handler) searchSimilarVideo(ctx context.Context, id interface{}, args SearchArgs) *JSONRPCResponse {
	match, err := h.searcher.Search(ctx, args.Query)
	if err != nil {
		if errors.Is(err, transcript.ErrNotFound) {
			return jsonResult(id, map[string]string{"error": noMatchMessage}, false)
		}
		slog.ErrorContext(ctx, "search_similar_video failed", "error", err)
		return jsonResult(id, map[string]string{"error": err.Error()}, true)
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", "search_similar_video", "video_id", match.SourceID, "score", match.Score)
	return jsonResult(id, match, false)
}

func (h *Handler) getTranscript(ctx context.Context, id interface{}, args TranscriptArgs) *JSONRPCResponse {
	videoID, err := youtube.ParseVideoID(args.URL)
	if err != nil {
		resp := makeErrorResponse(id, ErrInvalidParams, err.Error())
		return &resp
	}

	text, err := h.transcripts.FetchTranscript(ctx, videoID)
	if err != nil {
		slog.ErrorContext(ctx, "get_transcript failed", "video_id", videoID, "error", err)
		return textResult(id, fmt.Sprintf("Error: transcript for video %s is unavailable: %v", videoID, err), true)
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", "get_transcript", "video_id", videoID, "chars", len(text))
	return textResult(id, text, false)
}

func (h *Handler) ingestChannel(ctx context.Context, id interface{}, args IngestChannelArgs) *JSONRPCResponse {
	opts := h.channelDefaults
	if args.MaxNewVideos > 0 {
		opts.MaxNewVideos = args.MaxNewVideos
	}

	body, err := json.Marshal(worker.ChannelTask{
		ChannelID:     args.ChannelID,
		Options:       &opts,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		resp := makeErrorResponse(id, ErrInternal, err.Error())
		return &resp
	}
	if err := h.pub.Publish(config.TopicIngestChannel, body); err != nil {
		slog.ErrorContext(ctx, "ingest_channel publish failed", "channel_id", args.ChannelID, "error", err)
		return textResult(id, "Error: failed to queue channel: "+err.Error(), true)
	}

	return textResult(id, fmt.Sprintf("Channel %s queued for ingestion (up to %d new videos).", args.ChannelID, opts.MaxNewVideos), false)
}

func textResult(id interface{}, text string, isError bool) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: ToolResult{
			Content: []ToolContent{{Type: "text", Text: text}},
			IsError: isError,
		},
	}
}

func jsonResult(id interface{}, v interface{}, isError bool) *JSONRPCResponse {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return textResult(id, "Error marshalling results", true)
	}
	return textResult(id, string(b), isError)
}

func makeErrorResponse(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

// ServeHTTP answers a single JSON-RPC request synchronously (POST /mcp).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.InfoContext(r.Context(), "mcp request received", "method", r.Method, "path", r.URL.Path)

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, nil, ErrParse, "Parse error")
		return
	}

	resp := h.processRequest(r.Context(), req)
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode mcp response", "error", err)
	}
}

// HandleSSE opens an SSE session (GET /mcp/sse). Responses to messages posted
// to the advertised endpoint are streamed back on it.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sessionID := uuid.New().String()
	msgChan := make(chan string, 100)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		close(msgChan)
		h.sessionsLock.Unlock()
		slog.Info("sse session ended", "session_id", sessionID)
	}()

	slog.Info("sse session started", "session_id", sessionID)

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleMessage accepts a JSON-RPC request for an open SSE session
// (POST /mcp/messages?sessionId=) and answers on the stream.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		h.writeHTTPError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId", correlationID)
		return
	}

	h.sessionsLock.RLock()
	_, exists := h.sessions[sessionID]
	h.sessionsLock.RUnlock()
	if !exists {
		h.writeHTTPError(w, http.StatusNotFound, "NOT_FOUND", "Session not found", correlationID)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeHTTPError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON", correlationID)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	ctx := context.WithoutCancel(r.Context())
	go func() {
		resp := h.processRequest(ctx, req)
		if resp == nil {
			return
		}
		respBytes, err := json.Marshal(resp)
		if err != nil {
			slog.ErrorContext(ctx, "failed to marshal response", "error", err)
			return
		}
		h.deliver(ctx, sessionID, string(respBytes))
	}()
}

// deliver holds the read lock while sending so the session cannot be closed
// underneath it.
func (h *Handler) deliver(ctx context.Context, sessionID, msg string) {
	h.sessionsLock.RLock()
	defer h.sessionsLock.RUnlock()

	msgChan, ok := h.sessions[sessionID]
	if !ok {
		slog.WarnContext(ctx, "session closed before response", "session_id", sessionID)
		return
	}
	select {
	case msgChan <- msg:
	default:
		slog.WarnContext(ctx, "session channel full, dropping message", "session_id", sessionID)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := makeErrorResponse(id, code, message)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode mcp error", "error", err)
	}
}

func (h *Handler) writeHTTPError(w http.ResponseWriter, status int, code, message, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"correlationId": correlationID,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
