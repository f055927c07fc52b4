package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"kisanmitra.ai/assistant/internal/core"
	"kisanmitra.ai/assistant/internal/language"
	"kisanmitra.ai/assistant/internal/shell"
	"kisanmitra.ai/assistant/internal/store"
)

const (
	maxImageBytes   = 10 << 20
	govQueryLimit   = 50
	submittedNotice = "Your query has been submitted. A government official will respond shortly."
)

// GovStore is the persistence the Government Connect view needs.
type GovStore interface {
	CreateGovQuery(ctx context.Context, q *store.GovQuery) error
	GetGovQuery(ctx context.Context, id string) (*store.GovQuery, error)
	ListGovQueries(ctx context.Context, sessionID string, limit int) ([]store.GovQuery, error)
	ListAdvisories(ctx context.Context) ([]store.Advisory, error)
}

type Options struct {
	ChatRateLimit  rate.Limit
	ChatRateBurst  int
	AllowedOrigins []string
	// TrustProxy honours X-Forwarded-Proto when deciding whether a voice
	// client runs in a secure context.
	TrustProxy bool
}

type APIHandler struct {
	sessions   *shell.Manager
	chats      *core.ChatService
	gov        GovStore
	limiters   *sessionLimiters
	upgrader   websocket.Upgrader
	origins    map[string]bool
	trustProxy bool
	log        *zap.Logger
}

func NewAPIHandler(sessions *shell.Manager, chats *core.ChatService, gov GovStore, logger *zap.Logger, opts Options) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ChatRateLimit <= 0 {
		opts.ChatRateLimit = rate.Inf
	}
	if opts.ChatRateBurst < 1 {
		opts.ChatRateBurst = 1
	}
	h := &APIHandler{
		sessions:   sessions,
		chats:      chats,
		gov:        gov,
		limiters:   newSessionLimiters(opts.ChatRateLimit, opts.ChatRateBurst),
		origins:    make(map[string]bool, len(opts.AllowedOrigins)),
		trustProxy: opts.TrustProxy,
		log:        logger.Named("api"),
	}
	for _, o := range opts.AllowedOrigins {
		h.origins[strings.TrimRight(o, "/")] = true
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *APIHandler) LanguagesHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, language.All())
}

type SessionResponse struct {
	shell.State
	NavItems []shell.NavItem `json:"nav_items"`
}

func sessionResponse(sh *shell.Shell) SessionResponse {
	return SessionResponse{State: sh.State(), NavItems: shell.NavItems()}
}

type CreateSessionRequest struct {
	Language string `json:"language,omitempty"`
}

func (h *APIHandler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.Body != http.NoBody && r.ContentLength != 0 {
		if !h.decodeJSON(w, r, &req) {
			return
		}
	}
	if req.Language != "" {
		if _, ok := language.Lookup(req.Language); !ok {
			h.writeError(w, http.StatusBadRequest, "Unknown language "+req.Language)
			return
		}
	}

	sh := h.sessions.Create()
	if req.Language != "" {
		_ = sh.SetLanguage(req.Language)
	}
	sh.OnClose(func() { h.limiters.drop(sh.ID) })
	h.writeJSON(w, http.StatusCreated, sessionResponse(sh))
}

// session resolves {sessionID} or answers 404.
func (h *APIHandler) session(w http.ResponseWriter, r *http.Request) (*shell.Shell, bool) {
	sh, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Session not found")
		return nil, false
	}
	return sh, true
}

func (h *APIHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	sh, ok := h.session(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponse(sh))
}

func (h *APIHandler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(chi.URLParam(r, "sessionID")); err != nil {
		h.writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type SetLanguageRequest struct {
	Code string `json:"code"`
}

func (h *APIHandler) SetLanguageHandler(w http.ResponseWriter, r *http.Request) {
	sh, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SetLanguageRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if err := sh.SetLanguage(req.Code); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponse(sh))
}

type SetViewRequest struct {
	View string `json:"view"`
}

func (h *APIHandler) SetViewHandler(w http.ResponseWriter, r *http.Request) {
	sh, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SetViewRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if err := sh.SetView(shell.ViewType(req.View)); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponse(sh))
}

func (h *APIHandler) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, shell.BuildDashboard())
}

type GovConnectPage struct {
	Title              string            `json:"title"`
	Description        string            `json:"description"`
	QueryTypes         []store.QueryType `json:"query_types"`
	AdvisoriesTitle    string            `json:"advisories_title"`
	AdvisoriesSubtitle string            `json:"advisories_subtitle"`
	Advisories         []store.Advisory  `json:"advisories"`
}

// ViewHandler returns what a view needs to render.
func (h *APIHandler) ViewHandler(w http.ResponseWriter, r *http.Request) {
	view, err := shell.ParseView(chi.URLParam(r, "view"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "View not found")
		return
	}
	if cv, ok := shell.ChatViewFor(view); ok {
		h.writeJSON(w, http.StatusOK, cv)
		return
	}
	switch view {
	case shell.ViewGovConnect:
		advisories, err := h.gov.ListAdvisories(r.Context())
		if err != nil {
			h.log.Error("Error listing advisories", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "Failed to load advisories")
			return
		}
		h.writeJSON(w, http.StatusOK, GovConnectPage{
			Title:              "Submit a Query",
			Description:        "Raise complaints, request subsidies, or ask for scheme information.",
			QueryTypes:         store.QueryTypes(),
			AdvisoriesTitle:    "Government Advisories",
			AdvisoriesSubtitle: "Latest updates and alerts from agricultural authorities.",
			Advisories:         advisories,
		})
	default:
		h.writeJSON(w, http.StatusOK, shell.BuildDashboard())
	}
}

func (h *APIHandler) OpenConversationHandler(w http.ResponseWriter, r *http.Request) {
	conv, err := h.sessions.OpenConversation(chi.URLParam(r, "sessionID"))
	switch {
	case errors.Is(err, shell.ErrSessionNotFound):
		h.writeError(w, http.StatusNotFound, "Session not found")
		return
	case errors.Is(err, shell.ErrNotChatView), errors.Is(err, shell.ErrViewChanged):
		h.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.log.Error("Error opening conversation", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to open conversation")
		return
	}
	h.writeJSON(w, http.StatusCreated, conv.Snapshot())
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chats.Get(chi.URLParam(r, "conversationID"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	h.writeJSON(w, http.StatusOK, conv.Snapshot())
}

func (h *APIHandler) CloseConversationHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.chats.Close(chi.URLParam(r, "conversationID")); err != nil {
		h.writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type PostMessageRequest struct {
	Prompt string `json:"prompt"`
}

// PostMessageHandler sends one message and streams the conversation's
// changes back as server-sent events: a "message" event per snapshot, then
// "done". An empty prompt falls back to the session's dictated draft.
func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chats.Get(chi.URLParam(r, "conversationID"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	sh, err := h.sessions.Get(conv.Options().Session)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	prompt, image, err := readMessage(w, r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = sh.Draft.String()
	}

	if !h.limiters.get(sh.ID).Allow() {
		w.Header().Set("Retry-After", "1")
		h.writeError(w, http.StatusTooManyRequests, "Too many messages, please wait a moment")
		return
	}

	sse := newSSEWriter(w)
	var clearDraft sync.Once
	onUpdate := func(msg core.ChatMessage) {
		if msg.Role == core.RoleUser {
			clearDraft.Do(func() { sh.Draft.Take() })
		}
		if err := sse.Send("message", newMessageEvent(msg)); err != nil {
			h.log.Debug("Client stopped reading the stream", zap.Error(err))
		}
	}

	_, err = conv.Send(r.Context(), core.SendRequest{Prompt: prompt, Image: image, Language: sh.Language()}, onUpdate)
	if !sse.Started() {
		h.writeSendError(w, err)
		return
	}
	if err != nil && !errors.Is(err, core.ErrConversationClosed) {
		h.log.Warn("Chat reply failed", zap.String("conversation", conv.ID), zap.Error(err))
	}
	_ = sse.Send("done", doneEvent{Conversation: conv.ID, State: conv.Snapshot().State, OK: err == nil})
}

func (h *APIHandler) writeSendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrEmptyMessage), errors.Is(err, core.ErrImagesNotAllowed):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrConversationBusy):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrConversationClosed):
		h.writeError(w, http.StatusGone, err.Error())
	case err != nil:
		h.log.Error("Error posting message", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to post message")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// readMessage accepts either a JSON body or a multipart form with a
// "prompt" field and an optional "image" file.
func readMessage(w http.ResponseWriter, r *http.Request) (string, *core.Attachment, error) {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/form-data") {
		var req PostMessageRequest
		if err := decodeBody(r, &req); err != nil {
			return "", nil, err
		}
		return req.Prompt, nil, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes+1<<20)
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		return "", nil, errors.New("invalid multipart body: " + err.Error())
	}
	prompt := r.FormValue("prompt")
	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return prompt, nil, nil
	}
	if err != nil {
		return "", nil, errors.New("invalid image: " + err.Error())
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		return "", nil, errors.New("failed to read image: " + err.Error())
	}
	if len(data) > maxImageBytes {
		return "", nil, errors.New("image is too large")
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", nil, errors.New("attachment must be an image")
	}
	return prompt, &core.Attachment{Name: header.Filename, MIMEType: mimeType, Data: data}, nil
}

type GovQueryRequest struct {
	Name      string `json:"name"`
	Location  string `json:"location"`
	QueryType string `json:"query_type"`
	Message   string `json:"message"`
}

type GovQueryResponse struct {
	Query   *store.GovQuery `json:"query"`
	Message string          `json:"message"`
}

func (h *APIHandler) SubmitGovQueryHandler(w http.ResponseWriter, r *http.Request) {
	sh, ok := h.session(w, r)
	if !ok {
		return
	}
	var req GovQueryRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.QueryType == "" {
		req.QueryType = string(store.QueryTypes()[0])
	}

	q := &store.GovQuery{
		SessionID: sh.ID,
		Name:      req.Name,
		Location:  req.Location,
		QueryType: store.QueryType(req.QueryType),
		Message:   req.Message,
	}
	if err := q.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.gov.CreateGovQuery(r.Context(), q); err != nil {
		h.log.Error("Error saving gov query", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to submit query")
		return
	}
	h.log.Info("Gov query submitted",
		zap.String("query", q.ID),
		zap.String("session", sh.ID),
		zap.String("name", q.Name),
		zap.String("location", q.Location),
		zap.String("type", string(q.QueryType)))

	sh.MarkGovSubmitted()
	h.writeJSON(w, http.StatusCreated, GovQueryResponse{Query: q, Message: submittedNotice})
}

// ListGovQueriesHandler returns the queries a session has submitted, newest first.
func (h *APIHandler) ListGovQueriesHandler(w http.ResponseWriter, r *http.Request) {
	sh, ok := h.session(w, r)
	if !ok {
		return
	}
	queries, err := h.gov.ListGovQueries(r.Context(), sh.ID, govQueryLimit)
	if err != nil {
		h.log.Error("Error listing gov queries", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to load queries")
		return
	}
	if queries == nil {
		queries = []store.GovQuery{}
	}
	h.writeJSON(w, http.StatusOK, queries)
}

func (h *APIHandler) GetGovQueryHandler(w http.ResponseWriter, r *http.Request) {
	q, err := h.gov.GetGovQuery(r.Context(), chi.URLParam(r, "queryID"))
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "Query not found")
		return
	}
	if err != nil {
		h.log.Error("Error getting gov query", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to load query")
		return
	}
	h.writeJSON(w, http.StatusOK, q)
}

func (h *APIHandler) AdvisoriesHandler(w http.ResponseWriter, r *http.Request) {
	advisories, err := h.gov.ListAdvisories(r.Context())
	if err != nil {
		h.log.Error("Error listing advisories", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to load advisories")
		return
	}
	h.writeJSON(w, http.StatusOK, advisories)
}
