package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/dotsmesh/dotsmesh-observer-go/internal/metrics"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/observer"
)

type Handler struct {
	Service *observer.Service
}

func NewHandler(svc *observer.Service) *Handler {
	return &Handler{Service: svc}
}

// rpcRequest is the inbound request envelope. All three fields are
// required; a request missing any of them is answered with
// {status:"invalidRequestData"} rather than the error envelope.
type rpcRequest struct {
	Method  string                     `json:"method"`
	Args    map[string]json.RawMessage `json:"args"`
	Options map[string]json.RawMessage `json:"options"`
}

// okResult is what every successful endpoint returns as its result value.
var okResult = map[string]string{"status": "ok"}

// APIHandler serves the JSON RPC surface on POST / with the api query flag
// set. The pending notification queue lives exactly as long as one request:
// it is created here, filled by the dispatched endpoint and flushed before
// the response is written.
func (h *Handler) APIHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		h.preflight(w, r)
		return
	case http.MethodPost:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !r.URL.Query().Has("api") {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	var req rpcRequest
	if err != nil || json.Unmarshal(body, &req) != nil ||
		req.Method == "" || req.Args == nil || req.Options == nil {
		metrics.RPCRequests.WithLabelValues("invalid", "invalidRequestData").Inc()
		writeJSON(w, map[string]any{"status": "invalidRequestData"})
		return
	}

	q := observer.NewPendingQueue()
	result, err := h.dispatch(r.Context(), req.Method, args(req.Args), q)
	if err != nil {
		var epErr *EndpointError
		if errors.As(err, &epErr) {
			metrics.RPCRequests.WithLabelValues(req.Method, "error").Inc()
			writeJSON(w, map[string]any{
				"status":  "error",
				"code":    epErr.Code,
				"message": epErr.Message,
			})
			return
		}
		metrics.RPCRequests.WithLabelValues(req.Method, "internalError").Inc()
		log.Printf("%s: %v", req.Method, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.Service.FlushQueue(r.Context(), q)

	metrics.RPCRequests.WithLabelValues(req.Method, "ok").Inc()
	writeJSON(w, map[string]any{"status": "ok", "result": result})
}

func (h *Handler) dispatch(ctx context.Context, method string, a args, q *observer.PendingQueue) (any, error) {
	var result any
	var err error
	switch method {
	case "user.changes.signup":
		result, err = h.userChangesSignup(ctx, a)
	case "user.changes.addPushSubscription":
		result, err = h.userChangesAddPushSubscription(ctx, a)
	case "user.changes.delete":
		result, err = h.userChangesDelete(ctx, a)
	case "user.changes.updateSubscriptions":
		result, err = h.userChangesUpdateSubscriptions(ctx, a)
	case "host.changes.notify":
		result, err = h.hostChangesNotify(ctx, a, q)
	default:
		return nil, errInvalidEndpoint()
	}
	if errors.Is(err, observer.ErrUserNotFound) {
		return nil, errUserNotFound()
	}
	return result, err
}

func (h *Handler) userChangesSignup(ctx context.Context, a args) (any, error) {
	userID, err := a.nonEmptyString("userID")
	if err != nil {
		return nil, err
	}
	subscriptions, err := a.optionalKeysMap("subscriptions")
	if err != nil {
		return nil, err
	}
	sessionID, err := a.optionalString("sessionID")
	if err != nil {
		return nil, err
	}
	pushSubscription, err := a.optionalString("pushSubscription")
	if err != nil {
		return nil, err
	}
	if err := h.Service.Signup(ctx, userID, subscriptions, sessionID, pushSubscription); err != nil {
		return nil, err
	}
	return okResult, nil
}

func (h *Handler) userChangesAddPushSubscription(ctx context.Context, a args) (any, error) {
	userID, err := h.requireExistingUser(ctx, a)
	if err != nil {
		return nil, err
	}
	sessionID, err := a.nonEmptyString("sessionID")
	if err != nil {
		return nil, err
	}
	pushSubscription, err := a.nonEmptyString("pushSubscription")
	if err != nil {
		return nil, err
	}
	if err := h.Service.AddPushSubscription(ctx, userID, sessionID, pushSubscription); err != nil {
		return nil, err
	}
	return okResult, nil
}

func (h *Handler) userChangesDelete(ctx context.Context, a args) (any, error) {
	userID, err := h.requireExistingUser(ctx, a)
	if err != nil {
		return nil, err
	}
	if err := h.Service.DeleteUser(ctx, userID); err != nil {
		return nil, err
	}
	return okResult, nil
}

func (h *Handler) userChangesUpdateSubscriptions(ctx context.Context, a args) (any, error) {
	userID, err := h.requireExistingUser(ctx, a)
	if err != nil {
		return nil, err
	}
	keysToAdd, err := a.optionalKeysMap("keysToAdd")
	if err != nil {
		return nil, err
	}
	keysToRemove, clearAll, err := a.removalKeysMap("keysToRemove")
	if err != nil {
		return nil, err
	}
	if err := h.Service.UpdateSubscriptions(ctx, userID, keysToAdd, keysToRemove, clearAll); err != nil {
		return nil, err
	}
	return okResult, nil
}

func (h *Handler) hostChangesNotify(ctx context.Context, a args, q *observer.PendingQueue) (any, error) {
	host, err := a.nonEmptyString("host")
	if err != nil {
		return nil, err
	}
	keys, err := a.stringList("keys")
	if err != nil {
		return nil, err
	}
	if err := h.Service.NotifyHostObservers(ctx, host, keys, q); err != nil {
		return nil, err
	}
	return okResult, nil
}

func (h *Handler) requireExistingUser(ctx context.Context, a args) (string, error) {
	userID, err := a.nonEmptyString("userID")
	if err != nil {
		return "", err
	}
	exists, err := h.Service.UserExists(ctx, userID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", errUserNotFound()
	}
	return userID, nil
}

func (h *Handler) preflight(w http.ResponseWriter, r *http.Request) {
	if strings.ToUpper(r.Header.Get("Access-Control-Request-Method")) != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST,GET,OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Cache-Control,Accept")
	w.Header().Set("Access-Control-Max-Age", "864000")
	w.Header().Set("X-Robots-Tag", "noindex,nofollow")
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Robots-Tag", "noindex,nofollow")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("encode response:", err)
	}
}
