package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/signadot/dictd/api"
	"github.com/signadot/dictd/storage"
)

// Handler serves the requests of one client connection.
type Handler struct {
	ID    string
	conn  net.Conn
	store *storage.Store
	log   *slog.Logger
	idle  time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// HandlerConfig contains configuration for creating a handler.
type HandlerConfig struct {
	Store       *storage.Store
	Log         *slog.Logger
	IdleTimeout time.Duration
}

// NewHandler creates a handler for conn.
func NewHandler(id string, conn net.Conn, cfg *HandlerConfig) *Handler {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		ID:    id,
		conn:  conn,
		store: cfg.Store,
		log:   log.With("session", id, "remote", remoteAddr(conn)),
		idle:  cfg.IdleTimeout,
		done:  make(chan struct{}),
	}
}

func remoteAddr(c net.Conn) string {
	if a := c.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// Run serves requests until the client disconnects, the handler is closed
// or ctx is cancelled. Ending for any of those reasons is not an error.
func (h *Handler) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { h.Close() })
	defer stop()
	defer h.Close()

	h.log.Info("client connected")
	defer h.log.Info("client disconnected")

	enc := api.NewEncoder(h.conn)
	dec := api.NewDecoder(h.conn)

	for {
		if h.idle > 0 {
			h.conn.SetReadDeadline(time.Now().Add(h.idle))
		}
		req, id, err := dec.DecodeRequest()
		if err != nil {
			var pe *api.ProtocolError
			switch {
			case errors.As(err, &pe):
				h.log.Warn("invalid request", "error", err)
				if err := enc.EncodeResponse(id, api.NewErrorResponse("", "invalid request: %s", pe.Reason)); err != nil {
					return h.writeErr(err)
				}
				continue
			case errors.Is(err, io.EOF):
				return nil
			case h.closed():
				return nil
			case h.idle > 0 && isTimeout(err):
				h.log.Info("closing idle connection", "idle", h.idle)
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		}

		resp := h.dispatch(req)
		if h.idle > 0 {
			h.conn.SetWriteDeadline(time.Now().Add(h.idle))
		}
		if err := enc.EncodeResponse(id, resp); err != nil {
			return h.writeErr(err)
		}
	}
}

func (h *Handler) writeErr(err error) error {
	if h.closed() {
		return nil
	}
	return fmt.Errorf("write response: %w", err)
}

// Close terminates the handler. It is safe to call more than once and
// from any goroutine; a blocked read in Run returns.
func (h *Handler) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.done)
		err = h.conn.Close()
	})
	return err
}

func (h *Handler) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// dispatch routes a request to the store and builds its response. A panic
// while serving yields an error response for this request only.
func (h *Handler) dispatch(req *api.Request) (resp *api.Response) {
	if req.Op == api.OpHeartbeat {
		h.log.Debug("heartbeat")
		return api.NewHeartbeatResponse()
	}

	word := api.NormalizeWord(req.Word)
	h.log.Info("request", "op", req.Op, "word", word)
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("request panicked", "op", req.Op, "panic", r)
			resp = api.NewErrorResponse(word, "server error: %v", r)
		}
		h.log.Info("response", "op", req.Op, "word", word, "status", resp.Status)
	}()

	if word == "" {
		return api.NewErrorResponse("", "a word is required")
	}

	switch req.Op {
	case api.OpSearch:
		ms, err := h.store.Search(word)
		if err != nil {
			return h.storeResponse(word, err, "")
		}
		return api.NewMeaningsResponse(api.StatusSuccess, word, ms)

	case api.OpAdd:
		if len(req.Meanings) == 0 {
			return api.NewErrorResponse(word, "word must have at least one meaning")
		}
		return h.storeResponse(word, h.store.Add(word, req.Meanings...), "word added successfully")

	case api.OpRemove:
		return h.storeResponse(word, h.store.Remove(word), "word removed successfully")

	case api.OpAddMeaning:
		m, ok := req.NewMeaning()
		if !ok {
			return api.NewErrorResponse(word, "no meaning provided")
		}
		return h.storeResponse(word, h.store.AddMeaning(word, m), "meaning added successfully")

	case api.OpUpdateMeaning:
		nm, ok := req.NewMeaning()
		if !ok || req.OldMeaning == "" {
			return api.NewErrorResponse(word, "missing old or new meaning")
		}
		return h.storeResponse(word, h.store.UpdateMeaning(word, req.OldMeaning, nm), "meaning updated successfully")
	}
	return api.NewErrorResponse(word, "unknown operation %q", req.Op)
}

// storeResponse maps the outcome of a store operation to a response.
func (h *Handler) storeResponse(word string, err error, okMsg string) *api.Response {
	var pe *storage.PersistError
	switch {
	case err == nil:
		return api.NewMessageResponse(api.StatusSuccess, word, okMsg)
	case errors.Is(err, storage.ErrWordNotFound):
		return api.NewMessageResponse(api.StatusWordNotFound, word, err.Error())
	case errors.Is(err, storage.ErrDuplicateWord):
		return api.NewMessageResponse(api.StatusDuplicateWord, word, err.Error())
	case errors.Is(err, storage.ErrMeaningExists):
		return api.NewMessageResponse(api.StatusMeaningExists, word, err.Error())
	case errors.Is(err, storage.ErrMeaningNotFound):
		return api.NewMessageResponse(api.StatusMeaningNotFound, word, err.Error())
	case errors.Is(err, storage.ErrEmptyMeanings), errors.Is(err, storage.ErrInvalidEntry):
		return api.NewMessageResponse(api.StatusError, word, err.Error())
	case errors.As(err, &pe):
		h.log.Error("dictionary not saved", "error", err)
		return api.NewErrorResponse(word, "server error: dictionary could not be saved")
	}
	h.log.Error("store error", "error", err)
	return api.NewErrorResponse(word, "server error: %v", err)
}
