// Package api defines the request/response messages exchanged between
// dict clients and dictd, and the framed wire codec that carries them.
package api

import (
	"fmt"
	"strings"
)

// Op names a dictionary operation.
type Op string

const (
	OpSearch        Op = "search"
	OpAdd           Op = "add"
	OpRemove        Op = "remove"
	OpAddMeaning    Op = "addMeaning"
	OpUpdateMeaning Op = "updateMeaning"
	OpHeartbeat     Op = "heartbeat"
)

// Valid reports whether o is a known operation.
func (o Op) Valid() bool {
	switch o {
	case OpSearch, OpAdd, OpRemove, OpAddMeaning, OpUpdateMeaning, OpHeartbeat:
		return true
	}
	return false
}

// Status is the outcome of a request.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusWordNotFound    Status = "wordNotFound"
	StatusDuplicateWord   Status = "duplicateWord"
	StatusMeaningExists   Status = "meaningExists"
	StatusMeaningNotFound Status = "meaningNotFound"
	StatusError           Status = "error"
)

// HeartbeatWord is the word echoed back in heartbeat responses.
const HeartbeatWord = "_heartbeat_"

// Request is a single client request.
//
// Requests are built with the constructors below, which normalize the
// word; a Request is not modified once sent.
type Request struct {
	Op         Op       `json:"op"`
	Word       string   `json:"word,omitempty"`
	Meanings   []string `json:"meanings,omitempty"`
	OldMeaning string   `json:"oldMeaning,omitempty"`
}

// NormalizeWord returns the canonical key form of a word.
func NormalizeWord(w string) string {
	return strings.ToLower(strings.TrimSpace(w))
}

func Search(word string) *Request {
	return &Request{Op: OpSearch, Word: NormalizeWord(word)}
}

func Add(word string, meanings ...string) *Request {
	return &Request{Op: OpAdd, Word: NormalizeWord(word), Meanings: append([]string(nil), meanings...)}
}

func Remove(word string) *Request {
	return &Request{Op: OpRemove, Word: NormalizeWord(word)}
}

func AddMeaning(word, meaning string) *Request {
	return &Request{Op: OpAddMeaning, Word: NormalizeWord(word), Meanings: []string{meaning}}
}

// UpdateMeaning builds a request replacing oldMeaning by newMeaning.
func UpdateMeaning(word, oldMeaning, newMeaning string) *Request {
	return &Request{
		Op:         OpUpdateMeaning,
		Word:       NormalizeWord(word),
		Meanings:   []string{newMeaning},
		OldMeaning: oldMeaning,
	}
}

func Heartbeat() *Request {
	return &Request{Op: OpHeartbeat}
}

// NewMeaning returns the replacement meaning of an updateMeaning request,
// or the meaning to add for addMeaning.
func (r *Request) NewMeaning() (string, bool) {
	if len(r.Meanings) == 0 {
		return "", false
	}
	return r.Meanings[0], true
}

func (r *Request) String() string {
	switch r.Op {
	case OpHeartbeat:
		return string(r.Op)
	case OpUpdateMeaning:
		nm, _ := r.NewMeaning()
		return fmt.Sprintf("%s %q %q -> %q", r.Op, r.Word, r.OldMeaning, nm)
	}
	if len(r.Meanings) != 0 {
		return fmt.Sprintf("%s %q %q", r.Op, r.Word, r.Meanings)
	}
	return fmt.Sprintf("%s %q", r.Op, r.Word)
}

// Response answers a Request. Exactly one of Meanings and Message is set.
type Response struct {
	Status   Status   `json:"status"`
	Word     string   `json:"word,omitempty"`
	Meanings []string `json:"meanings,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// NewMeaningsResponse builds a response carrying the meanings of word.
func NewMeaningsResponse(status Status, word string, meanings []string) *Response {
	return &Response{Status: status, Word: word, Meanings: append([]string{}, meanings...)}
}

// NewMessageResponse builds a response carrying a human readable message.
func NewMessageResponse(status Status, word, msg string) *Response {
	return &Response{Status: status, Word: word, Message: msg}
}

// NewErrorResponse builds an error response.
func NewErrorResponse(word, format string, args ...any) *Response {
	return NewMessageResponse(StatusError, word, fmt.Sprintf(format, args...))
}

// NewHeartbeatResponse is the fixed answer to a heartbeat.
func NewHeartbeatResponse() *Response {
	return NewMessageResponse(StatusSuccess, HeartbeatWord, "server alive")
}

// OK reports whether the response has status success.
func (r *Response) OK() bool {
	return r != nil && r.Status == StatusSuccess
}

// IsHeartbeat reports whether r answers a heartbeat.
func (r *Response) IsHeartbeat() bool {
	return r.OK() && r.Word == HeartbeatWord
}

func (r *Response) validate() error {
	switch r.Status {
	case StatusSuccess, StatusWordNotFound, StatusDuplicateWord,
		StatusMeaningExists, StatusMeaningNotFound, StatusError:
	default:
		return fmt.Errorf("unknown status %q", r.Status)
	}
	if len(r.Meanings) != 0 && r.Message != "" {
		return fmt.Errorf("response carries both meanings and message")
	}
	return nil
}
