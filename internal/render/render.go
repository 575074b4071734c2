// Package render writes normalized results as the JSON bodies the
// ProjectMitra frontend reads.
//
// The two endpoints predate the router and grew different response
// shapes, so each gets its own writer. Both map an all-failed result to
// 502 Bad Gateway.
package render

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/projectmitra/mitra-assist/internal/normalize"
)

// AllFailedMessage is the only detail callers get when every model failed.
const AllFailedMessage = "all models failed, please try again later"

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// chatIdeas is the /chatbot body when the model returned an ideas list.
type chatIdeas struct {
	Ideas []string `json:"ideas"`
	Model string   `json:"model,omitempty"`
}

// chatReply is the /chatbot body for free text. Reply is a pointer so the
// all-failed body can carry an explicit null, which the frontend checks for.
type chatReply struct {
	Reply *string `json:"reply"`
	Model string  `json:"model,omitempty"`
	Error string  `json:"error,omitempty"`
}

// codeAnswer is the /generate success body.
type codeAnswer struct {
	Explanation string `json:"explanation"`
	Code        string `json:"code"`
	Model       string `json:"model,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

// ---------------------------------------------------------------------------
// Writers
// ---------------------------------------------------------------------------

// JSON writes v with the given status. Headers have to be set before
// WriteHeader, which has to come before the body.
func JSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// Error writes {"error": msg}.
func Error(w http.ResponseWriter, status int, msg string) error {
	return JSON(w, status, errorBody{Error: msg})
}

// Chat writes a /chatbot response:
//
//	ideas       200 {"ideas": [...], "model": ...}
//	text        200 {"reply": "...", "model": ...}
//	all failed  502 {"reply": null, "error": "..."}
//
// The chat prompt never asks for code, but if a code answer turns up it's
// flattened into a reply so nothing is lost.
func Chat(w http.ResponseWriter, res normalize.Result) error {
	switch res.Kind {
	case normalize.KindIdeas:
		return JSON(w, http.StatusOK, chatIdeas{Ideas: res.Ideas, Model: res.Model})
	case normalize.KindPlainText:
		return JSON(w, http.StatusOK, chatReply{Reply: &res.Text, Model: res.Model})
	case normalize.KindCodeAnswer:
		reply := joinNonEmpty("\n\n", res.Explanation, res.Code)
		return JSON(w, http.StatusOK, chatReply{Reply: &reply, Model: res.Model})
	default:
		return JSON(w, http.StatusBadGateway, chatReply{Error: AllFailedMessage})
	}
}

// Generate writes a /generate response:
//
//	code/text   200 {"explanation": "...", "code": "...", "model": ...}
//	ideas       200 ideas one per line as the explanation, empty code
//	all failed  502 {"error": "..."}
func Generate(w http.ResponseWriter, res normalize.Result) error {
	switch res.Kind {
	case normalize.KindCodeAnswer:
		return JSON(w, http.StatusOK, codeAnswer{Explanation: res.Explanation, Code: res.Code, Model: res.Model})
	case normalize.KindIdeas:
		return JSON(w, http.StatusOK, codeAnswer{Explanation: strings.Join(res.Ideas, "\n"), Model: res.Model})
	case normalize.KindPlainText:
		return JSON(w, http.StatusOK, codeAnswer{Explanation: res.Text, Model: res.Model})
	default:
		return Error(w, http.StatusBadGateway, AllFailedMessage)
	}
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
