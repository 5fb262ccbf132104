package discord

import (
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/set-night/progressmate/internal/config"
	"github.com/set-night/progressmate/internal/handler"
)

const (
	interactionTypePing               = 1
	interactionTypeApplicationCommand = 2

	responseTypePong                     = 1
	responseTypeChannelMessageWithSource = 4

	messageFlagEphemeral = 1 << 6

	maxBodyBytes = 1 << 20
)

type interactionUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type commandOption struct {
	Name  string          `json:"name"`
	Type  int             `json:"type"`
	Value json.RawMessage `json:"value"`
}

type interaction struct {
	Type      int    `json:"type"`
	ChannelID string `json:"channel_id"`
	Member    *struct {
		User *interactionUser `json:"user"`
	} `json:"member"`
	User *interactionUser `json:"user"`
	Data *struct {
		Name    string          `json:"name"`
		Options []commandOption `json:"options"`
	} `json:"data"`
}

// invoker returns the guild member's user when present, otherwise the DM user.
func (i *interaction) invoker() *interactionUser {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func (i *interaction) option(name string) json.RawMessage {
	if i.Data == nil {
		return nil
	}
	for _, opt := range i.Data.Options {
		if opt.Name == name {
			return opt.Value
		}
	}
	return nil
}

type interactionResponse struct {
	Type int                      `json:"type"`
	Data *interactionResponseData `json:"data,omitempty"`
}

type interactionResponseData struct {
	Content string `json:"content"`
	Flags   int    `json:"flags,omitempty"`
}

// InteractionsHandler serves the Discord interactions webhook.
type InteractionsHandler struct {
	publicKey string
	commands  *handler.Handler
}

func NewInteractionsHandler(publicKey string, commands *handler.Handler) *InteractionsHandler {
	return &InteractionsHandler{publicKey: publicKey, commands: commands}
}

// ThreadMention renders a clickable channel reference.
func ThreadMention(threadID string) string {
	return "<#" + threadID + ">"
}

func (h *InteractionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	signature := r.Header.Get("X-Signature-Ed25519")
	timestamp := r.Header.Get("X-Signature-Timestamp")
	if !VerifySignature(signature, timestamp, h.publicKey, body) {
		writeError(w, http.StatusUnauthorized, "invalid request signature")
		return
	}

	var in interaction
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch in.Type {
	case interactionTypePing:
		writeJSON(w, http.StatusOK, interactionResponse{Type: responseTypePong})
	case interactionTypeApplicationCommand:
		reply := h.dispatch(r, &in)
		data := &interactionResponseData{Content: reply.Content}
		if reply.Ephemeral {
			data.Flags = messageFlagEphemeral
		}
		writeJSON(w, http.StatusOK, interactionResponse{Type: responseTypeChannelMessageWithSource, Data: data})
	default:
		slog.Warn("interaction.unsupported_type", "type", in.Type)
		writeError(w, http.StatusNotImplemented, "unsupported interaction type")
	}
}

func (h *InteractionsHandler) dispatch(r *http.Request, in *interaction) handler.Reply {
	if in.Data == nil {
		return h.commands.Unsupported()
	}

	var userID, username string
	if u := in.invoker(); u != nil {
		userID, username = u.ID, u.Username
	}
	ctx := r.Context()

	switch strings.ToLower(in.Data.Name) {
	case "start":
		return h.commands.Start(ctx, handler.StartCommand{
			UserID:         userID,
			ChannelID:      in.ChannelID,
			DisplayName:    username,
			Title:          stringOption(in.option("title")),
			CadenceMinutes: cadenceOption(in.option("cadence")),
		})
	case "stop":
		return h.commands.Stop(ctx, handler.StopCommand{UserID: userID})
	case "progress":
		return h.commands.Progress(ctx, handler.ProgressCommand{
			UserID: userID,
			Text:   strings.TrimSpace(stringOption(in.option("status"))),
		})
	default:
		return h.commands.Unsupported()
	}
}

// stringOption returns the option value when it is a JSON string.
func stringOption(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// cadenceOption accepts a number or numeric string, floors it and keeps
// only positive values. Values past the maximum come back as max+1 so the
// lifecycle rejects them instead of wrapping.
func cadenceOption(raw json.RawMessage) *int {
	if len(raw) == 0 {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		parsed, perr := strconv.ParseFloat(strings.TrimSpace(stringOption(raw)), 64)
		if perr != nil {
			return nil
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	f = math.Floor(f)
	if f <= 0 {
		return nil
	}
	minutes := config.MaxCadenceMinutes + 1
	if f <= float64(config.MaxCadenceMinutes) {
		minutes = int(f)
	}
	return &minutes
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("interaction.encode_failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
