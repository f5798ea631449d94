// Package bot drives one editor per Telegram chat.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pastelflow/internal/editor"
	"pastelflow/internal/imagedata"
	"pastelflow/internal/mediagroup"
	"pastelflow/internal/presets"
	"pastelflow/internal/session"
	"pastelflow/internal/telegram"
)

const presetPrefix = "preset:"

// Messenger is the part of the Telegram client the handler talks to.
type Messenger interface {
	SendTyping(chatID int64)
	SendUploading(chatID int64)
	SendText(chatID int64, text string) error
	SendTextWithKeyboard(chatID int64, text string, rows [][]telegram.Button) error
	AnswerCallback(callbackID, text string) error
	SendPhotoDataURL(chatID int64, dataURL string, caption string) error
	SendDocument(chatID int64, name string, data []byte, caption string) error
	DownloadImage(ctx context.Context, fileID string) (string, error)
}

type Options struct {
	Messenger Messenger
	Sessions  *session.Store
	Presets   *presets.Catalog
	Logger    *slog.Logger
}

type Handler struct {
	tg         Messenger
	sessions   *session.Store
	presets    *presets.Catalog
	logger     *slog.Logger
	aggregator *mediagroup.Aggregator

	// deliveries tracks goroutines waiting to send a generation outcome.
	deliveries sync.WaitGroup
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	catalog := opts.Presets
	if catalog == nil {
		catalog = presets.Default()
	}

	return &Handler{
		tg:       opts.Messenger,
		sessions: opts.Sessions,
		presets:  catalog,
		logger:   logger,
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

// Wait blocks until every pending generation outcome has been delivered.
func (h *Handler) Wait() {
	h.deliveries.Wait()
}

func SessionID(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(update.CallbackQuery)
	}
	if update.Message == nil || update.Message.Chat == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		return h.handleCommand(chatID, msg)
	}

	if fileID := imageFileID(msg); fileID != "" {
		if msg.MediaGroupID != "" && h.aggregator != nil {
			h.aggregator.Add(mediagroup.Item{
				ChatID:       chatID,
				MediaGroupID: msg.MediaGroupID,
				Caption:      msg.Caption,
				FileID:       fileID,
			})
			return nil
		}
		return h.selectImage(ctx, chatID, fileID, msg.Caption)
	}

	if text := strings.TrimSpace(msg.Text); text != "" {
		return h.handleText(chatID, text)
	}

	return nil
}

// HandleMediaGroup selects the last photo of an album. An editor holds a
// single original image.
func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	if err := h.selectImage(ctx, group.ChatID, group.Last(), group.Caption); err != nil {
		h.logger.Error("album processing failed", "chat", group.ChatID, "err", err)
	}
}

func (h *Handler) handleCommand(chatID int64, msg *tgbotapi.Message) error {
	sess := h.sessions.Open(SessionID(chatID))

	switch msg.Command() {
	case "start", "help":
		return h.tg.SendText(chatID, helpText)
	case "presets":
		return h.tg.SendTextWithKeyboard(chatID, "Pick a style:", h.presetKeyboard())
	case "generate":
		if args := strings.TrimSpace(msg.CommandArguments()); args != "" {
			sess.Editor.SetPrompt(args)
		}
		return h.generate(chatID, sess)
	case "discard":
		if !sess.Editor.Snapshot().HasResult() {
			return h.tg.SendText(chatID, "There is no result to discard.")
		}
		sess.Editor.DiscardResult()
		return h.tg.SendText(chatID, "Result discarded. Your original image and prompt are kept.")
	case "reset", "start_over":
		h.sessions.Discard(sess.ID)
		return h.tg.SendText(chatID, "Started over. Send a photo to begin.")
	case "state":
		return h.tg.SendText(chatID, describe(sess.Editor.Snapshot()))
	case "download":
		return h.download(chatID, sess)
	default:
		return h.tg.SendText(chatID, "Unknown command. Use /help.")
	}
}

func (h *Handler) handleText(chatID int64, text string) error {
	sess := h.sessions.Open(SessionID(chatID))
	st := sess.Editor.SetPrompt(text)

	if st.OriginalImage == "" {
		return h.tg.SendText(chatID, "Prompt saved. Now send the photo you want to edit.")
	}
	return h.tg.SendText(chatID, "Prompt saved. Send /generate when you are ready.")
}

func (h *Handler) handleCallback(cb *tgbotapi.CallbackQuery) error {
	if cb.Message == nil || cb.Message.Chat == nil {
		return h.tg.AnswerCallback(cb.ID, "")
	}
	chatID := cb.Message.Chat.ID

	key, ok := strings.CutPrefix(cb.Data, presetPrefix)
	if !ok {
		return h.tg.AnswerCallback(cb.ID, "")
	}

	p, ok := h.presets.Lookup(key)
	if !ok {
		return h.tg.AnswerCallback(cb.ID, "Unknown preset")
	}

	sess := h.sessions.Open(SessionID(chatID))
	st := sess.Editor.ApplyPreset(p.Text)
	if err := h.tg.AnswerCallback(cb.ID, p.Label); err != nil {
		h.logger.Warn("answer callback failed", "err", err)
	}

	reply := fmt.Sprintf("Prompt set: %s", p.Text)
	if st.OriginalImage == "" {
		reply += "\nSend a photo, then /generate."
	} else {
		reply += "\nSend /generate to apply it."
	}
	return h.tg.SendText(chatID, reply)
}

func (h *Handler) selectImage(ctx context.Context, chatID int64, fileID, caption string) error {
	h.tg.SendTyping(chatID)

	dataURL, err := h.tg.DownloadImage(ctx, fileID)
	if err != nil {
		h.logger.Error("telegram download failed", "chat", chatID, "err", err)
		if errors.Is(err, imagedata.ErrNotImage) || errors.Is(err, imagedata.ErrTooLarge) {
			return h.tg.SendText(chatID, "Could not use that file: "+err.Error()+".")
		}
		return h.tg.SendText(chatID, "Could not download the photo. Please send it again.")
	}

	sess := h.sessions.Open(SessionID(chatID))
	sess.Editor.SelectImage(dataURL)
	if caption = strings.TrimSpace(caption); caption != "" {
		sess.Editor.SetPrompt(caption)
		return h.tg.SendText(chatID, "Image received with your prompt. Send /generate to edit it.")
	}
	return h.tg.SendText(chatID, "Image received. Describe the edit or pick /presets, then /generate.")
}

func (h *Handler) generate(chatID int64, sess *session.Session) error {
	done, err := sess.Editor.Generate()
	switch {
	case errors.Is(err, editor.ErrNoImage):
		return h.tg.SendText(chatID, "Send a photo first.")
	case errors.Is(err, editor.ErrEmptyPrompt):
		return h.tg.SendText(chatID, "Describe the edit first, or pick one of the /presets.")
	case errors.Is(err, editor.ErrBusy):
		return h.tg.SendText(chatID, "Still working on the previous edit, please wait.")
	case err != nil:
		return err
	}

	h.tg.SendTyping(chatID)
	h.deliveries.Add(1)
	go func() {
		defer h.deliveries.Done()
		<-done
		h.deliver(chatID, sess.Editor.Snapshot())
	}()

	return h.tg.SendText(chatID, "Generating, this can take a minute...")
}

// deliver sends the outcome of a finished generation. Nothing is sent when
// the call was abandoned by a new image or a reset.
func (h *Handler) deliver(chatID int64, st editor.State) {
	var err error
	switch {
	case st.IsLoading:
		return
	case st.Error != "":
		err = h.tg.SendText(chatID, "Generation failed: "+st.Error)
	case st.HasResult():
		h.tg.SendUploading(chatID)
		err = h.tg.SendPhotoDataURL(chatID, st.GeneratedImage, "Done! /download for the PNG, /discard to try again.")
	}
	if err != nil {
		h.logger.Error("deliver result failed", "chat", chatID, "err", err)
	}
}

func (h *Handler) download(chatID int64, sess *session.Session) error {
	st := sess.Editor.Snapshot()
	if !st.HasResult() {
		return h.tg.SendText(chatID, "Nothing to download yet. Send /generate first.")
	}

	data, _, err := imagedata.ExportPNG(st.GeneratedImage)
	if err != nil {
		h.logger.Error("export failed", "chat", chatID, "err", err)
		return h.tg.SendText(chatID, "Could not export the image.")
	}
	return h.tg.SendDocument(chatID, imagedata.DownloadName, data, "")
}

func (h *Handler) presetKeyboard() [][]telegram.Button {
	var rows [][]telegram.Button
	var row []telegram.Button
	for _, p := range h.presets.All() {
		text := p.Label
		if p.Icon != "" {
			text = p.Icon + " " + p.Label
		}
		row = append(row, telegram.Button{Text: text, Data: presetPrefix + p.Key})
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return rows
}

func imageFileID(msg *tgbotapi.Message) string {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		return msg.Document.FileID
	}
	return ""
}

func describe(st editor.State) string {
	var b strings.Builder
	switch st.Phase() {
	case editor.PhaseEmpty:
		b.WriteString("No image yet. Send a photo to begin.")
	case editor.PhaseEditing:
		b.WriteString("Image loaded.")
	case editor.PhaseGenerating:
		b.WriteString("Generating...")
	case editor.PhaseResult:
		b.WriteString("Result ready. /download or /discard.")
	case editor.PhaseError:
		b.WriteString("Last generation failed: " + st.Error)
		if st.HasResult() {
			b.WriteString("\nThe previous result is kept. /download or /discard.")
		}
	}

	if st.Prompt != "" {
		b.WriteString("\nPrompt: " + st.Prompt)
	} else {
		b.WriteString("\nNo prompt set.")
	}
	return b.String()
}

const helpText = "PastelFlow\n\n" +
	"Send a photo, describe the edit and run /generate.\n\n" +
	"/presets - pick a ready made style\n" +
	"/generate [prompt] - edit the current photo\n" +
	"/download - get the result as PNG\n" +
	"/discard - drop the result and keep editing\n" +
	"/state - show the current session\n" +
	"/reset - start over"
