// Package telegram is a long-polling Telegram bot channel.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"lexy/pkg/api"
	"lexy/pkg/llm"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const mediaGroupDelay = time.Second

// TelegramConfig holds the bot token from @BotFather. "${VAR}" is expanded.
type TelegramConfig struct {
	Token string `json:"token"`
}

// TelegramChannel receives text, photos and documents and answers in
// message-sized pieces.
type TelegramChannel struct {
	config       TelegramConfig
	bot          *tgbotapi.BotAPI
	messageLimit int
	mediaGroups  map[string]*mediaGroupBuffer
	httpClient   *http.Client
	mu           sync.Mutex
	stopCtx      context.Context
	stopCancel   context.CancelFunc
}

// mediaGroupBuffer collects the messages of one album into a single UnifiedMessage.
type mediaGroupBuffer struct {
	session api.SessionContext
	content string
	fileIDs []string
	timer   *time.Timer
}

func NewTelegramChannel(cfg TelegramConfig, msgLimit int, timeoutMs int) (*TelegramChannel, error) {
	ctx, cancel := context.WithCancel(context.Background())

	// Dials are tied to stopCtx so Stop aborts a pending long poll.
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	botClient := &http.Client{
		Timeout: 75 * time.Second,
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				merged, mergedCancel := context.WithCancel(dialCtx)
				go func() {
					select {
					case <-ctx.Done():
						mergedCancel()
					case <-merged.Done():
					}
				}()
				return dialer.DialContext(merged, network, addr)
			},
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, botClient)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	if msgLimit <= 0 {
		msgLimit = 4000
	}
	return &TelegramChannel{
		config:       cfg,
		bot:          bot,
		messageLimit: msgLimit,
		mediaGroups:  make(map[string]*mediaGroupBuffer),
		httpClient:   &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		stopCtx:      ctx,
		stopCancel:   cancel,
	}, nil
}

func (t *TelegramChannel) ID() string {
	return "telegram"
}

// Start runs the polling loop in the background until Stop.
func (t *TelegramChannel) Start(ctx api.ChannelContext) error {
	go t.poll(ctx)
	return nil
}

func (t *TelegramChannel) poll(ctx api.ChannelContext) {
	offset := 0
	for {
		if t.stopCtx.Err() != nil {
			return
		}

		req := tgbotapi.NewUpdate(offset)
		req.Timeout = 60
		updates, err := t.bot.GetUpdates(req)
		if err != nil {
			if t.stopCtx.Err() != nil {
				return
			}
			slog.Debug("Failed to get telegram updates", "error", err)
			select {
			case <-t.stopCtx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID < offset {
				continue
			}
			offset = update.UpdateID + 1
			if update.Message != nil {
				t.dispatch(ctx, update.Message)
			}
		}
	}
}

func sessionOf(m *tgbotapi.Message) api.SessionContext {
	s := api.SessionContext{
		ChannelID: "telegram",
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
	}
	if m.From != nil {
		s.UserID = strconv.FormatInt(m.From.ID, 10)
		s.Username = m.From.UserName
	}
	return s
}

// fileIDOf returns the largest photo or the document of m.
func fileIDOf(m *tgbotapi.Message) string {
	if len(m.Photo) > 0 {
		return m.Photo[len(m.Photo)-1].FileID
	}
	if m.Document != nil {
		return m.Document.FileID
	}
	return ""
}

func (t *TelegramChannel) dispatch(ctx api.ChannelContext, m *tgbotapi.Message) {
	sess := sessionOf(m)

	content := m.Text
	if content == "" {
		content = m.Caption
	}
	fileID := fileIDOf(m)

	if m.MediaGroupID != "" {
		t.handleMediaGroup(ctx, m.MediaGroupID, sess, content, fileID)
		return
	}
	if fileID == "" {
		ctx.OnMessage(t.ID(), &api.UnifiedMessage{Session: sess, Content: content, Raw: m})
		return
	}

	// downloads must not stall the polling loop
	go func() {
		var files []api.FileAttachment
		if f, err := t.download(fileID); err == nil {
			files = append(files, *f)
		} else {
			slog.Error("Telegram download failed", "file_id", fileID, "error", err)
		}
		ctx.OnMessage(t.ID(), &api.UnifiedMessage{Session: sess, Content: content, Files: files, Raw: m})
	}()
}

func (t *TelegramChannel) download(fileID string) (*api.FileAttachment, error) {
	info, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	resp, err := t.httpClient.Get(info.Link(t.config.Token))
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: status code %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return &api.FileAttachment{
		Filename:  filepath.Base(info.FilePath),
		Extension: strings.TrimPrefix(filepath.Ext(info.FilePath), "."),
		Data:      data,
	}, nil
}

func (t *TelegramChannel) handleMediaGroup(ctx api.ChannelContext, groupID string, sess api.SessionContext, text, fileID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if buf, ok := t.mediaGroups[groupID]; ok {
		if text != "" {
			if buf.content != "" {
				buf.content += "\n"
			}
			buf.content += text
		}
		if fileID != "" {
			buf.fileIDs = append(buf.fileIDs, fileID)
		}
		buf.timer.Reset(mediaGroupDelay)
		return
	}

	buf := &mediaGroupBuffer{session: sess, content: text}
	if fileID != "" {
		buf.fileIDs = append(buf.fileIDs, fileID)
	}
	t.mediaGroups[groupID] = buf
	buf.timer = time.AfterFunc(mediaGroupDelay, func() { t.flushMediaGroup(ctx, groupID) })
}

func (t *TelegramChannel) flushMediaGroup(ctx api.ChannelContext, groupID string) {
	t.mu.Lock()
	buf, ok := t.mediaGroups[groupID]
	delete(t.mediaGroups, groupID)
	t.mu.Unlock()
	if !ok {
		return
	}

	results := make([]*api.FileAttachment, len(buf.fileIDs))
	var wg sync.WaitGroup
	for i, id := range buf.fileIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := t.download(id)
			if err != nil {
				slog.Error("Media group download failed", "file_id", id, "error", err)
				return
			}
			results[i] = f
		}()
	}
	wg.Wait()

	var files []api.FileAttachment
	for _, f := range results {
		if f != nil {
			files = append(files, *f)
		}
	}

	slog.Info("Media group received", "group", groupID, "files", fmt.Sprintf("%d/%d", len(files), len(buf.fileIDs)))
	ctx.OnMessage(t.ID(), &api.UnifiedMessage{Session: buf.session, Content: buf.content, Files: files})
}

func (t *TelegramChannel) Stop() error {
	t.stopCancel()
	if c, ok := t.bot.Client.(*http.Client); ok && c != nil {
		c.CloseIdleConnections()
	}
	return nil
}

// SendSignal shows the typing indicator for the thinking signal.
func (t *TelegramChannel) SendSignal(sess api.SessionContext, signal string) error {
	if signal != llm.BlockTypeThinking {
		return nil
	}
	chatID, err := strconv.ParseInt(sess.ChatID, 10, 64)
	if err != nil {
		return err
	}
	_, err = t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

func (t *TelegramChannel) SendError(sess api.SessionContext, err error) error {
	return t.Send(sess, "⚠️ "+err.Error())
}

func (t *TelegramChannel) Send(sess api.SessionContext, message string) error {
	chatID, err := strconv.ParseInt(sess.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id for telegram: %s", sess.ChatID)
	}

	for i, part := range splitMessage(message, t.messageLimit) {
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("telegram send failed at part %d: %w", i, err)
		}
	}
	return nil
}

// splitMessage cuts message into pieces of at most limit runes.
func splitMessage(message string, limit int) []string {
	runes := []rune(message)
	if limit <= 0 || len(runes) <= limit {
		return []string{message}
	}
	parts := make([]string, 0, len(runes)/limit+1)
	for i := 0; i < len(runes); i += limit {
		end := min(i+limit, len(runes))
		parts = append(parts, string(runes[i:end]))
	}
	return parts
}

func (t *TelegramChannel) sendPhoto(sess api.SessionContext, block llm.ContentBlock) error {
	chatID, err := strconv.ParseInt(sess.ChatID, 10, 64)
	if err != nil {
		return err
	}
	if block.Source == nil {
		return fmt.Errorf("image source is nil")
	}

	var photo tgbotapi.PhotoConfig
	switch {
	case block.Source.Type == "base64" && len(block.Source.Data) > 0:
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "image.png", Bytes: block.Source.Data})
	case block.Source.Type == "url":
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(block.Source.URL))
	default:
		return fmt.Errorf("unsupported image source type: %s", block.Source.Type)
	}
	_, err = t.bot.Send(photo)
	return err
}

// Stream accumulates text and flushes it when an image arrives or the
// stream ends. Telegram has no partial message updates.
func (t *TelegramChannel) Stream(sess api.SessionContext, blocks <-chan llm.ContentBlock) error {
	var thinking, text strings.Builder

	flushThinking := func() {
		if thinking.Len() == 0 {
			return
		}
		if err := t.Send(sess, "💭 Reasoning:\n\n"+thinking.String()); err != nil {
			slog.Error("Failed to send thinking", "error", err)
		}
		thinking.Reset()
	}

	for block := range blocks {
		switch block.Type {
		case llm.BlockTypeThinking:
			thinking.WriteString(block.Text)
		case llm.BlockTypeText, llm.BlockTypeError:
			flushThinking()
			text.WriteString(block.Text)
		case llm.BlockTypeImage:
			flushThinking()
			if text.Len() > 0 {
				if err := t.Send(sess, text.String()); err != nil {
					slog.Error("Failed to send text before image", "error", err)
				}
				text.Reset()
			}
			if err := t.sendPhoto(sess, block); err != nil {
				slog.Error("Failed to send photo", "error", err)
			}
		}
	}

	flushThinking()
	if text.Len() > 0 {
		return t.Send(sess, text.String())
	}
	return nil
}
