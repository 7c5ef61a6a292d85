package telegram

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"igrelay/pkg/bot"
	errs "igrelay/pkg/errors"
	"igrelay/pkg/logger"
	"igrelay/pkg/models"
	"igrelay/pkg/ratelimit"
)

// botAPI is the part of *tgbotapi.BotAPI the messenger uses
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Options configures a Messenger
type Options struct {
	// PollTimeout is the long polling timeout in seconds
	PollTimeout int
	// MessagesPerSecond caps outgoing API calls
	MessagesPerSecond int
	Debug             bool
}

// Messenger sends replies through the Telegram Bot API and receives updates
// by long polling
type Messenger struct {
	api      botAPI
	throttle ratelimit.Limiter
	options  Options
	logger   logger.Logger
	username string
}

// New connects to the Bot API with token
func New(token string, options Options, log logger.Logger) (*Messenger, error) {
	if token == "" {
		return nil, errs.New(errs.ErrorTypeAuth, "telegram bot token is empty")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeAuth, "connecting to telegram: %v", err)
	}
	api.Debug = options.Debug

	m := newMessenger(api, options, log)
	m.username = api.Self.UserName
	m.logger.WithField("bot", m.username).Info("Authorized on Telegram")
	return m, nil
}

func newMessenger(api botAPI, options Options, log logger.Logger) *Messenger {
	if log == nil {
		log = logger.GetLogger()
	}
	if options.MessagesPerSecond <= 0 {
		options.MessagesPerSecond = 30
	}
	if options.PollTimeout <= 0 {
		options.PollTimeout = 60
	}

	return &Messenger{
		api:      api,
		throttle: ratelimit.NewSlidingWindow(options.MessagesPerSecond, time.Second),
		options:  options,
		logger:   log,
	}
}

// Username returns the bot's Telegram username
func (m *Messenger) Username() string {
	return m.username
}

// SendText sends a plain text message
func (m *Messenger) SendText(ctx context.Context, chatID int64, text string) error {
	if err := m.throttle.Wait(ctx); err != nil {
		return err
	}
	if _, err := m.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return errs.New(errs.ErrorTypeNetwork, "sending message to chat %d: %v", chatID, err)
	}
	return nil
}

// SendMedia uploads a single photo or video
func (m *Messenger) SendMedia(ctx context.Context, chatID int64, attachment models.Attachment) error {
	if err := m.throttle.Wait(ctx); err != nil {
		return err
	}
	if _, err := m.api.Send(mediaMessage(chatID, attachment)); err != nil {
		return errs.New(errs.ErrorTypeNetwork, "sending %s to chat %d: %v", attachment.Kind, chatID, err)
	}
	return nil
}

// SendMediaBatch uploads 2 to 10 items as one media group
func (m *Messenger) SendMediaBatch(ctx context.Context, chatID int64, attachments []models.Attachment) error {
	if len(attachments) < 2 || len(attachments) > bot.MaxMediaGroup {
		return errs.New(errs.ErrorTypeInvalidInput, "media group needs 2 to %d items, got %d", bot.MaxMediaGroup, len(attachments))
	}
	if err := m.throttle.Wait(ctx); err != nil {
		return err
	}
	if _, err := m.api.SendMediaGroup(mediaGroup(chatID, attachments)); err != nil {
		return errs.New(errs.ErrorTypeNetwork, "sending media group to chat %d: %v", chatID, err)
	}
	return nil
}

// Updates long-polls the Bot API and emits text messages as requests until
// ctx is cancelled
func (m *Messenger) Updates(ctx context.Context) <-chan bot.Request {
	config := tgbotapi.NewUpdate(0)
	config.Timeout = m.options.PollTimeout

	updates := m.api.GetUpdatesChan(config)
	requests := make(chan bot.Request)

	go func() {
		defer close(requests)
		defer m.api.StopReceivingUpdates()

		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				req, ok := toRequest(update)
				if !ok {
					continue
				}
				select {
				case requests <- req:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	logger.LogComponentStart("telegram", map[string]interface{}{
		"poll_timeout":        m.options.PollTimeout,
		"messages_per_second": m.options.MessagesPerSecond,
	})
	return requests
}

// toRequest extracts a request from a text message update
func toRequest(update tgbotapi.Update) (bot.Request, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || msg.Text == "" {
		return bot.Request{}, false
	}

	return bot.Request{
		UpdateID: update.UpdateID,
		UserID:   msg.From.ID,
		ChatID:   msg.Chat.ID,
		Username: msg.From.UserName,
		Text:     msg.Text,
	}, true
}

func mediaMessage(chatID int64, attachment models.Attachment) tgbotapi.Chattable {
	file := tgbotapi.FilePath(attachment.Path)
	if attachment.Kind == models.MediaVideo {
		video := tgbotapi.NewVideo(chatID, file)
		video.Caption = attachment.Caption
		video.SupportsStreaming = true
		return video
	}

	photo := tgbotapi.NewPhoto(chatID, file)
	photo.Caption = attachment.Caption
	return photo
}

func mediaGroup(chatID int64, attachments []models.Attachment) tgbotapi.MediaGroupConfig {
	media := make([]interface{}, 0, len(attachments))
	for _, attachment := range attachments {
		file := tgbotapi.FilePath(attachment.Path)
		if attachment.Kind == models.MediaVideo {
			video := tgbotapi.NewInputMediaVideo(file)
			video.Caption = attachment.Caption
			video.SupportsStreaming = true
			media = append(media, video)
			continue
		}
		photo := tgbotapi.NewInputMediaPhoto(file)
		photo.Caption = attachment.Caption
		media = append(media, photo)
	}
	return tgbotapi.NewMediaGroup(chatID, media)
}

