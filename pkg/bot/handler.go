package bot

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	errs "igrelay/pkg/errors"
	"igrelay/pkg/instagram"
	"igrelay/pkg/logger"
	"igrelay/pkg/models"
	"igrelay/pkg/quota"
	"igrelay/pkg/ratelimit"
)

// OutcomeExempt is recorded when an admin bypasses the quota
const OutcomeExempt = "exempt"

// Request is an inbound chat message
type Request struct {
	UpdateID int
	UserID   int64
	ChatID   int64
	Username string
	Text     string
}

// Messenger delivers replies to a chat
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendMedia(ctx context.Context, chatID int64, attachment models.Attachment) error
	SendMediaBatch(ctx context.Context, chatID int64, attachments []models.Attachment) error
}

// Resolver turns a shortcode into a post
type Resolver interface {
	Resolve(ctx context.Context, shortcode string) (*models.Post, error)
}

// Fetcher stages the media of a post on disk
type Fetcher interface {
	Fetch(ctx context.Context, post *models.Post) (*models.Bundle, error)
}

// Limiter is the per-user quota
type Limiter interface {
	Evaluate(userID int64, now time.Time) ratelimit.Decision
	Usage(userID int64) (quota.UsageRecord, bool)
	Remaining(userID int64, now time.Time) int
	TrackedUsers() int
	Limits() ratelimit.Limits
}

// AccessPolicy decides who may use the bot
type AccessPolicy interface {
	IsAdmin(userID int64) bool
	IsAllowed(userID int64) bool
}

// Recorder receives metrics about handled requests
type Recorder interface {
	ObserveAdmission(outcome string)
	ObserveCommand(command string)
	ObserveFetch(d time.Duration, err error)
	ObserveDelivery(status string, items int)
	SetTrackedUsers(n int)
}

// Deps are the collaborators of a Handler. Recorder and Logger are optional.
type Deps struct {
	Messenger Messenger
	Resolver  Resolver
	Fetcher   Fetcher
	Limiter   Limiter
	Access    AccessPolicy
	Recorder  Recorder
	Logger    logger.Logger
}

// Handler answers chat messages: commands, and Instagram links subject to
// the per-user quota
type Handler struct {
	messenger Messenger
	resolver  Resolver
	fetcher   Fetcher
	limiter   Limiter
	access    AccessPolicy
	recorder  Recorder
	logger    logger.Logger
	now       func() time.Time
}

// NewHandler creates a Handler
func NewHandler(deps Deps) (*Handler, error) {
	var missing []string
	if deps.Messenger == nil {
		missing = append(missing, "messenger")
	}
	if deps.Resolver == nil {
		missing = append(missing, "resolver")
	}
	if deps.Fetcher == nil {
		missing = append(missing, "fetcher")
	}
	if deps.Limiter == nil {
		missing = append(missing, "limiter")
	}
	if deps.Access == nil {
		missing = append(missing, "access policy")
	}
	if len(missing) > 0 {
		return nil, errs.New(errs.ErrorTypeValidation, "handler is missing: %s", strings.Join(missing, ", "))
	}

	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.GetLogger()
	}

	return &Handler{
		messenger: deps.Messenger,
		resolver:  deps.Resolver,
		fetcher:   deps.Fetcher,
		limiter:   deps.Limiter,
		access:    deps.Access,
		recorder:  deps.Recorder,
		logger:    deps.Logger,
		now:       time.Now,
	}, nil
}

// Run handles requests with at most workers in flight until requests is
// closed or ctx is cancelled, then waits for in-flight requests
func (h *Handler) Run(ctx context.Context, requests <-chan Request, workers int) error {
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	logger.LogComponentStart("bot", map[string]interface{}{"workers": workers})

loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case req, ok := <-requests:
			if !ok {
				break loop
			}
			g.Go(func() error {
				if err := h.Handle(gctx, req); err != nil && !stderrors.Is(err, context.Canceled) {
					h.logger.WithError(err).WithField("update_id", req.UpdateID).Warn("Request not completed")
				}
				return nil
			})
		}
	}

	err := g.Wait()
	logger.LogComponentStop("bot", "dispatch loop ended")
	return err
}

// Handle answers a single request
func (h *Handler) Handle(ctx context.Context, req Request) error {
	log := h.logger.WithFields(map[string]interface{}{
		"request_id": uuid.NewString(),
		"update_id":  req.UpdateID,
		"user_id":    req.UserID,
		"chat_id":    req.ChatID,
	})

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil
	}

	if strings.HasPrefix(text, "/") {
		return h.handleCommand(ctx, log, req, text)
	}

	if !h.access.IsAllowed(req.UserID) {
		log.Info("Rejected user not on allow list")
		return h.reply(ctx, req.ChatID, MsgNotAuthorized)
	}

	return h.handleLink(ctx, log, req, text)
}

func (h *Handler) handleCommand(ctx context.Context, log logger.Logger, req Request, text string) error {
	command := commandName(text)
	h.recorder.ObserveCommand(command)
	log.WithField("command", command).Debug("Handling command")

	switch command {
	case "start":
		return h.reply(ctx, req.ChatID, MsgStart)
	case "help":
		return h.reply(ctx, req.ChatID, MsgHelp)
	}

	if !h.access.IsAllowed(req.UserID) {
		return h.reply(ctx, req.ChatID, MsgNotAuthorized)
	}

	switch command {
	case "quota":
		return h.reply(ctx, req.ChatID, h.quota(req.UserID))
	case "stats":
		if !h.access.IsAdmin(req.UserID) {
			return h.reply(ctx, req.ChatID, MsgAdminOnly)
		}
		tracked := h.limiter.TrackedUsers()
		h.recorder.SetTrackedUsers(tracked)
		return h.reply(ctx, req.ChatID, statsText(h.limiter.Limits(), tracked))
	default:
		return h.reply(ctx, req.ChatID, MsgUnknownCommand)
	}
}

func (h *Handler) quota(userID int64) string {
	if h.access.IsAdmin(userID) {
		return "👑 You are an admin: no limits apply."
	}

	now := h.now()
	limits := h.limiter.Limits()
	remaining := h.limiter.Remaining(userID, now)

	retryAfter := 0
	if record, ok := h.limiter.Usage(userID); ok && record.HasRequest() && limits.MinInterval > 0 {
		elapsed := now.Sub(record.LastRequest)
		if elapsed < 0 {
			elapsed = 0
		}
		if wait := limits.MinInterval - elapsed; wait > 0 {
			retryAfter = ratelimit.Decision{Outcome: ratelimit.OutcomeInterval, RetryAfter: wait}.RetryAfterSeconds()
		}
	}

	return quotaText(limits, remaining, retryAfter)
}

func (h *Handler) handleLink(ctx context.Context, log logger.Logger, req Request, text string) error {
	link, err := instagram.ParseLink(text)
	if err != nil {
		if stderrors.Is(err, instagram.ErrStoryLink) {
			return h.reply(ctx, req.ChatID, MsgStoryUnsupported)
		}
		return h.reply(ctx, req.ChatID, MsgInvalidURL)
	}

	log = log.WithFields(map[string]interface{}{
		"shortcode": link.Shortcode,
		"link_kind": string(link.Kind),
	})

	if h.access.IsAdmin(req.UserID) {
		h.recorder.ObserveAdmission(OutcomeExempt)
	} else {
		decision := h.limiter.Evaluate(req.UserID, h.now())
		h.recorder.ObserveAdmission(string(decision.Outcome))
		if !decision.Admitted {
			log.WithFields(map[string]interface{}{
				"reason":      decision.Reason,
				"daily_count": decision.DailyCount,
			}).Info("Request rejected by quota")
			return h.reply(ctx, req.ChatID, rejectionText(decision))
		}
	}

	if err := h.reply(ctx, req.ChatID, MsgDownloading); err != nil {
		return err
	}

	items, err := h.relay(ctx, req.ChatID, link.Shortcode)
	if err != nil {
		// Private, deleted or oversized posts are not faults of the bot
		if errType := errs.TypeOf(err); errs.IsUserFacing(errType) {
			log.WithError(err).InfoWithFields("Post unavailable", map[string]interface{}{
				"chat_id":    req.ChatID,
				"error_type": string(errType),
			})
		} else {
			logger.LogDelivery(log, req.ChatID, link.Shortcode, items, err)
		}
		h.recorder.ObserveDelivery("failed", 0)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return h.reply(ctx, req.ChatID, MsgFailed)
	}

	logger.LogDelivery(log, req.ChatID, link.Shortcode, items, nil)
	h.recorder.ObserveDelivery("success", items)
	return nil
}

// relay resolves, downloads and delivers a post, returning the number of
// items sent
func (h *Handler) relay(ctx context.Context, chatID int64, shortcode string) (int, error) {
	start := time.Now()

	post, err := h.resolver.Resolve(ctx, shortcode)
	if err != nil {
		h.recorder.ObserveFetch(time.Since(start), err)
		return 0, fmt.Errorf("resolving post: %w", err)
	}

	bundle, err := h.fetcher.Fetch(ctx, post)
	h.recorder.ObserveFetch(time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("fetching media: %w", err)
	}
	defer func() {
		if err := bundle.Release(); err != nil {
			h.logger.WithError(err).Warn("Failed to remove staged media")
		}
	}()

	if err := h.deliver(ctx, chatID, buildCaption(post), bundle.Attachments); err != nil {
		return 0, fmt.Errorf("sending media: %w", err)
	}
	return len(bundle.Attachments), nil
}

// deliver sends one item on its own and several as media groups of at most
// MaxMediaGroup, with the caption on the first item only
func (h *Handler) deliver(ctx context.Context, chatID int64, caption string, attachments []models.Attachment) error {
	for start := 0; start < len(attachments); start += MaxMediaGroup {
		end := start + MaxMediaGroup
		if end > len(attachments) {
			end = len(attachments)
		}

		chunk := make([]models.Attachment, end-start)
		copy(chunk, attachments[start:end])
		for i := range chunk {
			chunk[i].Caption = ""
		}
		if start == 0 {
			chunk[0].Caption = caption
		}

		var err error
		if len(chunk) == 1 {
			err = h.messenger.SendMedia(ctx, chatID, chunk[0])
		} else {
			err = h.messenger.SendMediaBatch(ctx, chatID, chunk)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) error {
	if err := h.messenger.SendText(ctx, chatID, text); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	return nil
}

// commandName extracts "quota" from "/quota@SomeBot args"
func commandName(text string) string {
	name := strings.TrimPrefix(strings.Fields(text)[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAdmission(string)           {}
func (nopRecorder) ObserveCommand(string)             {}
func (nopRecorder) ObserveFetch(time.Duration, error) {}
func (nopRecorder) ObserveDelivery(string, int)       {}
func (nopRecorder) SetTrackedUsers(int)               {}
