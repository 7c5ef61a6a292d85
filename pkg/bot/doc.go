// Package bot answers Telegram messages.
//
// A Handler turns each inbound Request into replies:
//   - /start and /help are answered for anyone
//   - /quota and /stats report the per-user limiter
//   - an Instagram post, reel or IGTV link is checked against the quota,
//     resolved, downloaded and sent back as a photo, video or media group
//
// Invalid links are answered before the quota is consulted, so they never
// count against a user. Admins skip the quota entirely.
//
// Usage:
//
//	handler, err := bot.NewHandler(bot.Deps{
//	    Messenger: tg,
//	    Resolver:  client,
//	    Fetcher:   pool,
//	    Limiter:   limiter,
//	    Access:    cfg,
//	})
//	if err != nil {
//	    return err
//	}
//	return handler.Run(ctx, tg.Updates(ctx), cfg.Telegram.Workers)
package bot
