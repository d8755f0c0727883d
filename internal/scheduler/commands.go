package scheduler

import (
	"context"
	"errors"
	"strings"

	"SignalSentinel/internal/model"
	"SignalSentinel/internal/notifier"
	"SignalSentinel/internal/report"
)

const helpText = "Available commands:\n" +
	"• /start: register this chat\n" +
	"• /settings: show this chat's settings\n" +
	"• /report hourly|daily|weekly: instant market report"

// HandleCommand processes a chat command and returns the reply.
func (s *Scheduler) HandleCommand(ctx context.Context, chatID, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	// "/report@SentinelBot daily" in group chats
	name := strings.ToLower(strings.SplitN(fields[0], "@", 2)[0])

	switch name {
	case "/start":
		return s.cmdStart(ctx, chatID)
	case "/settings":
		return s.cmdSettings(ctx, chatID)
	case "/report":
		period := "daily"
		if len(fields) > 1 {
			period = fields[1]
		}
		return s.cmdReport(ctx, chatID, period)
	default:
		return helpText
	}
}

func (s *Scheduler) cmdStart(ctx context.Context, chatID string) string {
	t, created, err := s.deps.Tenants.RegisterTenant(ctx, chatID)
	if err != nil {
		s.log.Error().Err(err).Str("tenant", chatID).Msg("register tenant failed")
		return "❌ Registration failed, please try again later."
	}
	switch {
	case created:
		return "👋 Welcome! This chat is registered and waiting for approval.\n\n" + helpText
	case s.deps.Tenants.IsMember(t):
		return "✅ This chat is already active.\n\n" + helpText
	default:
		return "⏳ This chat is registered but not active yet."
	}
}

func (s *Scheduler) cmdSettings(ctx context.Context, chatID string) string {
	sum, err := s.deps.Tenants.GetSettingsSummary(ctx, chatID)
	if errors.Is(err, model.ErrNotFound) {
		return "This chat is not registered. Send /start first."
	}
	if err != nil {
		s.log.Error().Err(err).Str("tenant", chatID).Msg("settings summary failed")
		return "❌ Could not load settings."
	}
	return notifier.FormatSettings(sum)
}

func (s *Scheduler) cmdReport(ctx context.Context, chatID, period string) string {
	t, err := s.deps.Tenants.Get(ctx, chatID)
	if err != nil || !s.deps.Tenants.IsMember(t) {
		return "Reports are available to approved chats only."
	}
	c, err := model.ParseCadence(period)
	if err != nil {
		return "Unknown period. Use /report hourly, /report daily or /report weekly."
	}
	r, err := s.deps.Reports.InstantReport(ctx, c)
	if err != nil {
		s.log.Error().Err(err).Str("tenant", chatID).Str("cadence", string(c)).Msg("instant report failed")
		return "❌ Report unavailable right now."
	}
	return report.Render(r)
}
