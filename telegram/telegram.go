package telegram

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"styleaiapi/models"
	"styleaiapi/services"
)

func EscapeMessage(message string) string {
	r := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"`", "\\`",
	)
	return r.Replace(message)
}

var printer = message.NewPrinter(language.English)

// FormatAmount renders an amount given in minor units, e.g. 999 usd as "$ 9.99".
func FormatAmount(amount int64, code string) string {
	unit, err := currency.ParseISO(strings.ToUpper(code))
	if err != nil {
		return fmt.Sprintf("%.2f %s", float64(amount)/100, strings.ToUpper(code))
	}
	scale, _ := currency.Standard.Rounding(unit)
	value := float64(amount) / math.Pow10(scale)
	return printer.Sprint(currency.Symbol(unit.Amount(value)))
}

// Notifier posts markdown messages to the admin chat.
type Notifier struct {
	Bot    *tgbotapi.BotAPI
	ChatID int64
}

func NewNotifier(token string, chatID int64) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &Notifier{Bot: bot, ChatID: chatID}, nil
}

func (n *Notifier) Send(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(n.ChatID, text)
	msg.ParseMode = "markdown"
	if _, err := n.Bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// ParseAdmins splits the comma separated TG_ADMINS value.
func ParseAdmins(raw string) []string {
	var out []string
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimPrefix(strings.TrimSpace(name), "@")
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// AdminBot answers /stats and /usage for the listed admin usernames.
type AdminBot struct {
	Bot      *tgbotapi.BotAPI
	Admins   []string
	Usage    services.UsageStore
	Analyses services.AnalysisStore
	Now      func() time.Time
}

func (b *AdminBot) isAdmin(username string) bool {
	for _, admin := range b.Admins {
		if strings.EqualFold(admin, username) {
			return true
		}
	}
	return false
}

// Reply builds the answer to one command message. Non admins get no reply.
func (b *AdminBot) Reply(ctx context.Context, username, text string) (string, bool) {
	if !b.isAdmin(username) {
		return "", false
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	command := strings.SplitN(strings.TrimPrefix(fields[0], "/"), "@", 2)[0]

	switch command {
	case "start", "help":
		return "Commands:\n/stats - users per tier and analyses today\n/usage <uid> - usage record of a user", true
	case "stats":
		return b.stats(ctx), true
	case "usage":
		if len(fields) < 2 {
			return "Usage: /usage <uid>", true
		}
		return b.usage(ctx, fields[1]), true
	default:
		return fmt.Sprintf("Unknown command: %s", EscapeMessage(command)), true
	}
}

func (b *AdminBot) stats(ctx context.Context) string {
	counts, err := b.Usage.CountByTier(ctx)
	if err != nil {
		log.Error().Err(err).Msg("telegram stats: count by tier")
		return "Failed to load usage stats"
	}
	tiers := make([]string, 0, len(counts))
	for tier := range counts {
		tiers = append(tiers, string(tier))
	}
	sort.Strings(tiers)

	var sb strings.Builder
	sb.WriteString("*Users per tier*\n")
	for _, tier := range tiers {
		sb.WriteString(fmt.Sprintf("%s: %d\n", tier, counts[models.SubscriptionTier(tier)]))
	}
	if b.Analyses != nil {
		now := time.Now
		if b.Now != nil {
			now = b.Now
		}
		y, m, d := now().UTC().Date()
		n, err := b.Analyses.CountSince(ctx, time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
		if err != nil {
			log.Error().Err(err).Msg("telegram stats: count analyses")
		} else {
			sb.WriteString(fmt.Sprintf("Analyses today: %d\n", n))
		}
	}
	return sb.String()
}

func (b *AdminBot) usage(ctx context.Context, uid string) string {
	rec, err := b.Usage.Get(ctx, uid)
	if err != nil {
		return fmt.Sprintf("No usage record for `%s`", EscapeMessage(uid))
	}
	return fmt.Sprintf("`%s`\ntier: %s\ntext left: %d\nimages left: %d\nlast reset: %s",
		EscapeMessage(rec.UID), rec.SubscriptionTier, rec.DailyTextGenerations, rec.DailyImageGenerations, rec.LastReset)
}

// Run polls for updates until ctx is cancelled.
func (b *AdminBot) Run(ctx context.Context) {
	log.Info().Str("bot", b.Bot.Self.UserName).Strs("admins", b.Admins).Msg("telegram admin bot started")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.Bot.GetUpdatesChan(u)
	defer b.Bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			reply, ok := b.Reply(ctx, update.Message.From.UserName, update.Message.Text)
			if !ok {
				continue
			}
			msg := tgbotapi.NewMessage(update.Message.Chat.ID, reply)
			msg.ParseMode = "markdown"
			msg.ReplyToMessageID = update.Message.MessageID
			if _, err := b.Bot.Send(msg); err != nil {
				log.Error().Err(err).Msg("telegram reply failed")
			}
		}
	}
}
