// Package bot drives the studio flows over Telegram: text or a photo runs
// the product analysis, the six suggested styles arrive as an inline
// keyboard, and a tap renders the photo.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"stitch-studio/internal/gemini"
	"stitch-studio/internal/mediagroup"
	"stitch-studio/internal/registry"
	"stitch-studio/internal/studio"
	"stitch-studio/internal/telegram"
	"stitch-studio/internal/wallet"
)

const callbackPrefix = "st"

type Options struct {
	Telegram *telegram.Client
	Gemini   *gemini.Client
	Registry *registry.Client
	Logger   *slog.Logger

	DataDir        string
	SyncInterval   time.Duration
	ThumbnailDelay time.Duration
	QuotaCooldown  time.Duration
}

type Handler struct {
	tg     *telegram.Client
	gem    *gemini.Client
	reg    *registry.Client
	logger *slog.Logger

	dataDir        string
	syncInterval   time.Duration
	thumbnailDelay time.Duration
	quotaCooldown  time.Duration

	sessions   *sessionStore
	aggregator *mediagroup.Aggregator
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		tg:             opts.Telegram,
		gem:            opts.Gemini,
		reg:            opts.Registry,
		logger:         logger,
		dataDir:        opts.DataDir,
		syncInterval:   opts.SyncInterval,
		thumbnailDelay: opts.ThumbnailDelay,
		quotaCooldown:  opts.QuotaCooldown,
	}
	h.sessions = newSessionStore(h.newSession)
	return h
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func (h *Handler) newSession(chatID int64) *chatSession {
	mgr := wallet.NewManager(wallet.Options{
		Registry:     h.reg,
		Store:        wallet.NewFileStore(filepath.Join(h.dataDir, fmt.Sprintf("wallet_%d.json", chatID))),
		Logger:       h.logger,
		SyncInterval: h.syncInterval,
	})

	ctl := studio.NewController(studio.Options{
		Gateway:        h.gem,
		Wallet:         mgr,
		Logger:         h.logger,
		ThumbnailDelay: h.thumbnailDelay,
		QuotaCooldown:  h.quotaCooldown,
		OnNotice: func(text string) {
			_ = h.tg.SendText(chatID, "⚠️ "+text)
		},
	})

	return &chatSession{wallet: mgr, studio: ctl}
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}

	if update.Message == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		return h.handleCommand(ctx, chatID, msg)
	}

	if len(msg.Photo) > 0 {
		return h.handlePhoto(ctx, chatID, msg)
	}

	if msg.Text != "" {
		return h.handleText(ctx, chatID, msg.Text)
	}

	return nil
}

func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	caption := strings.TrimSpace(group.Caption)
	if err := h.processPhotos(ctx, group.ChatID, caption, group.FileIDs); err != nil {
		h.logger.Error("media group processing failed", "err", err)
	}
}

func (h *Handler) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) error {
	sess := h.sessions.get(ctx, chatID)

	switch msg.Command() {
	case "start":
		return h.tg.SendText(chatID,
			"✨ Stitch Studio\n\n"+
				"Describe a product or send its photo and I'll plan six commercial shots, "+
				"then render the one you pick (3 coins per photo).\n\n"+
				"Commands:\n"+
				"/signup - Create a studio account (50 free coins)\n"+
				"/login <key> - Restore your wallet by studio key\n"+
				"/balance - Show your coin balance\n"+
				"/previews - Show ready style previews\n"+
				"/clear - Start a new product\n"+
				"/logout - Forget this chat's wallet\n"+
				"/help - Help",
		)
	case "help":
		return h.tg.SendText(chatID,
			"✨ Help\n\n"+
				"Send a product description or photo — I'll extract its attributes and "+
				"suggest six styled shots. Tap a style to render it.\n"+
				"Each rendered photo costs 3 coins; previews are free.\n\n"+
				"/signup — new account, /login <key> — existing wallet,\n"+
				"/balance — coins, /sync — refresh balance, /cancel — abort signup.",
		)
	case "signup":
		if _, ok := sess.wallet.CurrentUser(); ok {
			return h.tg.SendText(chatID, "You already have an active wallet. /logout first if you want a new one.")
		}
		sess.startSignup()
		return h.tg.SendText(chatID, "Let's set up your studio. What's your professional name?")
	case "cancel":
		if sess.cancelSignup() {
			return h.tg.SendText(chatID, "Signup cancelled.")
		}
		return nil
	case "login":
		key := strings.TrimSpace(msg.CommandArguments())
		if key == "" {
			return h.tg.SendText(chatID, "Usage: /login ST-XXXXXX")
		}
		user, err := sess.wallet.Login(ctx, key)
		switch {
		case err == wallet.ErrUnknownKey:
			return h.tg.SendText(chatID, "❌ Studio key not found in registry. Please check your ID.")
		case err != nil:
			return h.tg.SendText(chatID, "❌ Cloud registry is temporarily unreachable.")
		}
		return h.tg.SendText(chatID, fmt.Sprintf("✅ Welcome back, %s! Balance: %d coins.", user.Name, user.Coins))
	case "balance", "sync":
		sess.wallet.Sync(ctx)
		user, ok := sess.wallet.CurrentUser()
		if !ok {
			return h.tg.SendText(chatID, "No wallet yet. /signup or /login <key> first.")
		}
		return h.tg.SendText(chatID, fmt.Sprintf("💰 %d coins — %s (%s)", user.Coins, user.Name, user.WalletID))
	case "previews":
		return h.sendPreviews(chatID, sess)
	case "clear":
		sess.studio.Reset()
		return h.tg.SendText(chatID, "✅ Conversation cleared. Send the next product!")
	case "logout":
		sess.wallet.Logout()
		sess.studio.Reset()
		return h.tg.SendText(chatID, "Logged out. Your wallet stays in the registry — /login brings it back.")
	default:
		return h.tg.SendText(chatID, "❌ Unknown command. Try /help.")
	}
}

func (h *Handler) handleText(ctx context.Context, chatID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sess := h.sessions.get(ctx, chatID)
	if sess.signupInProgress() {
		return h.advanceSignup(ctx, chatID, sess, text)
	}

	return h.submit(ctx, chatID, sess, text, nil)
}

func (h *Handler) handlePhoto(ctx context.Context, chatID int64, msg *tgbotapi.Message) error {
	photo := msg.Photo[len(msg.Photo)-1]

	if msg.MediaGroupID != "" && h.aggregator != nil {
		h.aggregator.Add(mediagroup.Item{
			ChatID:       chatID,
			UserID:       msg.From.ID,
			MediaGroupID: msg.MediaGroupID,
			Caption:      msg.Caption,
			FileID:       photo.FileID,
		})
		return nil
	}

	return h.processPhotos(ctx, chatID, strings.TrimSpace(msg.Caption), []string{photo.FileID})
}

// processPhotos downloads the album in parallel and submits the first photo
// as the product reference, the caption as the description.
func (h *Handler) processPhotos(ctx context.Context, chatID int64, caption string, fileIDs []string) error {
	if len(fileIDs) == 0 {
		return nil
	}

	sess := h.sessions.get(ctx, chatID)

	type downloaded struct {
		Base64 string
		Mime   string
	}

	downloads := make([]downloaded, len(fileIDs))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, fileID := range fileIDs {
		i, fileID := i, fileID
		eg.Go(func() error {
			data, mimeType, err := h.tg.DownloadFileBase64(egCtx, fileID)
			if err != nil {
				return err
			}
			downloads[i] = downloaded{Base64: data, Mime: mimeType}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		h.logger.Error("photo download failed", "err", err)
		return h.tg.SendText(chatID, "❌ Couldn't download the photo, please send it again.")
	}

	image := &gemini.ImageInput{
		DataBase64: downloads[0].Base64,
		MimeType:   downloads[0].Mime,
	}
	return h.submit(ctx, chatID, sess, caption, image)
}

func (h *Handler) submit(ctx context.Context, chatID int64, sess *chatSession, text string, image *gemini.ImageInput) error {
	h.tg.SendTyping(chatID)

	msg, err := sess.studio.Submit(ctx, text, image)
	if err != nil {
		return h.sendGuardError(chatID, err)
	}

	if len(msg.Suggestions) == 0 {
		// Gateway failure already converted to conversation copy.
		return h.tg.SendText(chatID, msg.Text)
	}

	_, err = h.tg.SendTextWithKeyboard(chatID, msg.Text, suggestionKeyboard(chatID, msg.Suggestions))
	return err
}

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q.Message == nil {
		return nil
	}
	data := strings.TrimSpace(q.Data)
	if !strings.HasPrefix(data, callbackPrefix+":") {
		return nil
	}

	parts := strings.SplitN(data, ":", 4)
	if len(parts) < 3 {
		return nil
	}

	chatID := q.Message.Chat.ID
	if parts[1] != strconv.FormatInt(chatID, 10) {
		// Keyboard forwarded into another chat.
		_ = h.tg.AnswerCallback(q.ID, "This menu belongs to another chat.", true)
		return nil
	}

	action := parts[2]
	sess := h.sessions.get(ctx, chatID)

	switch action {
	case "gen":
		if len(parts) < 4 {
			return nil
		}
		_ = h.tg.AnswerCallback(q.ID, "Rendering…", false)
		h.tg.SendTyping(chatID)

		msg, err := sess.studio.Generate(ctx, parts[3])
		if err != nil {
			return h.sendGuardError(chatID, err)
		}
		if msg.Image != "" {
			if label := suggestionLabel(sess.studio.Suggestions(), parts[3]); label != "" {
				_ = h.tg.EditTextWithKeyboard(chatID, q.Message.MessageID,
					q.Message.Text+"\n\n✅ Last shot: "+label,
					suggestionKeyboard(chatID, sess.studio.Suggestions()))
			}
			return h.tg.SendPhotoDataURL(chatID, msg.Image, msg.Text)
		}
		return h.tg.SendText(chatID, msg.Text)
	case "guide":
		_ = h.tg.AnswerCallback(q.ID, "", false)
		return h.tg.SendText(chatID, formatGuide(sess.studio.Guide()))
	default:
		_ = h.tg.AnswerCallback(q.ID, "OK", false)
		return nil
	}
}

func (h *Handler) advanceSignup(ctx context.Context, chatID int64, sess *chatSession, text string) error {
	sess.mu.Lock()
	step := sess.signupStep
	switch step {
	case stepName:
		sess.profile.Name = text
		sess.signupStep = stepEmail
	case stepEmail:
		if !strings.Contains(text, "@") {
			sess.mu.Unlock()
			return h.tg.SendText(chatID, "That doesn't look like an email. Try again (or /cancel).")
		}
		sess.profile.Email = text
		sess.signupStep = stepPhone
	case stepPhone:
		sess.profile.Phone = text
		sess.signupStep = stepCategory
	case stepCategory:
		sess.profile.BusinessCategory = text
		sess.signupActive = false
	}
	profile := sess.profile
	sess.mu.Unlock()

	switch step {
	case stepName:
		return h.tg.SendText(chatID, "Nice to meet you! What's your work email?")
	case stepEmail:
		return h.tg.SendText(chatID, "And a phone number for support?")
	case stepPhone:
		return h.tg.SendText(chatID, "Last one: your business category (Fashion / Ecom / Agency / Jewelry / Other)?")
	}

	user, err := sess.wallet.Signup(ctx, profile)
	if err != nil {
		h.logger.Error("signup failed", "err", err)
		return h.tg.SendText(chatID, "❌ Server busy. Please try /signup one more time.")
	}

	return h.tg.SendText(chatID, fmt.Sprintf(
		"✅ Registration complete, %s!\n\n"+
			"🔑 Your studio key: %s\n"+
			"💰 Starting balance: %d coins\n\n"+
			"Keep the key safe — it restores your wallet anywhere. "+
			"Now describe a product or send its photo!",
		user.Name, user.WalletID, user.Coins))
}

func (h *Handler) sendPreviews(chatID int64, sess *chatSession) error {
	suggestions := sess.studio.Suggestions()
	sent := 0
	for _, s := range suggestions {
		if s.Preview == "" {
			continue
		}
		if err := h.tg.SendPhotoDataURL(chatID, s.Preview, s.Label); err != nil {
			return err
		}
		sent++
	}
	if sent == 0 {
		return h.tg.SendText(chatID, "No previews ready yet — they load in the background after an analysis.")
	}
	return nil
}

func (h *Handler) sendGuardError(chatID int64, err error) error {
	switch err {
	case studio.ErrNotAuthenticated:
		return h.tg.SendText(chatID, "🔑 You need a studio key first. /signup creates one with 50 free coins, or /login <key>.")
	case studio.ErrInsufficientCoins:
		return h.tg.SendText(chatID, "🪙 Not enough coins — a photo costs 3. Contact support to top up your wallet.")
	case studio.ErrBusy:
		return h.tg.SendText(chatID, "⏳ Still working on the previous request, one moment.")
	case studio.ErrEmptySubmission:
		return h.tg.SendText(chatID, "Describe the product or send its photo.")
	case studio.ErrNoAnalysis:
		return h.tg.SendText(chatID, "Describe a product first, then pick a style.")
	case studio.ErrUnknownSuggestion:
		return h.tg.SendText(chatID, "That style is gone — send the product again.")
	default:
		return h.tg.SendText(chatID, "❌ Something went wrong. Please try again.")
	}
}

func suggestionKeyboard(ownerID int64, suggestions []studio.Suggestion) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(suggestions)+1)
	for _, s := range suggestions {
		data := fmt.Sprintf("%s:%d:gen:%s", callbackPrefix, ownerID, s.ID)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📷 "+s.Label, data),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("📋 Pro Tips", fmt.Sprintf("%s:%d:guide", callbackPrefix, ownerID)),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func suggestionLabel(suggestions []studio.Suggestion, id string) string {
	for _, s := range suggestions {
		if s.ID == id {
			return s.Label
		}
	}
	return ""
}

func formatGuide(g *gemini.Guide) string {
	if g == nil || len(g.Shots) == 0 {
		return "No tips yet — describe a product first."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📸 Pro tips for %s:\n", g.Category)
	for i, shot := range g.Shots {
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, shot.Title)
		fmt.Fprintf(&b, "   Position: %s\n", shot.Pose)
		fmt.Fprintf(&b, "   Angle: %s\n", shot.Angle)
		fmt.Fprintf(&b, "   %s\n", shot.Why)
	}
	return b.String()
}
